package operations

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStepState_Transitions(t *testing.T) {
	tests := []struct {
		name       string
		finish     func(*StepState)
		wantStatus StepStatus
		wantMsg    string
		wantN      int
	}{
		{name: "complete", finish: func(s *StepState) { s.Complete(42) }, wantStatus: StepStatusCompleted, wantN: 42},
		{name: "fail", finish: func(s *StepState) { s.Fail(errors.New("nan in spline")) }, wantStatus: StepStatusFailed, wantMsg: "nan in spline"},
		{name: "skip", finish: func(s *StepState) { s.Skip("no input bars") }, wantStatus: StepStatusSkipped, wantMsg: "no input bars"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStepState(StageIDEMD, StageNameEMD)
			assert.Equal(t, StepStatusPending, s.Status)
			assert.Zero(t, s.Duration())

			s.Start()
			assert.Equal(t, StepStatusActive, s.Status)
			time.Sleep(time.Millisecond)
			tt.finish(s)

			sum := s.Summary()
			assert.Equal(t, tt.wantStatus, sum.Status)
			assert.Equal(t, tt.wantMsg, sum.Message)
			assert.Equal(t, tt.wantN, s.Produced)
			assert.Greater(t, sum.Duration, 0.0)

			frozen := s.Duration()
			time.Sleep(time.Millisecond)
			assert.Equal(t, frozen, s.Duration(), "duration stops at the terminal transition")
		})
	}
}

func TestStepState_SkipWithoutStart(t *testing.T) {
	s := NewStepState(StageIDFracDiff, StageNameFracDiff)
	s.Skip("resample did not complete")

	assert.Equal(t, StepStatusSkipped, s.Status)
	assert.Zero(t, s.Duration())
}

func TestPipelineSteps_DependOnPredecessor(t *testing.T) {
	assert.Empty(t, NewResampleStep().DependsOn())
	assert.Equal(t, []string{StageIDResample}, NewFracDiffStep().DependsOn())
	assert.Equal(t, []string{StageIDFracDiff}, NewEMDStep().DependsOn())
}
