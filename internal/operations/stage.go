package operations

import (
	"context"
	"sync"
	"time"
)

// Step is one node of the series pipeline DAG
type Step interface {
	ID() string
	Name() string

	// DependsOn lists the steps that must complete first
	DependsOn() []string

	// Validate reports whether the step's inputs are present in state. An
	// insufficient-data error skips the step instead of failing the run.
	Validate(state *OperationState) error

	// Execute reads earlier outputs from state and stores its own
	Execute(ctx context.Context, state *OperationState) error
}

// StepStatus is the lifecycle position of a step within one run
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusActive    StepStatus = "active"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// StepState tracks one step during one run. Safe for concurrent readers.
type StepState struct {
	mu      sync.RWMutex
	ID      string     `json:"id"`
	Name    string     `json:"name"`
	Status  StepStatus `json:"status"`
	Message string     `json:"message,omitempty"`
	Err     error      `json:"-"`
	// Produced counts the records the step emitted
	Produced int `json:"produced"`

	started, ended time.Time
}

func NewStepState(id, name string) *StepState {
	return &StepState{ID: id, Name: name, Status: StepStatusPending}
}

func (s *StepState) Start() {
	s.mu.Lock()
	s.started = time.Now()
	s.Status = StepStatusActive
	s.mu.Unlock()
}

func (s *StepState) Complete(produced int) {
	s.finish(StepStatusCompleted, "", nil, produced)
}

func (s *StepState) Fail(err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	s.finish(StepStatusFailed, msg, err, 0)
}

func (s *StepState) Skip(reason string) {
	s.finish(StepStatusSkipped, reason, nil, 0)
}

func (s *StepState) finish(status StepStatus, msg string, err error, produced int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = time.Now()
	s.Status = status
	s.Message = msg
	s.Err = err
	s.Produced = produced
}

// Duration is zero for steps that never started and grows while a step runs
func (s *StepState) Duration() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch {
	case s.started.IsZero():
		return 0
	case s.ended.IsZero():
		return time.Since(s.started)
	default:
		return s.ended.Sub(s.started)
	}
}

func (s *StepState) Summary() StepSummary {
	d := s.Duration()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StepSummary{ID: s.ID, Status: s.Status, Duration: d.Seconds(), Message: s.Message}
}

// stepBase carries the identity half of a Step; embedders add Validate and Execute
type stepBase struct {
	id, name string
	deps     []string
}

func newStepBase(id, name string, deps ...string) stepBase {
	return stepBase{id: id, name: name, deps: deps}
}

func (b *stepBase) ID() string          { return b.id }
func (b *stepBase) Name() string        { return b.name }
func (b *stepBase) DependsOn() []string { return b.deps }
