package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "featureflow/internal/errors"
	"featureflow/internal/operations"
	"featureflow/internal/pubsub"
	"featureflow/pkg/contracts/domain"
)

type stubRunner struct {
	results []operations.RunResult
	err     error
	got     operations.PipelineRequest
}

func (r *stubRunner) Run(_ context.Context, req operations.PipelineRequest) ([]operations.RunResult, error) {
	r.got = req
	return r.results, r.err
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

type stubCounter int

func (c stubCounter) ClientCount() int { return int(c) }

var btcRequest = operations.PipelineRequest{
	Resolution:  domain.Res5Min,
	Instruments: []domain.Instrument{{ID: 1, Symbol: "BTCUSDT"}},
}

func TestFeatureService_RunPipeline(t *testing.T) {
	runner := &stubRunner{results: []operations.RunResult{
		{Kind: operations.KindSeries, Key: "series:1:5Min:0", Status: operations.RunCompleted},
	}}
	svc := NewFeatureService(runner, nil, nil, nil)

	resp, err := svc.RunPipeline(context.Background(), btcRequest)
	require.NoError(t, err)
	assert.Equal(t, domain.Res5Min, resp.Resolution)
	assert.Len(t, resp.Results, 1)
	assert.Equal(t, "1 runs: 1 completed, 0 skipped, 0 coalesced, 0 failed", resp.Message)
	assert.Equal(t, btcRequest, runner.got)
}

func TestFeatureService_RunPipelineCoalesced(t *testing.T) {
	runner := &stubRunner{results: []operations.RunResult{
		{Key: "series:1:5Min:0", Status: operations.RunCoalesced},
	}}
	svc := NewFeatureService(runner, nil, nil, nil)

	_, err := svc.RunPipeline(context.Background(), btcRequest)
	assert.ErrorIs(t, err, operations.ErrCoalesced)
}

func TestFeatureService_RunPipelineError(t *testing.T) {
	boom := apperrors.NewAppValidationError("bad")
	svc := NewFeatureService(&stubRunner{err: boom}, nil, nil, nil)

	_, err := svc.RunPipeline(context.Background(), btcRequest)
	assert.ErrorIs(t, err, boom)
}

func TestFeatureService_JobsDisabled(t *testing.T) {
	svc := NewFeatureService(&stubRunner{}, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.SubmitPipeline(ctx, btcRequest)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeUpstreamUnavailable))

	_, err = svc.GetJob(ctx, "x")
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeNotFound))

	jobs, err := svc.ListJobs(ctx, operations.JobFilter{})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestFeatureService_Trigger(t *testing.T) {
	broker := pubsub.NewBroker(nil, nil)
	defer broker.Close()
	got := make(chan pubsub.Message, 1)
	unsub, err := broker.Subscribe(pubsub.TopicOHLCV, "test", 1, func(_ context.Context, m pubsub.Message) { got <- m })
	require.NoError(t, err)
	defer unsub()

	svc := NewFeatureService(&stubRunner{}, nil, broker, nil)
	require.NoError(t, svc.Trigger(context.Background(), pubsub.Message{Topic: pubsub.TopicOHLCV, InstrumentID: 1}))

	msg := <-got
	assert.Equal(t, "http", msg.Source)

	err = svc.Trigger(context.Background(), pubsub.Message{Topic: "trades", InstrumentID: 1})
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))
}

func TestFeatureService_Weights(t *testing.T) {
	svc := NewFeatureService(&stubRunner{}, nil, nil, nil)

	resp, err := svc.Weights(context.Background(), 0.5, 0.1)
	require.NoError(t, err)
	// w = 1, -0.5, -0.125; the next weight (-0.0625) is below 0.1
	assert.Equal(t, 3, resp.Width)
	assert.InDeltaSlice(t, []float64{1, -0.5, -0.125}, resp.Weights, 1e-12)

	_, err = svc.Weights(context.Background(), 1.5, 0.1)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))
}

func TestHealthService(t *testing.T) {
	tests := []struct {
		name   string
		store  Pinger
		health string
		ready  string
	}{
		{"store reachable", stubPinger{}, StatusOK, StatusReady},
		{"store down", stubPinger{err: errors.New("connection refused")}, StatusNotReady, StatusNotReady},
		{"no store", nil, StatusNotReady, StatusNotReady},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hs := NewHealthService("1.2.3", tt.store, nil, stubCounter(2), nil)
			ctx := context.Background()

			h := hs.HealthCheck(ctx)
			assert.Equal(t, tt.health, h.Status)
			assert.Equal(t, "1.2.3", h.Version)
			assert.Contains(t, h.Runtime, "uptime_seconds")

			r := hs.ReadinessCheck(ctx)
			assert.Equal(t, tt.ready, r.Status)
			assert.Equal(t, 2, r.Services["websocket"].Details["clients"])

			assert.Equal(t, StatusAlive, hs.LivenessCheck(ctx).Status)
		})
	}
}
