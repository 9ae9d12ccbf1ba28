package operations

import (
	"sync"
	"time"

	"featureflow/pkg/contracts/domain"
)

// OperationStatusValue is the overall status of one pipeline execution
type OperationStatusValue string

const (
	OperationStatusPending   OperationStatusValue = "pending"
	OperationStatusRunning   OperationStatusValue = "running"
	OperationStatusCompleted OperationStatusValue = "completed"
	OperationStatusFailed    OperationStatusValue = "failed"
	OperationStatusCancelled OperationStatusValue = "cancelled"
)

// OperationState carries one series pipeline through its steps. Each step reads the
// previous step's output field and fills its own.
type OperationState struct {
	mu sync.RWMutex

	ID        string                `json:"id"`
	Key       string                `json:"key"`
	Status    OperationStatusValue  `json:"status"`
	StartTime time.Time             `json:"start_time"`
	EndTime   *time.Time            `json:"end_time,omitempty"`
	Steps     map[string]*StepState `json:"steps"`
	Error     error                 `json:"-"`

	Instrument domain.Instrument `json:"instrument"`
	Resolution domain.Resolution `json:"resolution"`
	VpinID     int64             `json:"vpin_id"`
	Params     Params            `json:"params"`

	// Input holds fetched time bars; VpinInput holds stored imbalance bars.
	// Exactly one is set.
	Input     []domain.Bar     `json:"-"`
	VpinInput []domain.VpinBar `json:"-"`

	Series domain.Series      `json:"-"`
	Ffd    []domain.FfdRecord `json:"-"`
	Emd    []domain.EmdRecord `json:"-"`
}

// NewOperationState creates a pending state for one pipeline run
func NewOperationState(id, key string) *OperationState {
	return &OperationState{
		ID:        id,
		Key:       key,
		Status:    OperationStatusPending,
		StartTime: time.Now(),
		Steps:     make(map[string]*StepState),
	}
}

// Start marks the operation as running
func (s *OperationState) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = OperationStatusRunning
	s.StartTime = time.Now()
}

// Complete marks the operation as completed
func (s *OperationState) Complete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.EndTime = &now
	s.Status = OperationStatusCompleted
}

// Fail marks the operation as failed
func (s *OperationState) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.EndTime = &now
	s.Status = OperationStatusFailed
	s.Error = err
}

// GetStage returns the state of a specific step
func (s *OperationState) GetStage(stageID string) *StepState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Steps[stageID]
}

// SetStage updates the state of a specific step
func (s *OperationState) SetStage(stageID string, state *StepState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Steps[stageID] = state
}

// Summaries lists step outcomes in the given order.
func (s *OperationState) Summaries(order []Step) []StepSummary {
	out := make([]StepSummary, 0, len(order))
	for _, step := range order {
		st := s.GetStage(step.ID())
		if st == nil {
			continue
		}
		out = append(out, st.Summary())
	}
	return out
}
