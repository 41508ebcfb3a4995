package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// RunStatus is the lifecycle position of one pipeline run.
type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

// IsTerminal reports whether no further step will run without a resume.
func (s RunStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// StepRecord is one successful step in a run.
type StepRecord struct {
	Name        string     `json:"name"`
	Document    Document   `json:"document"`
	Attempts    int        `json:"attempts"`
	Usage       TokenUsage `json:"usage"`
	CostUSD     float64    `json:"cost_usd"`
	CompletedAt time.Time  `json:"completed_at"`
}

// PipelineState is the ordered step history of a run. It is owned by a single
// sequencer run; concurrent runs must use distinct states and run ids.
type PipelineState struct {
	RunID        string       `json:"run_id"`
	Pipeline     string       `json:"pipeline"`
	Status       RunStatus    `json:"status"`
	Inputs       Variables    `json:"inputs,omitempty"`
	Steps        []StepRecord `json:"steps"`
	FailedStep   string       `json:"failed_step,omitempty"`
	LastError    string       `json:"last_error,omitempty"`
	TotalCostUSD float64      `json:"total_cost_usd"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// NewPipelineState returns a pending state for runID.
func NewPipelineState(runID, pipeline string) *PipelineState {
	now := time.Now().UTC()
	return &PipelineState{
		RunID:     runID,
		Pipeline:  pipeline,
		Status:    StatusPending,
		Steps:     []StepRecord{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Transition moves the run along Pending -> Running -> {Completed | Failed}.
// A failed run may go back to Running when resumed; Completed is final.
func (s *PipelineState) Transition(to RunStatus) error {
	allowed := false
	switch s.Status {
	case StatusPending:
		allowed = to == StatusRunning
	case StatusRunning:
		allowed = to == StatusRunning || to == StatusCompleted || to == StatusFailed
	case StatusFailed:
		allowed = to == StatusRunning
	}
	if !allowed {
		return fmt.Errorf("invalid run transition %s -> %s", s.Status, to)
	}
	s.Status = to
	s.UpdatedAt = time.Now().UTC()
	if to == StatusRunning {
		s.FailedStep = ""
		s.LastError = ""
	}
	return nil
}

// Record appends a successful step.
func (s *PipelineState) Record(rec StepRecord) {
	s.Steps = append(s.Steps, rec)
	s.TotalCostUSD += rec.CostUSD
	s.UpdatedAt = time.Now().UTC()
}

// DropLast removes the newest step record, e.g. when it could not be
// checkpointed.
func (s *PipelineState) DropLast() {
	if len(s.Steps) == 0 {
		return
	}
	last := s.Steps[len(s.Steps)-1]
	s.Steps = s.Steps[:len(s.Steps)-1]
	s.TotalCostUSD -= last.CostUSD
	s.UpdatedAt = time.Now().UTC()
}

// Fail marks the run failed at step with err.
func (s *PipelineState) Fail(step string, err error) error {
	if terr := s.Transition(StatusFailed); terr != nil {
		return terr
	}
	s.FailedStep = step
	if err != nil {
		s.LastError = err.Error()
	}
	return nil
}

// LastCompletedStep returns the name of the newest recorded step, or "".
func (s *PipelineState) LastCompletedStep() string {
	if len(s.Steps) == 0 {
		return ""
	}
	return s.Steps[len(s.Steps)-1].Name
}

// Document returns the output of a recorded step.
func (s *PipelineState) Document(step string) (Document, bool) {
	for i := len(s.Steps) - 1; i >= 0; i-- {
		if s.Steps[i].Name == step {
			return s.Steps[i].Document, true
		}
	}
	return Document{}, false
}

// Aggregate merges every step document in order; later steps win on key
// collisions because they refine earlier, more general ones.
func (s *PipelineState) Aggregate() Document {
	agg := NewDocument(nil)
	for _, rec := range s.Steps {
		agg = agg.Merge(rec.Document)
	}
	return agg
}

// Serialize encodes the state as indented JSON.
func (s *PipelineState) Serialize() ([]byte, error) {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("serialize pipeline state: %w", err)
	}
	return b, nil
}

// DeserializeState decodes a state written by Serialize.
func DeserializeState(b []byte) (*PipelineState, error) {
	var s PipelineState
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("deserialize pipeline state: %w", err)
	}
	if s.RunID == "" {
		return nil, fmt.Errorf("deserialize pipeline state: missing run_id")
	}
	if s.Steps == nil {
		s.Steps = []StepRecord{}
	}
	return &s, nil
}
