// Package events defines the progress event stream an investigation run emits
// to its single consumer: coarse stage lifecycle events, per-stage state
// deltas, and fine-grained generation sub-events with token-level output.
package events

import (
	"time"

	"socflow/internal/state"
)

// Kind is the event discriminator.
type Kind string

const (
	KindRunStart    Kind = "run_start"
	KindRunComplete Kind = "run_complete"
	KindError       Kind = "error"

	KindStageStart    Kind = "stage_start"
	KindStageComplete Kind = "stage_complete"
	// KindStageSkipped is synthesized exactly once per run when the
	// investigation stage is bypassed below the threat threshold.
	KindStageSkipped Kind = "stage_skipped"

	KindStateDelta Kind = "state_delta"

	KindGenerationStart    Kind = "generation_start"
	KindGenerationToken    Kind = "generation_token"
	KindGenerationComplete Kind = "generation_complete"
)

// Status is the coarse run status cached across generation sub-events. It is
// recomputed only at stage boundaries; every token between two boundaries
// carries the same value.
type Status struct {
	Stage          string               `json:"stage"`
	WorkflowStatus state.WorkflowStatus `json:"workflow_status"`
	ThreatScore    float64              `json:"threat_score"`
	Severity       string               `json:"severity"`
}

// Event is one item of the per-run stream. Fields beyond Kind are populated
// per kind: Token only on generation_token, Delta only on state_delta, State
// only on terminal events.
type Event struct {
	Kind      Kind                      `json:"kind"`
	Stage     string                    `json:"stage,omitempty"`
	Message   string                    `json:"message,omitempty"`
	Token     string                    `json:"token,omitempty"`
	Delta     map[string]interface{}    `json:"delta,omitempty"`
	Data      map[string]interface{}    `json:"data,omitempty"`
	Status    Status                    `json:"status"`
	State     *state.InvestigationState `json:"state,omitempty"`
	Timestamp time.Time                 `json:"timestamp"`
}

// Terminal reports whether this event ends the stream.
func (e Event) Terminal() bool {
	return e.Kind == KindRunComplete || e.Kind == KindError
}
