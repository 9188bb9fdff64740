package events

import (
	"context"
	"time"

	"socflow/internal/logging"
	"socflow/internal/state"
)

// DefaultBuffer is the stream channel capacity. Generation produces bursts of
// token events; the buffer absorbs them without letting the producer run
// unboundedly ahead of the consumer.
const DefaultBuffer = 256

// Stream is the bounded single-producer single-consumer event channel for one
// run. It is lazy and finite: the runner produces into it, exactly one
// consumer ranges over Events() until it is closed. Emit blocks when the
// buffer is full, so a slow consumer backpressures the run.
type Stream struct {
	ch       chan Event
	status   Status
	terminal bool
	runID    string
}

// NewStream creates a stream for the given run.
func NewStream(runID string, buffer int) *Stream {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Stream{
		ch:    make(chan Event, buffer),
		runID: runID,
	}
}

// Events returns the receive side. Consumed exactly once; the channel closes
// after the terminal event.
func (s *Stream) Events() <-chan Event {
	return s.ch
}

// SetStatus recomputes the cached coarse status from the state. Called by the
// runner only at stage boundaries; generation sub-events reuse the cache.
func (s *Stream) SetStatus(st *state.InvestigationState, stage string) {
	s.status = Status{
		Stage:          stage,
		WorkflowStatus: st.WorkflowStatus,
		ThreatScore:    st.ThreatScore,
		Severity:       st.Severity(),
	}
}

// Status returns the cached coarse status.
func (s *Stream) Status() Status {
	return s.status
}

// Emit sends an event, stamping it with the cached status and the current
// time. Blocks until the consumer drains a slot or ctx is done. Returns false
// once ctx is cancelled or a terminal event was already sent; the runner
// treats false as run cancellation.
func (s *Stream) Emit(ctx context.Context, e Event) bool {
	if s.terminal {
		logging.EventsDebug("[run:%s] dropping %s after terminal event", s.runID, e.Kind)
		return false
	}
	e.Status = s.status
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	select {
	case s.ch <- e:
		if e.Terminal() {
			s.terminal = true
		}
		return true
	case <-ctx.Done():
		logging.EventsDebug("[run:%s] emit cancelled for %s", s.runID, e.Kind)
		return false
	}
}

// Close closes the channel. The runner calls it after the terminal event; a
// consumer that stops reading relies on the runner's ctx to unwind instead.
func (s *Stream) Close() {
	close(s.ch)
}
