package events

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"

	"socflow/internal/alert"
	"socflow/internal/state"
)

func TestEmitAttachesCachedStatus(t *testing.T) {
	s := NewStream("run-1", 8)
	st := state.New(alert.Alert{Type: "phishing"}, "run-1", time.Time{})
	st.Apply(state.Update{ThreatScore: 0.72})
	s.SetStatus(st, state.StageAnalysis)

	ctx := context.Background()
	s.Emit(ctx, Event{Kind: KindGenerationToken, Token: "a"})
	s.Emit(ctx, Event{Kind: KindGenerationToken, Token: "b"})
	s.Close()

	var got []Event
	for e := range s.Events() {
		got = append(got, e)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	for _, e := range got {
		if e.Status.ThreatScore != 0.72 {
			t.Errorf("token event missing cached score: %+v", e.Status)
		}
		if e.Status.Severity != "HIGH" {
			t.Errorf("expected cached severity HIGH, got %s", e.Status.Severity)
		}
		if e.Status.Stage != state.StageAnalysis {
			t.Errorf("expected cached stage analysis, got %s", e.Status.Stage)
		}
	}
}

func TestEmitRefusesAfterTerminal(t *testing.T) {
	s := NewStream("run-1", 8)
	ctx := context.Background()

	if !s.Emit(ctx, Event{Kind: KindRunComplete}) {
		t.Fatal("terminal emit should succeed")
	}
	if s.Emit(ctx, Event{Kind: KindStageStart}) {
		t.Error("emit after terminal event should be refused")
	}
	s.Close()

	count := 0
	for range s.Events() {
		count++
	}
	if count != 1 {
		t.Errorf("expected exactly one event on the channel, got %d", count)
	}
}

func TestEmitBlocksUntilConsumedOrCancelled(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := NewStream("run-1", 1)
	ctx, cancel := context.WithCancel(context.Background())

	if !s.Emit(ctx, Event{Kind: KindStageStart}) {
		t.Fatal("first emit should fit the buffer")
	}

	done := make(chan bool)
	go func() {
		done <- s.Emit(ctx, Event{Kind: KindStageComplete})
	}()

	select {
	case <-done:
		t.Fatal("emit into a full buffer should block")
	case <-time.After(20 * time.Millisecond):
	}

	cancel()
	if ok := <-done; ok {
		t.Error("cancelled emit should report failure")
	}
	s.Close()
	for range s.Events() {
	}
}
