// Package pipeline executes the investigation workflow: a fixed sequence of
// stages over one mutable state, with conditional deep-dive routing and a
// per-run event stream. Stages return sparse updates; only the runner mutates
// the state.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"socflow/internal/alert"
	"socflow/internal/enrich"
	"socflow/internal/events"
	"socflow/internal/llm"
	"socflow/internal/logging"
	"socflow/internal/memory"
	"socflow/internal/mitre"
	"socflow/internal/state"
	"socflow/internal/store"
)

// DefaultInvestigationThreshold is the threat score at or above which the
// investigation stage runs.
const DefaultInvestigationThreshold = 0.60

// DefaultCampaignWindow bounds campaign correlation during persistence.
const DefaultCampaignWindow = 48 * time.Hour

// Config wires the runner's collaborators. Every handle is optional: a nil
// collaborator degrades that concern to its fallback rather than failing.
type Config struct {
	LLM        llm.Client
	Enricher   *enrich.Enricher
	Classifier *mitre.Classifier
	Correlator *memory.Correlator
	Store      *store.IncidentStore

	InvestigationThreshold float64
	CampaignWindow         time.Duration

	// Now and NewID are injected so runs with mocked collaborators are
	// reproducible.
	Now   func() time.Time
	NewID func() string
}

// Runner executes investigation runs. Safe for concurrent use; each run has
// its own state and stream.
type Runner struct {
	llm        llm.Client
	enricher   *enrich.Enricher
	classifier *mitre.Classifier
	correlator *memory.Correlator
	store      *store.IncidentStore

	threshold      float64
	campaignWindow time.Duration

	now   func() time.Time
	newID func() string
}

// New creates a runner from config, applying defaults for anything unset.
func New(cfg Config) *Runner {
	r := &Runner{
		llm:            cfg.LLM,
		enricher:       cfg.Enricher,
		classifier:     cfg.Classifier,
		correlator:     cfg.Correlator,
		store:          cfg.Store,
		threshold:      cfg.InvestigationThreshold,
		campaignWindow: cfg.CampaignWindow,
		now:            cfg.Now,
		newID:          cfg.NewID,
	}
	if r.enricher == nil {
		r.enricher = enrich.NewEnricherWithSources(nil, nil, nil)
	}
	if r.threshold <= 0 {
		r.threshold = DefaultInvestigationThreshold
	}
	if r.campaignWindow <= 0 {
		r.campaignWindow = DefaultCampaignWindow
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.newID == nil {
		r.newID = func() string { return uuid.NewString() }
	}
	return r
}

type stage struct {
	name string
	run  func(ctx context.Context, st *state.InvestigationState, stream *events.Stream) (state.Update, error)
}

func (r *Runner) stages() []stage {
	return []stage{
		{state.StageSupervisor, r.runSupervisor},
		{state.StageEnrichment, r.runEnrichment},
		{state.StageAnalysis, r.runAnalysis},
		{state.StageInvestigation, r.runInvestigation},
		{state.StageResponse, r.runResponse},
		{state.StageCommunication, r.runCommunication},
		{state.StagePersist, r.runPersist},
	}
}

// Run starts a run and returns its event stream. The stream always carries
// exactly one terminal event (run_complete or error) and then closes; a
// rejected alert yields a single immediate error event with no stage events
// before it.
func (r *Runner) Run(ctx context.Context, a alert.Alert) *events.Stream {
	sessionID := r.newID()
	stream := events.NewStream(sessionID, events.DefaultBuffer)

	if err := a.Validate(); err != nil {
		verr := &ValidationError{Err: err}
		// Buffered and empty, so this emit cannot block even under a
		// cancelled ctx.
		stream.Emit(context.Background(), events.Event{
			Kind:    events.KindError,
			Message: verr.Error(),
		})
		stream.Close()
		return stream
	}

	go r.execute(ctx, a, sessionID, stream)
	return stream
}

// Investigate runs the pipeline to completion, draining events internally,
// and returns the final state. Callers who want progress use Run.
func (r *Runner) Investigate(ctx context.Context, a alert.Alert) (*state.InvestigationState, error) {
	stream := r.Run(ctx, a)

	var final *state.InvestigationState
	var runErr error
	for e := range stream.Events() {
		switch e.Kind {
		case events.KindRunComplete:
			final = e.State
		case events.KindError:
			final = e.State
			runErr = fmt.Errorf("%s", e.Message)
		}
	}
	if runErr != nil {
		return final, runErr
	}
	if final == nil {
		return nil, fmt.Errorf("run ended without a terminal event")
	}
	return final, nil
}

// execute drives one run. It owns the state and the stream; it always closes
// the stream after the single terminal event.
func (r *Runner) execute(ctx context.Context, a alert.Alert, sessionID string, stream *events.Stream) {
	defer stream.Close()

	st := state.New(a, sessionID, r.now())
	log := logging.WithRunID(logging.CategoryPipeline, sessionID)

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("panic in stage %s: %v", st.CurrentStage, rec)
			r.fail(ctx, st, stream, fmt.Errorf("panic in stage %s: %v", st.CurrentStage, rec))
		}
	}()

	stream.SetStatus(st, "")
	stream.Emit(ctx, events.Event{
		Kind: events.KindRunStart,
		Data: map[string]interface{}{"alert_id": a.ID, "alert_type": a.Type},
	})
	log.Info("run started for alert %s (%s)", a.ID, a.Type)

	for _, s := range r.stages() {
		select {
		case <-ctx.Done():
			r.fail(ctx, st, stream, fmt.Errorf("run cancelled: %v", ctx.Err()))
			return
		default:
		}

		if s.name == state.StageInvestigation && st.ThreatScore < r.threshold {
			log.Info("skipping investigation: score %.4f below threshold %.2f", st.ThreatScore, r.threshold)
			stream.Emit(ctx, events.Event{
				Kind:  events.KindStageSkipped,
				Stage: s.name,
				Data: map[string]interface{}{
					"threat_score": st.ThreatScore,
					"threshold":    r.threshold,
				},
			})
			continue
		}

		st.CurrentStage = s.name
		stream.SetStatus(st, s.name)
		stream.Emit(ctx, events.Event{Kind: events.KindStageStart, Stage: s.name})

		before := st.Clone()
		started := r.now()
		timer := logging.StartTimer(logging.CategoryPipeline, s.name)

		update, err := s.run(ctx, st, stream)
		if err != nil {
			timer.Stop()
			log.Error("stage %s failed: %v", s.name, err)
			r.fail(ctx, st, stream, err)
			return
		}
		st.Apply(update)
		elapsed := r.now().Sub(started)
		timer.Stop()

		stream.SetStatus(st, s.name)
		stream.Emit(ctx, events.Event{
			Kind:  events.KindStateDelta,
			Stage: s.name,
			Delta: state.Diff(before, st),
		})
		stream.Emit(ctx, events.Event{
			Kind:  events.KindStageComplete,
			Stage: s.name,
			Data:  map[string]interface{}{"duration_ms": elapsed.Milliseconds()},
		})
	}

	st.Apply(state.Update{
		WorkflowStatus: state.StatusCompleted,
		CompletedAt:    r.now(),
	})
	stream.SetStatus(st, st.CurrentStage)
	stream.Emit(ctx, events.Event{
		Kind:  events.KindRunComplete,
		State: st,
		Data: map[string]interface{}{
			"threat_score": st.ThreatScore,
			"severity":     st.Severity(),
		},
	})
	log.Info("run completed: score %.2f, severity %s", st.ThreatScore, st.Severity())
}

// fail marks the run failed and emits the single terminal error event. A
// cancelled ctx still gets a best-effort emit so an attached consumer sees
// the failure.
func (r *Runner) fail(ctx context.Context, st *state.InvestigationState, stream *events.Stream, err error) {
	st.Apply(state.Update{
		WorkflowStatus: state.StatusFailed,
		Error:          err.Error(),
		CompletedAt:    r.now(),
	})
	stream.SetStatus(st, st.CurrentStage)

	emitCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		emitCtx, cancel = context.WithTimeout(context.Background(), time.Second)
		defer cancel()
	}
	stream.Emit(emitCtx, events.Event{
		Kind:    events.KindError,
		Stage:   st.CurrentStage,
		Message: err.Error(),
		State:   st,
	})
}
