package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"socflow/internal/alert"
	"socflow/internal/campaign"
	"socflow/internal/enrich"
	"socflow/internal/events"
	"socflow/internal/state"
	"socflow/internal/store"
)

var fixedNow = time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

func testAlert() alert.Alert {
	return alert.Alert{
		ID:          "ALT-2026-1001",
		Timestamp:   "2026-08-20T09:55:00Z",
		Type:        "brute_force",
		Severity:    "high",
		Title:       "SSH brute force against bastion",
		Description: "500 failed logins in 10 minutes from a single source",
		SourceIP:    "45.76.123.45",
		User:        "svc-backup",
		Hostname:    "bastion-01",
	}
}

// mockLLM scripts every generation path the stages exercise.
type mockLLM struct {
	scoreJSON         string
	scoreErr          error
	investigationJSON string
	investigationErr  error
	streamTokens      []string
	streamErr         error
	panicOnSchema     bool
}

func (m *mockLLM) Complete(ctx context.Context, prompt string) (string, error) {
	return "", nil
}

func (m *mockLLM) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return "", nil
}

func (m *mockLLM) CompleteWithSchema(ctx context.Context, systemPrompt, userPrompt, jsonSchema string) (string, error) {
	if m.panicOnSchema {
		panic("mock llm exploded")
	}
	if jsonSchema == threatScoreSchema {
		return m.scoreJSON, m.scoreErr
	}
	if m.investigationJSON == "" && m.investigationErr == nil {
		return `{"plan":["step one"],"findings":{"status":"done"},"reasoning":"mock"}`, nil
	}
	return m.investigationJSON, m.investigationErr
}

func (m *mockLLM) CompleteWithStreaming(ctx context.Context, systemPrompt, userPrompt string) (<-chan string, <-chan error) {
	content := make(chan string, len(m.streamTokens))
	errs := make(chan error, 1)
	for _, tok := range m.streamTokens {
		content <- tok
	}
	close(content)
	if m.streamErr != nil {
		errs <- m.streamErr
	}
	close(errs)
	return content, errs
}

func scoredLLM(score float64) *mockLLM {
	return &mockLLM{
		scoreJSON:    fmt.Sprintf(`{"threat_score":%g,"reasoning":"scripted assessment"}`, score),
		streamTokens: []string{"# Incident", " Report"},
	}
}

// fixedIntel pins the threat intel payload so score expectations are exact.
type fixedIntel struct{ payload map[string]interface{} }

func (f fixedIntel) Name() string { return "fixed" }

func (f fixedIntel) IPReputation(ctx context.Context, ip string) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(f.payload))
	for k, v := range f.payload {
		out[k] = v
	}
	return out, nil
}

type fixedSIEM struct{}

func (fixedSIEM) QueryEvents(ctx context.Context, a alert.Alert) ([]map[string]interface{}, error) {
	return []map[string]interface{}{
		{"event_type": "authentication_failure", "count": float64(12)},
		{"event_type": "network_connection"},
	}, nil
}

func (fixedSIEM) UserActivity(ctx context.Context, user string) (map[string]interface{}, error) {
	return map[string]interface{}{"logins_24h": float64(14)}, nil
}

func (fixedSIEM) EndpointData(ctx context.Context, hostname string) (map[string]interface{}, error) {
	return map[string]interface{}{"agent_status": "healthy"}, nil
}

func newTestRunner(llmClient *mockLLM, s *store.IncidentStore) *Runner {
	cfg := Config{
		Store: s,
		Enricher: enrich.NewEnricherWithSources(fixedSIEM{}, fixedIntel{
			payload: map[string]interface{}{"reputation": "clean", "threat_score": 0.0},
		}, nil),
		Now:   func() time.Time { return fixedNow },
		NewID: func() string { return "20260820abcd" },
	}
	if llmClient != nil {
		cfg.LLM = llmClient
	}
	return New(cfg)
}

func collect(t *testing.T, r *Runner, a alert.Alert) []events.Event {
	t.Helper()
	stream := r.Run(context.Background(), a)
	var got []events.Event
	for e := range stream.Events() {
		got = append(got, e)
	}
	return got
}

func kinds(evs []events.Event) []string {
	out := make([]string, len(evs))
	for i, e := range evs {
		out[i] = string(e.Kind)
		if e.Stage != "" {
			out[i] += ":" + e.Stage
		}
	}
	return out
}

func TestFullRunEventOrder(t *testing.T) {
	// The transitive genai import starts an opencensus worker in init; only
	// the stream producer goroutine is under test here.
	defer goleak.VerifyNone(t,
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))

	r := newTestRunner(scoredLLM(0.75), nil)
	evs := collect(t, r, testAlert())

	want := []string{
		"run_start",
		"stage_start:supervisor", "state_delta:supervisor", "stage_complete:supervisor",
		"stage_start:enrichment", "state_delta:enrichment", "stage_complete:enrichment",
		"stage_start:analysis", "state_delta:analysis", "stage_complete:analysis",
		"stage_start:investigation", "state_delta:investigation", "stage_complete:investigation",
		"stage_start:response", "state_delta:response", "stage_complete:response",
		"stage_start:communication",
		"generation_start:communication",
		"generation_token:communication", "generation_token:communication",
		"generation_complete:communication",
		"state_delta:communication", "stage_complete:communication",
		"stage_start:persist", "state_delta:persist", "stage_complete:persist",
		"run_complete",
	}
	if diff := cmp.Diff(want, kinds(evs)); diff != "" {
		t.Errorf("event order mismatch (-want +got):\n%s", diff)
	}

	final := evs[len(evs)-1]
	if final.State == nil || final.State.WorkflowStatus != state.StatusCompleted {
		t.Fatalf("terminal event missing completed state: %+v", final)
	}
	if final.State.Report != "# Incident Report" {
		t.Errorf("streamed report not assembled: %q", final.State.Report)
	}
	if final.State.ThreatScore != 0.75 {
		t.Errorf("llm score not applied: %f", final.State.ThreatScore)
	}
}

func TestStatusCachedAcrossGenerationEvents(t *testing.T) {
	r := newTestRunner(scoredLLM(0.75), nil)
	evs := collect(t, r, testAlert())

	var tokenStatuses []events.Status
	for _, e := range evs {
		if e.Kind == events.KindGenerationToken {
			tokenStatuses = append(tokenStatuses, e.Status)
		}
	}
	if len(tokenStatuses) != 2 {
		t.Fatalf("expected 2 token events, got %d", len(tokenStatuses))
	}
	if tokenStatuses[0] != tokenStatuses[1] {
		t.Error("token events between stage boundaries must carry identical status")
	}
	if tokenStatuses[0].ThreatScore != 0.75 || tokenStatuses[0].Severity != "HIGH" {
		t.Errorf("cached status stale: %+v", tokenStatuses[0])
	}
}

func TestInvestigationSkippedBelowThreshold(t *testing.T) {
	r := newTestRunner(scoredLLM(0.5999), nil)
	evs := collect(t, r, testAlert())

	got := kinds(evs)
	skips := 0
	skipIdx, analysisCompleteIdx, responseStartIdx := -1, -1, -1
	for i, k := range got {
		switch k {
		case "stage_skipped:investigation":
			skips++
			skipIdx = i
		case "stage_complete:analysis":
			analysisCompleteIdx = i
		case "stage_start:response":
			responseStartIdx = i
		case "stage_start:investigation":
			t.Error("investigation must not start below threshold")
		}
	}
	if skips != 1 {
		t.Fatalf("expected exactly one skip event, got %d in %v", skips, got)
	}
	if !(analysisCompleteIdx < skipIdx && skipIdx < responseStartIdx) {
		t.Errorf("skip must sit between analysis completion and response start: %v", got)
	}

	final := evs[len(evs)-1]
	if len(final.State.InvestigationPlan) != 0 {
		t.Error("skipped investigation must leave no plan")
	}
}

func TestInvestigationRunsAtExactThreshold(t *testing.T) {
	r := newTestRunner(scoredLLM(0.60), nil)
	evs := collect(t, r, testAlert())

	sawStart, sawSkip := false, false
	for _, e := range evs {
		if e.Kind == events.KindStageStart && e.Stage == state.StageInvestigation {
			sawStart = true
		}
		if e.Kind == events.KindStageSkipped {
			sawSkip = true
		}
	}
	if !sawStart || sawSkip {
		t.Errorf("score equal to threshold must investigate: start=%v skip=%v", sawStart, sawSkip)
	}
}

func TestValidationEmitsSingleErrorEvent(t *testing.T) {
	r := newTestRunner(nil, nil)

	stream := r.Run(context.Background(), alert.Alert{Severity: "high"})
	var got []events.Event
	for e := range stream.Events() {
		got = append(got, e)
	}

	if len(got) != 1 {
		t.Fatalf("rejected alert must yield exactly one event, got %v", kinds(got))
	}
	if got[0].Kind != events.KindError {
		t.Fatalf("expected error event, got %s", got[0].Kind)
	}
	if !strings.Contains(got[0].Message, "invalid alert") {
		t.Errorf("expected validation message, got %q", got[0].Message)
	}

	if _, err := r.Investigate(context.Background(), alert.Alert{Severity: "high"}); err == nil {
		t.Error("Investigate must surface the validation failure as an error")
	}
}

func TestMalformedScoreFallsBackToRules(t *testing.T) {
	m := scoredLLM(0)
	m.scoreJSON = `{"threat_score": "not a number"}`
	r := newTestRunner(m, nil)

	final, err := r.Investigate(context.Background(), testAlert())
	if err != nil {
		t.Fatalf("malformed score must not fail the run: %v", err)
	}
	// The brute_force type fallback mapping carries confidence 0.75, which
	// beats the 0.70 high-severity floor under the rule-based path.
	if final.ThreatScore != 0.75 {
		t.Errorf("expected rule-based score 0.75, got %f", final.ThreatScore)
	}
	if !strings.HasPrefix(final.AnalysisReasoning, "Rule-based assessment") {
		t.Errorf("expected rule-based reasoning, got %q", final.AnalysisReasoning)
	}
}

func TestCollaboratorFailureFallsBack(t *testing.T) {
	m := scoredLLM(0)
	m.scoreErr = errors.New("llm unreachable")
	m.investigationErr = errors.New("llm unreachable")
	m.streamErr = errors.New("llm unreachable")
	r := newTestRunner(m, nil)

	final, err := r.Investigate(context.Background(), testAlert())
	if err != nil {
		t.Fatalf("collaborator failure must not fail the run: %v", err)
	}
	if final.WorkflowStatus != state.StatusCompleted {
		t.Errorf("expected completed run, got %s", final.WorkflowStatus)
	}
	if len(final.InvestigationPlan) == 0 {
		t.Error("expected default investigation plan")
	}
	if !strings.HasPrefix(final.Report, "# Security Incident Report") {
		t.Errorf("expected template report fallback, got %q", final.Report)
	}
}

func TestPersistFailureCompletesWithoutPersistence(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "pipeline_test.db"))
	if err != nil {
		t.Fatal(err)
	}
	s.Close()

	r := newTestRunner(scoredLLM(0.75), s)
	evs := collect(t, r, testAlert())

	terminals := 0
	var last events.Event
	for _, e := range evs {
		if e.Terminal() {
			terminals++
			last = e
		}
	}
	if terminals != 1 {
		t.Fatalf("expected exactly one terminal event, got %d", terminals)
	}
	if last.Kind != events.KindRunComplete {
		t.Errorf("save failure must not fail the run, got %s", last.Kind)
	}
	if last.State == nil || last.State.WorkflowStatus != state.StatusCompleted {
		t.Error("terminal event must carry the completed state")
	}
	if last.State.CampaignInfo != nil {
		t.Error("unpersisted incident must not carry campaign info")
	}
}

func TestPanicRecoveredToFailedRun(t *testing.T) {
	m := scoredLLM(0.75)
	m.panicOnSchema = true
	r := newTestRunner(m, nil)

	final, err := r.Investigate(context.Background(), testAlert())
	if err == nil {
		t.Fatal("expected run error after panic")
	}
	if !strings.Contains(err.Error(), "panic in stage analysis") {
		t.Errorf("expected panic attribution, got %v", err)
	}
	if final == nil || final.WorkflowStatus != state.StatusFailed {
		t.Error("panic must yield a failed state")
	}
}

func TestCancelledContextAbortsRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := newTestRunner(scoredLLM(0.75), nil)
	stream := r.Run(ctx, testAlert())

	var terminal events.Event
	for e := range stream.Events() {
		if e.Terminal() {
			terminal = e
		}
	}
	if terminal.Kind != events.KindError {
		t.Fatalf("expected error terminal on cancellation, got %s", terminal.Kind)
	}
	if !strings.Contains(terminal.Message, "cancelled") {
		t.Errorf("expected cancellation message, got %q", terminal.Message)
	}
}

func TestDeterministicRunsWithFixedClockAndMocks(t *testing.T) {
	run := func() *state.InvestigationState {
		r := newTestRunner(scoredLLM(0.75), nil)
		final, err := r.Investigate(context.Background(), testAlert())
		if err != nil {
			t.Fatalf("run failed: %v", err)
		}
		return final
	}

	if diff := cmp.Diff(run(), run()); diff != "" {
		t.Errorf("identical inputs must produce identical states (-first +second):\n%s", diff)
	}
}

func TestPersistSavesIncidentAndDetectsCampaign(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "campaign_test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	// Three prior incidents from the same source inside the window.
	for i, offset := range []time.Duration{-9 * time.Hour, -6 * time.Hour, -2 * time.Hour} {
		_, _, err := s.Save(ctx, store.Incident{
			ID:          fmt.Sprintf("INC-PRIOR-%d", i),
			AlertType:   "brute_force",
			SourceIP:    "45.76.123.45",
			ThreatScore: 0.8,
			Techniques:  []string{"T1110.001"},
			OccurredAt:  fixedNow.Add(offset),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	r := newTestRunner(scoredLLM(0.75), s)
	final, err := r.Investigate(ctx, testAlert())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if final.CampaignInfo == nil {
		t.Fatal("expected campaign detection across related incidents")
	}
	// The incident is keyed by the alert id, so the campaign id derives
	// from it deterministically.
	wantID := campaign.CampaignID(testAlert().ID)
	if final.CampaignInfo.CampaignID != wantID {
		t.Errorf("expected campaign id %s, got %s", wantID, final.CampaignInfo.CampaignID)
	}
	if final.CampaignInfo.ThreatAssessment != "ONGOING_CAMPAIGN" {
		t.Errorf("span under 24h must be ONGOING_CAMPAIGN, got %s", final.CampaignInfo.ThreatAssessment)
	}

	saved, err := s.GetByID(ctx, testAlert().ID)
	if err != nil {
		t.Fatalf("incident not persisted: %v", err)
	}
	if saved.CampaignID != wantID {
		t.Errorf("persisted incident missing campaign id: %q", saved.CampaignID)
	}
	if saved.AttackStage != "Credential Access" {
		t.Errorf("attack stage not persisted: %q", saved.AttackStage)
	}
}

func TestResubmittedAlertDedupesByAlertID(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "dedup_test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	r := newTestRunner(scoredLLM(0.75), s)
	if _, err := r.Investigate(ctx, testAlert()); err != nil {
		t.Fatalf("first submission failed: %v", err)
	}
	if _, err := r.Investigate(ctx, testAlert()); err != nil {
		t.Fatalf("re-submission must complete: %v", err)
	}

	stats, err := s.GetStatistics(ctx, time.Time{}, "")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 1 {
		t.Errorf("re-submission of the same alert stored %d incidents; want 1", stats.Total)
	}

	saved, err := s.GetByID(ctx, testAlert().ID)
	if err != nil {
		t.Fatalf("incident not stored under alert id: %v", err)
	}
	if saved.AlertType != "brute_force" {
		t.Errorf("unexpected stored incident: %+v", saved)
	}
}

func TestRuleBasedScoreFactors(t *testing.T) {
	base := func() *state.InvestigationState {
		st := state.New(testAlert(), "s", fixedNow)
		return st
	}

	t.Run("severity floor", func(t *testing.T) {
		st := base()
		score, _ := ruleBasedScore(st)
		if score != 0.70 {
			t.Errorf("high severity must floor at 0.70, got %f", score)
		}
	})

	t.Run("malicious intel tiers", func(t *testing.T) {
		st := base()
		st.Enrichment.ThreatIntel = map[string]interface{}{
			"reputation":   "malicious",
			"threat_score": 7.5,
		}
		score, reasoning := ruleBasedScore(st)
		// floor 0.70 + 0.20 malicious + 0.30 tier = 1.20, clamped
		if score != 1.0 {
			t.Errorf("expected clamp to 1.0, got %f", score)
		}
		if !strings.Contains(reasoning, "malicious source ip") {
			t.Errorf("reasoning must name the factor: %q", reasoning)
		}
	})

	t.Run("suspicious intel", func(t *testing.T) {
		st := base()
		st.Alert.Severity = "low"
		st.Alert.Type = "anomaly"
		st.Enrichment.ThreatIntel = map[string]interface{}{
			"reputation":   "suspicious",
			"threat_score": 3.0,
		}
		score, _ := ruleBasedScore(st)
		// baseline 0.50 + 0.10 + 0.08
		if diff := score - 0.68; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("expected 0.68, got %f", score)
		}
	})

	t.Run("siem volume bonus", func(t *testing.T) {
		st := base()
		st.Alert.Severity = "low"
		st.Alert.Type = "anomaly"
		st.Enrichment.SIEMEvents = make([]map[string]interface{}, 11)
		score, _ := ruleBasedScore(st)
		if diff := score - 0.55; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("expected 0.55, got %f", score)
		}
	})

	t.Run("technique confidence weighting", func(t *testing.T) {
		st := base()
		st.Alert.Severity = "low"
		st.Alert.Type = "anomaly"
		st.MitreMappings = []state.MitreMapping{
			{TechniqueID: "T1110.001", Confidence: 0.9},
			{TechniqueID: "T1110.003", Confidence: 0.7},
		}
		score, _ := ruleBasedScore(st)
		want := 0.7*0.9 + 0.3*0.7
		if diff := score - want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("expected %f, got %f", want, score)
		}
	})
}

func TestRecommendationTiers(t *testing.T) {
	a := testAlert()
	if got := recommendationsFor("CRITICAL", a); len(got) != 5 {
		t.Errorf("critical tier expected 5 actions, got %d", len(got))
	}
	high := recommendationsFor("HIGH", a)
	if len(high) != 4 || !strings.Contains(high[0], "45.76.123.45") {
		t.Errorf("high tier should block the specific ip: %v", high)
	}
	if got := recommendationsFor("LOW", a); len(got) != 1 {
		t.Errorf("low tier expected 1 action, got %d", len(got))
	}
}
