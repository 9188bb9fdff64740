package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"socflow/internal/alert"
	"socflow/internal/campaign"
	"socflow/internal/events"
	"socflow/internal/logging"
	"socflow/internal/mitre"
	"socflow/internal/state"
	"socflow/internal/store"
)

// runSupervisor correlates the alert against incident memory. Correlation is
// advisory: a missing correlator or store failure yields an empty memory
// section, never a failed run.
func (r *Runner) runSupervisor(ctx context.Context, st *state.InvestigationState, stream *events.Stream) (state.Update, error) {
	if r.correlator == nil {
		return state.Update{MemoryReasoning: "Memory correlation disabled."}, nil
	}

	similar := r.correlator.Lookup(ctx, st.Alert)
	reasoning := r.correlator.Explain(ctx, st.Alert, similar)

	return state.Update{
		SimilarIncidents: similar,
		MemoryReasoning:  reasoning,
	}, nil
}

// runEnrichment gathers external context. The enricher degrades to simulated
// payloads internally, so this stage cannot fail.
func (r *Runner) runEnrichment(ctx context.Context, st *state.InvestigationState, stream *events.Stream) (state.Update, error) {
	enrichment := r.enricher.Enrich(ctx, st.Alert)
	return state.Update{
		SIEMEvents:   enrichment.SIEMEvents,
		ThreatIntel:  enrichment.ThreatIntel,
		UserActivity: enrichment.UserActivity,
		EndpointData: enrichment.EndpointData,
	}, nil
}

// runAnalysis classifies the alert against ATT&CK and scores the threat. The
// LLM scores when available; a failed call or malformed response drops to the
// rule-based scorer.
func (r *Runner) runAnalysis(ctx context.Context, st *state.InvestigationState, stream *events.Stream) (state.Update, error) {
	alertText := st.Alert.Describe()
	if st.Alert.Description != "" && !strings.Contains(alertText, st.Alert.Description) {
		alertText += " " + st.Alert.Description
	}

	var mappings []state.MitreMapping
	if r.classifier != nil {
		mappings = r.classifier.Classify(ctx, alertText, st.Alert.Type)
	} else {
		mappings = mitre.TypeFallback(st.Alert.Type)
	}

	u := state.Update{
		MitreMappings:  mappings,
		AttackStage:    mitre.StageFor(mappings),
		ThreatCategory: mitre.CategoryFor(mappings),
	}

	// Score against a state that already carries the mappings so the
	// rule-based path sees them.
	scored := st.Clone()
	scored.Apply(state.Update{MitreMappings: mappings})

	score, reasoning, err := r.scoreThreat(ctx, scored)
	if err != nil {
		if !Recoverable(err) {
			return state.Update{}, err
		}
		logging.PipelineWarn("analysis: %v, using rule-based score", err)
		score, reasoning = ruleBasedScore(scored)
	}

	u.ThreatScore = score
	u.AnalysisReasoning = reasoning
	return u, nil
}

// scoreThreat asks the LLM for a structured threat assessment.
func (r *Runner) scoreThreat(ctx context.Context, st *state.InvestigationState) (float64, string, error) {
	if r.llm == nil {
		score, reasoning := ruleBasedScore(st)
		return score, reasoning, nil
	}

	prompt := scoringPrompt(st)
	raw, err := r.llm.CompleteWithSchema(ctx,
		"You are a SOC threat analyst. Score how likely this alert represents a genuine threat.",
		prompt, threatScoreSchema)
	if err != nil {
		return 0, "", &CollaboratorError{Source: "llm", Err: err}
	}

	var assessment threatAssessment
	if err := json.Unmarshal([]byte(raw), &assessment); err != nil {
		return 0, "", &MalformedResponseError{Operation: "threat scoring", Raw: raw, Err: err}
	}
	if assessment.ThreatScore < 0 || assessment.ThreatScore > 1 {
		return 0, "", &MalformedResponseError{
			Operation: "threat scoring",
			Raw:       raw,
			Err:       fmt.Errorf("threat_score %f out of range", assessment.ThreatScore),
		}
	}
	return assessment.ThreatScore, assessment.Reasoning, nil
}

func scoringPrompt(st *state.InvestigationState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Alert: %s\n", st.Alert.Describe())
	fmt.Fprintf(&b, "Severity reported by source: %s\n", st.Alert.Severity)
	if len(st.MitreMappings) > 0 {
		b.WriteString("Technique classifications:\n")
		for _, m := range st.MitreMappings {
			fmt.Fprintf(&b, "- %s %s (confidence %.2f)\n", m.TechniqueID, m.Name, m.Confidence)
		}
	}
	if rep, ok := st.Enrichment.ThreatIntel["reputation"].(string); ok {
		fmt.Fprintf(&b, "Source IP reputation: %s\n", rep)
	}
	fmt.Fprintf(&b, "Correlated SIEM events: %d\n", len(st.Enrichment.SIEMEvents))
	if len(st.SimilarIncidents) > 0 {
		fmt.Fprintf(&b, "Similar past incidents: %d (best similarity %.2f)\n",
			len(st.SimilarIncidents), st.SimilarIncidents[0].Similarity)
	}
	b.WriteString("\nReturn a threat_score in [0,1] and one-paragraph reasoning.")
	return b.String()
}

const investigationSchema = `{
	"type": "object",
	"properties": {
		"plan": {"type": "array", "items": {"type": "string"}},
		"findings": {"type": "object"},
		"reasoning": {"type": "string"}
	},
	"required": ["plan", "findings", "reasoning"]
}`

type investigationResult struct {
	Plan      []string               `json:"plan"`
	Findings  map[string]interface{} `json:"findings"`
	Reasoning string                 `json:"reasoning"`
}

// runInvestigation runs the deep-dive only reached above the investigation
// threshold. Malformed or failed LLM output drops to the default plan.
func (r *Runner) runInvestigation(ctx context.Context, st *state.InvestigationState, stream *events.Stream) (state.Update, error) {
	result, err := r.investigate(ctx, st)
	if err != nil {
		if !Recoverable(err) {
			return state.Update{}, err
		}
		logging.PipelineWarn("investigation: %v, using default plan", err)
		result = defaultInvestigation(st)
	}

	return state.Update{
		InvestigationPlan:      result.Plan,
		InvestigationFindings:  result.Findings,
		InvestigationReasoning: result.Reasoning,
	}, nil
}

func (r *Runner) investigate(ctx context.Context, st *state.InvestigationState) (investigationResult, error) {
	if r.llm == nil {
		return defaultInvestigation(st), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Alert under investigation: %s\n", st.Alert.Describe())
	fmt.Fprintf(&b, "Threat score: %.2f, attack stage: %s\n", st.ThreatScore, st.AttackStage)
	fmt.Fprintf(&b, "Correlated SIEM events: %d\n", len(st.Enrichment.SIEMEvents))
	b.WriteString("\nProduce an ordered investigation plan, key findings from the available context, and your reasoning.")

	raw, err := r.llm.CompleteWithSchema(ctx,
		"You are a SOC investigator planning a deep-dive into a high-threat alert.",
		b.String(), investigationSchema)
	if err != nil {
		return investigationResult{}, &CollaboratorError{Source: "llm", Err: err}
	}

	var result investigationResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return investigationResult{}, &MalformedResponseError{Operation: "investigation", Raw: raw, Err: err}
	}
	if len(result.Plan) == 0 {
		return investigationResult{}, &MalformedResponseError{
			Operation: "investigation",
			Raw:       raw,
			Err:       fmt.Errorf("empty plan"),
		}
	}
	if result.Findings == nil {
		result.Findings = map[string]interface{}{}
	}
	return result, nil
}

// defaultInvestigation is the fixed plan used when the LLM cannot produce one.
func defaultInvestigation(st *state.InvestigationState) investigationResult {
	plan := []string{
		"Review authentication logs for the source IP over the past 24 hours",
		"Check for lateral movement from the affected host",
		"Audit recent privilege and account changes for the affected user",
		"Correlate SIEM events in a one hour window around the alert",
	}
	if st.Alert.SourceIP != "" {
		plan[0] = fmt.Sprintf("Review authentication logs for %s over the past 24 hours", st.Alert.SourceIP)
	}
	return investigationResult{
		Plan: plan,
		Findings: map[string]interface{}{
			"status":            "completed_with_defaults",
			"events_reviewed":   len(st.Enrichment.SIEMEvents),
			"confidence":        "low",
			"escalation_needed": st.ThreatScore >= 0.85,
		},
		Reasoning: "Default investigation plan applied; automated deep-dive was unavailable.",
	}
}

// runResponse selects containment recommendations and a remediation playbook.
func (r *Runner) runResponse(ctx context.Context, st *state.InvestigationState, stream *events.Stream) (state.Update, error) {
	severity := st.Severity()
	recommendations := recommendationsFor(severity, st.Alert)

	u := state.Update{
		Recommendations: recommendations,
		ResponseReasoning: fmt.Sprintf(
			"%s severity response: %d actions selected for a %s alert scoring %.2f.",
			severity, len(recommendations), st.Alert.Type, st.ThreatScore),
	}

	if r.store != nil {
		pb, err := r.store.FindPlaybook(ctx, st.Alert.Type, st.AttackStage)
		if err != nil {
			logging.PipelineWarn("response: playbook lookup failed: %v", err)
		} else if pb != nil {
			u.RemediationPlaybook = map[string]interface{}{
				"name":         pb.Name,
				"threat_type":  pb.ThreatType,
				"attack_stage": pb.AttackStage,
				"steps":        pb.Steps,
			}
		}
	}
	return u, nil
}

// recommendationsFor returns the containment actions for a severity tier.
func recommendationsFor(severity string, a alert.Alert) []string {
	ip := a.SourceIP
	blockIP := "Block the source IP at the perimeter firewall"
	if ip != "" {
		blockIP = fmt.Sprintf("Block %s at the perimeter firewall", ip)
	}

	switch severity {
	case "CRITICAL":
		return []string{
			"Isolate the affected host from the network",
			blockIP,
			"Force credential reset for all affected accounts",
			"Engage the incident response team",
			"Preserve forensic evidence before remediation",
		}
	case "HIGH":
		return []string{
			blockIP,
			"Force credential reset for the affected account",
			"Increase monitoring on the affected host",
			"Review access logs for related activity",
		}
	case "MEDIUM":
		return []string{
			"Increase monitoring on the affected host",
			"Review access logs for related activity",
		}
	default:
		return []string{
			"Log the alert and close after review",
		}
	}
}

// runCommunication generates the incident report, streaming generation events
// as tokens arrive, and records which channels were notified.
func (r *Runner) runCommunication(ctx context.Context, st *state.InvestigationState, stream *events.Stream) (state.Update, error) {
	fallback := buildReport(st, r.now())
	report := fallback

	if r.llm != nil {
		streamed, err := r.streamReport(ctx, st, fallback, stream)
		if err != nil {
			logging.PipelineWarn("communication: report generation failed, using template: %v", err)
		} else if streamed != "" {
			report = streamed
		}
	}

	return state.Update{
		Report:            report,
		NotificationsSent: notifications(st.Severity()),
	}, nil
}

// streamReport runs the streamed generation and forwards token events.
func (r *Runner) streamReport(ctx context.Context, st *state.InvestigationState, draft string, stream *events.Stream) (string, error) {
	stream.Emit(ctx, events.Event{Kind: events.KindGenerationStart, Stage: state.StageCommunication})

	content, errs := r.llm.CompleteWithStreaming(ctx,
		"You are a SOC analyst writing an incident report for security leadership. Rewrite the draft into a clear markdown report. Keep every factual detail.",
		draft)

	var b strings.Builder
	for token := range content {
		b.WriteString(token)
		stream.Emit(ctx, events.Event{Kind: events.KindGenerationToken, Stage: state.StageCommunication, Token: token})
	}
	err := <-errs

	stream.Emit(ctx, events.Event{Kind: events.KindGenerationComplete, Stage: state.StageCommunication})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(b.String()), nil
}

// runPersist writes the incident to the store and correlates it against the
// recent window for campaign detection. Persistence is best-effort: a failed
// save completes the run without a stored incident or campaign info, and a
// failed recent-window query only skips campaign detection.
func (r *Runner) runPersist(ctx context.Context, st *state.InvestigationState, stream *events.Stream) (state.Update, error) {
	if r.store == nil {
		logging.PipelineWarn("persist: no store configured, skipping")
		return state.Update{}, nil
	}

	inc := incidentFrom(st)
	if inc.OccurredAt.IsZero() {
		inc.OccurredAt = st.CreatedAt
	}

	var info *state.CampaignInfo
	recent, err := r.store.Recent(ctx, inc.OccurredAt, r.campaignWindow)
	if err != nil {
		logging.PipelineWarn("persist: recent-window query failed, skipping campaign detection: %v", err)
	} else {
		trigger := campaign.Incident{
			ID:           inc.ID,
			SourceIP:     inc.SourceIP,
			TechniqueIDs: inc.Techniques,
			ThreatScore:  inc.ThreatScore,
			Timestamp:    inc.OccurredAt,
		}
		candidates := make([]campaign.Incident, 0, len(recent))
		for _, p := range recent {
			candidates = append(candidates, campaign.Incident{
				ID:           p.ID,
				SourceIP:     p.SourceIP,
				TechniqueIDs: p.Techniques,
				ThreatScore:  p.ThreatScore,
				Timestamp:    p.OccurredAt,
			})
		}
		related := campaign.FilterWindow(trigger, candidates, r.campaignWindow)
		info = campaign.Detect(trigger, related)
		if info != nil {
			inc.CampaignID = info.CampaignID
			logging.Campaign("detected %s: %d incidents, confidence %.2f",
				info.CampaignID, info.IncidentCount, info.Confidence)
		}
	}

	id, created, err := r.store.Save(ctx, inc)
	if err != nil {
		saveErr := &CollaboratorError{Source: "store", Err: err}
		logging.PipelineWarn("persist: %v, completing without persistence", saveErr)
		return state.Update{}, nil
	}
	if !created {
		logging.Store("persist: incident %s already stored", id)
	}

	return state.Update{CampaignInfo: info}, nil
}

// incidentFrom projects the final state into the persisted incident record.
// The incident is keyed by the alert id so re-submitting the same alert
// dedupes to one row; session ids only key alerts that arrived without one.
func incidentFrom(st *state.InvestigationState) store.Incident {
	techniques := make([]string, 0, len(st.MitreMappings))
	for _, m := range st.MitreMappings {
		techniques = append(techniques, m.TechniqueID)
	}

	summary := fmt.Sprintf("%s (%s, threat score %.2f)", st.Alert.Describe(), st.Severity(), st.ThreatScore)
	if len(st.Recommendations) > 0 {
		summary += ". First action: " + st.Recommendations[0]
	}

	id := st.Alert.ID
	if id == "" {
		id = "INC-" + st.SessionID
	}

	return store.Incident{
		ID:             id,
		SessionID:      st.SessionID,
		AlertType:      st.Alert.Type,
		Severity:       st.Severity(),
		Title:          st.Alert.Title,
		Description:    st.Alert.Description,
		SourceIP:       st.Alert.SourceIP,
		ThreatScore:    st.ThreatScore,
		AttackStage:    st.AttackStage,
		ThreatCategory: st.ThreatCategory,
		Techniques:     techniques,
		Summary:        summary,
		OccurredAt:     st.Alert.Time(),
	}
}
