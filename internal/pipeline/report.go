package pipeline

import (
	"fmt"
	"strings"
	"time"

	"socflow/internal/state"
)

// buildReport renders the deterministic incident report. It doubles as the
// grounding context for the streamed LLM narrative and as the fallback report
// when generation fails.
func buildReport(st *state.InvestigationState, now time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Security Incident Report: %s\n\n", st.Alert.ID)
	fmt.Fprintf(&b, "**Generated:** %s\n", now.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "**Severity:** %s\n", st.Severity())
	fmt.Fprintf(&b, "**Threat Score:** %.2f\n\n", st.ThreatScore)

	b.WriteString("## Alert\n\n")
	fmt.Fprintf(&b, "- **Type:** %s\n", st.Alert.Type)
	if st.Alert.Title != "" {
		fmt.Fprintf(&b, "- **Title:** %s\n", st.Alert.Title)
	}
	if st.Alert.SourceIP != "" {
		fmt.Fprintf(&b, "- **Source IP:** %s\n", st.Alert.SourceIP)
	}
	if st.Alert.User != "" {
		fmt.Fprintf(&b, "- **User:** %s\n", st.Alert.User)
	}
	if st.Alert.Hostname != "" {
		fmt.Fprintf(&b, "- **Host:** %s\n", st.Alert.Hostname)
	}

	b.WriteString("\n## Analysis\n\n")
	fmt.Fprintf(&b, "- **Attack Stage:** %s\n", st.AttackStage)
	fmt.Fprintf(&b, "- **Threat Category:** %s\n", st.ThreatCategory)
	if len(st.MitreMappings) > 0 {
		b.WriteString("- **MITRE ATT&CK Techniques:**\n")
		for _, m := range st.MitreMappings {
			fmt.Fprintf(&b, "  - %s %s (%s, confidence %.2f)\n", m.TechniqueID, m.Name, m.Tactic, m.Confidence)
		}
	}
	if st.AnalysisReasoning != "" {
		fmt.Fprintf(&b, "\n%s\n", st.AnalysisReasoning)
	}

	if len(st.SimilarIncidents) > 0 {
		b.WriteString("\n## Related History\n\n")
		for _, inc := range st.SimilarIncidents {
			fmt.Fprintf(&b, "- %s (similarity %.2f): %s\n", inc.IncidentID, inc.Similarity, inc.Summary)
		}
		if st.MemoryReasoning != "" {
			fmt.Fprintf(&b, "\n%s\n", st.MemoryReasoning)
		}
	}

	if len(st.InvestigationPlan) > 0 || len(st.InvestigationFindings) > 0 {
		b.WriteString("\n## Investigation\n\n")
		for _, step := range st.InvestigationPlan {
			fmt.Fprintf(&b, "1. %s\n", step)
		}
		if st.InvestigationReasoning != "" {
			fmt.Fprintf(&b, "\n%s\n", st.InvestigationReasoning)
		}
	}

	if len(st.Recommendations) > 0 {
		b.WriteString("\n## Recommended Actions\n\n")
		for _, rec := range st.Recommendations {
			fmt.Fprintf(&b, "- %s\n", rec)
		}
	}

	if name, ok := st.RemediationPlaybook["name"].(string); ok && name != "" {
		fmt.Fprintf(&b, "\n**Remediation Playbook:** %s\n", name)
	}

	if st.CampaignInfo != nil {
		b.WriteString("\n## Campaign Correlation\n\n")
		fmt.Fprintf(&b, "- **Campaign:** %s (%s)\n", st.CampaignInfo.CampaignID, st.CampaignInfo.ThreatAssessment)
		fmt.Fprintf(&b, "- **Confidence:** %.2f across %d incidents over %.1f hours\n",
			st.CampaignInfo.Confidence, st.CampaignInfo.IncidentCount, st.CampaignInfo.TimeSpanHours)
	}

	return b.String()
}

// notifications returns the channels notified for the run's severity.
func notifications(severity string) []string {
	base := []string{"email:soc-team@example.com", "slack:#soc-alerts"}
	switch severity {
	case "CRITICAL":
		return append(base, "pagerduty:soc-oncall", "email:ciso@example.com")
	case "HIGH":
		return append(base, "pagerduty:soc-oncall")
	default:
		return base
	}
}
