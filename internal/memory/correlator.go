// Package memory correlates an incoming alert against past incidents in the
// store. The supervisor stage uses a tight lookup to find campaign-relevant
// precedent; the CLI memory commands use a looser general search.
package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"socflow/internal/alert"
	"socflow/internal/llm"
	"socflow/internal/logging"
	"socflow/internal/state"
	"socflow/internal/store"
)

// Lookup defaults for the supervisor stage: few results, high bar.
const (
	LookupK             = 3
	LookupMinSimilarity = 0.7
)

// Search defaults for ad-hoc memory queries: wide net, low bar.
const (
	SearchK             = 10
	SearchMinSimilarity = 0.3
)

// Correlator finds and explains similar past incidents. The LLM handle is
// optional; without it explanations use the deterministic fallback.
type Correlator struct {
	store *store.IncidentStore
	llm   llm.Client
}

// NewCorrelator creates a correlator over the incident store.
func NewCorrelator(s *store.IncidentStore, client llm.Client) *Correlator {
	return &Correlator{store: s, llm: client}
}

// Query builds the search text for an alert from its type, description, and
// network endpoints.
func Query(a alert.Alert) string {
	parts := []string{a.Describe()}
	if a.SourceIP != "" {
		parts = append(parts, "source ip "+a.SourceIP)
	}
	if a.DestinationIP != "" {
		parts = append(parts, "destination ip "+a.DestinationIP)
	}
	return strings.Join(parts, " | ")
}

// Lookup finds campaign-relevant precedent for an alert. A store failure logs
// and returns no incidents; correlation is advisory and must never fail a run.
func (c *Correlator) Lookup(ctx context.Context, a alert.Alert) []state.SimilarIncident {
	matches, err := c.store.FindSimilar(ctx, Query(a), LookupK, LookupMinSimilarity)
	if err != nil {
		logging.MemoryWarn("Lookup: similarity search failed for %s: %v", a.ID, err)
		return nil
	}
	logging.Memory("Lookup: %d similar incidents for %s", len(matches), a.ID)
	return convert(matches)
}

// Search runs a general memory query with the wide defaults.
func (c *Correlator) Search(ctx context.Context, query string, k int, minSimilarity float64) ([]state.SimilarIncident, error) {
	if k <= 0 {
		k = SearchK
	}
	if minSimilarity <= 0 {
		minSimilarity = SearchMinSimilarity
	}
	matches, err := c.store.FindSimilar(ctx, query, k, minSimilarity)
	if err != nil {
		return nil, fmt.Errorf("memory search failed: %w", err)
	}
	return convert(matches), nil
}

// Explain produces a short analyst-facing summary of why the matches are
// relevant to the alert. LLM failure or absence falls back to a fixed
// deterministic line.
func (c *Correlator) Explain(ctx context.Context, a alert.Alert, incidents []state.SimilarIncident) string {
	if len(incidents) == 0 {
		return "No similar past incidents found in memory."
	}

	fallback := fmt.Sprintf(
		"Found %d similar past incidents. Highest similarity %.2f (%s, %s).",
		len(incidents), incidents[0].Similarity, incidents[0].IncidentID, incidents[0].AlertType)

	if c.llm == nil {
		return fallback
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Current alert: %s\n\nSimilar past incidents:\n", Query(a))
	for _, inc := range incidents {
		fmt.Fprintf(&b, "- %s (similarity %.2f): %s, threat score %.2f, stage %s. %s\n",
			inc.IncidentID, inc.Similarity, inc.AlertType, inc.ThreatScore, inc.AttackStage, inc.Summary)
	}
	b.WriteString("\nIn two or three sentences, explain what these past incidents suggest about the current alert.")

	explanation, err := c.llm.CompleteWithSystem(ctx,
		"You are a SOC analyst assistant. Be concise and concrete.",
		b.String())
	if err != nil {
		logging.MemoryWarn("Explain: llm failed, using fallback: %v", err)
		return fallback
	}
	explanation = strings.TrimSpace(explanation)
	if explanation == "" {
		return fallback
	}
	return explanation
}

func convert(matches []store.Match) []state.SimilarIncident {
	if len(matches) == 0 {
		return nil
	}
	out := make([]state.SimilarIncident, 0, len(matches))
	for _, m := range matches {
		out = append(out, state.SimilarIncident{
			IncidentID:     m.Incident.ID,
			Similarity:     m.Similarity,
			AlertType:      m.Incident.AlertType,
			ThreatScore:    m.Incident.ThreatScore,
			AttackStage:    m.Incident.AttackStage,
			ThreatCategory: m.Incident.ThreatCategory,
			Timestamp:      m.Incident.OccurredAt.UTC().Format(time.RFC3339),
			SourceIP:       m.Incident.SourceIP,
			Summary:        m.Incident.Summary,
		})
	}
	return out
}
