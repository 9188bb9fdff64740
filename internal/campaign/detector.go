// Package campaign decides whether a new incident belongs to a coordinated
// multi-incident attack. Detection is a pure function over the incident and
// its correlation-window neighbors: same inputs, same verdict.
package campaign

import (
	"fmt"
	"strings"
	"time"

	"socflow/internal/state"
)

// DefaultWindow is the correlation window: only incidents within this span of
// the triggering incident participate in detection.
const DefaultWindow = 48 * time.Hour

// DeclarationThreshold is the minimum confidence score to declare a campaign.
const DeclarationThreshold = 0.60

// MinRelatedIncidents is the minimum number of related incidents (excluding
// the trigger) for a campaign. Fewer than 3 total incidents never form one.
const MinRelatedIncidents = 2

// Incident is the minimal view of an incident the detector needs.
type Incident struct {
	ID           string
	SourceIP     string
	TechniqueIDs []string
	ThreatScore  float64
	Timestamp    time.Time
}

// FilterWindow returns the candidates whose timestamps fall within window of
// the triggering incident, in either direction. The trigger itself is never
// included.
func FilterWindow(current Incident, candidates []Incident, window time.Duration) []Incident {
	if window <= 0 {
		window = DefaultWindow
	}
	var related []Incident
	for _, c := range candidates {
		if c.ID == current.ID {
			continue
		}
		d := current.Timestamp.Sub(c.Timestamp)
		if d < 0 {
			d = -d
		}
		if d <= window {
			related = append(related, c)
		}
	}
	return related
}

// Score computes the campaign confidence for the current incident against its
// window-filtered related incidents. Four capped factors sum and clamp to
// [0, 1]:
//
//	incident count:     >=5 related -> 0.30, 3-4 -> 0.25, 2 -> 0.15
//	technique overlap:  0.40 x share of related sharing >=1 technique id
//	IP correlation:     0.20 x min(1, share with identical source IP)
//	temporal cluster:   span <12h -> 0.10, <24h -> 0.07, <48h -> 0.04
func Score(current Incident, related []Incident) float64 {
	if len(related) == 0 {
		return 0
	}
	total := float64(len(related))
	score := 0.0

	// Incident count factor
	switch {
	case len(related) >= 5:
		score += 0.30
	case len(related) >= 3:
		score += 0.25
	case len(related) == 2:
		score += 0.15
	}

	// Technique overlap factor
	if len(current.TechniqueIDs) > 0 {
		currentSet := make(map[string]bool, len(current.TechniqueIDs))
		for _, id := range current.TechniqueIDs {
			currentSet[id] = true
		}
		sharing := 0
		for _, r := range related {
			for _, id := range r.TechniqueIDs {
				if currentSet[id] {
					sharing++
					break
				}
			}
		}
		score += 0.40 * (float64(sharing) / total)
	}

	// IP correlation factor
	if current.SourceIP != "" {
		sameIP := 0
		for _, r := range related {
			if r.SourceIP == current.SourceIP {
				sameIP++
			}
		}
		share := float64(sameIP) / total
		if share > 1 {
			share = 1
		}
		score += 0.20 * share
	}

	// Temporal clustering factor
	span := timeSpan(current, related)
	switch {
	case span < 12*time.Hour:
		score += 0.10
	case span < 24*time.Hour:
		score += 0.07
	case span < 48*time.Hour:
		score += 0.04
	}

	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}

// Detect runs Score and, if the confidence threshold and minimum incident
// count are both met, builds the immutable CampaignInfo. Returns nil when no
// campaign is declared.
func Detect(current Incident, related []Incident) *state.CampaignInfo {
	score := Score(current, related)
	if score < DeclarationThreshold || len(related) < MinRelatedIncidents {
		return nil
	}

	span := timeSpan(current, related)

	relatedIDs := make([]string, 0, len(related)+1)
	relatedIDs = append(relatedIDs, current.ID)
	for _, r := range related {
		relatedIDs = append(relatedIDs, r.ID)
	}

	return &state.CampaignInfo{
		CampaignID:       CampaignID(current.ID),
		Confidence:       score,
		IncidentCount:    len(related) + 1,
		RelatedIncidents: relatedIDs,
		TimeSpanHours:    span.Hours(),
		ThreatAssessment: assessment(span),
	}
}

// CampaignID derives the campaign identifier from the triggering incident:
// "CAMPAIGN-" plus the uppercased last 8 characters of its id.
func CampaignID(incidentID string) string {
	suffix := incidentID
	if len(suffix) > 8 {
		suffix = suffix[len(suffix)-8:]
	}
	return fmt.Sprintf("CAMPAIGN-%s", strings.ToUpper(suffix))
}

func assessment(span time.Duration) string {
	switch {
	case span < 24*time.Hour:
		return "ONGOING_CAMPAIGN"
	case span < 48*time.Hour:
		return "RECENT_CAMPAIGN"
	default:
		return "MULTI_WAVE_CAMPAIGN"
	}
}

// timeSpan is the spread between the earliest and latest timestamps across
// the current incident and its related set.
func timeSpan(current Incident, related []Incident) time.Duration {
	earliest, latest := current.Timestamp, current.Timestamp
	for _, r := range related {
		if r.Timestamp.Before(earliest) {
			earliest = r.Timestamp
		}
		if r.Timestamp.After(latest) {
			latest = r.Timestamp
		}
	}
	return latest.Sub(earliest)
}
