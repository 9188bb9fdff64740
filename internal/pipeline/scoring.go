package pipeline

import (
	"fmt"
	"strings"

	"socflow/internal/state"
)

// threatScoreSchema is the JSON schema enforced on the LLM scoring call.
const threatScoreSchema = `{
	"type": "object",
	"properties": {
		"threat_score": {"type": "number", "minimum": 0, "maximum": 1},
		"reasoning": {"type": "string"}
	},
	"required": ["threat_score", "reasoning"]
}`

type threatAssessment struct {
	ThreatScore float64 `json:"threat_score"`
	Reasoning   string  `json:"reasoning"`
}

// ruleBasedScore computes the deterministic threat score used when the LLM is
// unavailable or returns garbage. Factors, in order: technique confidence
// (best two mappings weighted 0.7/0.3), severity and alert-type floors,
// threat intel reputation with tiered intel-score bonus, and SIEM event
// volume. Clamped to [0, 1].
func ruleBasedScore(st *state.InvestigationState) (float64, string) {
	score := 0.50
	var factors []string

	if len(st.MitreMappings) > 0 {
		conf := st.MitreMappings[0].Confidence
		if len(st.MitreMappings) > 1 {
			conf = 0.7*st.MitreMappings[0].Confidence + 0.3*st.MitreMappings[1].Confidence
		}
		if conf > score {
			score = conf
		}
		factors = append(factors, fmt.Sprintf("technique confidence %.2f (%s)", conf, st.MitreMappings[0].TechniqueID))
	}

	switch strings.ToLower(st.Alert.Severity) {
	case "critical", "high":
		if score < 0.70 {
			score = 0.70
			factors = append(factors, "severity floor 0.70")
		}
	case "medium":
		if score < 0.55 {
			score = 0.55
			factors = append(factors, "severity floor 0.55")
		}
	}

	alertType := strings.ToLower(st.Alert.Type)
	typeFloor := 0.0
	switch {
	case strings.Contains(alertType, "malware"), strings.Contains(alertType, "ransom"):
		typeFloor = 0.75
	case strings.Contains(alertType, "phish"):
		typeFloor = 0.65
	case strings.Contains(alertType, "brute"), strings.Contains(alertType, "unauthorized"):
		typeFloor = 0.60
	}
	if typeFloor > 0 && score < typeFloor {
		score = typeFloor
		factors = append(factors, fmt.Sprintf("alert type floor %.2f", typeFloor))
	}

	intel := st.Enrichment.ThreatIntel
	if intel != nil {
		reputation, _ := intel["reputation"].(string)
		intelScore := asFloat(intel["threat_score"])
		switch reputation {
		case "malicious":
			bonus := 0.20
			switch {
			case intelScore >= 6:
				bonus += 0.30
			case intelScore >= 4:
				bonus += 0.20
			case intelScore >= 2:
				bonus += 0.10
			}
			score += bonus
			factors = append(factors, fmt.Sprintf("malicious source ip +%.2f", bonus))
		case "suspicious":
			bonus := 0.10
			if intelScore >= 2 {
				bonus += 0.08
			}
			score += bonus
			factors = append(factors, fmt.Sprintf("suspicious source ip +%.2f", bonus))
		}
	}

	if len(st.Enrichment.SIEMEvents) > 10 {
		score += 0.05
		factors = append(factors, fmt.Sprintf("high siem event volume (%d) +0.05", len(st.Enrichment.SIEMEvents)))
	}

	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}

	reasoning := "Rule-based assessment"
	if len(factors) > 0 {
		reasoning += ": " + strings.Join(factors, "; ")
	} else {
		reasoning += ": baseline score, no elevating factors"
	}
	return score, reasoning
}

func asFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	}
	return 0
}
