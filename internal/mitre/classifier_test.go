package mitre

import (
	"context"
	"testing"
)

func TestKeywordClassification(t *testing.T) {
	c := NewClassifier(nil)

	mappings := c.Classify(context.Background(), "password guessing attempts against ssh from single source", "brute_force")
	if len(mappings) == 0 {
		t.Fatal("expected at least one mapping")
	}
	if mappings[0].TechniqueID != "T1110.001" {
		t.Errorf("expected password guessing first, got %s", mappings[0].TechniqueID)
	}
	for _, m := range mappings {
		if m.Confidence < SearchThreshold {
			t.Errorf("mapping %s below threshold: %f", m.TechniqueID, m.Confidence)
		}
	}
}

func TestTypeFallbackWhenNothingMatches(t *testing.T) {
	c := NewClassifier(nil)

	cases := []struct {
		alertType string
		wantID    string
		wantConf  float64
	}{
		{"phishing", "T1566.001", 0.85},
		{"brute_force", "T1110.001", 0.75},
		{"malware", "T1071.001", 0.95},
		{"ransomware", "T1071.001", 0.95},
		{"something_else", "T1078", 0.60},
	}
	for _, tc := range cases {
		mappings := c.Classify(context.Background(), "zzqq unmatchable", tc.alertType)
		if len(mappings) != 1 {
			t.Fatalf("%s: expected single fallback mapping, got %d", tc.alertType, len(mappings))
		}
		if mappings[0].TechniqueID != tc.wantID {
			t.Errorf("%s: expected %s, got %s", tc.alertType, tc.wantID, mappings[0].TechniqueID)
		}
		if mappings[0].Confidence != tc.wantConf {
			t.Errorf("%s: expected confidence %.2f, got %.2f", tc.alertType, tc.wantConf, mappings[0].Confidence)
		}
	}
}

func TestStageAndCategoryForBestMapping(t *testing.T) {
	mappings := TypeFallback("brute_force")
	if got := StageFor(mappings); got != "Credential Access" {
		t.Errorf("expected Credential Access, got %s", got)
	}
	if got := CategoryFor(mappings); got != "Credential Attack" {
		t.Errorf("expected Credential Attack, got %s", got)
	}

	if got := StageFor(nil); got != "Unknown" {
		t.Errorf("expected Unknown for empty mappings, got %s", got)
	}
	if got := CategoryFor(nil); got != "Unknown Threat" {
		t.Errorf("expected Unknown Threat for empty mappings, got %s", got)
	}
}

func TestCorpusTacticsHaveStageAndCategory(t *testing.T) {
	for _, tech := range Corpus {
		if _, ok := TacticStage[tech.Tactic]; !ok {
			t.Errorf("technique %s tactic %q missing stage mapping", tech.ID, tech.Tactic)
		}
		if _, ok := TacticCategory[tech.Tactic]; !ok {
			t.Errorf("technique %s tactic %q missing category mapping", tech.ID, tech.Tactic)
		}
	}
}
