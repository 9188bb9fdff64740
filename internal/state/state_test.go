package state

import (
	"reflect"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"socflow/internal/alert"
)

func testAlert() alert.Alert {
	return alert.Alert{
		ID:       "ALERT-001",
		Type:     "brute_force",
		Severity: "high",
		SourceIP: "45.76.123.45",
	}
}

func TestNewStateDefaults(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	s := New(testAlert(), "run-1", now)

	if s.WorkflowStatus != StatusInProgress {
		t.Errorf("expected status in_progress, got %s", s.WorkflowStatus)
	}
	if s.CreatedAt != now {
		t.Errorf("expected created_at %v, got %v", now, s.CreatedAt)
	}
	if s.Terminal() {
		t.Error("fresh state should not be terminal")
	}
	if s.ThreatScore != 0 {
		t.Errorf("expected zero threat score, got %f", s.ThreatScore)
	}
}

func TestMergeStrategyTableCoversEveryUpdateField(t *testing.T) {
	typ := reflect.TypeOf(Update{})
	for i := 0; i < typ.NumField(); i++ {
		name := typ.Field(i).Name
		if _, ok := MergeStrategies[name]; !ok {
			t.Errorf("Update field %s has no merge strategy", name)
		}
	}
	if len(MergeStrategies) != typ.NumField() {
		t.Errorf("strategy table has %d entries, Update has %d fields", len(MergeStrategies), typ.NumField())
	}
}

func TestApplyScalarOverwrite(t *testing.T) {
	s := New(testAlert(), "run-1", time.Now())

	s.Apply(Update{ThreatScore: 0.72, AttackStage: "Initial Access"})
	if s.ThreatScore != 0.72 {
		t.Errorf("expected threat score 0.72, got %f", s.ThreatScore)
	}
	if s.AttackStage != "Initial Access" {
		t.Errorf("expected attack stage set, got %q", s.AttackStage)
	}

	// Zero-valued fields must not clobber existing values.
	s.Apply(Update{AnalysisReasoning: "reasoning"})
	if s.ThreatScore != 0.72 {
		t.Errorf("zero threat score clobbered existing value: %f", s.ThreatScore)
	}
}

func TestApplyListReplace(t *testing.T) {
	s := New(testAlert(), "run-1", time.Now())

	s.Apply(Update{Recommendations: []string{"isolate host"}})
	s.Apply(Update{Recommendations: []string{"isolate host", "reset credentials"}})

	if len(s.Recommendations) != 2 {
		t.Fatalf("expected wholesale replace to yield 2 entries, got %d: %v", len(s.Recommendations), s.Recommendations)
	}
}

func TestApplyMapShallowMerge(t *testing.T) {
	s := New(testAlert(), "run-1", time.Now())

	s.Apply(Update{ThreatIntel: map[string]interface{}{"reputation": "suspicious", "score": 4.0}})
	s.Apply(Update{ThreatIntel: map[string]interface{}{"reputation": "malicious"}})

	if got := s.Enrichment.ThreatIntel["reputation"]; got != "malicious" {
		t.Errorf("incoming key should win: got %v", got)
	}
	if got := s.Enrichment.ThreatIntel["score"]; got != 4.0 {
		t.Errorf("untouched key should survive: got %v", got)
	}
}

func TestApplyIdempotent(t *testing.T) {
	u := Update{
		ThreatScore:     0.85,
		AttackStage:     "Credential Access",
		Recommendations: []string{"a", "b"},
		ThreatIntel:     map[string]interface{}{"reputation": "malicious"},
		MitreMappings:   []MitreMapping{{TechniqueID: "T1110.001", Confidence: 0.75}},
		CampaignInfo:    &CampaignInfo{CampaignID: "CAMPAIGN-ABCD1234", Confidence: 0.7},
	}

	once := New(testAlert(), "run-1", time.Time{})
	once.Apply(u)

	twice := New(testAlert(), "run-1", time.Time{})
	twice.Apply(u)
	twice.Apply(u)

	if diff := cmp.Diff(once, twice); diff != "" {
		t.Errorf("applying the same update twice changed the state:\n%s", diff)
	}
}

func TestDiffReportsChangedFieldsOnly(t *testing.T) {
	s := New(testAlert(), "run-1", time.Time{})
	before := s.Clone()

	s.Apply(Update{
		ThreatScore:   0.9,
		MitreMappings: []MitreMapping{{TechniqueID: "T1566.001"}},
	})

	delta := Diff(before, s)
	if _, ok := delta["threat_score"]; !ok {
		t.Error("diff missing threat_score")
	}
	if _, ok := delta["mitre_mappings"]; !ok {
		t.Error("diff missing mitre_mappings")
	}
	if _, ok := delta["report"]; ok {
		t.Error("diff contains unchanged field report")
	}
}

func TestCloneIsolation(t *testing.T) {
	s := New(testAlert(), "run-1", time.Time{})
	s.Apply(Update{
		ThreatIntel:     map[string]interface{}{"reputation": "clean"},
		Recommendations: []string{"monitor"},
	})

	c := s.Clone()
	s.Apply(Update{ThreatIntel: map[string]interface{}{"reputation": "malicious"}})
	s.Recommendations[0] = "changed"

	if c.Enrichment.ThreatIntel["reputation"] != "clean" {
		t.Error("clone shares threat intel map with original")
	}
	if c.Recommendations[0] != "monitor" {
		t.Error("clone shares recommendations slice with original")
	}
}

func TestSeverityTiers(t *testing.T) {
	cases := []struct {
		score float64
		want  string
	}{
		{0.90, "CRITICAL"},
		{0.85, "CRITICAL"},
		{0.70, "HIGH"},
		{0.65, "HIGH"},
		{0.50, "MEDIUM"},
		{0.45, "MEDIUM"},
		{0.30, "LOW"},
	}
	for _, tc := range cases {
		s := &InvestigationState{ThreatScore: tc.score}
		if got := s.Severity(); got != tc.want {
			t.Errorf("score %.2f: expected %s, got %s", tc.score, tc.want, got)
		}
	}
}
