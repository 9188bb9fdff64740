package campaign

import (
	"testing"
	"time"
)

var t0 = time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

func incident(id, ip string, techniques []string, offset time.Duration) Incident {
	return Incident{
		ID:           id,
		SourceIP:     ip,
		TechniqueIDs: techniques,
		ThreatScore:  0.8,
		Timestamp:    t0.Add(offset),
	}
}

func TestScoreZeroWithoutRelated(t *testing.T) {
	cur := incident("INC-1", "1.2.3.4", []string{"T1110.001"}, 0)
	if got := Score(cur, nil); got != 0 {
		t.Errorf("expected 0 for empty related set, got %f", got)
	}
}

func TestScoreFullCorrelation(t *testing.T) {
	cur := incident("INC-0", "1.2.3.4", []string{"T1110.001"}, 0)
	var related []Incident
	for i := 0; i < 5; i++ {
		related = append(related, incident("INC-"+string(rune('1'+i)), "1.2.3.4", []string{"T1110.001"}, time.Duration(i)*time.Hour))
	}

	// 0.30 (count) + 0.40 (full overlap) + 0.20 (full IP) + 0.10 (<12h) = 1.00
	got := Score(cur, related)
	if got != 1.0 {
		t.Errorf("expected fully correlated score 1.0, got %f", got)
	}
}

func TestScoreClampedToOne(t *testing.T) {
	cur := incident("INC-0", "1.2.3.4", []string{"T1110.001", "T1110.003"}, 0)
	var related []Incident
	for i := 0; i < 10; i++ {
		related = append(related, incident("INC-"+string(rune('a'+i)), "1.2.3.4", []string{"T1110.001", "T1110.003"}, time.Duration(i)*time.Minute))
	}
	got := Score(cur, related)
	if got < 0 || got > 1 {
		t.Errorf("score out of [0,1]: %f", got)
	}
}

func TestNoCampaignUnderThreeIncidents(t *testing.T) {
	cur := incident("INC-0", "1.2.3.4", []string{"T1110.001"}, 0)
	// One related incident, even perfectly correlated, is below the minimum.
	related := []Incident{incident("INC-1", "1.2.3.4", []string{"T1110.001"}, time.Hour)}

	if info := Detect(cur, related); info != nil {
		t.Errorf("expected no campaign with 2 total incidents, got %+v", info)
	}
}

func TestNoCampaignBelowThreshold(t *testing.T) {
	cur := incident("INC-0", "9.9.9.9", []string{"T1566.001"}, 0)
	// 2 related, no technique overlap, no IP match, tight cluster:
	// 0.15 + 0 + 0 + 0.10 = 0.25 < 0.60
	related := []Incident{
		incident("INC-1", "1.1.1.1", []string{"T1110.001"}, time.Hour),
		incident("INC-2", "2.2.2.2", []string{"T1071.001"}, 2*time.Hour),
	}

	if got := Score(cur, related); got >= DeclarationThreshold {
		t.Fatalf("expected sub-threshold score, got %f", got)
	}
	if info := Detect(cur, related); info != nil {
		t.Errorf("expected no campaign, got %+v", info)
	}
}

func TestDetectBuildsCampaignInfo(t *testing.T) {
	cur := incident("INC-2026-abcd1234", "1.2.3.4", []string{"T1110.001"}, 0)
	related := []Incident{
		incident("INC-1", "1.2.3.4", []string{"T1110.001"}, 2*time.Hour),
		incident("INC-2", "1.2.3.4", []string{"T1110.001"}, 5*time.Hour),
		incident("INC-3", "1.2.3.4", []string{"T1110.001"}, 9*time.Hour),
	}

	info := Detect(cur, related)
	if info == nil {
		t.Fatal("expected campaign declaration")
	}
	if info.CampaignID != "CAMPAIGN-ABCD1234" {
		t.Errorf("unexpected campaign id %s", info.CampaignID)
	}
	if info.IncidentCount != 4 {
		t.Errorf("expected incident count 4, got %d", info.IncidentCount)
	}
	if len(info.RelatedIncidents) != 4 || info.RelatedIncidents[0] != cur.ID {
		t.Errorf("related ids should include trigger first: %v", info.RelatedIncidents)
	}
	if info.ThreatAssessment != "ONGOING_CAMPAIGN" {
		t.Errorf("9h span should be ONGOING_CAMPAIGN, got %s", info.ThreatAssessment)
	}
	if info.Confidence < 0 || info.Confidence > 1 {
		t.Errorf("confidence out of [0,1]: %f", info.Confidence)
	}
}

func TestAssessmentTiers(t *testing.T) {
	cur := incident("INC-0", "1.2.3.4", []string{"T1110.001"}, 0)

	mk := func(span time.Duration) []Incident {
		return []Incident{
			incident("INC-1", "1.2.3.4", []string{"T1110.001"}, span/3),
			incident("INC-2", "1.2.3.4", []string{"T1110.001"}, span/2),
			incident("INC-3", "1.2.3.4", []string{"T1110.001"}, span),
		}
	}

	cases := []struct {
		span time.Duration
		want string
	}{
		{10 * time.Hour, "ONGOING_CAMPAIGN"},
		{30 * time.Hour, "RECENT_CAMPAIGN"},
		{60 * time.Hour, "MULTI_WAVE_CAMPAIGN"},
	}
	for _, tc := range cases {
		info := Detect(cur, mk(tc.span))
		if info == nil {
			t.Fatalf("span %v: expected campaign", tc.span)
		}
		if info.ThreatAssessment != tc.want {
			t.Errorf("span %v: expected %s, got %s", tc.span, tc.want, info.ThreatAssessment)
		}
	}
}

func TestFilterWindowExcludesTriggerAndOutliers(t *testing.T) {
	cur := incident("INC-0", "1.2.3.4", nil, 0)
	candidates := []Incident{
		cur,
		incident("INC-1", "1.2.3.4", nil, -47*time.Hour),
		incident("INC-2", "1.2.3.4", nil, -49*time.Hour),
		incident("INC-3", "1.2.3.4", nil, 12*time.Hour),
	}

	related := FilterWindow(cur, candidates, DefaultWindow)
	if len(related) != 2 {
		t.Fatalf("expected 2 in-window incidents, got %d: %v", len(related), related)
	}
	for _, r := range related {
		if r.ID == cur.ID {
			t.Error("trigger incident must not appear in its own related set")
		}
		if r.ID == "INC-2" {
			t.Error("incident outside the 48h window included")
		}
	}
}
