package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *IncidentStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testIncident(id string) Incident {
	return Incident{
		ID:          id,
		SessionID:   "run-" + id,
		AlertType:   "brute_force",
		Severity:    "high",
		Title:       "SSH brute force against bastion",
		Description: "500 failed logins in 10 minutes",
		SourceIP:    "45.76.123.45",
		ThreatScore: 0.82,
		AttackStage: "Credential Access",
		Techniques:  []string{"T1110.001"},
		Summary:     "Brute force attack against the bastion host",
		OccurredAt:  time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestSaveIsAtomicOnDuplicateID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, created, err := s.Save(ctx, testIncident("INC-1"))
	if err != nil {
		t.Fatalf("first save failed: %v", err)
	}
	if !created || id != "INC-1" {
		t.Errorf("first save should create: created=%v id=%s", created, id)
	}

	// Same id again: non-error, store unchanged.
	dup := testIncident("INC-1")
	dup.Title = "changed title"
	_, created, err = s.Save(ctx, dup)
	if err != nil {
		t.Fatalf("duplicate save must not error: %v", err)
	}
	if created {
		t.Error("duplicate save must report created=false")
	}

	got, err := s.GetByID(ctx, "INC-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Title != "SSH brute force against bastion" {
		t.Errorf("duplicate save mutated the stored incident: %q", got.Title)
	}
}

func TestSaveRequiresIDAndType(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, _, err := s.Save(ctx, Incident{AlertType: "phishing"}); err == nil {
		t.Error("expected error for missing id")
	}
	if _, _, err := s.Save(ctx, Incident{ID: "INC-2"}); err == nil {
		t.Error("expected error for missing alert type")
	}
}

func TestGetByIDNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetByID(context.Background(), "missing"); err == nil {
		t.Error("expected error for missing incident")
	}
}

func TestFindSimilarKeywordFallback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, _, err := s.Save(ctx, testIncident("INC-1")); err != nil {
		t.Fatal(err)
	}
	other := testIncident("INC-2")
	other.AlertType = "phishing"
	other.Title = "Credential phishing campaign"
	other.Description = "Spoofed login portal"
	if _, _, err := s.Save(ctx, other); err != nil {
		t.Fatal(err)
	}

	matches, err := s.FindSimilar(ctx, "brute force logins", 10, 0.3)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(matches) == 0 {
		t.Fatal("expected keyword match for brute force incident")
	}
	if matches[0].Incident.ID != "INC-1" {
		t.Errorf("expected INC-1 first, got %s", matches[0].Incident.ID)
	}
	for _, m := range matches {
		if m.Similarity < 0.3 {
			t.Errorf("match below min similarity: %f", m.Similarity)
		}
	}
}

func TestFindSimilarTruncatesSummary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	inc := testIncident("INC-1")
	inc.Summary = strings.Repeat("x", 500)
	if _, _, err := s.Save(ctx, inc); err != nil {
		t.Fatal(err)
	}

	matches, err := s.FindSimilar(ctx, "brute force", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	if len(matches[0].Incident.Summary) != summaryLimit {
		t.Errorf("expected summary truncated to %d, got %d", summaryLimit, len(matches[0].Incident.Summary))
	}
}

func TestRecentWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ref := time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC)

	inside := testIncident("INC-IN")
	inside.OccurredAt = ref.Add(-24 * time.Hour)
	outside := testIncident("INC-OUT")
	outside.OccurredAt = ref.Add(-72 * time.Hour)

	for _, inc := range []Incident{inside, outside} {
		if _, _, err := s.Save(ctx, inc); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.Recent(ctx, ref, 48*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "INC-IN" {
		t.Errorf("expected only INC-IN inside window, got %v", got)
	}
	if len(got) == 1 && len(got[0].Techniques) != 1 {
		t.Errorf("techniques not round-tripped: %v", got[0].Techniques)
	}
}

func TestGetStatistics(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := testIncident("INC-1") // brute_force, 0.82
	b := testIncident("INC-2")
	b.AlertType = "phishing"
	b.ThreatScore = 0.4
	b.AttackStage = "Initial Access"
	for _, inc := range []Incident{a, b} {
		if _, _, err := s.Save(ctx, inc); err != nil {
			t.Fatal(err)
		}
	}

	stats, err := s.GetStatistics(ctx, time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC), "")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 2 {
		t.Errorf("expected 2 incidents, got %d", stats.Total)
	}
	if stats.HighSeverity != 1 {
		t.Errorf("expected 1 high severity, got %d", stats.HighSeverity)
	}
	want := (0.82 + 0.4) / 2
	if diff := stats.AverageThreatScore - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected avg %.3f, got %.3f", want, stats.AverageThreatScore)
	}
	if stats.ByType["brute_force"] != 1 || stats.ByType["phishing"] != 1 {
		t.Errorf("unexpected type distribution: %v", stats.ByType)
	}

	filtered, err := s.GetStatistics(ctx, time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC), "phishing")
	if err != nil {
		t.Fatal(err)
	}
	if filtered.Total != 1 {
		t.Errorf("type filter not applied: %d", filtered.Total)
	}
}

func TestPlaybookRetrieval(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SeedPlaybooks(ctx); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	// Seeding twice must be a no-op.
	if err := s.SeedPlaybooks(ctx); err != nil {
		t.Fatalf("re-seed failed: %v", err)
	}

	pb, err := s.FindPlaybook(ctx, "brute_force", "Credential Access")
	if err != nil {
		t.Fatal(err)
	}
	if pb == nil || pb.Name != "credential-attack-containment" {
		t.Errorf("expected exact playbook match, got %+v", pb)
	}

	// Stage mismatch falls back to type match.
	pb, err = s.FindPlaybook(ctx, "brute_force", "Impact")
	if err != nil {
		t.Fatal(err)
	}
	if pb == nil || pb.ThreatType != "brute_force" {
		t.Errorf("expected type fallback, got %+v", pb)
	}

	pb, err = s.FindPlaybook(ctx, "unknown_type", "Impact")
	if err != nil {
		t.Fatal(err)
	}
	if pb != nil {
		t.Errorf("expected nil for unknown type, got %+v", pb)
	}
}
