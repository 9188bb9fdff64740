package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"socflow/internal/embedding"
	"socflow/internal/logging"
)

// summaryLimit caps match summaries returned from similarity search.
const summaryLimit = 200

// Incident is a persisted investigation outcome.
type Incident struct {
	ID             string    `json:"incident_id"`
	SessionID      string    `json:"session_id"`
	AlertType      string    `json:"alert_type"`
	Severity       string    `json:"severity"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	SourceIP       string    `json:"source_ip"`
	ThreatScore    float64   `json:"threat_score"`
	AttackStage    string    `json:"attack_stage"`
	ThreatCategory string    `json:"threat_category"`
	Techniques     []string  `json:"techniques"`
	CampaignID     string    `json:"campaign_id"`
	Summary        string    `json:"summary"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Match is one similarity search result.
type Match struct {
	Incident   Incident `json:"incident"`
	Similarity float64  `json:"similarity_score"`
}

// Document is the text embedded and searched for an incident.
func (i *Incident) Document() string {
	parts := []string{i.AlertType}
	if i.Title != "" {
		parts = append(parts, i.Title)
	}
	if i.Description != "" {
		parts = append(parts, i.Description)
	}
	if i.SourceIP != "" {
		parts = append(parts, "source ip "+i.SourceIP)
	}
	if i.AttackStage != "" {
		parts = append(parts, i.AttackStage)
	}
	return strings.Join(parts, " | ")
}

// Save persists the incident. The insert is a single atomic conditional
// statement keyed on the incident id: a duplicate id leaves the store
// unchanged and reports created=false without error, so concurrent saves of
// the same incident cannot race.
func (s *IncidentStore) Save(ctx context.Context, inc Incident) (string, bool, error) {
	if inc.ID == "" {
		return "", false, fmt.Errorf("incident id is required")
	}
	if inc.AlertType == "" {
		return "", false, fmt.Errorf("incident alert type is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	document := inc.Document()

	var embeddingJSON sql.NullString
	if s.embeddingEngine != nil {
		vec, err := s.embeddingEngine.Embed(ctx, document)
		if err != nil {
			// Keep the incident even if embedding fails; it degrades to
			// keyword search.
			logging.StoreWarn("Save: embedding failed for %s: %v", inc.ID, err)
		} else {
			raw, err := json.Marshal(vec)
			if err != nil {
				return "", false, fmt.Errorf("failed to serialize embedding: %w", err)
			}
			embeddingJSON = sql.NullString{String: string(raw), Valid: true}
		}
	}

	techniquesJSON, err := json.Marshal(inc.Techniques)
	if err != nil {
		return "", false, fmt.Errorf("failed to serialize techniques: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO incidents (
			id, session_id, alert_type, severity, title, description,
			source_ip, threat_score, attack_stage, threat_category,
			techniques, campaign_id, summary, document, embedding, occurred_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		inc.ID, inc.SessionID, inc.AlertType, inc.Severity, inc.Title, inc.Description,
		inc.SourceIP, inc.ThreatScore, inc.AttackStage, inc.ThreatCategory,
		string(techniquesJSON), inc.CampaignID, inc.Summary, document, embeddingJSON,
		inc.OccurredAt.UTC(),
	)
	if err != nil {
		return "", false, fmt.Errorf("failed to save incident: %w", err)
	}

	affected, _ := res.RowsAffected()
	created := affected > 0
	if created {
		logging.Store("Saved incident %s (type=%s score=%.2f)", inc.ID, inc.AlertType, inc.ThreatScore)
	} else {
		logging.StoreDebug("Incident %s already exists; save is a no-op", inc.ID)
	}
	return inc.ID, created, nil
}

// FindSimilar runs similarity search over stored incidents. Results are
// ordered by descending similarity (ties in insertion order) and filtered by
// minSimilarity. Falls back to keyword scoring without an embedding engine.
func (s *IncidentStore) FindSimilar(ctx context.Context, query string, k int, minSimilarity float64) ([]Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if k <= 0 {
		k = 10
	}

	if s.embeddingEngine == nil {
		return s.findSimilarKeyword(ctx, query, k, minSimilarity)
	}

	queryVec, err := s.embeddingEngine.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, alert_type, severity, title, description,
		       source_ip, threat_score, attack_stage, threat_category,
		       techniques, campaign_id, summary, embedding, occurred_at
		FROM incidents WHERE embedding IS NOT NULL
		ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		inc, embeddingJSON, err := scanIncident(rows)
		if err != nil {
			continue
		}
		var vec []float32
		if err := json.Unmarshal([]byte(embeddingJSON), &vec); err != nil {
			continue
		}
		similarity, err := embedding.CosineSimilarity(queryVec, vec)
		if err != nil {
			continue
		}
		if similarity < minSimilarity {
			continue
		}
		inc.Summary = truncate(inc.Summary, summaryLimit)
		matches = append(matches, Match{Incident: inc, Similarity: similarity})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if len(matches) > k {
		matches = matches[:k]
	}

	logging.StoreDebug("FindSimilar: %d matches for query len=%d (k=%d min=%.2f)", len(matches), len(query), k, minSimilarity)
	return matches, nil
}

// findSimilarKeyword scores incidents by the share of query tokens found in
// the incident document.
func (s *IncidentStore) findSimilarKeyword(ctx context.Context, query string, k int, minSimilarity float64) ([]Match, error) {
	tokens := strings.Fields(strings.ToLower(query))
	if len(tokens) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, alert_type, severity, title, description,
		       source_ip, threat_score, attack_stage, threat_category,
		       techniques, campaign_id, summary, COALESCE(document, ''), occurred_at
		FROM incidents ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		inc, document, err := scanIncident(rows)
		if err != nil {
			continue
		}
		doc := strings.ToLower(document)
		hits := 0
		for _, tok := range tokens {
			if strings.Contains(doc, tok) {
				hits++
			}
		}
		similarity := float64(hits) / float64(len(tokens))
		if similarity < minSimilarity || hits == 0 {
			continue
		}
		inc.Summary = truncate(inc.Summary, summaryLimit)
		matches = append(matches, Match{Incident: inc, Similarity: similarity})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// GetByID fetches one incident. Returns sql.ErrNoRows when absent.
func (s *IncidentStore) GetByID(ctx context.Context, id string) (*Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, alert_type, severity, title, description,
		       source_ip, threat_score, attack_stage, threat_category,
		       techniques, campaign_id, summary, COALESCE(embedding, ''), occurred_at
		FROM incidents WHERE id = ?`, id)

	inc, _, err := scanIncident(row)
	if err != nil {
		return nil, err
	}
	return &inc, nil
}

// Recent returns incidents whose occurrence falls within the window ending
// at ref. Used to assemble the campaign correlation candidate set.
func (s *IncidentStore) Recent(ctx context.Context, ref time.Time, window time.Duration) ([]Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, alert_type, severity, title, description,
		       source_ip, threat_score, attack_stage, threat_category,
		       techniques, campaign_id, summary, COALESCE(embedding, ''), occurred_at
		FROM incidents
		WHERE occurred_at >= ? AND occurred_at <= ?
		ORDER BY occurred_at`,
		ref.Add(-window).UTC(), ref.Add(window).UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var incidents []Incident
	for rows.Next() {
		inc, _, err := scanIncident(rows)
		if err != nil {
			continue
		}
		incidents = append(incidents, inc)
	}
	return incidents, rows.Err()
}

// Statistics summarizes stored incidents over a time window, optionally
// restricted to one alert type.
type Statistics struct {
	Total              int            `json:"total_incidents"`
	AverageThreatScore float64        `json:"average_threat_score"`
	HighSeverity       int            `json:"high_severity_count"` // threat score >= 0.7
	ByType             map[string]int `json:"by_type"`
	ByStage            map[string]int `json:"by_stage"`
}

// GetStatistics aggregates incidents since the window start. typeFilter
// narrows to one alert type when non-empty.
func (s *IncidentStore) GetStatistics(ctx context.Context, since time.Time, typeFilter string) (*Statistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT alert_type, attack_stage, threat_score FROM incidents WHERE occurred_at >= ?`
	args := []interface{}{since.UTC()}
	if typeFilter != "" {
		query += ` AND alert_type = ?`
		args = append(args, typeFilter)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &Statistics{
		ByType:  make(map[string]int),
		ByStage: make(map[string]int),
	}
	var scoreSum float64
	for rows.Next() {
		var alertType, attackStage string
		var score float64
		if err := rows.Scan(&alertType, &attackStage, &score); err != nil {
			continue
		}
		stats.Total++
		scoreSum += score
		stats.ByType[alertType]++
		if attackStage != "" {
			stats.ByStage[attackStage]++
		}
		if score >= 0.7 {
			stats.HighSeverity++
		}
	}
	if stats.Total > 0 {
		stats.AverageThreatScore = scoreSum / float64(stats.Total)
	}
	return stats, rows.Err()
}

// CampaignSummary is one detected campaign with its member counts and span.
type CampaignSummary struct {
	CampaignID string    `json:"campaign_id"`
	Incidents  int       `json:"incidents"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
	TopType    string    `json:"top_type"`
}

// Campaigns lists detected campaigns, most recent first.
func (s *IncidentStore) Campaigns(ctx context.Context) ([]CampaignSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT campaign_id, COUNT(*), MIN(occurred_at), MAX(occurred_at), MAX(alert_type)
		FROM incidents
		WHERE campaign_id != ''
		GROUP BY campaign_id
		ORDER BY MAX(occurred_at) DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var campaigns []CampaignSummary
	for rows.Next() {
		var c CampaignSummary
		if err := rows.Scan(&c.CampaignID, &c.Incidents, &c.FirstSeen, &c.LastSeen, &c.TopType); err != nil {
			continue
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanIncident scans the 15-column incident projection. The 14th column is
// context-dependent (embedding or document) and returned raw.
func scanIncident(row scanner) (Incident, string, error) {
	var inc Incident
	var techniquesJSON, aux string
	var occurredAt time.Time

	err := row.Scan(
		&inc.ID, &inc.SessionID, &inc.AlertType, &inc.Severity, &inc.Title,
		&inc.Description, &inc.SourceIP, &inc.ThreatScore, &inc.AttackStage,
		&inc.ThreatCategory, &techniquesJSON, &inc.CampaignID, &inc.Summary,
		&aux, &occurredAt,
	)
	if err != nil {
		return inc, "", err
	}
	inc.OccurredAt = occurredAt
	if techniquesJSON != "" {
		json.Unmarshal([]byte(techniquesJSON), &inc.Techniques)
	}
	return inc, aux, nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
