package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"socflow/internal/logging"
)

// Playbook is a remediation playbook keyed by threat type and attack stage.
type Playbook struct {
	ThreatType  string   `json:"threat_type"`
	AttackStage string   `json:"attack_stage"`
	Name        string   `json:"name"`
	Steps       []string `json:"steps"`
}

// defaultPlaybooks seed the store on first boot so the response stage always
// has something to retrieve.
var defaultPlaybooks = []Playbook{
	{
		ThreatType:  "brute_force",
		AttackStage: "Credential Access",
		Name:        "credential-attack-containment",
		Steps: []string{
			"Lock affected accounts and force password reset",
			"Block source IP at the perimeter firewall",
			"Enable MFA for all exposed accounts",
			"Review authentication logs for successful logins from the source",
		},
	},
	{
		ThreatType:  "phishing",
		AttackStage: "Initial Access",
		Name:        "phishing-response",
		Steps: []string{
			"Quarantine the reported message across all mailboxes",
			"Block sender domain and embedded URLs",
			"Reset credentials of users who interacted with the message",
			"Notify affected users and security awareness team",
		},
	},
	{
		ThreatType:  "malware",
		AttackStage: "Execution",
		Name:        "malware-containment",
		Steps: []string{
			"Isolate affected endpoints from the network",
			"Capture memory and disk images for forensics",
			"Block C2 destinations at egress",
			"Run full endpoint scans across the affected segment",
		},
	},
	{
		ThreatType:  "unauthorized_access",
		AttackStage: "Lateral Movement",
		Name:        "access-revocation",
		Steps: []string{
			"Terminate active sessions for the implicated identity",
			"Revoke tokens and rotate service credentials",
			"Audit privilege changes in the affected window",
			"Restrict lateral movement paths from the compromised host",
		},
	},
}

// SeedPlaybooks inserts the default playbooks, skipping ones already present.
func (s *IncidentStore) SeedPlaybooks(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, pb := range defaultPlaybooks {
		steps, err := json.Marshal(pb.Steps)
		if err != nil {
			return fmt.Errorf("failed to serialize playbook steps: %w", err)
		}

		var embeddingJSON sql.NullString
		if s.embeddingEngine != nil {
			doc := pb.ThreatType + " " + pb.AttackStage + " " + pb.Name
			if vec, err := s.embeddingEngine.Embed(ctx, doc); err == nil {
				if raw, err := json.Marshal(vec); err == nil {
					embeddingJSON = sql.NullString{String: string(raw), Valid: true}
				}
			}
		}

		_, err = s.db.ExecContext(ctx, `
			INSERT INTO playbooks (threat_type, attack_stage, name, steps, embedding)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(threat_type, attack_stage, name) DO NOTHING`,
			pb.ThreatType, pb.AttackStage, pb.Name, string(steps), embeddingJSON,
		)
		if err != nil {
			return fmt.Errorf("failed to seed playbook %s: %w", pb.Name, err)
		}
	}
	logging.Store("Seeded %d default playbooks", len(defaultPlaybooks))
	return nil
}

// FindPlaybook retrieves the best playbook for a threat type and attack
// stage. Exact type+stage match wins, then type match, then nil.
func (s *IncidentStore) FindPlaybook(ctx context.Context, threatType, attackStage string) (*Playbook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	threatType = strings.ToLower(strings.TrimSpace(threatType))

	row := s.db.QueryRowContext(ctx, `
		SELECT threat_type, attack_stage, name, steps FROM playbooks
		WHERE threat_type = ? AND attack_stage = ?
		ORDER BY id LIMIT 1`, threatType, attackStage)
	pb, err := scanPlaybook(row)
	if err == nil {
		return pb, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	row = s.db.QueryRowContext(ctx, `
		SELECT threat_type, attack_stage, name, steps FROM playbooks
		WHERE threat_type = ?
		ORDER BY id LIMIT 1`, threatType)
	pb, err = scanPlaybook(row)
	if err == nil {
		return pb, nil
	}
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return nil, err
}

func scanPlaybook(row *sql.Row) (*Playbook, error) {
	var pb Playbook
	var steps string
	if err := row.Scan(&pb.ThreatType, &pb.AttackStage, &pb.Name, &steps); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(steps), &pb.Steps); err != nil {
		return nil, fmt.Errorf("failed to parse playbook steps: %w", err)
	}
	return &pb, nil
}
