// Package state defines the mutable investigation state shared by pipeline
// stages, the sparse per-stage update that mutates it, and the diff used for
// state_delta events. Stages never write the state directly: they return an
// Update and the runner applies it under the merge strategy table.
package state

import (
	"time"

	"socflow/internal/alert"
)

// WorkflowStatus is the coarse status of a run.
type WorkflowStatus string

const (
	StatusInProgress WorkflowStatus = "in_progress"
	StatusCompleted  WorkflowStatus = "completed"
	StatusFailed     WorkflowStatus = "failed"
)

// Stage names in execution order.
const (
	StageSupervisor    = "supervisor"
	StageEnrichment    = "enrichment"
	StageAnalysis      = "analysis"
	StageInvestigation = "investigation"
	StageResponse      = "response"
	StageCommunication = "communication"
	StagePersist       = "persist"
)

// MitreMapping is a single technique classification for the alert.
type MitreMapping struct {
	TechniqueID string  `json:"technique_id"`
	Name        string  `json:"name"`
	Tactic      string  `json:"tactic"`
	Confidence  float64 `json:"confidence"`
}

// SimilarIncident is a past incident surfaced by the memory correlator.
type SimilarIncident struct {
	IncidentID     string  `json:"incident_id"`
	Similarity     float64 `json:"similarity_score"`
	AlertType      string  `json:"alert_type"`
	ThreatScore    float64 `json:"threat_score"`
	AttackStage    string  `json:"attack_stage"`
	ThreatCategory string  `json:"threat_category"`
	Timestamp      string  `json:"timestamp"`
	SourceIP       string  `json:"source_ip"`
	Summary        string  `json:"summary"`
}

// CampaignInfo describes a detected multi-incident campaign. Immutable once
// attached to the state.
type CampaignInfo struct {
	CampaignID       string   `json:"campaign_id"`
	Confidence       float64  `json:"confidence"`
	IncidentCount    int      `json:"incident_count"`
	RelatedIncidents []string `json:"related_incidents"`
	TimeSpanHours    float64  `json:"time_span_hours"`
	ThreatAssessment string   `json:"threat_assessment"`
}

// Enrichment groups the per-source enrichment payloads collected in the
// enrichment stage. Each map merges shallowly; the event list replaces.
type Enrichment struct {
	SIEMEvents   []map[string]interface{} `json:"siem_events"`
	ThreatIntel  map[string]interface{}   `json:"threat_intel"`
	UserActivity map[string]interface{}   `json:"user_activity"`
	EndpointData map[string]interface{}   `json:"endpoint_data"`
}

// InvestigationState is the full mutable state of one investigation run.
// One instance per run; stages run strictly sequentially over it.
type InvestigationState struct {
	Alert       alert.Alert `json:"alert"`
	SessionID   string      `json:"session_id"`
	CreatedAt   time.Time   `json:"created_at"`
	CompletedAt time.Time   `json:"completed_at"`

	// Memory (supervisor stage)
	SimilarIncidents []SimilarIncident `json:"similar_incidents"`
	MemoryReasoning  string            `json:"memory_reasoning"`

	// Enrichment stage
	Enrichment Enrichment `json:"enrichment"`

	// Analysis stage
	MitreMappings     []MitreMapping `json:"mitre_mappings"`
	ThreatScore       float64        `json:"threat_score"`
	AttackStage       string         `json:"attack_stage"`
	ThreatCategory    string         `json:"threat_category"`
	AnalysisReasoning string         `json:"analysis_reasoning"`

	// Investigation stage (conditional)
	InvestigationPlan      []string               `json:"investigation_plan"`
	InvestigationFindings  map[string]interface{} `json:"investigation_findings"`
	InvestigationReasoning string                 `json:"investigation_reasoning"`

	// Response stage
	Recommendations     []string               `json:"recommendations"`
	RemediationPlaybook map[string]interface{} `json:"remediation_playbook"`
	ResponseReasoning   string                 `json:"response_reasoning"`

	// Communication stage
	Report            string   `json:"report"`
	NotificationsSent []string `json:"notifications_sent"`

	// Persist stage
	CampaignInfo *CampaignInfo `json:"campaign_info"`

	// Run bookkeeping
	CurrentStage   string         `json:"current_stage"`
	WorkflowStatus WorkflowStatus `json:"workflow_status"`
	Error          string         `json:"error"`
}

// New creates the initial state for an alert. now is injected so runs with
// mocked collaborators are byte-for-byte reproducible.
func New(a alert.Alert, sessionID string, now time.Time) *InvestigationState {
	return &InvestigationState{
		Alert:          a,
		SessionID:      sessionID,
		CreatedAt:      now,
		WorkflowStatus: StatusInProgress,
	}
}

// Terminal reports whether the run has reached a terminal status.
func (s *InvestigationState) Terminal() bool {
	return s.WorkflowStatus == StatusCompleted || s.WorkflowStatus == StatusFailed
}

// Severity maps the threat score to a coarse severity tier.
func (s *InvestigationState) Severity() string {
	switch {
	case s.ThreatScore >= 0.85:
		return "CRITICAL"
	case s.ThreatScore >= 0.65:
		return "HIGH"
	case s.ThreatScore >= 0.45:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// Clone returns a deep copy of the state. Used to snapshot "before" for
// diffing without aliasing live collections.
func (s *InvestigationState) Clone() *InvestigationState {
	c := *s

	c.SimilarIncidents = append([]SimilarIncident(nil), s.SimilarIncidents...)
	c.MitreMappings = append([]MitreMapping(nil), s.MitreMappings...)
	c.InvestigationPlan = append([]string(nil), s.InvestigationPlan...)
	c.Recommendations = append([]string(nil), s.Recommendations...)
	c.NotificationsSent = append([]string(nil), s.NotificationsSent...)

	c.InvestigationFindings = cloneMap(s.InvestigationFindings)
	c.RemediationPlaybook = cloneMap(s.RemediationPlaybook)

	c.Enrichment.ThreatIntel = cloneMap(s.Enrichment.ThreatIntel)
	c.Enrichment.UserActivity = cloneMap(s.Enrichment.UserActivity)
	c.Enrichment.EndpointData = cloneMap(s.Enrichment.EndpointData)
	if s.Enrichment.SIEMEvents != nil {
		c.Enrichment.SIEMEvents = make([]map[string]interface{}, len(s.Enrichment.SIEMEvents))
		for i, ev := range s.Enrichment.SIEMEvents {
			c.Enrichment.SIEMEvents[i] = cloneMap(ev)
		}
	}

	if s.CampaignInfo != nil {
		ci := *s.CampaignInfo
		ci.RelatedIncidents = append([]string(nil), s.CampaignInfo.RelatedIncidents...)
		c.CampaignInfo = &ci
	}

	return &c
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
