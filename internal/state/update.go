package state

import "time"

// Update is the sparse result of one stage. Zero-valued fields mean "no
// update"; the runner merges the rest into the state under the strategy
// table below. Applying the same Update twice yields the same state.
type Update struct {
	SimilarIncidents []SimilarIncident
	MemoryReasoning  string

	SIEMEvents   []map[string]interface{}
	ThreatIntel  map[string]interface{}
	UserActivity map[string]interface{}
	EndpointData map[string]interface{}

	MitreMappings     []MitreMapping
	ThreatScore       float64
	AttackStage       string
	ThreatCategory    string
	AnalysisReasoning string

	InvestigationPlan      []string
	InvestigationFindings  map[string]interface{}
	InvestigationReasoning string

	Recommendations     []string
	RemediationPlaybook map[string]interface{}
	ResponseReasoning   string

	Report            string
	NotificationsSent []string

	CampaignInfo *CampaignInfo

	CurrentStage   string
	WorkflowStatus WorkflowStatus
	Error          string
	CompletedAt    time.Time
}

// Strategy is how an Update field merges into the state.
type Strategy int

const (
	// Overwrite replaces the scalar when the incoming value is non-zero.
	Overwrite Strategy = iota
	// Replace swaps the whole collection when the incoming one is non-empty.
	// Stages emit cumulative lists, so append would duplicate.
	Replace
	// ShallowMerge merges top-level map keys, incoming values winning.
	ShallowMerge
)

// MergeStrategies is the single authority for how each Update field merges.
// Apply implements exactly this table; the table is exhaustiveness-checked
// against the Update struct in tests.
var MergeStrategies = map[string]Strategy{
	"SimilarIncidents":       Replace,
	"MemoryReasoning":        Overwrite,
	"SIEMEvents":             Replace,
	"ThreatIntel":            ShallowMerge,
	"UserActivity":           ShallowMerge,
	"EndpointData":           ShallowMerge,
	"MitreMappings":          Replace,
	"ThreatScore":            Overwrite,
	"AttackStage":            Overwrite,
	"ThreatCategory":         Overwrite,
	"AnalysisReasoning":      Overwrite,
	"InvestigationPlan":      Replace,
	"InvestigationFindings":  ShallowMerge,
	"InvestigationReasoning": Overwrite,
	"Recommendations":        Replace,
	"RemediationPlaybook":    ShallowMerge,
	"ResponseReasoning":      Overwrite,
	"Report":                 Overwrite,
	"NotificationsSent":      Replace,
	"CampaignInfo":           Overwrite,
	"CurrentStage":           Overwrite,
	"WorkflowStatus":         Overwrite,
	"Error":                  Overwrite,
	"CompletedAt":            Overwrite,
}

// Apply merges the update into the state. Only the runner calls this.
func (s *InvestigationState) Apply(u Update) {
	if len(u.SimilarIncidents) > 0 {
		s.SimilarIncidents = u.SimilarIncidents
	}
	if u.MemoryReasoning != "" {
		s.MemoryReasoning = u.MemoryReasoning
	}

	if len(u.SIEMEvents) > 0 {
		s.Enrichment.SIEMEvents = u.SIEMEvents
	}
	s.Enrichment.ThreatIntel = mergeShallow(s.Enrichment.ThreatIntel, u.ThreatIntel)
	s.Enrichment.UserActivity = mergeShallow(s.Enrichment.UserActivity, u.UserActivity)
	s.Enrichment.EndpointData = mergeShallow(s.Enrichment.EndpointData, u.EndpointData)

	if len(u.MitreMappings) > 0 {
		s.MitreMappings = u.MitreMappings
	}
	if u.ThreatScore != 0 {
		s.ThreatScore = u.ThreatScore
	}
	if u.AttackStage != "" {
		s.AttackStage = u.AttackStage
	}
	if u.ThreatCategory != "" {
		s.ThreatCategory = u.ThreatCategory
	}
	if u.AnalysisReasoning != "" {
		s.AnalysisReasoning = u.AnalysisReasoning
	}

	if len(u.InvestigationPlan) > 0 {
		s.InvestigationPlan = u.InvestigationPlan
	}
	s.InvestigationFindings = mergeShallow(s.InvestigationFindings, u.InvestigationFindings)
	if u.InvestigationReasoning != "" {
		s.InvestigationReasoning = u.InvestigationReasoning
	}

	if len(u.Recommendations) > 0 {
		s.Recommendations = u.Recommendations
	}
	s.RemediationPlaybook = mergeShallow(s.RemediationPlaybook, u.RemediationPlaybook)
	if u.ResponseReasoning != "" {
		s.ResponseReasoning = u.ResponseReasoning
	}

	if u.Report != "" {
		s.Report = u.Report
	}
	if len(u.NotificationsSent) > 0 {
		s.NotificationsSent = u.NotificationsSent
	}

	if u.CampaignInfo != nil {
		s.CampaignInfo = u.CampaignInfo
	}

	if u.CurrentStage != "" {
		s.CurrentStage = u.CurrentStage
	}
	if u.WorkflowStatus != "" {
		s.WorkflowStatus = u.WorkflowStatus
	}
	if u.Error != "" {
		s.Error = u.Error
	}
	if !u.CompletedAt.IsZero() {
		s.CompletedAt = u.CompletedAt
	}
}

// mergeShallow merges incoming into base one level deep, incoming keys
// winning. A nil incoming map leaves base untouched.
func mergeShallow(base, incoming map[string]interface{}) map[string]interface{} {
	if len(incoming) == 0 {
		return base
	}
	if base == nil {
		base = make(map[string]interface{}, len(incoming))
	}
	for k, v := range incoming {
		base[k] = v
	}
	return base
}
