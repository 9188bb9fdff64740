package state

import "reflect"

// Diff returns the named state fields whose values changed between two
// snapshots. It powers state_delta events: the delta a stage produced is the
// diff of the state before and after its Update was applied.
func Diff(before, after *InvestigationState) map[string]interface{} {
	delta := make(map[string]interface{})

	if !reflect.DeepEqual(before.SimilarIncidents, after.SimilarIncidents) {
		delta["similar_incidents"] = after.SimilarIncidents
	}
	if before.MemoryReasoning != after.MemoryReasoning {
		delta["memory_reasoning"] = after.MemoryReasoning
	}

	if !reflect.DeepEqual(before.Enrichment, after.Enrichment) {
		delta["enrichment"] = after.Enrichment
	}

	if !reflect.DeepEqual(before.MitreMappings, after.MitreMappings) {
		delta["mitre_mappings"] = after.MitreMappings
	}
	if before.ThreatScore != after.ThreatScore {
		delta["threat_score"] = after.ThreatScore
	}
	if before.AttackStage != after.AttackStage {
		delta["attack_stage"] = after.AttackStage
	}
	if before.ThreatCategory != after.ThreatCategory {
		delta["threat_category"] = after.ThreatCategory
	}
	if before.AnalysisReasoning != after.AnalysisReasoning {
		delta["analysis_reasoning"] = after.AnalysisReasoning
	}

	if !reflect.DeepEqual(before.InvestigationPlan, after.InvestigationPlan) {
		delta["investigation_plan"] = after.InvestigationPlan
	}
	if !reflect.DeepEqual(before.InvestigationFindings, after.InvestigationFindings) {
		delta["investigation_findings"] = after.InvestigationFindings
	}
	if before.InvestigationReasoning != after.InvestigationReasoning {
		delta["investigation_reasoning"] = after.InvestigationReasoning
	}

	if !reflect.DeepEqual(before.Recommendations, after.Recommendations) {
		delta["recommendations"] = after.Recommendations
	}
	if !reflect.DeepEqual(before.RemediationPlaybook, after.RemediationPlaybook) {
		delta["remediation_playbook"] = after.RemediationPlaybook
	}
	if before.ResponseReasoning != after.ResponseReasoning {
		delta["response_reasoning"] = after.ResponseReasoning
	}

	if before.Report != after.Report {
		delta["report"] = after.Report
	}
	if !reflect.DeepEqual(before.NotificationsSent, after.NotificationsSent) {
		delta["notifications_sent"] = after.NotificationsSent
	}

	if !reflect.DeepEqual(before.CampaignInfo, after.CampaignInfo) {
		delta["campaign_info"] = after.CampaignInfo
	}

	if before.CurrentStage != after.CurrentStage {
		delta["current_stage"] = after.CurrentStage
	}
	if before.WorkflowStatus != after.WorkflowStatus {
		delta["workflow_status"] = string(after.WorkflowStatus)
	}
	if before.Error != after.Error {
		delta["error"] = after.Error
	}

	return delta
}
