// Package mitre classifies alerts against a static ATT&CK technique corpus
// using embedding similarity, with keyword and alert-type fallbacks when no
// embedding engine is configured or nothing clears the threshold.
package mitre

// Technique is one corpus entry. The Document text is what gets embedded.
type Technique struct {
	ID          string
	Name        string
	Tactic      string
	Description string
}

// Document returns the searchable text for a technique.
func (t Technique) Document() string {
	return t.Name + ". " + t.Description
}

// Corpus is the built-in technique set. Small by design: it covers the alert
// types the pipeline normalizes to, not the whole ATT&CK matrix.
var Corpus = []Technique{
	{
		ID:          "T1566.001",
		Name:        "Spearphishing Attachment",
		Tactic:      "initial-access",
		Description: "Adversaries send spearphishing emails with a malicious attachment to gain access to victim systems. Common payloads include weaponized office documents and archives.",
	},
	{
		ID:          "T1566.002",
		Name:        "Spearphishing Link",
		Tactic:      "initial-access",
		Description: "Adversaries send spearphishing emails with a malicious link, often to a spoofed login portal harvesting credentials.",
	},
	{
		ID:          "T1110.001",
		Name:        "Password Guessing",
		Tactic:      "credential-access",
		Description: "Adversaries repeatedly guess passwords against accounts, producing bursts of failed authentication attempts from a single source.",
	},
	{
		ID:          "T1110.003",
		Name:        "Password Spraying",
		Tactic:      "credential-access",
		Description: "Adversaries use one or a small list of common passwords against many accounts to avoid lockouts.",
	},
	{
		ID:          "T1078",
		Name:        "Valid Accounts",
		Tactic:      "defense-evasion",
		Description: "Adversaries obtain and abuse credentials of existing accounts for initial access, persistence, or privilege escalation.",
	},
	{
		ID:          "T1059.001",
		Name:        "PowerShell",
		Tactic:      "execution",
		Description: "Adversaries abuse PowerShell commands and scripts for execution, often encoded or downloaded from remote hosts.",
	},
	{
		ID:          "T1071.001",
		Name:        "Web Protocols",
		Tactic:      "command-and-control",
		Description: "Adversaries communicate with compromised systems over HTTP or HTTPS to blend command and control traffic with normal web traffic.",
	},
	{
		ID:          "T1486",
		Name:        "Data Encrypted for Impact",
		Tactic:      "impact",
		Description: "Adversaries encrypt data on target systems to interrupt availability, typically during ransomware deployment.",
	},
	{
		ID:          "T1021.001",
		Name:        "Remote Desktop Protocol",
		Tactic:      "lateral-movement",
		Description: "Adversaries use RDP sessions with valid accounts to move laterally between systems in the environment.",
	},
	{
		ID:          "T1048",
		Name:        "Exfiltration Over Alternative Protocol",
		Tactic:      "exfiltration",
		Description: "Adversaries steal data over a protocol other than the existing command and control channel, such as DNS or FTP.",
	},
	{
		ID:          "T1098",
		Name:        "Account Manipulation",
		Tactic:      "persistence",
		Description: "Adversaries modify account permissions, credentials, or groups to maintain or elevate access to victim systems.",
	},
	{
		ID:          "T1046",
		Name:        "Network Service Discovery",
		Tactic:      "discovery",
		Description: "Adversaries scan for listening ports and services on remote hosts to map the network before moving laterally.",
	},
}

// TacticCategory maps an ATT&CK tactic to the coarse threat category the
// analysis stage records.
var TacticCategory = map[string]string{
	"initial-access":      "Initial Compromise",
	"execution":           "Malicious Execution",
	"persistence":         "Persistence Establishment",
	"defense-evasion":     "Defense Evasion",
	"credential-access":   "Credential Attack",
	"discovery":           "Reconnaissance",
	"lateral-movement":    "Lateral Movement",
	"command-and-control": "Command and Control",
	"exfiltration":        "Data Theft",
	"impact":              "Destructive Attack",
}

// TacticStage maps an ATT&CK tactic to the attack stage label.
var TacticStage = map[string]string{
	"initial-access":      "Initial Access",
	"execution":           "Execution",
	"persistence":         "Persistence",
	"defense-evasion":     "Defense Evasion",
	"credential-access":   "Credential Access",
	"discovery":           "Discovery",
	"lateral-movement":    "Lateral Movement",
	"command-and-control": "Command and Control",
	"exfiltration":        "Exfiltration",
	"impact":              "Impact",
}
