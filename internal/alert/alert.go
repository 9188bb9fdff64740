// Package alert defines the normalized security alert that enters the
// investigation pipeline, plus loading and validation of raw alert files.
package alert

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"socflow/internal/logging"
)

// Alert is the normalized input to an investigation. It is immutable once
// validated; the pipeline copies it into the run state and never writes back.
type Alert struct {
	ID            string                 `json:"id" yaml:"id"`
	Timestamp     string                 `json:"timestamp" yaml:"timestamp"`
	Type          string                 `json:"type" yaml:"type"`
	Severity      string                 `json:"severity" yaml:"severity"`
	Title         string                 `json:"title" yaml:"title"`
	Description   string                 `json:"description" yaml:"description"`
	SourceIP      string                 `json:"source_ip" yaml:"source_ip"`
	DestinationIP string                 `json:"destination_ip" yaml:"destination_ip"`
	User          string                 `json:"user" yaml:"user"`
	Hostname      string                 `json:"hostname" yaml:"hostname"`
	Indicators    map[string]interface{} `json:"indicators" yaml:"indicators"`
}

// Validate checks the minimal contract an alert must satisfy before any
// pipeline stage runs. Type is the only hard requirement; a timestamp, when
// present, must be RFC3339.
func (a *Alert) Validate() error {
	if strings.TrimSpace(a.Type) == "" {
		return fmt.Errorf("alert type is required")
	}
	if a.Timestamp != "" {
		if _, err := time.Parse(time.RFC3339, a.Timestamp); err != nil {
			return fmt.Errorf("alert timestamp %q is not RFC3339: %w", a.Timestamp, err)
		}
	}
	return nil
}

// Time returns the parsed alert timestamp, or the zero time if absent/invalid.
func (a *Alert) Time() time.Time {
	if a.Timestamp == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, a.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

// LoadFile reads an alert from a JSON or YAML file, keyed on extension.
func LoadFile(path string) (*Alert, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read alert file: %w", err)
	}

	var a Alert
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &a); err != nil {
			return nil, fmt.Errorf("failed to parse alert YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, fmt.Errorf("failed to parse alert JSON: %w", err)
		}
	}

	if err := a.Validate(); err != nil {
		return nil, err
	}

	logging.Intake("Loaded alert %s (type=%s severity=%s) from %s", a.ID, a.Type, a.Severity, path)
	return &a, nil
}

// Describe builds the short free-text description used for embedding queries
// and log lines: type plus title or truncated description.
func (a *Alert) Describe() string {
	var b strings.Builder
	b.WriteString(a.Type)
	if a.Title != "" {
		b.WriteString(": ")
		b.WriteString(a.Title)
	} else if a.Description != "" {
		desc := a.Description
		if len(desc) > 120 {
			desc = desc[:120]
		}
		b.WriteString(": ")
		b.WriteString(desc)
	}
	return b.String()
}
