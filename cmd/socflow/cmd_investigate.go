package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"socflow/cmd/socflow/ui"
	"socflow/internal/alert"
	"socflow/internal/events"
	"socflow/internal/state"
)

var (
	investigateJSON bool
	investigateLive bool
)

var (
	stageStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	skipStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Italic(true)
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	severityStyle = map[string]lipgloss.Style{
		"CRITICAL": lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		"HIGH":     lipgloss.NewStyle().Foreground(lipgloss.Color("208")).Bold(true),
		"MEDIUM":   lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
		"LOW":      lipgloss.NewStyle().Foreground(lipgloss.Color("34")),
	}
)

var investigateCmd = &cobra.Command{
	Use:   "investigate <alert-file>",
	Short: "Investigate a single alert file (JSON or YAML)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := alert.LoadFile(args[0])
		if err != nil {
			return err
		}

		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		runner := buildRunner(s)
		stream := runner.Run(cmdContext(), *a)

		switch {
		case investigateJSON:
			return renderJSON(stream)
		case investigateLive:
			return ui.RunLive(stream)
		default:
			return renderPlain(stream)
		}
	},
}

func init() {
	investigateCmd.Flags().BoolVar(&investigateJSON, "json", false, "emit raw events as JSON lines")
	investigateCmd.Flags().BoolVar(&investigateLive, "live", false, "interactive live view")
}

// renderJSON writes one JSON object per event to stdout.
func renderJSON(stream *events.Stream) error {
	enc := json.NewEncoder(os.Stdout)
	var failed string
	for e := range stream.Events() {
		if err := enc.Encode(e); err != nil {
			return err
		}
		if e.Kind == events.KindError {
			failed = e.Message
		}
	}
	if failed != "" {
		return fmt.Errorf("%s", failed)
	}
	return nil
}

// renderPlain prints stage progress lines and the final report.
func renderPlain(stream *events.Stream) error {
	var final *state.InvestigationState
	var failed string

	for e := range stream.Events() {
		switch e.Kind {
		case events.KindRunStart:
			fmt.Printf("Investigating alert %v\n\n", e.Data["alert_id"])
		case events.KindStageStart:
			fmt.Printf("  %s %s\n", stageStyle.Render("▸"), e.Stage)
		case events.KindStageComplete:
			if ms, ok := e.Data["duration_ms"].(int64); ok && ms > 0 {
				fmt.Printf("    done (%dms)\n", ms)
			}
		case events.KindStageSkipped:
			fmt.Printf("  %s\n", skipStyle.Render(fmt.Sprintf(
				"▹ %s skipped (score %.2f below threshold %.2f)",
				e.Stage, e.Data["threat_score"], e.Data["threshold"])))
		case events.KindRunComplete:
			final = e.State
		case events.KindError:
			failed = e.Message
			final = e.State
		}
	}

	if failed != "" {
		fmt.Printf("\n%s %s\n", errorStyle.Render("✗"), failed)
		return fmt.Errorf("investigation failed")
	}
	if final == nil {
		return fmt.Errorf("stream ended without a terminal event")
	}

	severity := final.Severity()
	style, ok := severityStyle[severity]
	if !ok {
		style = lipgloss.NewStyle()
	}
	fmt.Printf("\nThreat score %.2f  %s\n", final.ThreatScore, style.Render(severity))
	if final.CampaignInfo != nil {
		fmt.Printf("Campaign: %s (%s, %d incidents)\n",
			final.CampaignInfo.CampaignID,
			final.CampaignInfo.ThreatAssessment,
			final.CampaignInfo.IncidentCount)
	}

	if final.Report != "" {
		fmt.Println()
		fmt.Println(renderMarkdown(final.Report))
	}
	return nil
}

// renderMarkdown renders markdown for the terminal, falling back to the raw
// text when the renderer cannot initialize.
func renderMarkdown(md string) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return strings.TrimRight(out, "\n")
}
