// Package ui implements the interactive live view for an investigation run:
// a stage checklist with a spinner, streamed report tokens, and the final
// verdict.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"socflow/internal/events"
	"socflow/internal/state"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("34"))
	skipStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Italic(true)
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
)

var stageOrder = []string{
	state.StageSupervisor,
	state.StageEnrichment,
	state.StageAnalysis,
	state.StageInvestigation,
	state.StageResponse,
	state.StageCommunication,
	state.StagePersist,
}

type stageState int

const (
	stagePending stageState = iota
	stageRunning
	stageDone
	stageSkipped
)

type eventMsg events.Event

type streamClosedMsg struct{}

type model struct {
	stream   *events.Stream
	spinner  spinner.Model
	viewport viewport.Model

	stages  map[string]stageState
	current string
	tokens  string
	status  events.Status

	final  *state.InvestigationState
	errMsg string
	done   bool
}

// RunLive drives the live TUI over a run's event stream. It returns after the
// terminal event, leaving the rendered report on screen.
func RunLive(stream *events.Stream) error {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	vp := viewport.New(100, 12)

	m := model{
		stream:   stream,
		spinner:  sp,
		viewport: vp,
		stages:   make(map[string]stageState, len(stageOrder)),
	}
	for _, s := range stageOrder {
		m.stages[s] = stagePending
	}

	finalModel, err := tea.NewProgram(m).Run()
	if err != nil {
		return err
	}
	if fm, ok := finalModel.(model); ok {
		if fm.errMsg != "" {
			return fmt.Errorf("investigation failed: %s", fm.errMsg)
		}
		if fm.final != nil && fm.final.Report != "" {
			fmt.Println(renderMarkdown(fm.final.Report))
		}
	}
	return nil
}

func waitForEvent(stream *events.Stream) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-stream.Events()
		if !ok {
			return streamClosedMsg{}
		}
		return eventMsg(e)
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForEvent(m.stream))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			return m, tea.Quit
		}
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case streamClosedMsg:
		m.done = true
		return m, tea.Quit
	case eventMsg:
		m.apply(events.Event(msg))
		return m, waitForEvent(m.stream)
	}
	return m, nil
}

func (m *model) apply(e events.Event) {
	m.status = e.Status
	switch e.Kind {
	case events.KindStageStart:
		m.current = e.Stage
		m.stages[e.Stage] = stageRunning
	case events.KindStageComplete:
		m.stages[e.Stage] = stageDone
	case events.KindStageSkipped:
		m.stages[e.Stage] = stageSkipped
	case events.KindGenerationToken:
		m.tokens += e.Token
		m.viewport.SetContent(m.tokens)
		m.viewport.GotoBottom()
	case events.KindRunComplete:
		m.final = e.State
	case events.KindError:
		m.errMsg = e.Message
		m.final = e.State
	}
}

func (m model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("socflow investigation"))
	fmt.Fprintf(&b, "  score %.2f %s\n\n", m.status.ThreatScore, m.status.Severity)

	for _, name := range stageOrder {
		switch m.stages[name] {
		case stageDone:
			fmt.Fprintf(&b, "  %s %s\n", doneStyle.Render("✓"), name)
		case stageRunning:
			fmt.Fprintf(&b, "  %s %s\n", m.spinner.View(), name)
		case stageSkipped:
			fmt.Fprintf(&b, "  %s\n", skipStyle.Render("- "+name+" (skipped)"))
		default:
			fmt.Fprintf(&b, "  %s\n", pendingStyle.Render("· "+name))
		}
	}

	if len(m.tokens) > 0 {
		b.WriteString("\n")
		b.WriteString(m.viewport.View())
		b.WriteString("\n")
	}

	if m.errMsg != "" {
		fmt.Fprintf(&b, "\n%s %s\n", failStyle.Render("✗"), m.errMsg)
	}

	return b.String()
}

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
