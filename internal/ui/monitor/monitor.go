// Package monitor renders live workflow state in the terminal: one pane with
// a spinner, a progress bar, and the current status message, driven entirely
// by controller phase events.
package monitor

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/reflow/wordwrap"

	"github.com/sgalabs/agentflow/internal/pubsub"
	"github.com/sgalabs/agentflow/internal/workflow"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	phaseStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#54A0FF"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#73F59F"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF8787"))
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	paddingStyle = lipgloss.NewStyle().Padding(0, 1)
)

// phaseLabels are the user-facing names for each phase.
var phaseLabels = map[workflow.Phase]string{
	workflow.PhaseIdle:       "Idle",
	workflow.PhaseValidating: "Validating input",
	workflow.PhaseUploading:  "Uploading file",
	workflow.PhaseProcessing: "Processing",
	workflow.PhasePolling:    "Working",
	workflow.PhaseCompleted:  "Done",
	workflow.PhaseFailed:     "Failed",
	workflow.PhaseInvalid:    "Needs different input",
	workflow.PhaseTimedOut:   "Timed out",
}

// eventMsg carries one controller event into the bubbletea loop.
type eventMsg workflow.PhaseEvent

// closedMsg signals the event channel closed.
type closedMsg struct{}

// Model is the monitor pane. It quits on the first terminal phase.
type Model struct {
	unit    workflow.UnitKey
	events  <-chan pubsub.Event[workflow.PhaseEvent]
	spinner spinner.Model
	bar     progress.Model

	phase   workflow.Phase
	percent int
	message string
	errMsg  string
	url     string
	width   int
}

// New creates a monitor for the given unit, fed by the given subscription.
func New(unit workflow.UnitKey, events <-chan pubsub.Event[workflow.PhaseEvent], initial workflow.State) Model {
	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	bar := progress.New(progress.WithDefaultGradient())
	m := Model{
		unit:    unit,
		events:  events,
		spinner: sp,
		bar:     bar,
		phase:   initial.Phase,
		percent: initial.Progress.Percent,
		message: initial.Progress.Message,
		errMsg:  initial.ErrMsg,
		width:   72,
	}
	if initial.Result != nil {
		m.url = initial.Result.URL
	}
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listen())
}

// listen waits for the next controller event.
func (m Model) listen() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return closedMsg{}
		}
		return eventMsg(ev.Payload)
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = min(msg.Width-8, 60)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}
		return m, nil

	case eventMsg:
		m.phase = msg.Phase
		if msg.Progress.Percent > m.percent {
			m.percent = msg.Progress.Percent
		}
		if msg.Progress.Message != "" {
			m.message = msg.Progress.Message
		}
		m.errMsg = msg.ErrMsg
		if msg.Result != nil {
			m.url = msg.Result.URL
		}
		if m.phase.Terminal() {
			return m, tea.Quit
		}
		return m, m.listen()

	case closedMsg:
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(fmt.Sprintf("agentflow · %s", m.unit)))
	b.WriteString("\n\n")

	label := phaseLabels[m.phase]
	if label == "" {
		label = string(m.phase)
	}
	switch {
	case m.phase == workflow.PhaseCompleted:
		b.WriteString(okStyle.Render("✓ " + label))
	case m.phase.Failure():
		b.WriteString(errStyle.Render("✗ " + label))
	case m.phase.Remote():
		b.WriteString(m.spinner.View() + phaseStyle.Render(label))
	default:
		b.WriteString(subtleStyle.Render(label))
	}
	b.WriteString("\n")

	if m.phase == workflow.PhasePolling || m.phase == workflow.PhaseProcessing {
		b.WriteString(m.bar.ViewAs(float64(m.percent) / 100))
		b.WriteString(fmt.Sprintf(" %d%%\n", m.percent))
	}

	if m.message != "" && !m.phase.Failure() {
		b.WriteString(subtleStyle.Render(truncate(m.message, m.width-4)))
		b.WriteString("\n")
	}
	if m.errMsg != "" {
		b.WriteString(wordwrap.String(errStyle.Render(m.errMsg), m.width-4))
		b.WriteString("\n")
	}
	if m.url != "" {
		b.WriteString(okStyle.Render(truncate(m.url, m.width-4)))
		b.WriteString("\n")
	}
	if m.phase.Terminal() || m.phase == workflow.PhaseIdle {
		b.WriteString(subtleStyle.Render("\npress q to close"))
	}

	return paddingStyle.Render(b.String())
}

// truncate cuts s to the given display width, appending an ellipsis.
func truncate(s string, width int) string {
	if width <= 1 || runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width-1, "…")
}
