// internal/tui/progress.go
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mwiater/genbench/internal/appconfig"
	"github.com/mwiater/genbench/internal/benchmark"
)

// maxLogLines bounds the finished-call log under the progress bar.
const maxLogLines = 8

type (
	modelStartedMsg struct {
		model        string
		index, total int
	}
	modelLoadedMsg struct {
		model string
		took  time.Duration
	}
	modelFinishedMsg struct {
		model string
		err   error
	}
	runDoneMsg struct{ err error }
)

type trialMsg benchmark.TrialEvent

var (
	titleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	warmStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	spinnerTint = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
)

// model is the Bubble Tea model of a benchmark run.
type model struct {
	cancel   context.CancelFunc
	spinner  spinner.Model
	progress progress.Model

	callsPerModel int
	totalCalls    int
	doneCalls     int

	current    string
	modelIndex int
	modelCount int
	loadTook   time.Duration
	lastPair   string

	log      []string
	failures []string
	finished bool
	aborted  bool
	err      error
	width    int
}

func newModel(cfg appconfig.Config, cancel context.CancelFunc) *model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerTint

	pairs, _ := cfg.Pairs()
	perModel := len(pairs) * (cfg.WarmUp + cfg.NumTrials)
	models := len(cfg.ModelEntries())

	return &model{
		cancel:        cancel,
		spinner:       s,
		progress:      progress.New(progress.WithDefaultGradient()),
		callsPerModel: perModel,
		totalCalls:    perModel * models,
		modelCount:    models,
	}
}

// Init starts the spinner animation.
func (m *model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update folds benchmark events and key presses into the model.
func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.aborted = true
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progress.Width = max(10, min(msg.Width-4, 80))

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case modelStartedMsg:
		m.current, m.modelIndex, m.modelCount = msg.model, msg.index, msg.total
		m.loadTook, m.lastPair = 0, ""

	case modelLoadedMsg:
		m.loadTook = msg.took

	case trialMsg:
		m.doneCalls++
		m.lastPair = msg.Pair.Label()
		m.appendLog(formatTrial(benchmark.TrialEvent(msg)))

	case modelFinishedMsg:
		// Calls a failed model never made still count as processed.
		m.doneCalls = max(m.doneCalls, (m.modelIndex+1)*m.callsPerModel)
		if msg.err != nil {
			m.failures = append(m.failures, fmt.Sprintf("%s: %v", msg.model, msg.err))
			m.appendLog(errorStyle.Render("!! " + msg.model + " failed"))
		} else {
			m.appendLog(okStyle.Render("<== " + msg.model + " done"))
		}

	case runDoneMsg:
		m.finished = true
		m.err = msg.err
		return m, tea.Quit
	}
	return m, nil
}

func (m *model) appendLog(line string) {
	m.log = append(m.log, line)
	if len(m.log) > maxLogLines {
		m.log = m.log[len(m.log)-maxLogLines:]
	}
}

func (m *model) percent() float64 {
	if m.totalCalls == 0 {
		return 0
	}
	return min(1, float64(m.doneCalls)/float64(m.totalCalls))
}

// View renders the status line, the progress bar and the recent calls.
func (m *model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("genbench") + "\n\n")

	switch {
	case m.finished && m.err != nil:
		b.WriteString(errorStyle.Render("Error: "+m.err.Error()) + "\n")
	case m.finished:
		b.WriteString(okStyle.Render(fmt.Sprintf("Finished %d calls", m.doneCalls)) + "\n")
	case m.current == "":
		b.WriteString(fmt.Sprintf("%s Starting...\n", m.spinner.View()))
	default:
		status := fmt.Sprintf("%s [%d/%d] %s", m.spinner.View(), m.modelIndex+1, m.modelCount, m.current)
		if m.loadTook > 0 {
			status += mutedStyle.Render(fmt.Sprintf(" (loaded in %.2fs)", m.loadTook.Seconds()))
		}
		if m.lastPair != "" {
			status += " " + m.lastPair
		}
		b.WriteString(status + "\n")
	}

	b.WriteString("\n" + m.progress.ViewAs(m.percent()))
	b.WriteString(fmt.Sprintf(" %d/%d\n\n", m.doneCalls, m.totalCalls))
	for _, line := range m.log {
		b.WriteString("  " + line + "\n")
	}
	if !m.finished {
		b.WriteString("\n" + mutedStyle.Render("q: abort") + "\n")
	}
	return b.String()
}

func formatTrial(ev benchmark.TrialEvent) string {
	tag := okStyle.Render(fmt.Sprintf("trial %d/%d", ev.Trial, ev.Total))
	if ev.WarmUp {
		tag = warmStyle.Render(fmt.Sprintf("warm-up %d/%d", ev.Trial, ev.Total))
	}
	return fmt.Sprintf("%s %s first=%.4fs rest=%.4fs/token encoder=%.4fs",
		ev.Pair.Label(), tag,
		ev.Latency.FirstCost.Seconds(), ev.Latency.RestCostMean.Seconds(), ev.Latency.EncoderTime.Seconds())
}
