// internal/tui/model.go

// Package tui renders a refinement run as a live Bubble Tea view: one row per
// stage with its status, a spinner on the stage in flight and the metrics once
// the run finishes.
package tui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mwiater/refiner/internal/events"
	"github.com/mwiater/refiner/internal/pipeline"
	"github.com/mwiater/refiner/internal/run"
	"github.com/mwiater/refiner/internal/settings"
	"github.com/mwiater/refiner/internal/stages"
	"github.com/mwiater/refiner/internal/util"
)

const (
	previewRunes = 72
	resultWidth  = 78
)

var (
	headerStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	stageNameStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	stageDescStyle    = lipgloss.NewStyle().Faint(true)
	durationStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	stageStatusStyles = map[run.Status]lipgloss.Style{
		run.StatusPending:    lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Background(lipgloss.Color("238")).Padding(0, 1),
		run.StatusProcessing: lipgloss.NewStyle().Foreground(lipgloss.Color("230")).Background(lipgloss.Color("33")).Padding(0, 1),
		run.StatusCompleted:  lipgloss.NewStyle().Foreground(lipgloss.Color("230")).Background(lipgloss.Color("34")).Padding(0, 1),
		run.StatusFailed:     lipgloss.NewStyle().Foreground(lipgloss.Color("230")).Background(lipgloss.Color("160")).Padding(0, 1),
	}
	metricsStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
	bannerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("230")).Background(lipgloss.Color("124")).Padding(0, 1)
	helpStyle    = lipgloss.NewStyle().Faint(true)
)

type stageRow struct {
	def      stages.Definition
	status   run.Status
	duration *time.Duration
}

// message types emitted while a run executes.
type (
	eventMsg     events.Event
	eventsClosed struct{}
	runResultMsg struct {
		result *pipeline.Result
		err    error
	}
)

// Model is the Bubble Tea model of one refinement run.
type Model struct {
	prompt string
	cfg    settings.Configuration
	rows   []stageRow

	runID   string
	spinner spinner.Model
	events  <-chan events.Event
	execute tea.Cmd
	cancel  context.CancelFunc

	width    int
	done     bool
	canceled bool
	result   *pipeline.Result
	err      error
}

func newModel(prompt string, catalog []stages.Definition, cfg settings.Configuration) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot

	rows := make([]stageRow, len(catalog))
	for i, def := range catalog {
		rows[i] = stageRow{def: def, status: run.StatusPending}
	}
	return &Model{
		prompt:  prompt,
		cfg:     cfg,
		rows:    rows,
		spinner: s,
	}
}

// Init starts the spinner, the run and the event listener.
func (m *Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick}
	if m.execute != nil {
		cmds = append(cmds, m.execute)
	}
	if m.events != nil {
		cmds = append(cmds, waitForEvent(m.events))
	}
	return tea.Batch(cmds...)
}

func waitForEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return eventsClosed{}
		}
		return eventMsg(e)
	}
}

// Update routes incoming messages to the appropriate handlers.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			if m.done {
				return m, tea.Quit
			}
			m.canceled = true
			if m.cancel != nil {
				m.cancel()
			}
		}
		return m, nil

	case eventMsg:
		m.applyEvent(events.Event(msg))
		if m.events != nil && !m.done {
			return m, waitForEvent(m.events)
		}
		return m, nil

	case eventsClosed:
		return m, nil

	case runResultMsg:
		m.finish(msg.result, msg.err)
		return m, tea.Quit

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// applyEvent updates the stage rows from a bus event. Events of other runs are ignored.
func (m *Model) applyEvent(e events.Event) {
	if m.done {
		return
	}
	if e.Kind == events.KindRun && e.Outcome == run.OutcomeRunning && m.runID == "" {
		m.runID = e.RunID
		return
	}
	if e.RunID != m.runID || e.Kind != events.KindStage {
		return
	}
	if e.StageIndex < 1 || e.StageIndex > len(m.rows) {
		return
	}
	row := &m.rows[e.StageIndex-1]
	row.status = e.Status
	if e.Duration != nil {
		d := *e.Duration
		row.duration = &d
	}
}

// finish takes the final stage states from the returned run, which is authoritative
// even when some events were dropped or are still queued.
func (m *Model) finish(res *pipeline.Result, err error) {
	m.done = true
	m.result = res
	m.err = err
	if res == nil {
		return
	}
	m.runID = res.Run.ID
	for i := range m.rows {
		if i < len(res.Run.Stages) {
			m.rows[i].status = res.Run.Stages[i].Status
			m.rows[i].duration = res.Run.Stages[i].Duration
		}
	}
}

// Result returns the outcome of the run once the program has exited.
func (m *Model) Result() (*pipeline.Result, error) {
	return m.result, m.err
}

// View renders the stage table and, when finished, the output and metrics.
func (m *Model) View() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Refining: " + preview(m.prompt)))
	b.WriteString("\n")
	b.WriteString(renderBadges(m.cfg))
	b.WriteString("\n\n")

	for _, row := range m.rows {
		b.WriteString(m.renderRow(row))
		b.WriteString("\n")
	}

	switch {
	case m.done && m.err == nil && m.result != nil:
		b.WriteString("\n")
		b.WriteString(m.renderResult())
	case m.done && m.err != nil:
		b.WriteString("\n")
		b.WriteString(bannerStyle.Render("Run failed: " + m.err.Error()))
		b.WriteString("\n")
	case m.canceled:
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("Canceling..."))
		b.WriteString("\n")
	default:
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("q/esc cancel"))
		b.WriteString("\n")
	}
	return b.String()
}

func (m *Model) renderRow(row stageRow) string {
	marker := "  "
	if row.status == run.StatusProcessing && !m.done {
		marker = m.spinner.View()
	}
	chip := stageStatusStyles[row.status].Render(fmt.Sprintf("%-10s", row.status))
	line := fmt.Sprintf("%s %s %d %s", marker, chip, row.def.Index, stageNameStyle.Render(fmt.Sprintf("%-22s", row.def.Name)))
	if row.duration != nil {
		line += " " + durationStyle.Render(formatDuration(*row.duration))
	} else {
		line += " " + stageDescStyle.Render(row.def.Description)
	}
	return line
}

func (m *Model) renderResult() string {
	var lines []string
	r := m.result.Run
	if r.EnhancedText != nil {
		lines = append(lines, "Enhanced prompt ("+fmt.Sprint(r.TokenCount)+" tokens):", util.WrapToWidth(*r.EnhancedText, resultWidth), "")
	}
	if r.OutputText != nil {
		lines = append(lines, "Output:", *r.OutputText, "")
	}
	if pm := m.result.Metrics; pm != nil {
		lines = append(lines,
			fmt.Sprintf("Total %s • Memory %.1f MB", formatDuration(pm.TotalProcessingTime), pm.MemoryUsageMB),
			fmt.Sprintf("Latency ×%.1f • Accuracy +%.1f%% • Energy ×%.1f • Tokens -%.1f%% • Privacy %.1f%%",
				pm.LatencyReductionFactor, pm.AccuracyImprovementPct, pm.EnergyEfficiencyFactor, pm.TokenReductionPct, pm.PrivacyScorePct),
		)
	}
	return metricsStyle.Render(strings.Join(lines, "\n"))
}

func formatDuration(d time.Duration) string {
	return d.Round(time.Millisecond).String()
}

func preview(s string) string {
	return util.TruncateRunes(util.SingleLine(s), previewRunes-1)
}

// Options configures Run.
type Options struct {
	Input  io.Reader
	Output io.Writer
	// EventBuffer sizes the bus subscription used to follow the run.
	EventBuffer int
}

// Run executes prompt on orch while rendering its progress, and blocks until the
// run ends. Pressing q, esc or ctrl+c cancels the run.
func Run(ctx context.Context, orch *pipeline.Orchestrator, prompt string, cfg settings.Configuration, opts Options) (*pipeline.Result, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	buffer := opts.EventBuffer
	if buffer <= 0 {
		buffer = 64
	}
	sub := orch.Bus().Subscribe(buffer)
	defer sub.Close()

	m := newModel(prompt, orch.Catalog(), cfg)
	m.events = sub.C
	m.cancel = cancel
	m.execute = func() tea.Msg {
		res, err := orch.Execute(runCtx, prompt, cfg)
		return runResultMsg{result: res, err: err}
	}

	programOpts := []tea.ProgramOption{tea.WithContext(ctx)}
	if opts.Input != nil {
		programOpts = append(programOpts, tea.WithInput(opts.Input))
	}
	if opts.Output != nil {
		programOpts = append(programOpts, tea.WithOutput(opts.Output))
	}

	final, err := tea.NewProgram(m, programOpts...).Run()
	if err != nil {
		return nil, err
	}
	return final.(*Model).Result()
}
