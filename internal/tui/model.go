// Package tui renders the live timeline viewer.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/flextrace/flextrace/internal/timeline"
)

// Snapshot is one reconstructed view of the log, produced by the loader
// on every poll.
type Snapshot struct {
	Timeline  *timeline.Timeline
	Handoffs  []timeline.Handoff
	Malformed int
	Sources   int
	LoadedAt  time.Time
}

// LoadFunc reloads and rebuilds the timeline; called on every tick.
type LoadFunc func() (Snapshot, error)

type tickMsg time.Time

type snapshotMsg struct {
	snap Snapshot
	err  error
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	statusStyle = lipgloss.NewStyle().Faint(true)
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	rootStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("81"))
	sesStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

	activityStyles = map[string]lipgloss.Style{
		"tool":      lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		"coding":    lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		"reasoning": lipgloss.NewStyle().Foreground(lipgloss.Color("213")),
		"agent_run": lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
	}
	unknownStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	runningStyle = lipgloss.NewStyle().Bold(true)
)

// Model is the bubbletea model for the watch command.
type Model struct {
	load     LoadFunc
	interval time.Duration
	project  string

	spinner  spinner.Model
	viewport viewport.Model
	ready    bool

	snap    Snapshot
	loaded  bool
	loadErr error
	width   int
	height  int
}

// New builds the watch model around a loader and poll interval.
func New(load LoadFunc, interval time.Duration, project string) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return Model{load: load, interval: interval, project: project, spinner: sp}
}

// Init starts the spinner and the first load.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.refresh())
}

func (m Model) refresh() tea.Cmd {
	return func() tea.Msg {
		snap, err := m.load()
		return snapshotMsg{snap: snap, err: err}
	}
}

func (m Model) schedule() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update handles ticks, snapshots, keys and resizes.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			return m, m.refresh()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		headerHeight := 2
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-headerHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - headerHeight
		}
		m.viewport.SetContent(m.renderBody())

	case tickMsg:
		return m, m.refresh()

	case snapshotMsg:
		m.loadErr = msg.err
		if msg.err == nil {
			m.snap = msg.snap
			m.loaded = true
		}
		if m.ready {
			m.viewport.SetContent(m.renderBody())
		}
		return m, m.schedule()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// View renders the header plus the scrollable timeline body.
func (m Model) View() string {
	if !m.ready {
		return m.spinner.View() + " loading..."
	}
	return m.headerView() + "\n" + m.viewport.View()
}

func (m Model) headerView() string {
	title := titleStyle.Render("flextrace " + m.project)
	status := m.spinner.View() + " waiting for traces"
	if m.loadErr != nil {
		status = errStyle.Render("load error: " + m.loadErr.Error())
	} else if m.loaded {
		tl := m.snap.Timeline
		status = statusStyle.Render(fmt.Sprintf(
			"%d sources  %d completed  %d active  %d sessions  refreshed %s",
			m.snap.Sources, len(tl.Completed), len(tl.Active), len(tl.Sessions),
			m.snap.LoadedAt.Format("15:04:05")))
		if m.snap.Malformed > 0 {
			status += statusStyle.Render(fmt.Sprintf("  (%d malformed lines)", m.snap.Malformed))
		}
	}
	return title + "  " + status + "\n" + statusStyle.Render("q quit · r refresh · arrows scroll")
}

func (m Model) renderBody() string {
	if !m.loaded || m.snap.Timeline == nil {
		return ""
	}
	tl := m.snap.Timeline
	bySession := tl.TasksBySession()

	var b strings.Builder
	for _, root := range tl.Roots {
		b.WriteString(rootStyle.Render("▌ "+root.Title) + "\n")
		for _, sessionID := range root.Sessions {
			tasks := bySession[sessionID]
			if len(tasks) == 0 {
				continue
			}
			node := tl.Node(sessionID)
			title := sessionID
			if node != nil {
				title = node.Title
			}
			b.WriteString("  " + sesStyle.Render(title) + "\n")
			for _, lane := range timeline.PackLanes(tasks) {
				b.WriteString("    " + m.renderLane(lane) + "\n")
			}
		}
		b.WriteString("\n")
	}
	if len(m.snap.Handoffs) > 0 {
		b.WriteString(statusStyle.Render("handoffs") + "\n")
		for _, h := range m.snap.Handoffs {
			b.WriteString(fmt.Sprintf("  %s → %s\n", h.ParentTask.Name, h.ChildTask.Name))
		}
	}
	return b.String()
}

func (m Model) renderLane(lane []timeline.TaskView) string {
	parts := make([]string, 0, len(lane))
	for _, tv := range lane {
		style, ok := activityStyles[tv.Activity]
		if !ok {
			style = unknownStyle
		}
		label := fmt.Sprintf("▮ %s %s", truncateName(tv.Name, 32), formatDur(tv.DurationMs))
		if tv.Status == timeline.StatusRunning {
			label = runningStyle.Render(label + " " + m.spinner.View())
		}
		parts = append(parts, style.Render(label))
	}
	return strings.Join(parts, "  ")
}

func truncateName(name string, max int) string {
	if len(name) <= max {
		return name
	}
	return name[:max-1] + "…"
}

func formatDur(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	if d >= time.Minute {
		return d.Truncate(time.Second).String()
	}
	if d >= time.Second {
		return d.Truncate(100 * time.Millisecond).String()
	}
	return fmt.Sprintf("%dms", ms)
}
