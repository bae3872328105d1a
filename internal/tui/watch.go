// Package tui provides the live watch board: a terminal view of one
// packet's coordination run, refreshed from the packet directory.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/foremanhq/foreman/internal/checkpoint"
	"github.com/foremanhq/foreman/internal/packet"
	"github.com/foremanhq/foreman/internal/render"
)

// refreshEvery is the board's poll interval over the packet directory.
const refreshEvery = time.Second

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00FFFF")).
			Bold(true)

	stateStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFF00"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00FF00"))

	failStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000")).
			Bold(true)

	blockedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFAA00"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#555555"))

	boardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
)

// refreshMsg carries a fresh snapshot of the packet directory.
type refreshMsg struct {
	packet     *packet.TaskPacket
	checkpoint *checkpoint.Record
	err        error
}

// WatchModel is the watch board's bubbletea model.
type WatchModel struct {
	store   *packet.Store
	reader  *checkpoint.Writer
	spinner spinner.Model

	pkt  *packet.TaskPacket
	ckpt *checkpoint.Record
	err  error
	done bool
}

// NewWatch creates a watch board over a packet directory.
func NewWatch(store *packet.Store) (*WatchModel, error) {
	reader, err := checkpoint.NewWriter(store.Dir())
	if err != nil {
		return nil, err
	}

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = stateStyle

	return &WatchModel{store: store, reader: reader, spinner: s}, nil
}

// Init starts the spinner and the first refresh.
func (m *WatchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.refresh())
}

func (m *WatchModel) refresh() tea.Cmd {
	return func() tea.Msg {
		p, err := m.store.LoadPacket()
		if err != nil {
			return refreshMsg{err: err}
		}
		ckpt, _ := m.reader.Latest()
		return refreshMsg{packet: p, checkpoint: ckpt}
	}
}

// Update handles key presses and refresh ticks.
func (m *WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.done = true
			return m, tea.Quit
		}

	case refreshMsg:
		m.pkt = msg.packet
		m.ckpt = msg.checkpoint
		m.err = msg.err
		return m, tea.Tick(refreshEvery, func(time.Time) tea.Msg {
			return m.refresh()()
		})

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the board.
func (m *WatchModel) View() string {
	if m.done {
		return ""
	}
	if m.err != nil {
		return boardStyle.Render(failStyle.Render("✗ " + m.err.Error()))
	}
	if m.pkt == nil {
		return boardStyle.Render(m.spinner.View() + " loading packet…")
	}

	var sb strings.Builder

	sb.WriteString(titleStyle.Render(m.pkt.Title))
	sb.WriteString("  " + stateStyle.Render(string(m.pkt.State)))
	sb.WriteString("\n\n")

	for _, st := range m.pkt.Subtasks {
		icon := render.ExecIcon(string(st.Exec))
		line := fmt.Sprintf("%s %s", icon, st.ID)
		switch st.Exec {
		case packet.ExecSuccess:
			line = successStyle.Render(line)
		case packet.ExecFailed:
			line = failStyle.Render(line)
		case packet.ExecBlocked:
			line = blockedStyle.Render(line)
		case packet.ExecRunning:
			line = m.spinner.View() + " " + st.ID
		default:
			line = dimStyle.Render(line)
		}
		if n := len(packet.BlockingFindings(st.Findings)); n > 0 {
			line += blockedStyle.Render(fmt.Sprintf("  %d open finding(s)", n))
		}
		sb.WriteString(line + "\n")
	}

	if m.ckpt != nil {
		sb.WriteString("\n" + dimStyle.Render(fmt.Sprintf("checkpoint #%d  %s", m.ckpt.Seq, m.ckpt.Note)) + "\n")
	}

	if tail := m.activityTail(3); len(tail) > 0 {
		sb.WriteString("\n")
		for _, entry := range tail {
			sb.WriteString(dimStyle.Render(fmt.Sprintf("[%s] %s: %s",
				entry.Timestamp.Format("15:04:05"), entry.Actor, render.Truncate(entry.Note, 60))) + "\n")
		}
	}

	sb.WriteString("\n" + dimStyle.Render("q to quit"))
	return boardStyle.Render(sb.String())
}

func (m *WatchModel) activityTail(n int) []packet.ActivityEntry {
	if m.pkt == nil || len(m.pkt.Activity) == 0 {
		return nil
	}
	entries := m.pkt.Activity
	if len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries
}

// Run starts the watch board and blocks until the user quits.
func Run(store *packet.Store) error {
	model, err := NewWatch(store)
	if err != nil {
		return err
	}
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err = p.Run()
	return err
}
