// ABOUTME: Server TUI for connected nodes and mixer load
// ABOUTME: Real-time status display using bubbletea, with pool resizing keys
package server

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Resonate-Protocol/resonate-mixer/internal/mixer"
)

// ServerTUI manages the server TUI
type ServerTUI struct {
	program  *tea.Program
	updates  chan ServerStatus
	quitChan chan struct{}
	resize   chan int
}

// ServerStatus holds server state for TUI
type ServerStatus struct {
	Name    string
	Port    int
	Clients []ClientInfo
	Mixer   mixer.Stats
}

// ClientInfo holds client information for display
type ClientInfo struct {
	Name       string
	ID         string
	Type       string
	Codec      string
	Streams    int
	Listener   bool
	PacketsIn  uint64
	PacketsOut uint64
	Dropped    uint64
}

type tuiModel struct {
	status    ServerStatus
	startTime time.Time
	quitting  bool
	quitChan  chan struct{}
	resize    chan int
}

type tickMsg time.Time
type statusMsg ServerStatus

func (m tuiModel) Init() tea.Cmd {
	return tickEvery()
}

func tickEvery() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			select {
			case m.quitChan <- struct{}{}:
			default:
			}
			return m, tea.Quit
		case "+", "=":
			m.requestPoolSize(m.status.Mixer.PoolSize + 1)
		case "-":
			m.requestPoolSize(m.status.Mixer.PoolSize - 1)
		}

	case tickMsg:
		return m, tickEvery()

	case statusMsg:
		m.status = ServerStatus(msg)
		return m, nil
	}

	return m, nil
}

func (m tuiModel) requestPoolSize(n int) {
	if n < 1 {
		return
	}
	select {
	case m.resize <- n:
	default:
	}
}

func (m tuiModel) View() string {
	if m.quitting {
		return "Shutting down mixer...\n"
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		MarginBottom(1)

	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("86"))

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("250"))

	warnStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("208"))

	clientHeaderStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("220"))

	var b strings.Builder

	b.WriteString(titleStyle.Render("Resonate Mixer"))
	b.WriteString("\n\n")

	field := func(name, value string) {
		b.WriteString(headerStyle.Render(name + ": "))
		b.WriteString(valueStyle.Render(value))
		b.WriteString("\n")
	}

	st := m.status.Mixer
	field("Server", m.status.Name)
	field("Port", fmt.Sprintf("%d", m.status.Port))
	field("Uptime", time.Since(m.startTime).Round(time.Second).String())
	b.WriteString("\n")

	field("Frame", fmt.Sprintf("%d (last pass %s)", st.Frame, st.LastPassDuration.Round(time.Microsecond)))
	field("Workers", fmt.Sprintf("%d", st.PoolSize))
	field("Listeners", fmt.Sprintf("%d, streams %d", st.Listeners, st.Streams))
	field("Sleep ratio", fmt.Sprintf("%.2f", st.Controller.TrailingSleepRatio))

	cutoff := fmt.Sprintf("%.0f%% (threshold %.2g)", st.Controller.CutoffRatio*100, st.AudibilityThreshold)
	b.WriteString(headerStyle.Render("Cutoff: "))
	if st.Controller.CutoffRatio > 0 {
		b.WriteString(warnStyle.Render(cutoff))
	} else {
		b.WriteString(valueStyle.Render(cutoff))
	}
	b.WriteString("\n")

	field("Renders", fmt.Sprintf("hrtf %d, silent %d, throttled %d, direct %d",
		st.LastPass.HRTFRenders, st.LastPass.SilentRenders, st.LastPass.ThrottledRenders,
		st.LastPass.ManualStereoMixes+st.LastPass.ManualEchoMixes))
	field("Overruns", fmt.Sprintf("%d", st.Overruns))
	b.WriteString("\n")

	b.WriteString(clientHeaderStyle.Render(fmt.Sprintf("Connected Nodes (%d)", len(m.status.Clients))))
	b.WriteString("\n\n")

	if len(m.status.Clients) == 0 {
		b.WriteString(valueStyle.Render("  No nodes connected"))
		b.WriteString("\n")
	} else {
		for _, c := range m.status.Clients {
			role := "injector"
			if c.Listener {
				role = "listener"
			}
			b.WriteString(fmt.Sprintf("  • %s", c.Name))
			b.WriteString(valueStyle.Render(fmt.Sprintf(" (%s, %s, %s, %d streams, in %d, out %d)",
				c.Type, role, c.Codec, c.Streams, c.PacketsIn, c.PacketsOut)))
			if c.Dropped > 0 {
				b.WriteString(warnStyle.Render(fmt.Sprintf(" dropped %d", c.Dropped)))
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(lipgloss.NewStyle().Faint(true).Render("+/- resize workers, 'q' or Ctrl+C to quit"))

	return b.String()
}

// NewServerTUI creates a new server TUI
func NewServerTUI() *ServerTUI {
	return &ServerTUI{
		updates:  make(chan ServerStatus, 10),
		quitChan: make(chan struct{}, 1),
		resize:   make(chan int, 1),
	}
}

// Start runs the TUI until it quits
func (t *ServerTUI) Start(serverName string, port int) error {
	m := tuiModel{
		status: ServerStatus{
			Name:    serverName,
			Port:    port,
			Clients: []ClientInfo{},
		},
		startTime: time.Now(),
		quitChan:  t.quitChan,
		resize:    t.resize,
	}

	t.program = tea.NewProgram(m, tea.WithAltScreen())

	go func() {
		for status := range t.updates {
			if t.program != nil {
				t.program.Send(statusMsg(status))
			}
		}
	}()

	_, err := t.program.Run()
	return err
}

// Update sends a status update to the TUI without blocking
func (t *ServerTUI) Update(status ServerStatus) {
	select {
	case t.updates <- status:
	default:
	}
}

// Stop stops the TUI
func (t *ServerTUI) Stop() {
	if t.program != nil {
		t.program.Quit()
	}
	close(t.updates)
}

// QuitChan signals when the user wants to quit
func (t *ServerTUI) QuitChan() <-chan struct{} {
	return t.quitChan
}

// ResizeChan carries worker pool sizes requested from the keyboard
func (t *ServerTUI) ResizeChan() <-chan int {
	return t.resize
}
