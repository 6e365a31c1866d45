package bench

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"migbench/internal/config"
	"migbench/internal/metrics"
)

// teaProgram abstracts bubbletea.Program for testing.
type teaProgram interface {
	Send(tea.Msg)
}

// logMsg carries a progress log line for the viewport.
type logMsg struct{ line string }

// stageMsg updates the current run stage shown in the footer.
type stageMsg struct{ name string }

// resultMsg carries the metrics of a finished run.
type resultMsg struct{ metrics.Metrics }

const (
	colorReset   = "\x1b[0m"
	colorRed     = "\x1b[31m"
	colorGreen   = "\x1b[32m"
	colorYellow  = "\x1b[33m"
	colorBlue    = "\x1b[34m"
	colorMagenta = "\x1b[35m"
	colorCyan    = "\x1b[36m"
	colorGray    = "\x1b[90m"
)

// Observer receives run progress events. The orchestrator calls it from a
// single goroutine.
type Observer interface {
	Stage(name string)
	Log(line string)
	Result(m metrics.Metrics)
}

// NopObserver discards all events.
type NopObserver struct{}

func (NopObserver) Stage(string)           {}
func (NopObserver) Log(string)             {}
func (NopObserver) Result(metrics.Metrics) {}

// TUIView renders run progress using a bubbletea TUI.
type TUIView struct {
	program    teaProgram
	done       chan struct{}
	sendSignal atomic.Bool
}

// NewTUIView starts a bubbletea program and returns a TUIView.
func NewTUIView(cfg *config.Config) *TUIView {
	v := &TUIView{done: make(chan struct{})}
	v.sendSignal.Store(true)
	m := newTUIModel(cfg)
	p := tea.NewProgram(m, tea.WithAltScreen())
	v.program = p
	go func() {
		_ = p.Start()
		close(v.done)
		if v.sendSignal.Load() {
			if proc, err := os.FindProcess(os.Getpid()); err == nil {
				_ = proc.Signal(os.Interrupt)
			}
		}
	}()
	return v
}

// Stage implements Observer.
func (v *TUIView) Stage(name string) {
	v.program.Send(stageMsg{name: name})
	v.Log(fmt.Sprintf("%sSTAGE%s %s", colorBlue, colorReset, name))
}

// Log implements Observer.
func (v *TUIView) Log(line string) {
	ts := time.Now().Format(time.RFC3339)
	v.program.Send(logMsg{line: fmt.Sprintf("%s[%s]%s %s", colorGray, ts, colorReset, line)})
}

// Result implements Observer.
func (v *TUIView) Result(m metrics.Metrics) {
	v.program.Send(resultMsg{Metrics: m})
}

// Close shuts down the TUI program and waits for cleanup.
func (v *TUIView) Close() error {
	v.sendSignal.Store(false)
	if v.program != nil {
		v.program.Send(tea.Quit())
	}
	if v.done != nil {
		<-v.done
	}
	return nil
}

type tuiModel struct {
	cfg          *config.Config
	table        table.Model
	vp           viewport.Model
	logs         []string
	results      []metrics.Metrics
	stage        string
	wrap         bool
	autoscroll   bool
	header       string
	headerHeight int
	height       int
}

func newTUIModel(cfg *config.Config) tuiModel {
	cols := []table.Column{
		{Title: "Setting", Width: 20},
		{Title: "Value", Width: 14},
		{Title: "Setting", Width: 20},
		{Title: "Value", Width: 14},
	}
	rows := []table.Row{
		{"Strategy", cfg.Migration.Strategy, "Run ID", cfg.General.RunID},
		{"Clients", fmt.Sprintf("%d", cfg.Clients.Count), "Rate (Hz)", fmt.Sprintf("%.1f", cfg.Clients.RateHz)},
		{"Payload (bytes)", fmt.Sprintf("%d", cfg.Clients.PayloadBytes), "Timeout (ms)", fmt.Sprintf("%d", cfg.Clients.TimeoutMS)},
		{"Network", cfg.Servers.NetworkName, "Alias", cfg.Servers.ServiceAlias},
	}
	t := table.New(table.WithColumns(cols), table.WithRows(rows), table.WithHeight(len(rows)+1))
	vp := viewport.New(0, 0)
	return tuiModel{
		cfg:        cfg,
		table:      t,
		vp:         vp,
		stage:      "idle",
		autoscroll: true,
	}
}

func (m tuiModel) Init() tea.Cmd { return nil }

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.table.SetWidth(msg.Width)
		m.vp.Width = msg.Width
		m.height = msg.Height
		m.header = m.table.View()
		m.headerHeight = lipgloss.Height(m.header)
		m.updateViewportHeight()
		m.refreshViewport()
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "w":
			m.wrap = !m.wrap
			m.refreshViewport()
			return m, nil
		case "s":
			m.autoscroll = !m.autoscroll
			if m.autoscroll {
				m.vp.GotoBottom()
			}
			return m, nil
		}
		if !m.autoscroll {
			switch msg.String() {
			case "j", "down":
				m.vp.LineDown(1)
			case "k", "up":
				m.vp.LineUp(1)
			case "pgdown", "ctrl+n":
				m.vp.LineDown(10)
			case "pgup", "ctrl+p":
				m.vp.LineUp(10)
			default:
				var cmd tea.Cmd
				m.vp, cmd = m.vp.Update(msg)
				return m, cmd
			}
		}
		return m, nil
	case logMsg:
		m.logs = append(m.logs, msg.line)
		if len(m.logs) > 1000 {
			m.logs = m.logs[len(m.logs)-1000:]
		}
		m.refreshViewport()
	case stageMsg:
		m.stage = msg.name
	case resultMsg:
		m.results = append(m.results, msg.Metrics)
		m.updateViewportHeight()
	}
	return m, nil
}

func (m *tuiModel) updateViewportHeight() {
	bottomHeight := lipgloss.Height(m.renderBottom())
	h := m.height - m.headerHeight - bottomHeight - 3
	if h < 0 {
		h = 0
	}
	m.vp.Height = h
	if m.autoscroll {
		m.vp.GotoBottom()
	}
}

func (m *tuiModel) refreshViewport() {
	var lines []string
	for _, l := range m.logs {
		if m.wrap {
			lines = append(lines, wordwrap.String(l, m.vp.Width))
		} else {
			lines = append(lines, l)
		}
	}
	m.vp.SetContent(strings.Join(lines, "\n"))
	if m.autoscroll {
		m.vp.GotoBottom()
	}
}

func (m tuiModel) View() string {
	divider := strings.Repeat("─", m.vp.Width)
	sections := []string{
		m.header,
		divider,
		m.vp.View(),
		divider,
		m.renderBottom(),
	}
	return strings.Join(sections, "\n")
}

func (m tuiModel) renderBottom() string {
	wrapColor := lipgloss.Color("9")
	if m.wrap {
		wrapColor = lipgloss.Color("10")
	}
	scrollColor := lipgloss.Color("10")
	if !m.autoscroll {
		scrollColor = lipgloss.Color("9")
	}
	wrapIndicator := lipgloss.NewStyle().Foreground(wrapColor).Render("●")
	scrollIndicator := lipgloss.NewStyle().Foreground(scrollColor).Render("●")
	line := fmt.Sprintf("%sSTAGE%s %s | Wrap %s | Scroll %s | q to quit", colorBlue, colorReset, m.stage, wrapIndicator, scrollIndicator)
	if len(m.results) == 0 {
		return line
	}
	var b strings.Builder
	for _, r := range m.results {
		b.WriteString(renderResult(r))
		b.WriteByte('\n')
	}
	b.WriteString(line)
	return b.String()
}

func renderResult(r metrics.Metrics) string {
	lossColor := colorGreen
	if r.PacketLossPct > 0 {
		lossColor = colorYellow
	}
	if r.PacketLossPct >= 50 {
		lossColor = colorRed
	}
	diffColor := colorGreen
	if r.StateDiff != 0 {
		diffColor = colorRed
	}
	return fmt.Sprintf("%sRESULT%s %sstrategy=%s%s %smigration=%.0fms%s %sdowntime=%.0fms%s %sloss=%d%%%s %sdiff=%d%s %sbytes=%d%s",
		colorMagenta, colorReset,
		colorBlue, r.Strategy, colorReset,
		colorCyan, r.MigrationTimeMS, colorReset,
		colorYellow, r.ClientDowntimeMS, colorReset,
		lossColor, r.PacketLossPct, colorReset,
		diffColor, r.StateDiff, colorReset,
		colorGray, r.StateSizeBytes, colorReset)
}
