package monitor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/opsloop/internal/extraction"
	"github.com/fyrsmithlabs/opsloop/internal/selfheal"
	"github.com/fyrsmithlabs/opsloop/internal/services"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
)

// History holds the last polled values of each trended series.
type History struct {
	Pending []float64
	Chunks  []float64
	Rules   []float64
}

// Model is the bubbletea dashboard model.
type Model struct {
	client     *Client
	interval   time.Duration
	lastUpdate time.Time
	snap       Snapshot
	hasSnap    bool
	history    History
	err        error
	quitting   bool
	now        func() time.Time

	learned progress.Model
}

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// NewModel creates a dashboard polling client every interval.
func NewModel(client *Client, interval time.Duration) Model {
	return Model{
		client:   client,
		interval: interval,
		now:      time.Now,
		learned: progress.New(
			progress.WithGradient("#00ffff", "#00ff00"),
			progress.WithWidth(40),
		),
	}
}

// Snapshot returns the last successful poll.
func (m Model) Snapshot() (Snapshot, bool) {
	return m.snap, m.hasSnap
}

// History returns the trended series.
func (m Model) History() History {
	return m.history
}

// Err returns the last poll error, cleared by the next success.
func (m Model) Err() error {
	return m.err
}

type tickMsg time.Time
type snapshotMsg Snapshot
type errMsg struct{ err error }

// Init starts polling.
func (m Model) Init() tea.Cmd {
	return tea.Batch(tick(m.interval), fetch(m.client))
}

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetch(c *Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		snap, err := c.Fetch(ctx)
		if err != nil {
			return errMsg{err}
		}
		return snapshotMsg(snap)
	}
}

// Update handles key presses, ticks and poll results.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetch(m.client)
		}

	case tickMsg:
		return m, tea.Batch(tick(m.interval), fetch(m.client))

	case snapshotMsg:
		return m.apply(Snapshot(msg)), nil

	case errMsg:
		m.err = msg.err
		return m, nil
	}
	return m, nil
}

func (m Model) apply(snap Snapshot) Model {
	m.snap = snap
	m.hasSnap = true
	m.err = nil
	m.lastUpdate = m.now()

	pending := 0
	if snap.Stats.Queue != nil {
		pending = snap.Stats.Queue.ByStatus[extraction.StatusPending]
	}
	chunks := 0
	if snap.Stats.Knowledge != nil {
		chunks = snap.Stats.Knowledge.TotalChunks
	}
	m.history.Pending = appendToHistory(m.history.Pending, float64(pending))
	m.history.Chunks = appendToHistory(m.history.Chunks, float64(chunks))
	m.history.Rules = appendToHistory(m.history.Rules, float64(snap.Stats.ActiveRules))
	return m
}

// appendToHistory appends value, dropping the oldest beyond historySize.
func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[len(history)-historySize:]
	}
	return append([]float64(nil), history...)
}

func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}
	spark := sparkline.New(sparklineWidth, sparklineHeight)
	spark.PushAll(data)
	spark.Draw()
	return sparklineStyle.Render(spark.View())
}

func statusBadge(status string) string {
	switch status {
	case services.StatusHealthy:
		return healthyStyle.Render("✓ HEALTHY")
	case services.StatusDegraded:
		return warningStyle.Render("⚠ DEGRADED")
	default:
		return errorStyle.Render("✗ " + strings.ToUpper(status))
	}
}

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.err != nil && !m.hasSnap {
		return m.renderError()
	}
	return m.renderDashboard()
}

func (m Model) renderError() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(" opsloop Monitor ") + "\n\n")
	b.WriteString(errorStyle.Render("⚠ Cannot reach opsloopd") + "\n\n")
	b.WriteString(dimStyle.Render("URL: ") + valueStyle.Render(m.client.BaseURL()) + "\n")
	b.WriteString(dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n\n")
	b.WriteString(dimStyle.Render("Start the daemon with: opsloopd --addr 127.0.0.1:9464") + "\n")
	b.WriteString(footerStyle.Render("[q] quit  [r] retry") + "\n")
	return containerStyle.Render(b.String())
}

func (m Model) renderDashboard() string {
	var b strings.Builder
	st := m.snap.Stats

	b.WriteString(headerStyle.Render(" opsloop Monitor ") + "\n")
	fmt.Fprintf(&b, "%s   %s %s\n",
		statusBadge(m.snap.Health.Status),
		dimStyle.Render("updated"),
		valueStyle.Render(FormatAge(m.lastUpdate, m.now())))
	if m.err != nil {
		b.WriteString(errorStyle.Render("last poll failed: "+m.err.Error()) + "\n")
	}
	if len(m.snap.Health.Components) > 0 {
		names := make([]string, 0, len(m.snap.Health.Components))
		for name, state := range m.snap.Health.Components {
			if state != "ok" {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		for _, name := range names {
			b.WriteString(warningStyle.Render("  "+name+": ") + dimStyle.Render(m.snap.Health.Components[name]) + "\n")
		}
	}

	b.WriteString("\n" + sectionStyle.Render("┃ Review Queue") + "\n")
	if q := st.Queue; q != nil {
		b.WriteString(labelStyle.Render("  Pending: ") +
			valueStyle.Render(fmt.Sprintf("%d", q.ByStatus[extraction.StatusPending])) +
			"   " + createSparkline(m.history.Pending) + "\n")
		b.WriteString(labelStyle.Render("  Approved: ") + valueStyle.Render(fmt.Sprintf("%d", q.ByStatus[extraction.StatusApproved])) +
			labelStyle.Render("  Rejected: ") + valueStyle.Render(fmt.Sprintf("%d", q.ByStatus[extraction.StatusRejected])) +
			labelStyle.Render("  Injected: ") + valueStyle.Render(fmt.Sprintf("%d", q.Injected)) +
			labelStyle.Render("  Total: ") + valueStyle.Render(fmt.Sprintf("%d", q.Total)) + "\n")
	}

	b.WriteString("\n" + sectionStyle.Render("┃ Knowledge Base") + "\n")
	if k := st.Knowledge; k != nil {
		b.WriteString(labelStyle.Render("  Chunks: ") +
			valueStyle.Render(fmt.Sprintf("%d", k.TotalChunks)) +
			"   " + createSparkline(m.history.Chunks) + "\n")
		b.WriteString(labelStyle.Render("  Learned: ") +
			m.learned.ViewAs(clamp(k.LearnedRatio)) +
			" " + dimStyle.Render(FormatPercentage(k.LearnedRatio)) + "\n")
		b.WriteString(labelStyle.Render("  Versions: ") + valueStyle.Render(fmt.Sprintf("%d", k.Versions)) + "\n")
	}

	b.WriteString("\n" + sectionStyle.Render("┃ Self-heal Rules") + "\n")
	b.WriteString(labelStyle.Render("  Active: ") +
		valueStyle.Render(fmt.Sprintf("%d", st.ActiveRules)) +
		"   " + createSparkline(m.history.Rules) + "\n")
	if a := st.Analysis; a != nil {
		b.WriteString(labelStyle.Render("  Last analysis: ") + valueStyle.Render(FormatAge(a.AnalyzedAt, m.now())) +
			dimStyle.Render(fmt.Sprintf(" (%d events)", a.Events)) + "\n")
		for _, s := range selfheal.Sectors() {
			t, ok := a.Trends[s]
			if !ok {
				continue
			}
			fmt.Fprintf(&b, "  %s %s %s\n",
				labelStyle.Render(fmt.Sprintf("%-6s", s)),
				trendBadge(t.Trend),
				dimStyle.Render(fmt.Sprintf("failures=%d", a.Failures[s])))
		}
	}

	b.WriteString(labelStyle.Render("  Sessions: ") + valueStyle.Render(fmt.Sprintf("%d", st.Sessions)) + "\n")

	footer := footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerStyle.Render(fmt.Sprintf("Auto: %v", m.interval))
	b.WriteString("\n" + footer)

	return containerStyle.Render(b.String())
}

func trendBadge(trend selfheal.Trend) string {
	label := fmt.Sprintf("%-15s", trend)
	switch trend {
	case selfheal.TrendEmerging, selfheal.TrendIncreasing:
		return errorStyle.Render(label)
	case selfheal.TrendSlightIncrease:
		return warningStyle.Render(label)
	case selfheal.TrendDecreasing, selfheal.TrendSlightDecrease:
		return healthyStyle.Render(label)
	default:
		return dimStyle.Render(label)
	}
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// Render draws a single snapshot without starting a program.
func Render(snap Snapshot, interval time.Duration) string {
	m := NewModel(nil, interval).apply(snap)
	return m.View()
}
