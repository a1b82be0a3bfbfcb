package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"

	"github.com/JonMunkholm/bundlewizard/internal/backend"
	"github.com/JonMunkholm/bundlewizard/internal/core"
)

const pollInterval = time.Second

// Theme holds the color scheme for terminal output.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Warning: lipgloss.Color("#FFAF00"), // amber
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) warningStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Warning)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

func newProgressBar() progress.Model {
	return progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)
}

// conversionMsg carries one progress update of the running conversion.
type conversionMsg core.ConversionProgress

// streamClosedMsg is sent once the progress channel is closed.
type streamClosedMsg struct{}

// conversionModel renders a conversion pushed to it through Program.Send.
type conversionModel struct {
	fileName string
	state    core.ConversionProgress
	progress progress.Model
	theme    Theme
	done     bool
	quitting bool
}

func newConversionModel(fileName string) conversionModel {
	return conversionModel{
		fileName: fileName,
		state:    core.ConversionProgress{FileName: fileName, Phase: core.PhaseStarting},
		progress: newProgressBar(),
		theme:    defaultTheme,
	}
}

func (m conversionModel) Init() tea.Cmd {
	return m.progress.Init()
}

func (m conversionModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case conversionMsg:
		m.state = core.ConversionProgress(msg)
		if m.state.Done() {
			m.done = true
			return m, tea.Quit
		}

	case streamClosedMsg:
		m.done = true
		return m, tea.Quit

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m conversionModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m conversionModel) renderContent() string {
	if m.done || m.quitting {
		return m.finalView()
	}

	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.state.Phase))
	bar := m.progress.ViewAs(float64(m.state.Percent()) / 100)

	var counts string
	if m.state.Total > 0 {
		counts = fmt.Sprintf("%d/%d chunks", m.state.Current, m.state.Total)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s\n", status, bar, counts)
	if m.state.Message != "" {
		b.WriteString("  " + m.state.Message + "\n")
	}
	b.WriteString(m.theme.hintStyle().Render("Press q to cancel") + "\n")
	return b.String()
}

func (m conversionModel) finalView() string {
	switch {
	case m.quitting:
		return m.theme.hintStyle().Render(fmt.Sprintf("\nConversion of %s cancelled.\n", m.fileName))
	case m.state.Phase == core.PhaseFailed:
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Conversion failed: %s\n", m.state.Error))
	case m.state.Phase == core.PhaseCancelled:
		return m.theme.hintStyle().Render("\nConversion cancelled.\n")
	}

	out := m.theme.completedStyle().Render("✓ Converted "+m.fileName) + "\n"
	if m.state.Total > 0 {
		out += fmt.Sprintf("  Chunks processed: %d\n", m.state.Total)
	}
	if m.state.Pages > 0 {
		out += fmt.Sprintf("  Pages:            %d\n", m.state.Pages)
	}
	return out
}

// progressUpdateMsg carries one /progress poll result.
type progressUpdateMsg struct {
	status backend.ProgressStatus
	err    error
}

type tickMsg time.Time

// watchModel polls the backend's /progress endpoint.
type watchModel struct {
	client   *backend.Client
	status   backend.ProgressStatus
	seen     bool
	progress progress.Model
	theme    Theme
	err      error
	quitting bool
}

func newWatchModel(c *backend.Client) watchModel {
	return watchModel{
		client:   c,
		progress: newProgressBar(),
		theme:    defaultTheme,
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(
		m.fetch(),
		m.progress.Init(),
	)
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		return m, m.fetch()

	case progressUpdateMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, tea.Quit
		}
		m.status = msg.status
		m.seen = true
		return m, tickCmd()

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m watchModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m watchModel) renderContent() string {
	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ %s\n", m.err))
	}
	if m.quitting {
		return ""
	}
	if !m.seen {
		return "Contacting backend...\n"
	}
	return formatProgress(m.status, m.progress, m.theme) + "\n" +
		m.theme.hintStyle().Render("Press q to stop watching") + "\n"
}

func (m watchModel) fetch() tea.Cmd {
	c := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		status, err := c.Progress(ctx)
		return progressUpdateMsg{status: status, err: err}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// formatProgress renders one /progress status line.
func formatProgress(s backend.ProgressStatus, bar progress.Model, theme Theme) string {
	step := theme.statusStyle().Render(fmt.Sprintf("[step %d]", s.CurrentStep))
	if s.TotalSteps <= 0 {
		return fmt.Sprintf("%s %s", step, s.Message)
	}
	pct := float64(s.CurrentStep) / float64(s.TotalSteps)
	if pct > 1 {
		pct = 1
	}
	return fmt.Sprintf("%s %s %d/%d %s", step, bar.ViewAs(pct), s.CurrentStep, s.TotalSteps, s.Message)
}
