package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	tea "charm.land/bubbletea/v2"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/bundlewizard/internal/backend"
)

var progressWatch bool

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the backend is reachable",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := client.Health(cmd.Context())
		renderHealth(os.Stdout, client.BaseURL(), h, defaultTheme)
		if err != nil {
			return userError(err)
		}
		return nil
	},
}

var progressCmd = &cobra.Command{
	Use:   "progress",
	Short: "Show the backend's current conversion progress",
	Long: `Poll the backend's /progress endpoint.

Examples:
  wizardctl progress
  wizardctl progress --watch`,
	Args: cobra.NoArgs,
	RunE: runProgress,
}

func init() {
	progressCmd.Flags().BoolVarP(&progressWatch, "watch", "w", false, "keep polling until interrupted")
}

func runProgress(cmd *cobra.Command, args []string) error {
	if !progressWatch {
		status, err := client.Progress(cmd.Context())
		if err != nil {
			return userError(err)
		}
		fmt.Println(formatProgress(status, newProgressBar(), defaultTheme))
		return nil
	}

	final, err := tea.NewProgram(newWatchModel(client), tea.WithContext(cmd.Context())).Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("progress UI error: %w", err)
	}
	if m, ok := final.(watchModel); ok && m.err != nil {
		return userError(m.err)
	}
	return nil
}

func renderHealth(w io.Writer, url string, h backend.HealthStatus, theme Theme) {
	latency := h.Latency.Round(time.Millisecond)
	if h.OK {
		fmt.Fprintf(w, "%s %s (%s, %s)\n", theme.completedStyle().Render("✓"), url, h.Status, latency)
		return
	}
	fmt.Fprintf(w, "%s %s (%s)\n", theme.errorStyle().Render("✗"), url, h.Status)
}
