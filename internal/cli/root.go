// Package cli provides the command-line interface for the bundle wizard.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/bundlewizard/internal/backend"
	"github.com/JonMunkholm/bundlewizard/internal/config"
	"github.com/JonMunkholm/bundlewizard/internal/logging"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose    bool
	backendURL string

	// Loaded in PersistentPreRunE
	cfg    *config.Config
	client *backend.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "wizardctl",
	Short: "Convert insurance plan PDFs into NHCX bundles",
	Long: `wizardctl drives the conversion backend from the terminal.

It runs the same steps as the web wizard: upload a PDF, take the
extracted bundle as reviewed, optionally validate it, and write the
result. The backend address comes from BACKEND_URL (or .env) unless
--backend is given.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		// .env is optional; real environment variables win.
		_ = godotenv.Load()

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		if backendURL != "" {
			cfg.Backend.URL = backendURL
		}

		// Log lines go to stderr so stdout stays clean for documents.
		level := "warn"
		if verbose {
			level = "debug"
		}
		slog.SetDefault(logging.New(os.Stderr, nil, level, "text"))

		client = backend.New(cfg.Backend.URL, backend.WithTimeout(cfg.Backend.Timeout))
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&backendURL, "backend", "", "backend base URL (overrides BACKEND_URL)")

	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(excelCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(progressCmd)
}
