package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/bundlewizard/internal/document"
)

var (
	validateJSON bool
	excelOutput  string
)

var validateCmd = &cobra.Command{
	Use:   "validate <bundle.json>",
	Short: "Validate a bundle against the NHCX profiles",
	Long: `Send a bundle to the backend's /validate endpoint and print the report.

Listed errors and warnings are reported but do not fail the command;
a report the backend marks as failed exits non-zero.

Examples:
  wizardctl validate bundle.json
  wizardctl validate bundle.json --json`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

var excelCmd = &cobra.Command{
	Use:   "excel <bundle.json>",
	Short: "Export a bundle as a spreadsheet",
	Args:  cobra.ExactArgs(1),
	RunE:  runExcel,
}

func init() {
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "print the raw report as JSON")
	excelCmd.Flags().StringVarP(&excelOutput, "output", "o", "", "spreadsheet path (default: <bundle>.xlsx)")
}

func runValidate(cmd *cobra.Command, args []string) error {
	doc, err := readDocument(args[0])
	if err != nil {
		return err
	}

	report, err := client.Validate(cmd.Context(), doc)
	if err != nil {
		return userError(err)
	}

	if validateJSON {
		b, err := document.Marshal(report)
		if err != nil {
			return err
		}
		fmt.Println(string(b))
	} else {
		renderReport(os.Stdout, report, defaultTheme)
	}
	return reportExitError(report)
}

func runExcel(cmd *cobra.Command, args []string) error {
	doc, err := readDocument(args[0])
	if err != nil {
		return err
	}

	out := excelOutput
	if out == "" {
		out = excelPath(args[0])
	}

	data, err := client.JSONToExcel(cmd.Context(), doc)
	if err != nil {
		return userError(err)
	}
	return writeOutput(out, data)
}

// readDocument loads and parses a bundle file. "-" reads stdin.
func readDocument(path string) (any, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if document.IsEmpty(data) {
		return nil, fmt.Errorf("%s is empty", path)
	}

	doc, err := document.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

// excelPath is the default spreadsheet name for a bundle file.
func excelPath(bundle string) string {
	if bundle == "-" {
		return "bundle.xlsx"
	}
	return strings.TrimSuffix(bundle, filepath.Ext(bundle)) + ".xlsx"
}
