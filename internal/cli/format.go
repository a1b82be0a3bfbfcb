package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/bundlewizard/internal/document"
	"github.com/JonMunkholm/bundlewizard/internal/validation"
)

type outputFormat string

const (
	formatJSON outputFormat = "json"
	formatYAML outputFormat = "yaml"
)

func parseFormat(s string) (outputFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return formatJSON, nil
	case "yaml", "yml":
		return formatYAML, nil
	default:
		return "", fmt.Errorf("unknown format %q (want json or yaml)", s)
	}
}

// encodeDocument renders a document tree. Both formats end with a newline.
func encodeDocument(doc any, format outputFormat) ([]byte, error) {
	if format == formatJSON {
		b, err := document.Marshal(doc)
		if err != nil {
			return nil, err
		}
		return append(b, '\n'), nil
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(yamlNode(doc)); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	return buf.Bytes(), nil
}

// yamlNode converts a document tree into a YAML node. Numbers keep their
// original text and object keys are sorted.
func yamlNode(v any) *yaml.Node {
	switch t := v.(type) {
	case map[string]any:
		n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, k := range slices.Sorted(maps.Keys(t)) {
			n.Content = append(n.Content, scalar("!!str", k), yamlNode(t[k]))
		}
		return n
	case []any:
		n := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, item := range t {
			n.Content = append(n.Content, yamlNode(item))
		}
		return n
	case json.Number:
		if strings.ContainsAny(string(t), ".eE") {
			return scalar("!!float", string(t))
		}
		return scalar("!!int", string(t))
	case string:
		return scalar("!!str", t)
	case bool:
		return scalar("!!bool", strconv.FormatBool(t))
	case float64:
		return scalar("!!float", strconv.FormatFloat(t, 'f', -1, 64))
	case nil:
		return scalar("!!null", "null")
	default:
		n := &yaml.Node{}
		if err := n.Encode(t); err != nil {
			return scalar("!!str", fmt.Sprint(t))
		}
		return n
	}
}

func scalar(tag, value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: value}
}

// writeOutput writes data to path, or to stdout when path is empty or "-".
func writeOutput(path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(os.Stderr, "Wrote %s (%d bytes)\n", path, len(data))
	return nil
}

// renderReport prints a validation report for humans.
func renderReport(w io.Writer, r validation.Report, theme Theme) {
	if r.Fatal() {
		fmt.Fprintln(w, theme.errorStyle().Render("✗ Validation failed: "+r.Error))
		return
	}

	headline := fmt.Sprintf("Score %.1f%%", r.Score())
	if r.CompliancePercentage != nil {
		headline += fmt.Sprintf(", compliance %.1f%%", r.Compliance())
	}
	if r.TotalChecks > 0 {
		headline += fmt.Sprintf(", %d/%d checks passed", r.PassedChecks, r.TotalChecks)
	}

	if r.Passed() {
		fmt.Fprintln(w, theme.completedStyle().Render("✓ Validation passed")+"  "+headline)
	} else {
		fmt.Fprintln(w, theme.warningStyle().Render("! Validation finished with errors")+"  "+headline)
	}

	writeIssues(w, "Errors", r.Errors, theme.errorStyle())
	writeIssues(w, "Warnings", r.Warnings, theme.warningStyle())
}

func writeIssues(w io.Writer, title string, issues []validation.Issue, style lipgloss.Style) {
	if len(issues) == 0 {
		return
	}
	fmt.Fprintln(w, style.Render(fmt.Sprintf("\n%s (%d):", title, len(issues))))
	for _, is := range issues {
		where := strings.Trim(is.Resource+"."+is.Field, ".")
		if where != "" {
			fmt.Fprintf(w, "  • %s: %s\n", where, is.Message)
		} else {
			fmt.Fprintf(w, "  • %s\n", is.Message)
		}
		if is.Remediation != "" {
			fmt.Fprintf(w, "    → %s\n", is.Remediation)
		}
	}
}
