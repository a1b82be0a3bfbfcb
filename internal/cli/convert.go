package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	tea "charm.land/bubbletea/v2"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/bundlewizard/internal/core"
	"github.com/JonMunkholm/bundlewizard/internal/validation"
)

var (
	convertOutput   string
	convertFormat   string
	convertValidate bool
	convertQuiet    bool
)

var convertCmd = &cobra.Command{
	Use:   "convert <file.pdf>",
	Short: "Convert a PDF into an NHCX bundle",
	Long: `Upload a PDF to the backend, follow the conversion and write the
extracted bundle. With --validate the bundle is validated first and
nothing is written when the validation is fatal.

Examples:
  wizardctl convert plan.pdf
  wizardctl convert plan.pdf -o bundle.json --validate
  wizardctl convert plan.pdf --format yaml --quiet`,
	Args: cobra.ExactArgs(1),
	RunE: runConvert,
}

func init() {
	convertCmd.Flags().StringVarP(&convertOutput, "output", "o", "", "write the bundle to this file instead of stdout")
	convertCmd.Flags().StringVar(&convertFormat, "format", "json", "output format: json or yaml")
	convertCmd.Flags().BoolVar(&convertValidate, "validate", false, "validate the bundle before writing it")
	convertCmd.Flags().BoolVarP(&convertQuiet, "quiet", "q", false, "no progress display")
}

func runConvert(cmd *cobra.Command, args []string) error {
	format, err := parseFormat(convertFormat)
	if err != nil {
		return err
	}

	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	service, err := core.NewService(cfg, client, core.NewLogAuditStore(slog.Default()))
	if err != nil {
		return err
	}
	defer service.CancelAll()

	wiz := service.NewWizard(ctx)
	fileName := filepath.Base(path)

	if _, err := service.StartConversion(ctx, wiz.ID, fileName, data); err != nil {
		return userError(err)
	}

	if convertQuiet {
		err = waitQuietly(ctx, service, wiz.ID)
	} else {
		err = followConversion(ctx, service, wiz.ID, fileName)
	}
	if err != nil {
		return err
	}

	final, err := service.ConversionStatus(wiz.ID)
	if err != nil {
		return err
	}
	if err := conversionError(final); err != nil {
		return err
	}

	if err := service.ProceedToValidate(ctx, wiz.ID); err != nil {
		return userError(err)
	}

	if convertValidate {
		report, err := service.RunValidation(ctx, wiz.ID)
		if err != nil {
			return userError(err)
		}
		renderReport(os.Stderr, report, defaultTheme)
		if err := reportExitError(report); err != nil {
			return err
		}
		if err := service.AdvanceToDownload(wiz.ID); err != nil {
			return userError(err)
		}
	}

	doc, err := service.ReviewedDocument(wiz.ID)
	if err != nil {
		return userError(err)
	}
	out, err := encodeDocument(doc, format)
	if err != nil {
		return err
	}
	return writeOutput(convertOutput, out)
}

// waitQuietly blocks until the conversion ends. An interrupt cancels it.
func waitQuietly(ctx context.Context, service *core.Service, wizardID string) error {
	_, err := service.WaitForConversion(ctx, wizardID)
	if err != nil && ctx.Err() != nil {
		_ = service.CancelConversion(wizardID)
		return core.ErrConversionCancelled
	}
	return err
}

// followConversion shows the progress bar until the conversion ends.
// One goroutine runs the UI while a second forwards progress updates to it.
func followConversion(ctx context.Context, service *core.Service, wizardID, fileName string) error {
	updates, err := service.SubscribeProgress(wizardID)
	if err != nil {
		return err
	}

	p := tea.NewProgram(newConversionModel(fileName), tea.WithContext(ctx))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		final, err := p.Run()
		if m, ok := final.(conversionModel); ok && m.quitting {
			_ = service.CancelConversion(wizardID)
			return core.ErrConversionCancelled
		}
		if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			return fmt.Errorf("progress UI error: %w", err)
		}
		if ctx.Err() != nil {
			_ = service.CancelConversion(wizardID)
			return core.ErrConversionCancelled
		}
		return nil
	})
	g.Go(func() error {
		for {
			select {
			case u, ok := <-updates:
				if !ok {
					p.Send(streamClosedMsg{})
					return nil
				}
				p.Send(conversionMsg(u))
			case <-gctx.Done():
				return nil
			}
		}
	})
	return g.Wait()
}

// conversionError turns a finished conversion into the command's error.
func conversionError(p core.ConversionProgress) error {
	switch p.Phase {
	case core.PhaseComplete:
		return nil
	case core.PhaseCancelled:
		return core.ErrConversionCancelled
	case core.PhaseFailed:
		if p.Code != "" {
			return fmt.Errorf("conversion failed: %s (Code: %s)", p.Error, p.Code)
		}
		return fmt.Errorf("conversion failed: %s", p.Error)
	default:
		return fmt.Errorf("conversion did not finish (phase %s)", p.Phase)
	}
}

// userError swaps err for its user-facing message when one is known.
func userError(err error) error {
	if core.IsUserFacing(err) {
		return errors.New(core.FormatUserError(err))
	}
	return err
}

// reportExitError returns an error for a report that must fail the command.
func reportExitError(r validation.Report) error {
	if r.Fatal() {
		return fmt.Errorf("validation failed: %s", r.Error)
	}
	return nil
}
