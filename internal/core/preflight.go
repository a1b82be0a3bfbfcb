package core

// preflight.go rejects uploads the backend could never convert before a
// conversion slot is spent on them.

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var (
	ErrNoFile        = errors.New("no file provided")
	ErrEmptyFile     = errors.New("empty file")
	ErrFileTooLarge  = errors.New("file too large")
	ErrNotPDF        = errors.New("not a pdf")
	ErrUnreadablePDF = errors.New("unreadable pdf")
)

var pdfMagic = []byte("%PDF-")

// PreflightResult describes an accepted upload.
type PreflightResult struct {
	Size  int64
	Pages int // 0 when the document was not opened
}

// PreflightPDF checks size and the PDF header. With deep set it also opens
// the document with pdfcpu and counts its pages.
func PreflightPDF(data []byte, maxSize int64, deep bool) (PreflightResult, error) {
	res := PreflightResult{Size: int64(len(data))}

	if len(data) == 0 {
		return res, ErrEmptyFile
	}
	if maxSize > 0 && res.Size > maxSize {
		return res, fmt.Errorf("%w: %s exceeds %s", ErrFileTooLarge, formatBytes(res.Size), formatBytes(maxSize))
	}
	// Some producers emit junk before the header; readers accept it within
	// the first KB.
	head := data[:min(len(data), 1024)]
	if !bytes.Contains(head, pdfMagic) {
		return res, ErrNotPDF
	}
	if !deep {
		return res, nil
	}

	pages, err := api.PageCount(bytes.NewReader(data), pdfConfig())
	if err != nil {
		return res, fmt.Errorf("%w: %v", ErrUnreadablePDF, err)
	}
	if pages == 0 {
		return res, fmt.Errorf("%w: document has no pages", ErrUnreadablePDF)
	}
	res.Pages = pages
	return res, nil
}

func pdfConfig() *model.Configuration {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return cfg
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%cB", float64(n)/float64(div), "KMGTPE"[exp])
}
