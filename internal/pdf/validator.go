package pdf

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ErrNotPDF is returned for names without a .pdf extension.
var ErrNotPDF = errors.New("file is not a PDF")

// Validator checks uploaded documents before they reach table extraction.
type Validator struct {
	maxFileSize int64
}

// NewValidator creates a new PDF validator with the specified constraints
func NewValidator(maxFileSize int64) *Validator {
	return &Validator{
		maxFileSize: maxFileSize,
	}
}

// IsPDFName reports whether name carries a .pdf extension (case-insensitive).
func IsPDFName(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".pdf")
}

// Validate checks the name, the size limits and the PDF structure of doc and
// returns its page count.
func (v *Validator) Validate(doc Document) (int, error) {
	if !IsPDFName(doc.Name) {
		return 0, &DocumentError{Name: doc.Name, Op: "validate", Err: ErrNotPDF}
	}

	if doc.Size() == 0 {
		return 0, &DocumentError{Name: doc.Name, Op: "validate", Err: fmt.Errorf("file is empty")}
	}

	if v.maxFileSize > 0 && doc.Size() > v.maxFileSize {
		return 0, &DocumentError{
			Name: doc.Name,
			Op:   "validate",
			Err:  fmt.Errorf("file too large: %d bytes (max: %d bytes)", doc.Size(), v.maxFileSize),
		}
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	ctx, err := api.ReadContext(bytes.NewReader(doc.Data), conf)
	if err != nil {
		return 0, &DocumentError{Name: doc.Name, Op: "validate", Err: fmt.Errorf("invalid PDF file: %w", err)}
	}

	if err := api.ValidateContext(ctx); err != nil {
		return 0, &DocumentError{Name: doc.Name, Op: "validate", Err: fmt.Errorf("invalid PDF structure: %w", err)}
	}

	if err := ctx.EnsurePageCount(); err != nil {
		return 0, &DocumentError{Name: doc.Name, Op: "validate", Err: fmt.Errorf("failed to count pages: %w", err)}
	}

	return ctx.PageCount, nil
}
