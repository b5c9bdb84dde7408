// Package web serves the upload, status, cancel and reset endpoints used by
// the operator page.
package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/a3tai/rat-autofill/internal/config"
	"github.com/a3tai/rat-autofill/internal/job"
	"github.com/a3tai/rat-autofill/internal/pdf"
	"github.com/a3tai/rat-autofill/internal/pdf/security"
)

const (
	uploadField     = "pdf_files"
	multipartMemory = 32 << 20
	// room for multipart headers and boundaries on top of the file limits
	multipartSlack = 1 << 20
)

var errTooLarge = errors.New("upload exceeds the file size limit")

// Handler serves the HTTP surface. Runs started here are bound to the
// handler's lifetime context, not to the upload request.
type Handler struct {
	cfg       *config.Config
	runner    *job.Runner
	paths     *security.PathValidator
	validator *pdf.Validator
	logger    *log.Logger
	lifetime  context.Context
	now       func() time.Time
}

// NewHandler creates a Handler. ctx bounds every run started through it.
func NewHandler(ctx context.Context, cfg *config.Config, runner *job.Runner, logger *log.Logger) (*Handler, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner cannot be nil")
	}
	if logger == nil {
		logger = log.Default()
	}

	paths, err := security.NewPathValidator(cfg.UploadDirectory)
	if err != nil {
		return nil, fmt.Errorf("invalid upload directory: %w", err)
	}

	return &Handler{
		cfg:       cfg,
		runner:    runner,
		paths:     paths,
		validator: pdf.NewValidator(cfg.MaxFileSize),
		logger:    logger,
		lifetime:  ctx,
		now:       time.Now,
	}, nil
}

// Routes returns an http.Handler with all routes registered and wrapped with
// logging and recovery middleware.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /upload", h.Upload)
	mux.HandleFunc("GET /status", h.Status)
	mux.HandleFunc("POST /cancel", h.Cancel)
	mux.HandleFunc("POST /reset", h.Reset)
	mux.HandleFunc("GET /reset", h.Reset)

	wrapped := recoveryMiddleware(h.logger, mux)
	wrapped = loggingMiddleware(h.logger, wrapped)

	return wrapped
}

// Upload validates the uploaded PDFs, stores them and starts a run over the
// stored copies. Files without a .pdf extension and files that fail PDF
// validation are skipped; the upload is rejected only when nothing remains.
// The stored files are removed when the run ends.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.runner.Running() {
		writeFailure(w, http.StatusConflict, MessageBusy)
		return
	}

	limit := int64(h.cfg.MaxFiles)*h.cfg.MaxFileSize + multipartSlack
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeFailure(w, http.StatusRequestEntityTooLarge, fmt.Sprintf(MessageTooLarge, "upload"))
			return
		}
		writeFailure(w, http.StatusBadRequest, MessageNoFiles)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	files := r.MultipartForm.File[uploadField]
	if len(files) == 0 || files[0].Filename == "" {
		writeFailure(w, http.StatusBadRequest, MessageNoFiles)
		return
	}
	if len(files) > h.cfg.MaxFiles {
		writeFailure(w, http.StatusBadRequest, fmt.Sprintf(MessageTooManyFiles, h.cfg.MaxFiles))
		return
	}

	var (
		docs    []pdf.Document
		invalid []string
	)
	for _, fh := range files {
		if !pdf.IsPDFName(fh.Filename) {
			h.logger.Printf("[WARN] skipping non-PDF upload: %s", fh.Filename)
			continue
		}

		doc, err := h.readUpload(fh)
		if errors.Is(err, errTooLarge) {
			writeFailure(w, http.StatusRequestEntityTooLarge, fmt.Sprintf(MessageTooLarge, fh.Filename))
			return
		}
		if err != nil {
			h.logger.Printf("[WARN] skipping invalid upload %s: %v", fh.Filename, err)
			invalid = append(invalid, fh.Filename)
			continue
		}
		docs = append(docs, doc)
	}
	if len(docs) == 0 {
		if len(invalid) > 0 {
			writeFailure(w, http.StatusBadRequest, fmt.Sprintf(MessageInvalidPDF, strings.Join(invalid, ", ")))
			return
		}
		writeFailure(w, http.StatusBadRequest, MessageUnsupported)
		return
	}

	docs, stored, err := h.store(docs)
	if err != nil {
		h.logger.Printf("[ERROR] failed to store uploads: %v", err)
		writeFailure(w, http.StatusInternalServerError, MessageInternal)
		return
	}

	id, err := h.runner.Start(h.lifetime, docs, func() { h.remove(stored) })
	if err != nil {
		h.remove(stored)
		if errors.Is(err, job.ErrRunInProgress) {
			writeFailure(w, http.StatusConflict, MessageBusy)
			return
		}
		h.logger.Printf("[ERROR] failed to start run: %v", err)
		writeFailure(w, http.StatusInternalServerError, MessageInternal)
		return
	}

	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: fmt.Sprintf(MessageStarted, len(docs)),
		RunID:   id,
	})
}

// Status returns the current run status.
func (h *Handler) Status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.runner.Snapshot())
}

// Cancel asks the active run to stop before its next user.
func (h *Handler) Cancel(w http.ResponseWriter, _ *http.Request) {
	if err := h.runner.Cancel(); err != nil {
		writeFailure(w, http.StatusConflict, MessageNothingRunning)
		return
	}
	writeOK(w, MessageCancelling)
}

// Reset clears a finished run; it is refused while a run is active.
func (h *Handler) Reset(w http.ResponseWriter, _ *http.Request) {
	if !h.runner.Reset() {
		writeFailure(w, http.StatusConflict, MessageBusy)
		return
	}
	writeOK(w, MessageReset)
}

// readUpload reads and validates one uploaded file. errTooLarge rejects the
// whole upload; any other error only disqualifies this file.
func (h *Handler) readUpload(fh *multipart.FileHeader) (pdf.Document, error) {
	if fh.Size > h.cfg.MaxFileSize {
		return pdf.Document{}, errTooLarge
	}

	f, err := fh.Open()
	if err != nil {
		return pdf.Document{}, fmt.Errorf("cannot open upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, h.cfg.MaxFileSize+1))
	if err != nil {
		return pdf.Document{}, fmt.Errorf("cannot read upload: %w", err)
	}

	doc := pdf.Document{Name: fh.Filename, Data: data}
	if doc.Size() > h.cfg.MaxFileSize {
		return pdf.Document{}, errTooLarge
	}
	if _, err := h.validator.Validate(doc); err != nil {
		return pdf.Document{}, err
	}
	return doc, nil
}

// store writes docs into the upload directory under timestamped names and
// returns the documents read back from the stored files, which are what the
// run processes.
func (h *Handler) store(docs []pdf.Document) ([]pdf.Document, []string, error) {
	stored := make([]string, 0, len(docs))
	loaded := make([]pdf.Document, 0, len(docs))
	for _, doc := range docs {
		path, err := h.paths.UploadPath(doc.Name, h.now())
		if err == nil {
			err = os.WriteFile(path, doc.Data, 0o600)
		}
		var onDisk pdf.Document
		if err == nil {
			stored = append(stored, path)
			onDisk, err = pdf.LoadDocument(path, h.cfg.MaxFileSize)
		}
		if err != nil {
			h.remove(stored)
			return nil, nil, fmt.Errorf("%s: %w", doc.Name, err)
		}
		loaded = append(loaded, onDisk)
	}
	return loaded, stored, nil
}

func (h *Handler) remove(paths []string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			h.logger.Printf("[WARN] failed to remove %s: %v", p, err)
		}
	}
}
