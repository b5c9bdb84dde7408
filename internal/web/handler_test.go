package web

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/rat-autofill/internal/browser"
	"github.com/a3tai/rat-autofill/internal/config"
	"github.com/a3tai/rat-autofill/internal/credentials"
	"github.com/a3tai/rat-autofill/internal/form"
	"github.com/a3tai/rat-autofill/internal/job"
	"github.com/a3tai/rat-autofill/internal/locator"
	"github.com/a3tai/rat-autofill/internal/pdf"
	"github.com/a3tai/rat-autofill/internal/pdf/pdftest"
)

type nopSession struct{}

func (nopSession) Navigate(context.Context, string) error { return nil }
func (nopSession) URL(context.Context) (string, error)    { return "", nil }
func (nopSession) Close() error                           { return nil }
func (nopSession) Locate(context.Context, locator.Locator) ([]browser.Element, error) {
	return nil, nil
}

type nopBrowser struct{}

func (nopBrowser) Open(context.Context) (browser.Session, error) { return nopSession{}, nil }

// recordingExtractor returns fixed records and keeps the documents it was
// handed.
type recordingExtractor struct {
	mu      sync.Mutex
	records []credentials.Record
	docs    []pdf.Document
}

func (e *recordingExtractor) ExtractAll(docs []pdf.Document) []credentials.Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.docs = append(e.docs, docs...)
	return e.records
}

func (e *recordingExtractor) seen() []pdf.Document {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]pdf.Document(nil), e.docs...)
}

// gatedProcessor succeeds for every user once gate is closed.
type gatedProcessor struct{ gate chan struct{} }

func (p gatedProcessor) Run(ctx context.Context, _ browser.Session, _ credentials.Record) form.Result {
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
		}
	}
	return form.Result{Outcome: form.OutcomeSuccess}
}

type upload struct {
	name string
	data []byte
}

func membersPDF() []byte {
	return pdftest.Table(
		[]string{"No", "Username", "Password"},
		[]string{"1", "user1", "pass1"},
		[]string{"2", "user2", "pass2"},
	)
}

type fixture struct {
	handler   *Handler
	runner    *job.Runner
	extractor *recordingExtractor
	cfg     *config.Config
	routes  http.Handler
	logs    *bytes.Buffer
}

func newFixture(t *testing.T, gate chan struct{}) *fixture {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.UploadDirectory = t.TempDir()
	logs := &bytes.Buffer{}
	logger := log.New(logs, "", 0)

	extractor := &recordingExtractor{records: []credentials.Record{
		{Username: "user1", Password: "pass1"},
		{Username: "user2", Password: "pass2"},
	}}
	runner := job.NewRunner(job.Options{
		Browser:   nopBrowser{},
		Extractor: extractor,
		Processor: gatedProcessor{gate: gate},
		Logger:    logger,
	})
	t.Cleanup(runner.Wait)

	h, err := NewHandler(context.Background(), cfg, runner, logger)
	require.NoError(t, err)

	return &fixture{handler: h, runner: runner, extractor: extractor, cfg: cfg, routes: h.Routes(), logs: logs}
}

func (f *fixture) do(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	rec := httptest.NewRecorder()
	f.routes.ServeHTTP(rec, req)

	var body envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func uploadRequest(t *testing.T, field string, files ...upload) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		part, err := mw.CreateFormFile(field, f.name)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.WriteField("note", "batch"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func storedFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestNewHandler(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.UploadDirectory = t.TempDir()
	runner := job.NewRunner(job.Options{})

	_, err := NewHandler(context.Background(), cfg, nil, nil)
	assert.ErrorContains(t, err, "runner cannot be nil")

	h, err := NewHandler(context.Background(), cfg, runner, nil)
	require.NoError(t, err)
	assert.NotNil(t, h.logger)

	cfg.UploadDirectory = ""
	_, err = NewHandler(context.Background(), cfg, runner, nil)
	assert.ErrorContains(t, err, "upload directory")
}

func TestHandler_Upload_StartsRunAndCleansUp(t *testing.T) {
	gate := make(chan struct{})
	f := newFixture(t, gate)

	rec, body := f.do(t, uploadRequest(t, uploadField,
		upload{name: "Daftar Anggota.pdf", data: membersPDF()},
		upload{name: "readme.txt", data: []byte("skip me")},
	))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, body.Success)
	assert.Equal(t, "1 file berhasil diupload! Proses otomatisasi dimulai...", body.Message)
	assert.NotEmpty(t, body.RunID)

	stored := storedFiles(t, f.cfg.UploadDirectory)
	require.Len(t, stored, 1)
	assert.True(t, strings.HasSuffix(stored[0], "_Daftar_Anggota.pdf"), stored[0])

	close(gate)
	f.runner.Wait()

	docs := f.extractor.seen()
	require.Len(t, docs, 1)
	assert.Equal(t, stored[0], docs[0].Name, "the run reads the stored copy")
	assert.Equal(t, membersPDF(), docs[0].Data)

	assert.Empty(t, storedFiles(t, f.cfg.UploadDirectory), "uploads are removed when the run ends")
	assert.Contains(t, f.logs.String(), "skipping non-PDF upload: readme.txt")

	status := f.runner.Snapshot()
	assert.Equal(t, body.RunID, status.RunID)
	assert.True(t, status.Completed)
	assert.Equal(t, job.Summary{Success: 2}, status.Summary)
}

func TestHandler_Upload_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(cfg *config.Config)
		req        func(t *testing.T) *http.Request
		wantStatus int
		wantMsg    string
	}{
		{
			name: "not multipart",
			req: func(t *testing.T) *http.Request {
				return httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("x=1"))
			},
			wantStatus: http.StatusBadRequest,
			wantMsg:    MessageNoFiles,
		},
		{
			name: "no pdf_files field",
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "other", upload{name: "members.pdf", data: membersPDF()})
			},
			wantStatus: http.StatusBadRequest,
			wantMsg:    MessageNoFiles,
		},
		{
			name:   "too many files",
			mutate: func(cfg *config.Config) { cfg.MaxFiles = 2 },
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, uploadField,
					upload{name: "a.pdf", data: membersPDF()},
					upload{name: "b.pdf", data: membersPDF()},
					upload{name: "c.pdf", data: membersPDF()},
				)
			},
			wantStatus: http.StatusBadRequest,
			wantMsg:    "Maksimum 2 file sekaligus!",
		},
		{
			name: "no PDF among the files",
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, uploadField, upload{name: "members.xlsx", data: []byte("PK")})
			},
			wantStatus: http.StatusBadRequest,
			wantMsg:    MessageUnsupported,
		},
		{
			name: "only corrupt PDFs",
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, uploadField,
					upload{name: "broken.pdf", data: []byte("%PDF-1.4 garbage")},
					upload{name: "empty.pdf", data: nil},
				)
			},
			wantStatus: http.StatusBadRequest,
			wantMsg:    "File PDF tidak valid: broken.pdf, empty.pdf",
		},
		{
			name:   "file over the size limit",
			mutate: func(cfg *config.Config) { cfg.MaxFileSize = 64 },
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, uploadField, upload{name: "members.pdf", data: membersPDF()})
			},
			wantStatus: http.StatusRequestEntityTooLarge,
			wantMsg:    "Ukuran file terlalu besar: members.pdf",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			if tt.mutate != nil {
				tt.mutate(f.cfg)
				h, err := NewHandler(context.Background(), f.cfg, f.runner, f.handler.logger)
				require.NoError(t, err)
				f.routes = h.Routes()
			}

			rec, body := f.do(t, tt.req(t))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.False(t, body.Success)
			assert.Equal(t, tt.wantMsg, body.Message)
			assert.False(t, f.runner.Running())
			assert.Empty(t, storedFiles(t, f.cfg.UploadDirectory))
		})
	}
}

func TestHandler_Upload_SkipsInvalidPDF(t *testing.T) {
	gate := make(chan struct{})
	f := newFixture(t, gate)

	rec, body := f.do(t, uploadRequest(t, uploadField,
		upload{name: "good.pdf", data: membersPDF()},
		upload{name: "scan-damaged.pdf", data: []byte("%PDF-1.4 garbage")},
	))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, body.Success)
	assert.Equal(t, "1 file berhasil diupload! Proses otomatisasi dimulai...", body.Message)

	stored := storedFiles(t, f.cfg.UploadDirectory)
	require.Len(t, stored, 1)
	assert.True(t, strings.HasSuffix(stored[0], "_good.pdf"), stored[0])

	close(gate)
	f.runner.Wait()

	docs := f.extractor.seen()
	require.Len(t, docs, 1)
	assert.True(t, strings.HasSuffix(docs[0].Name, "_good.pdf"), docs[0].Name)
	assert.Contains(t, f.logs.String(), "skipping invalid upload scan-damaged.pdf")
	assert.Equal(t, job.Summary{Success: 2}, f.runner.Snapshot().Summary)
}

func TestHandler_Upload_WhileRunning(t *testing.T) {
	gate := make(chan struct{})
	f := newFixture(t, gate)

	rec, _ := f.do(t, uploadRequest(t, uploadField, upload{name: "members.pdf", data: membersPDF()}))
	require.Equal(t, http.StatusOK, rec.Code)
	runID := f.runner.Snapshot().RunID

	rec, body := f.do(t, uploadRequest(t, uploadField, upload{name: "other.pdf", data: membersPDF()}))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, MessageBusy, body.Message)
	assert.Equal(t, runID, f.runner.Snapshot().RunID, "the active run is untouched")
	assert.Len(t, storedFiles(t, f.cfg.UploadDirectory), 1)

	close(gate)
}

func TestHandler_CancelAndReset(t *testing.T) {
	gate := make(chan struct{})
	f := newFixture(t, gate)

	rec, body := f.do(t, httptest.NewRequest(http.MethodPost, "/cancel", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, MessageNothingRunning, body.Message)

	rec, _ = f.do(t, uploadRequest(t, uploadField, upload{name: "members.pdf", data: membersPDF()}))
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body = f.do(t, httptest.NewRequest(http.MethodPost, "/reset", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.False(t, body.Success)

	rec, body = f.do(t, httptest.NewRequest(http.MethodPost, "/cancel", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, body.Success)
	assert.Equal(t, MessageCancelling, body.Message)

	close(gate)
	f.runner.Wait()

	status := f.runner.Snapshot()
	require.NotNil(t, status.Error)
	assert.Equal(t, job.MessageCancelled, *status.Error)
	assert.True(t, status.CancelRequested)

	rec, body = f.do(t, httptest.NewRequest(http.MethodGet, "/reset", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, body.Success)
	assert.Empty(t, f.runner.Snapshot().Results)
	assert.Nil(t, f.runner.Snapshot().Error)
}

func TestHandler_Status(t *testing.T) {
	f := newFixture(t, nil)

	rec := httptest.NewRecorder()
	f.routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.Equal(t, false, raw["running"])
	assert.Equal(t, float64(0), raw["total_users"])
	assert.Equal(t, []any{}, raw["results"])
	assert.Nil(t, raw["error"])
	assert.NotContains(t, f.logs.String(), "/status", "successful polls are not logged")
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	f := newFixture(t, nil)

	rec := httptest.NewRecorder()
	f.routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/upload", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	logs := &bytes.Buffer{}
	h := recoveryMiddleware(log.New(logs, "", 0), http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), MessageInternal)
	assert.Contains(t, logs.String(), "panic recovered on /status: boom")
}

func TestHandler_Serve(t *testing.T) {
	f := newFixture(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- f.handler.Serve(ctx, "127.0.0.1:0") }()

	cancel()
	assert.NoError(t, <-errCh)
}
