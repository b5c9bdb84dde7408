package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/a3tai/rat-autofill/internal/config"
	"github.com/a3tai/rat-autofill/internal/job"
	"github.com/a3tai/rat-autofill/internal/pdf"
	"github.com/a3tai/rat-autofill/internal/pdf/security"
)

// Server represents the MCP server instance
type Server struct {
	config    *config.Config
	extractor job.Extractor
	runner    *job.Runner
	paths     *security.PathValidator
	validator *pdf.Validator
	mcpServer *server.MCPServer
	logger    *log.Logger

	mu     sync.Mutex
	runCtx context.Context
}

// NewServer creates a new MCP server instance. A nil logger logs through the
// standard logger.
func NewServer(cfg *config.Config, extractor job.Extractor, runner *job.Runner, logger *log.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if extractor == nil {
		return nil, fmt.Errorf("extractor cannot be nil")
	}
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

	mcpServer := server.NewMCPServer(
		cfg.ServerName,
		cfg.Version,
		server.WithToolCapabilities(false), // We don't support dynamic tool capabilities
	)

	s := &Server{
		config:    cfg,
		extractor: extractor,
		runner:    runner,
		paths:     paths,
		validator: pdf.NewValidator(cfg.MaxFileSize),
		mcpServer: mcpServer,
		logger:    logger,
		runCtx:    context.Background(),
	}

	s.registerTools()

	return s, nil
}

// registerTools registers all available MCP tools
func (s *Server) registerTools() {
	pathsParam := mcp.WithString("paths",
		mcp.Required(),
		mcp.Description("Comma- or newline-separated PDF paths, relative to or inside the upload directory"),
	)

	extractTool := mcp.NewTool(
		"rat_extract_users",
		mcp.WithDescription("List the usernames found in the Username/Password tables of member PDFs, without running the autofill"),
		pathsParam,
	)
	s.mcpServer.AddTool(extractTool, s.handleExtractUsers)

	startTool := mcp.NewTool(
		"rat_start",
		mcp.WithDescription("Start an autofill run over the users found in member PDFs. Only one run may be active at a time"),
		pathsParam,
	)
	s.mcpServer.AddTool(startTool, s.handleStart)

	statusTool := mcp.NewTool(
		"rat_status",
		mcp.WithDescription("Get the progress of the current or last autofill run as JSON"),
	)
	s.mcpServer.AddTool(statusTool, s.handleStatus)

	cancelTool := mcp.NewTool(
		"rat_cancel",
		mcp.WithDescription("Ask the active autofill run to stop before the next user"),
	)
	s.mcpServer.AddTool(cancelTool, s.handleCancel)

	resetTool := mcp.NewTool(
		"rat_reset",
		mcp.WithDescription("Clear the status of a finished autofill run"),
	)
	s.mcpServer.AddTool(resetTool, s.handleReset)
}

func (s *Server) handleExtractUsers(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := request.RequireString("paths")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	docs, err := s.loadDocuments(raw)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	records := s.extractor.ExtractAll(docs)
	if len(records) == 0 {
		return mcp.NewToolResultError(job.MessageNoUsers), nil
	}

	text := fmt.Sprintf("Found %d user(s) in %d document(s):\n", len(records), len(docs))
	for i, rec := range records {
		text += fmt.Sprintf("%d. %s\n", i+1, rec.Username)
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleStart(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := request.RequireString("paths")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if s.runner.Running() {
		return mcp.NewToolResultError(job.ErrRunInProgress.Error()), nil
	}

	docs, err := s.loadDocuments(raw)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	// the run outlives this call, so it is bound to the server lifetime
	id, err := s.runner.Start(s.lifetime(), docs, nil)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	text := fmt.Sprintf("Autofill run %s started with %d document(s).\n", id, len(docs))
	text += "Use 'rat_status' to follow its progress and 'rat_cancel' to stop it."
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(s.runner.Snapshot(), "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode status: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handleCancel(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.runner.Cancel(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("Cancellation requested; the run stops before the next user."), nil
}

func (s *Server) handleReset(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.runner.Reset() {
		return mcp.NewToolResultError("cannot reset while a run is in progress"), nil
	}
	return mcp.NewToolResultText("Status cleared."), nil
}

// loadDocuments resolves, reads and validates the listed files. A path outside
// the upload directory rejects the whole batch. Names without a .pdf extension
// and files that cannot be read or fail validation are skipped; the batch is
// rejected only when nothing remains.
func (s *Server) loadDocuments(raw string) ([]pdf.Document, error) {
	var paths []string
	for _, p := range strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == '\n' }) {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, p)
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no files given")
	}
	if len(paths) > s.config.MaxFiles {
		return nil, fmt.Errorf("too many files: %d (max: %d)", len(paths), s.config.MaxFiles)
	}

	var (
		docs    []pdf.Document
		skipped []error
	)
	for _, p := range paths {
		if _, err := s.paths.Resolve(p); err != nil {
			return nil, err
		}
		if !pdf.IsPDFName(p) {
			s.logger.Printf("[WARN] skipping non-PDF file: %s", p)
			continue
		}

		doc, err := s.readDocument(p)
		if err != nil {
			s.logger.Printf("[WARN] skipping unreadable PDF %s: %v", p, err)
			skipped = append(skipped, err)
			continue
		}
		docs = append(docs, doc)
	}

	if len(docs) == 0 {
		if len(skipped) > 0 {
			return nil, fmt.Errorf("no readable PDF documents: %w", errors.Join(skipped...))
		}
		return nil, fmt.Errorf("unsupported format: %w", pdf.ErrNotPDF)
	}
	return docs, nil
}

func (s *Server) readDocument(path string) (pdf.Document, error) {
	resolved, err := s.paths.ValidateFile(path)
	if err != nil {
		return pdf.Document{}, err
	}
	doc, err := pdf.LoadDocument(resolved, s.config.MaxFileSize)
	if err != nil {
		return pdf.Document{}, err
	}
	if _, err := s.validator.Validate(doc); err != nil {
		return pdf.Document{}, err
	}
	return doc, nil
}

func (s *Server) lifetime() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runCtx
}

// Run serves the tools over stdio until the client disconnects. Runs started
// through the tools are bound to ctx.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	s.runCtx = ctx
	s.mu.Unlock()

	if s.config.IsDebug() {
		s.logger.Printf("Starting RAT autofill MCP server in stdio mode")
		s.logger.Printf("Upload directory: %s", s.paths.GetConfiguredDirectory())
	}

	if err := server.ServeStdio(s.mcpServer); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("failed to serve stdio: %w", err)
	}
	return nil
}
