package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/a3tai/rat-autofill/internal/browser"
	"github.com/a3tai/rat-autofill/internal/config"
	"github.com/a3tai/rat-autofill/internal/credentials"
	"github.com/a3tai/rat-autofill/internal/form"
	"github.com/a3tai/rat-autofill/internal/job"
	"github.com/a3tai/rat-autofill/internal/mcp"
	"github.com/a3tai/rat-autofill/internal/pdf"
	"github.com/a3tai/rat-autofill/internal/web"
)

var (
	version   = "dev"     // This will be set by build flags
	buildTime = "unknown" // This will be set by build flags
	gitCommit = "unknown" // This will be set by build flags
)

// setupLogging configures logging based on the server mode
func setupLogging(cfg *config.Config) {
	if cfg.IsStdioMode() {
		// In stdio mode, redirect log output to stderr to avoid interfering with MCP protocol
		log.SetOutput(os.Stderr)
		// Reduce log verbosity in stdio mode unless debug is enabled
		if !cfg.IsDebug() {
			log.SetOutput(io.Discard)
		}
	} else {
		log.SetOutput(os.Stderr)
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}
}

// app holds the wired components shared by both modes
type app struct {
	extractor *credentials.Stitcher
	runner    *job.Runner
}

// newApp wires config into the extraction and automation pipeline
func newApp(cfg *config.Config) (*app, error) {
	drv, err := browser.New(browser.Options{
		Driver:   cfg.Driver,
		Headless: cfg.Headless,
		Bin:      cfg.BrowserBin,
	})
	if err != nil {
		return nil, err
	}

	rules, err := cfg.FormRules()
	if err != nil {
		return nil, err
	}

	machine := form.New(form.Options{
		TargetURL:   cfg.TargetURL,
		Answers:     cfg.Answers,
		Rules:       rules,
		SettleDelay: cfg.SettleDelay,
		StepTimeout: cfg.StepTimeout,
	})

	extractor := credentials.NewStitcher(pdf.NewTableReader(), nil)
	runner := job.NewRunner(job.Options{
		Browser:   drv,
		Extractor: extractor,
		Processor: machine,
		UserDelay: cfg.UserDelay,
	})

	return &app{extractor: extractor, runner: runner}, nil
}

// runServerMode serves the HTTP surface until a signal arrives, then lets
// the active run stop at its next user boundary.
func runServerMode(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, a *app) error {
	handler, err := web.NewHandler(ctx, cfg, a.runner, nil)
	if err != nil {
		return fmt.Errorf("failed to create HTTP handler: %w", err)
	}

	// Set up signal handling for graceful shutdown
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(signalCh)

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- handler.Serve(ctx, cfg.Address())
	}()

	select {
	case sig := <-signalCh:
		log.Printf("Received signal: %s", sig)
		log.Println("Initiating graceful shutdown...")
		cancel()
		err = <-serverErrCh
	case err = <-serverErrCh:
		cancel()
	}

	a.runner.Wait()
	if err != nil {
		return err
	}

	log.Println("Server stopped successfully")
	return nil
}

// runStdioMode serves the MCP tools until stdin closes
func runStdioMode(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, a *app) error {
	server, err := mcp.NewServer(cfg, a.extractor, a.runner, log.Default())
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	// In stdio mode, the parent process controls our lifecycle
	err = server.Run(ctx)
	cancel()
	a.runner.Wait()
	return err
}

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" || arg == "-v" {
			printVersion()
			return
		}
	}

	cfg, err := config.LoadFromFlags()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	setupLogging(cfg)

	// Set version if it was provided during build
	if version != "dev" {
		cfg.Version = version
	}

	if cfg.IsDebug() && cfg.IsServerMode() {
		log.Printf("Starting with configuration: %s", cfg.String())
	}

	a, err := newApp(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.IsServerMode() {
		err = runServerMode(ctx, cancel, cfg, a)
	} else {
		err = runStdioMode(ctx, cancel, cfg, a)
	}
	if err != nil {
		log.Printf("Server error: %v", err)
		cancel()
		os.Exit(1)
	}
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("RAT Autofill\n")
	fmt.Printf("Version: %s\n", version)
	fmt.Printf("Build Time: %s\n", buildTime)
	fmt.Printf("Git Commit: %s\n", gitCommit)
	fmt.Printf("Built with: %s\n", runtime.Version())
}
