package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/a3tai/rat-autofill/internal/browser"
	"github.com/a3tai/rat-autofill/internal/form"
	"github.com/a3tai/rat-autofill/internal/locator"
)

const (
	// Mode constants
	ModeStdio  = "stdio"
	ModeServer = "server"

	// Default values
	DefaultPort        = 5000
	DefaultHost        = "127.0.0.1"
	DefaultLogLevel    = "info"
	DefaultMaxFileSize = 16 * 1024 * 1024 // 16MB
	DefaultMaxFiles    = 10
	DefaultTargetURL   = "https://komida.co.id/ratonline/"
	DefaultSettleDelay = 500 * time.Millisecond
	DefaultStepTimeout = 30 * time.Second
	DefaultUploadDir   = "uploads"

	// Directory permissions
	DefaultDirPerm = 0o750

	envPrefix = "RAT"
)

// Config holds all configuration for the autofill service
type Config struct {
	// Server configuration
	Mode string // "server" or "stdio"
	Host string
	Port int

	// Upload configuration
	UploadDirectory string
	MaxFileSize     int64 // Maximum PDF file size in bytes
	MaxFiles        int   // Maximum PDF files per upload

	// Automation configuration
	TargetURL   string
	UserDelay   time.Duration // pause between two users
	SettleDelay time.Duration // wait after login and after submit
	StepTimeout time.Duration // bound on every form step
	Driver      string        // "chrome" or "http"
	Headless    bool
	BrowserBin  string
	Answers     []form.Answer
	Rules       map[string]locator.Ranked // overrides of the default rule sets

	// Application configuration
	ConfigFile string
	Version    string
	ServerName string
	LogLevel   string
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	currentDir, err := os.Getwd()
	if err != nil {
		// Fallback to current directory if working directory cannot be determined
		currentDir = "."
	}

	return &Config{
		Mode:            ModeServer,
		Host:            DefaultHost,
		Port:            DefaultPort,
		UploadDirectory: filepath.Join(currentDir, DefaultUploadDir),
		MaxFileSize:     DefaultMaxFileSize,
		MaxFiles:        DefaultMaxFiles,
		TargetURL:       DefaultTargetURL,
		SettleDelay:     DefaultSettleDelay,
		StepTimeout:     DefaultStepTimeout,
		Driver:          browser.DriverChrome,
		Headless:        true,
		Answers:         form.DefaultAnswers(),
		Version:         "1.0.0",
		ServerName:      "rat-autofill",
		LogLevel:        DefaultLogLevel,
	}
}

// LoadFromFlags parses command line flags, the optional config file and the
// environment, and returns a configuration
func LoadFromFlags() (*Config, error) {
	cfg := DefaultConfig()

	setupViperEnvironment(cfg)
	defineCommandLineFlags(cfg)
	bindFlagsToViper()
	setupUsageMessage()

	// Check for version flag before parsing
	if err := checkVersionFlag(); err != nil {
		return nil, err
	}

	pflag.Parse()

	if err := readConfigFile(); err != nil {
		return nil, err
	}

	if err := populateConfigFromViper(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Expand paths if needed
	if cfg.UploadDirectory != "" {
		if expandedPath, err := filepath.Abs(cfg.UploadDirectory); err == nil {
			cfg.UploadDirectory = expandedPath
		}
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setupViperEnvironment configures viper with environment variables and defaults
func setupViperEnvironment(cfg *Config) {
	// RAT_TARGET_URL, RAT_USER_DELAY, ...
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("mode", cfg.Mode)
	viper.SetDefault("host", cfg.Host)
	viper.SetDefault("port", cfg.Port)
	viper.SetDefault("dir", cfg.UploadDirectory)
	viper.SetDefault("log_level", cfg.LogLevel)
	viper.SetDefault("max_file_size", cfg.MaxFileSize)
	viper.SetDefault("max_files", cfg.MaxFiles)
	viper.SetDefault("target_url", cfg.TargetURL)
	viper.SetDefault("user_delay", cfg.UserDelay)
	viper.SetDefault("settle_delay", cfg.SettleDelay)
	viper.SetDefault("step_timeout", cfg.StepTimeout)
	viper.SetDefault("driver", cfg.Driver)
	viper.SetDefault("headless", cfg.Headless)
	viper.SetDefault("browser_bin", cfg.BrowserBin)
}

// defineCommandLineFlags sets up all command line flags
func defineCommandLineFlags(cfg *Config) {
	pflag.String("config", "", "YAML config file (answers and locator rules can only be set here)")
	pflag.String("mode", cfg.Mode, "Run mode: 'server' for the HTTP upload service, 'stdio' for MCP standard I/O")
	pflag.String("host", cfg.Host, "Server host address (server mode only)")
	pflag.Int("port", cfg.Port, "Server port (server mode only)")
	pflag.String("dir", cfg.UploadDirectory, "Directory for uploaded PDF files")
	pflag.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	pflag.Int64("max-file-size", cfg.MaxFileSize, "Maximum PDF file size in bytes")
	pflag.Int("max-files", cfg.MaxFiles, "Maximum number of PDF files per upload")
	pflag.String("target-url", cfg.TargetURL, "Questionnaire site URL")
	pflag.Duration("user-delay", cfg.UserDelay, "Pause between two users")
	pflag.Duration("settle-delay", cfg.SettleDelay, "Wait after login and after submit")
	pflag.Duration("step-timeout", cfg.StepTimeout, "Time limit for each form step")
	pflag.String("driver", cfg.Driver, "Browser driver: 'chrome' (Chromium) or 'http' (static HTML)")
	pflag.Bool("headless", cfg.Headless, "Run Chromium headless (chrome driver only)")
	pflag.String("browser-bin", cfg.BrowserBin, "Chromium binary to launch instead of the managed one")
}

// bindFlagsToViper binds command line flags to viper configuration
func bindFlagsToViper() {
	_ = viper.BindPFlag("config", pflag.Lookup("config"))
	_ = viper.BindPFlag("mode", pflag.Lookup("mode"))
	_ = viper.BindPFlag("host", pflag.Lookup("host"))
	_ = viper.BindPFlag("port", pflag.Lookup("port"))
	_ = viper.BindPFlag("dir", pflag.Lookup("dir"))
	_ = viper.BindPFlag("log_level", pflag.Lookup("log-level"))
	_ = viper.BindPFlag("max_file_size", pflag.Lookup("max-file-size"))
	_ = viper.BindPFlag("max_files", pflag.Lookup("max-files"))
	_ = viper.BindPFlag("target_url", pflag.Lookup("target-url"))
	_ = viper.BindPFlag("user_delay", pflag.Lookup("user-delay"))
	_ = viper.BindPFlag("settle_delay", pflag.Lookup("settle-delay"))
	_ = viper.BindPFlag("step_timeout", pflag.Lookup("step-timeout"))
	_ = viper.BindPFlag("driver", pflag.Lookup("driver"))
	_ = viper.BindPFlag("headless", pflag.Lookup("headless"))
	_ = viper.BindPFlag("browser_bin", pflag.Lookup("browser-bin"))
}

// setupUsageMessage configures the custom usage message
func setupUsageMessage() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nRAT Autofill - fills the RAT Online questionnaire for every user listed in PDF tables\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		pflag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s                                     # HTTP upload service on 127.0.0.1:5000\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --host=0.0.0.0 --user-delay=2s      # listen on all interfaces\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --mode=stdio --dir=/path/to/pdfs    # MCP tools over stdio\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --config=rat.yaml                   # answers and rules from a file\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  RAT_MODE           Run mode\n")
		fmt.Fprintf(os.Stderr, "  RAT_HOST           Server host\n")
		fmt.Fprintf(os.Stderr, "  RAT_PORT           Server port\n")
		fmt.Fprintf(os.Stderr, "  RAT_DIR            Upload directory\n")
		fmt.Fprintf(os.Stderr, "  RAT_LOG_LEVEL      Log level\n")
		fmt.Fprintf(os.Stderr, "  RAT_TARGET_URL     Questionnaire site URL\n")
		fmt.Fprintf(os.Stderr, "  RAT_USER_DELAY     Pause between two users\n")
		fmt.Fprintf(os.Stderr, "  RAT_DRIVER         Browser driver\n")
		fmt.Fprintf(os.Stderr, "  RAT_BROWSER_BIN    Chromium binary\n")
	}
}

// checkVersionFlag checks if version flag was requested
func checkVersionFlag() error {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" || arg == "-v" {
			return fmt.Errorf("version requested")
		}
	}
	return nil
}

// readConfigFile merges the file named by --config or RAT_CONFIG, if any
func readConfigFile() error {
	file := viper.GetString("config")
	if file == "" {
		return nil
	}
	viper.SetConfigFile(file)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("cannot read config file %s: %w", file, err)
	}
	return nil
}

// populateConfigFromViper fills the config struct with values from viper
func populateConfigFromViper(cfg *Config) error {
	cfg.ConfigFile = viper.GetString("config")
	cfg.Mode = viper.GetString("mode")
	cfg.Host = viper.GetString("host")
	cfg.Port = viper.GetInt("port")
	cfg.UploadDirectory = viper.GetString("dir")
	cfg.LogLevel = viper.GetString("log_level")
	cfg.MaxFileSize = viper.GetInt64("max_file_size")
	cfg.MaxFiles = viper.GetInt("max_files")
	cfg.TargetURL = viper.GetString("target_url")
	cfg.UserDelay = viper.GetDuration("user_delay")
	cfg.SettleDelay = viper.GetDuration("settle_delay")
	cfg.StepTimeout = viper.GetDuration("step_timeout")
	cfg.Driver = viper.GetString("driver")
	cfg.Headless = viper.GetBool("headless")
	cfg.BrowserBin = viper.GetString("browser_bin")

	if viper.IsSet("answers") {
		var answers []form.Answer
		if err := viper.UnmarshalKey("answers", &answers); err != nil {
			return fmt.Errorf("answers: %w", err)
		}
		cfg.Answers = answers
	}
	if viper.IsSet("rules") {
		rules := make(map[string]locator.Ranked)
		if err := viper.UnmarshalKey("rules", &rules); err != nil {
			return fmt.Errorf("rules: %w", err)
		}
		cfg.Rules = rules
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate mode
	if c.Mode != ModeStdio && c.Mode != ModeServer {
		return errors.New("mode must be either 'stdio' or 'server'")
	}

	// Validate port range (only for server mode)
	if c.Mode == ModeServer && (c.Port < 1 || c.Port > 65535) {
		return errors.New("port must be between 1 and 65535")
	}

	if err := c.validateUploadDirectory(); err != nil {
		return err
	}

	// Validate upload limits
	if c.MaxFileSize <= 0 {
		return errors.New("maximum file size must be positive")
	}
	if c.MaxFiles <= 0 {
		return errors.New("maximum number of files must be positive")
	}

	if err := c.validateAutomation(); err != nil {
		return err
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.LogLevel)
	}

	return nil
}

func (c *Config) validateUploadDirectory() error {
	if c.UploadDirectory == "" {
		return errors.New("upload directory cannot be empty")
	}

	// Check if upload directory exists, create if it doesn't
	if _, err := os.Stat(c.UploadDirectory); os.IsNotExist(err) {
		if err := os.MkdirAll(c.UploadDirectory, DefaultDirPerm); err != nil {
			return fmt.Errorf("cannot create upload directory %s: %w", c.UploadDirectory, err)
		}
	} else if err != nil {
		return fmt.Errorf("cannot access upload directory %s: %w", c.UploadDirectory, err)
	}
	return nil
}

func (c *Config) validateAutomation() error {
	target, err := url.Parse(c.TargetURL)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return fmt.Errorf("target URL must be an absolute http(s) URL: %q", c.TargetURL)
	}

	if c.UserDelay < 0 || c.SettleDelay < 0 {
		return errors.New("delays cannot be negative")
	}
	if c.StepTimeout <= 0 {
		return errors.New("step timeout must be positive")
	}

	if c.Driver != browser.DriverChrome && c.Driver != browser.DriverStatic {
		return fmt.Errorf("driver must be either '%s' or '%s'", browser.DriverChrome, browser.DriverStatic)
	}

	if len(c.Answers) == 0 {
		return errors.New("at least one answer is required")
	}
	for i, a := range c.Answers {
		if strings.TrimSpace(a.Label) == "" || strings.TrimSpace(a.Value) == "" {
			return fmt.Errorf("answer %d: label and value are required", i)
		}
	}

	if _, err := c.FormRules(); err != nil {
		return err
	}
	return nil
}

// FormRules returns the default rule sets with the configured overrides applied
func (c *Config) FormRules() (form.Rules, error) {
	rules, err := form.DefaultRules().WithOverrides(c.Rules)
	if err != nil {
		return form.Rules{}, fmt.Errorf("invalid locator rules: %w", err)
	}
	return rules, nil
}

// Address returns the server address as host:port
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsDebug returns true if debug logging is enabled
func (c *Config) IsDebug() bool {
	return c.LogLevel == "debug"
}

// String returns a string representation of the configuration
func (c *Config) String() string {
	return fmt.Sprintf("Config{Mode: %s, Host: %s, Port: %d, UploadDirectory: %s, LogLevel: %s, "+
		"MaxFileSize: %d, TargetURL: %s, Driver: %s, UserDelay: %s}",
		c.Mode, c.Host, c.Port, c.UploadDirectory, c.LogLevel, c.MaxFileSize, c.TargetURL, c.Driver, c.UserDelay)
}

// IsServerMode returns true if the service runs the HTTP upload server
func (c *Config) IsServerMode() bool {
	return c.Mode == ModeServer
}

// IsStdioMode returns true if the service runs as an MCP stdio server
func (c *Config) IsStdioMode() bool {
	return c.Mode == ModeStdio
}
