package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// MinTokenLength is the minimum recommended length for API authentication tokens
	MinTokenLength = 32

	configDirName = ".excella"
)

// Default configuration values exported for documentation and validation
const (
	DefaultMaxCellsToWrite    = 10000
	DefaultMaxRowsToDelete    = 100
	DefaultMaxColumnsToDelete = 10
	DefaultApprovalMode       = ApprovalModeSafe
	DefaultMemoryCap          = 20
	DefaultMemoryBackend      = MemoryBackendSQLite
	DefaultPreviewRows        = 50
	DefaultPreviewCols        = 20
	DefaultServerBind         = "127.0.0.1:4489"
	DefaultOutboxQueue        = "email-outbox"
	DefaultEmailRatePerMinute = 6
	DefaultEmailBurst         = 2
	DefaultLogLevel           = "info"
	DefaultServiceName        = "excella"
	DefaultToolTimeout        = 2 * time.Minute
	DefaultToolRetries        = 2
	DefaultReviewTTL          = 30 * time.Minute
)

// Approval modes
const (
	ApprovalModeAsk  = "ask"
	ApprovalModeSafe = "safe"
)

// Memory backends
const (
	MemoryBackendSQLite   = "sqlite"
	MemoryBackendWorkbook = "workbook"
	MemoryBackendMemory   = "memory"
)

// Bus backends
const (
	BusBackendMemory = "memory"
	BusBackendNATS   = "nats"
)

// Config represents the complete excella configuration
type Config struct {
	Safety    SafetyConfig    `yaml:"safety"`
	Approval  ApprovalConfig  `yaml:"approval"`
	Memory    MemoryConfig    `yaml:"memory"`
	Storage   StorageConfig   `yaml:"storage"`
	Workbook  WorkbookConfig  `yaml:"workbook"`
	Email     EmailConfig     `yaml:"email"`
	Bus       BusConfig       `yaml:"bus"`
	Tools     ToolsConfig     `yaml:"tools"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// SafetyConfig holds write limits and workbook flags fed into every snapshot.
type SafetyConfig struct {
	MaxCellsToWrite                     int  `yaml:"max_cells_to_write"`
	MaxRowsToDelete                     int  `yaml:"max_rows_to_delete"`
	MaxColumnsToDelete                  int  `yaml:"max_columns_to_delete"`
	RequireConfirmationForWholeSheetOps bool `yaml:"require_confirmation_for_whole_sheet_ops"`
	RequireBackupBeforeDestructiveOps   bool `yaml:"require_backup_before_destructive_ops"`
	ReadOnlyMode                        bool `yaml:"read_only_mode"`
	ExperimentalFeaturesEnabled         bool `yaml:"experimental_features_enabled"`
}

// ApprovalConfig controls when the gate requires a recorded human decision.
//
//	ask  - approved plans may be dry-run and applied, approved drafts sent
//	safe - approved plans may only be dry-run; apply and send are refused
type ApprovalConfig struct {
	Mode string `yaml:"mode"`
}

// MemoryConfig configures AgentMemory persistence.
type MemoryConfig struct {
	Cap     int    `yaml:"cap"`
	Backend string `yaml:"backend"`
}

// StorageConfig configures the SQLite store.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// WorkbookConfig points the snapshot provider at a workbook on disk.
type WorkbookConfig struct {
	Path string `yaml:"path"`
	// Selection overrides the pane selection stored in the file, e.g. "Sheet1!A1:C20".
	Selection   string `yaml:"selection"`
	PreviewRows int    `yaml:"preview_rows"`
	PreviewCols int    `yaml:"preview_cols"`
	Watch       bool   `yaml:"watch"`
}

// EmailConfig configures the propose/send flow.
type EmailConfig struct {
	From string `yaml:"from"`
	// OutboxQueue names the bus work queue outgoing mail is delivered through.
	OutboxQueue   string `yaml:"outbox_queue"`
	RatePerMinute int    `yaml:"rate_per_minute"`
	Burst         int    `yaml:"burst"`
}

// ToolsConfig bounds tool calls and human reviews.
type ToolsConfig struct {
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	// ReviewTTL is how long a pending plan or email review waits for a
	// decision before it counts as rejected.
	ReviewTTL time.Duration `yaml:"review_ttl"`
	// Disabled tools stay listed but every call to them is refused.
	Disabled []string `yaml:"disabled"`
}

// BusConfig selects the message bus backend.
type BusConfig struct {
	Backend string     `yaml:"backend"`
	NATS    NATSConfig `yaml:"nats"`
}

// NATSConfig holds connection settings for the NATS bus.
type NATSConfig struct {
	URL            string        `yaml:"url"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	Token          string        `yaml:"token"`
	TLS            bool          `yaml:"tls"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Bind      string `yaml:"bind"`
	AuthToken string `yaml:"auth_token"`
}

// LoggingConfig configures the JSONL event logger.
type LoggingConfig struct {
	Dir   string `yaml:"dir"`
	Level string `yaml:"level"`
}

// TelemetryConfig toggles tracing and metrics.
type TelemetryConfig struct {
	TracingEnabled bool   `yaml:"tracing_enabled"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
	ServiceName    string `yaml:"service_name"`
}

func defaultNATSURL() string {
	if v := strings.TrimSpace(os.Getenv("NATS_URL")); v != "" {
		return v
	}
	return "nats://127.0.0.1:4222"
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	dataDir := DataDir()
	return &Config{
		Safety: SafetyConfig{
			MaxCellsToWrite:                     DefaultMaxCellsToWrite,
			MaxRowsToDelete:                     DefaultMaxRowsToDelete,
			MaxColumnsToDelete:                  DefaultMaxColumnsToDelete,
			RequireConfirmationForWholeSheetOps: true,
			RequireBackupBeforeDestructiveOps:   true,
		},
		Approval: ApprovalConfig{
			Mode: DefaultApprovalMode,
		},
		Memory: MemoryConfig{
			Cap:     DefaultMemoryCap,
			Backend: DefaultMemoryBackend,
		},
		Storage: StorageConfig{
			Path: filepath.Join(dataDir, "excella.db"),
		},
		Workbook: WorkbookConfig{
			PreviewRows: DefaultPreviewRows,
			PreviewCols: DefaultPreviewCols,
		},
		Email: EmailConfig{
			OutboxQueue:   DefaultOutboxQueue,
			RatePerMinute: DefaultEmailRatePerMinute,
			Burst:         DefaultEmailBurst,
		},
		Bus: BusConfig{
			Backend: BusBackendMemory,
			NATS: NATSConfig{
				URL:            defaultNATSURL(),
				ConnectTimeout: 5 * time.Second,
			},
		},
		Tools: ToolsConfig{
			Timeout:    DefaultToolTimeout,
			MaxRetries: DefaultToolRetries,
			ReviewTTL:  DefaultReviewTTL,
		},
		Server: ServerConfig{
			Bind: DefaultServerBind,
		},
		Logging: LoggingConfig{
			Dir:   filepath.Join(dataDir, "logs"),
			Level: DefaultLogLevel,
		},
		Telemetry: TelemetryConfig{
			MetricsEnabled: true,
			ServiceName:    DefaultServiceName,
		},
	}
}

// Load loads configuration from default locations with proper precedence
func Load() (*Config, error) {
	return load("")
}

// LoadFromPath loads the default locations and then merges the file at path
// on top of them.
func LoadFromPath(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path is empty")
	}
	return load(path)
}

func load(explicit string) (*Config, error) {
	cfg := DefaultConfig()

	configEnv := loadConfigEnvVars()

	// Load user config (~/.excella/config.yaml)
	if home := userHome(); home != "" {
		userConfigPath := filepath.Join(home, configDirName, "config.yaml")
		if err := loadAndMerge(cfg, userConfigPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("loading user config: %w", err)
		}
	}

	// Load project config (./.excella/config.yaml)
	projectConfigPath := filepath.Join(".", configDirName, "config.yaml")
	if err := loadAndMerge(cfg, projectConfigPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	if explicit != "" {
		if err := loadAndMerge(cfg, explicit); err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", explicit, err)
		}
	}

	applyEnvOverrides(cfg, configEnv)
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// ApplyEnvOverridesForTest exposes env override logic for tests without file I/O.
func ApplyEnvOverridesForTest(cfg *Config) {
	applyEnvOverrides(cfg, nil)
	cfg.normalize()
}

// lookupEnv prefers the process environment, then ~/.excella/config.env.
func lookupEnv(key string, configEnv map[string]string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return strings.TrimSpace(configEnv[key])
}

// applyEnvOverrides applies environment variable overrides
func applyEnvOverrides(cfg *Config, configEnv map[string]string) {
	if v := lookupEnv("EXCELLA_APPROVAL_MODE", configEnv); v != "" {
		cfg.Approval.Mode = v
	}
	if val, ok := envBool(lookupEnv("EXCELLA_READ_ONLY", configEnv)); ok {
		cfg.Safety.ReadOnlyMode = val
	}
	if val, ok := envBool(lookupEnv("EXCELLA_EXPERIMENTAL", configEnv)); ok {
		cfg.Safety.ExperimentalFeaturesEnabled = val
	}
	if n, ok := envInt(lookupEnv("EXCELLA_MAX_CELLS_TO_WRITE", configEnv)); ok {
		cfg.Safety.MaxCellsToWrite = n
	}

	if v := lookupEnv("EXCELLA_WORKBOOK", configEnv); v != "" {
		cfg.Workbook.Path = v
	}
	if v := lookupEnv("EXCELLA_SELECTION", configEnv); v != "" {
		cfg.Workbook.Selection = v
	}
	if val, ok := envBool(lookupEnv("EXCELLA_WATCH", configEnv)); ok {
		cfg.Workbook.Watch = val
	}

	if v := lookupEnv("EXCELLA_MEMORY_BACKEND", configEnv); v != "" {
		cfg.Memory.Backend = v
	}
	if v := lookupEnv("EXCELLA_DB_PATH", configEnv); v != "" {
		cfg.Storage.Path = v
	}

	if v := lookupEnv("EXCELLA_EMAIL_FROM", configEnv); v != "" {
		cfg.Email.From = v
	}

	if v := lookupEnv("EXCELLA_BUS_BACKEND", configEnv); v != "" {
		cfg.Bus.Backend = v
	}
	if v := lookupEnv("EXCELLA_NATS_URL", configEnv); v != "" {
		cfg.Bus.NATS.URL = v
	}
	if v := lookupEnv("EXCELLA_NATS_TOKEN", configEnv); v != "" {
		cfg.Bus.NATS.Token = v
	}

	if v := lookupEnv("EXCELLA_TOOL_TIMEOUT", configEnv); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Tools.Timeout = d
		}
	}
	if v := lookupEnv("EXCELLA_REVIEW_TTL", configEnv); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Tools.ReviewTTL = d
		}
	}

	if v := lookupEnv("EXCELLA_SERVER_BIND", configEnv); v != "" {
		cfg.Server.Bind = v
	}
	if v := lookupEnv("EXCELLA_SERVER_TOKEN", configEnv); v != "" {
		cfg.Server.AuthToken = v
	}

	if v := lookupEnv("EXCELLA_LOG_DIR", configEnv); v != "" {
		cfg.Logging.Dir = v
	}
	if v := lookupEnv("EXCELLA_LOG_LEVEL", configEnv); v != "" {
		cfg.Logging.Level = v
	}
	if val, ok := envBool(lookupEnv("EXCELLA_TRACING", configEnv)); ok {
		cfg.Telemetry.TracingEnabled = val
	}
}

func envBool(val string) (bool, bool) {
	if val == "" {
		return false, false
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}

func envInt(val string) (int, bool) {
	if val == "" {
		return 0, false
	}
	n, err := strconv.Atoi(val)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func isLoopbackBindAddress(addr string) bool {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return false
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return false
	}
	switch strings.ToLower(host) {
	case "localhost":
		return true
	case "0.0.0.0", "::":
		return false
	default:
		ip := net.ParseIP(host)
		if ip == nil {
			return false
		}
		return ip.IsLoopback()
	}
}

func (c *Config) normalize() {
	c.Approval.Mode = normalizeMode(c.Approval.Mode, DefaultApprovalMode)
	c.Memory.Backend = normalizeMode(c.Memory.Backend, DefaultMemoryBackend)
	c.Bus.Backend = normalizeMode(c.Bus.Backend, BusBackendMemory)
	c.Logging.Level = normalizeMode(c.Logging.Level, DefaultLogLevel)
	c.Storage.Path = expandHomeDir(c.Storage.Path)
	c.Logging.Dir = expandHomeDir(c.Logging.Dir)
	c.Workbook.Path = expandHomeDir(c.Workbook.Path)
}

func normalizeMode(mode, fallback string) string {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		return fallback
	}
	return mode
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	switch c.Approval.Mode {
	case ApprovalModeAsk, ApprovalModeSafe:
	default:
		return fmt.Errorf("invalid approval mode: %s (must be ask or safe)", c.Approval.Mode)
	}

	if c.Safety.MaxCellsToWrite <= 0 {
		return fmt.Errorf("safety.max_cells_to_write must be positive")
	}
	if c.Safety.MaxRowsToDelete < 0 || c.Safety.MaxColumnsToDelete < 0 {
		return fmt.Errorf("safety delete limits must not be negative")
	}

	if c.Tools.Timeout < 0 || c.Tools.ReviewTTL < 0 || c.Tools.MaxRetries < 0 {
		return fmt.Errorf("tools timeouts and retries must not be negative")
	}

	if c.Memory.Cap <= 0 {
		return fmt.Errorf("memory.cap must be positive")
	}
	switch c.Memory.Backend {
	case MemoryBackendSQLite:
		if strings.TrimSpace(c.Storage.Path) == "" {
			return fmt.Errorf("storage.path is required for the sqlite memory backend")
		}
	case MemoryBackendWorkbook:
		if strings.TrimSpace(c.Workbook.Path) == "" {
			return fmt.Errorf("workbook.path is required for the workbook memory backend")
		}
	case MemoryBackendMemory:
	default:
		return fmt.Errorf("invalid memory backend: %s (must be sqlite, workbook, or memory)", c.Memory.Backend)
	}

	if c.Workbook.PreviewRows < 0 || c.Workbook.PreviewCols < 0 {
		return fmt.Errorf("workbook preview dimensions must not be negative")
	}

	if c.Email.RatePerMinute <= 0 || c.Email.Burst <= 0 {
		return fmt.Errorf("email rate_per_minute and burst must be positive")
	}
	if q := strings.TrimSpace(c.Email.OutboxQueue); q == "" || strings.ContainsAny(q, ". *>") {
		return fmt.Errorf("email.outbox_queue must be a non-empty name without dots, spaces or wildcards")
	}

	switch c.Bus.Backend {
	case BusBackendMemory:
	case BusBackendNATS:
		if strings.TrimSpace(c.Bus.NATS.URL) == "" {
			return fmt.Errorf("bus.nats.url is required for the nats backend")
		}
	default:
		return fmt.Errorf("invalid bus backend: %s (must be memory or nats)", c.Bus.Backend)
	}

	if strings.TrimSpace(c.Server.Bind) == "" {
		return fmt.Errorf("server.bind is required")
	}
	if !isLoopbackBindAddress(c.Server.Bind) && len(strings.TrimSpace(c.Server.AuthToken)) < MinTokenLength {
		return fmt.Errorf("server.auth_token of at least %d characters is required when binding %s", MinTokenLength, c.Server.Bind)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level: %s", c.Logging.Level)
	}

	return nil
}

// ValidationWarnings returns non-fatal configuration concerns.
func (c *Config) ValidationWarnings() []string {
	var warnings []string
	if c.Safety.ReadOnlyMode {
		warnings = append(warnings, "safety.read_only_mode is on; every plan will fail validation")
	}
	if !c.Safety.RequireBackupBeforeDestructiveOps {
		warnings = append(warnings, "safety.require_backup_before_destructive_ops is off")
	}
	if c.Memory.Backend == MemoryBackendMemory {
		warnings = append(warnings, "memory backend is in-memory; agent memory is lost on exit")
	}
	if strings.TrimSpace(c.Email.From) == "" {
		warnings = append(warnings, "email.from is empty; outgoing mail will have no sender")
	}
	return warnings
}

func loadConfigEnvVars() map[string]string {
	home := userHome()
	if home == "" {
		return nil
	}
	vars, err := godotenv.Read(filepath.Join(home, configDirName, "config.env"))
	if err != nil {
		return nil
	}
	return vars
}
