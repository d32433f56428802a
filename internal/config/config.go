package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the genrelay server.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Compute    ComputeConfig
	Converter  ConverterConfig
	Paths      PathsConfig
	Batch      BatchConfig
	Artifacts  ArtifactsConfig
	Completion CompletionConfig
	Archive    ArchiveConfig
	Auth       AuthConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsDir   string
}

type RedisConfig struct {
	URL string
}

// ComputeConfig describes the remote compute service.
type ComputeConfig struct {
	BaseURL      string
	HTTPTimeout  time.Duration
	PollInterval time.Duration
	RunTimeout   time.Duration
	// ServicePath is the compute service installation handed to the converter.
	// Empty is allowed; runs that need conversion then fail with a
	// configuration error.
	ServicePath string
}

type ConverterConfig struct {
	Mode    string
	Command string
	Args    []string
	Timeout time.Duration
}

type PathsConfig struct {
	TempRoot   string
	OutputRoot string
	User       string
}

type BatchConfig struct {
	SeedStride int64
	MaxBatch   int
}

type ArtifactsConfig struct {
	IgnorePrefixes  []string
	RecoveryPrefix  string
	HistoryLookback int
	EmbedMetadata   bool
	WidgetMapPath   string
}

type CompletionConfig struct {
	Mode            string
	WatcherAttempts int
	WatcherInterval time.Duration
}

// ArchiveConfig enables mirroring of materialized artifacts to an S3
// compatible bucket. Empty Endpoint disables it.
type ArchiveConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

func (a ArchiveConfig) Enabled() bool {
	return a.Endpoint != ""
}

type AuthConfig struct {
	BootstrapKey   string
	RequestsPerMin int
}

var validConverterModes = map[string]bool{
	"external":    true,
	"passthrough": true,
}

var validCompletionModes = map[string]bool{
	"marker":  true,
	"channel": true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("GENRELAY_PORT", 8080),
			Env:  envString("GENRELAY_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			MigrationsDir:   envString("DATABASE_MIGRATIONS_DIR", "migrations"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Compute: ComputeConfig{
			BaseURL:      envString("COMFY_BASE_URL", "http://127.0.0.1:8188"),
			HTTPTimeout:  envDuration("COMFY_HTTP_TIMEOUT", 30*time.Second),
			PollInterval: envDuration("COMFY_POLL_INTERVAL", time.Second),
			RunTimeout:   envDurationSecs("COMFY_RUN_TIMEOUT_SECS", 300*time.Second),
			ServicePath:  os.Getenv("COMFY_SERVICE_PATH"),
		},
		Converter: ConverterConfig{
			Mode:    envString("CONVERTER_MODE", "external"),
			Command: envString("CONVERTER_COMMAND", "python3"),
			Args:    envList("CONVERTER_ARGS", []string{"workflow_converter.py"}),
			Timeout: envDuration("CONVERTER_TIMEOUT", 2*time.Minute),
		},
		Paths: PathsConfig{
			TempRoot:   envString("GENRELAY_TEMP_ROOT", defaultTempRoot()),
			OutputRoot: envString("GENRELAY_OUTPUT_ROOT", "output"),
			User:       envString("GENRELAY_USER", envString("USER", "artist")),
		},
		Batch: BatchConfig{
			SeedStride: int64(envInt("SEED_STRIDE", 9973)),
			MaxBatch:   envInt("MAX_BATCH_COUNT", 64),
		},
		Artifacts: ArtifactsConfig{
			IgnorePrefixes:  envList("ARTIFACT_IGNORE_PREFIXES", []string{"ComfyUI_temp_"}),
			RecoveryPrefix:  os.Getenv("ARTIFACT_RECOVERY_PREFIX"),
			HistoryLookback: envInt("HISTORY_LOOKBACK", 64),
			EmbedMetadata:   envBool("EMBED_WORKFLOW_METADATA", true),
			WidgetMapPath:   os.Getenv("WIDGET_MAP_PATH"),
		},
		Completion: CompletionConfig{
			Mode:            envString("COMPLETION_MODE", "marker"),
			WatcherAttempts: envInt("WATCHER_MAX_ATTEMPTS", 300),
			WatcherInterval: envDuration("WATCHER_INTERVAL", time.Second),
		},
		Archive: ArchiveConfig{
			Endpoint:  os.Getenv("ARCHIVE_ENDPOINT"),
			AccessKey: os.Getenv("ARCHIVE_ACCESS_KEY"),
			SecretKey: os.Getenv("ARCHIVE_SECRET_KEY"),
			Bucket:    envString("ARCHIVE_BUCKET", "genrelay-artifacts"),
			Region:    envString("ARCHIVE_REGION", "us-east-1"),
			UseSSL:    envBool("ARCHIVE_USE_SSL", false),
		},
		Auth: AuthConfig{
			BootstrapKey:   os.Getenv("BOOTSTRAP_API_KEY"),
			RequestsPerMin: envInt("RATE_LIMIT_PER_MIN", 120),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if !strings.HasPrefix(c.Compute.BaseURL, "http://") && !strings.HasPrefix(c.Compute.BaseURL, "https://") {
		return fmt.Errorf("COMFY_BASE_URL must start with http:// or https://, got %q", c.Compute.BaseURL)
	}
	if c.Compute.PollInterval <= 0 {
		return fmt.Errorf("COMFY_POLL_INTERVAL must be positive")
	}
	if c.Compute.RunTimeout < c.Compute.PollInterval {
		return fmt.Errorf("COMFY_RUN_TIMEOUT_SECS must be at least one poll interval")
	}

	if !validConverterModes[c.Converter.Mode] {
		return fmt.Errorf("CONVERTER_MODE must be one of external, passthrough; got %q", c.Converter.Mode)
	}
	if c.Converter.Mode == "external" && c.Converter.Command == "" {
		return fmt.Errorf("CONVERTER_COMMAND is required when CONVERTER_MODE is external")
	}

	if c.Batch.SeedStride <= 0 {
		return fmt.Errorf("SEED_STRIDE must be positive, got %d", c.Batch.SeedStride)
	}
	if c.Batch.MaxBatch < 1 {
		return fmt.Errorf("MAX_BATCH_COUNT must be at least 1, got %d", c.Batch.MaxBatch)
	}

	if !validCompletionModes[c.Completion.Mode] {
		return fmt.Errorf("COMPLETION_MODE must be one of marker, channel; got %q", c.Completion.Mode)
	}
	if c.Completion.WatcherAttempts < 1 {
		return fmt.Errorf("WATCHER_MAX_ATTEMPTS must be at least 1")
	}

	if c.Archive.Enabled() && (c.Archive.AccessKey == "" || c.Archive.SecretKey == "") {
		return fmt.Errorf("ARCHIVE_ACCESS_KEY and ARCHIVE_SECRET_KEY are required when ARCHIVE_ENDPOINT is set")
	}

	if c.Auth.BootstrapKey != "" && len(c.Auth.BootstrapKey) < 16 {
		return fmt.Errorf("BOOTSTRAP_API_KEY must be at least 16 characters")
	}

	return nil
}

func defaultTempRoot() string {
	return os.TempDir() + string(os.PathSeparator) + "genrelay"
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
