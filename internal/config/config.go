package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App         App         `mapstructure:"app"`
	Database    Database    `mapstructure:"database"`
	Cache       Cache       `mapstructure:"cache"`
	AI          AI          `mapstructure:"ai"`
	Pipeline    Pipeline    `mapstructure:"pipeline"`
	Aggregation Aggregation `mapstructure:"aggregation"`
	Daemon      Daemon      `mapstructure:"daemon"`
	Server      Server      `mapstructure:"server"`
	PostHog     PostHog     `mapstructure:"posthog"`
	Logging     Logging     `mapstructure:"logging"`
}

// App holds general application configuration
type App struct {
	Debug      bool   `mapstructure:"debug"`
	DataDir    string `mapstructure:"data_dir"`
	Domain     string `mapstructure:"domain"`   // Default entity domain, e.g. "afl"
	Timezone   string `mapstructure:"timezone"` // Used for round date windows
	ConfigFile string `mapstructure:"config_file"`
}

// Database selects and configures the persistent store
type Database struct {
	Driver           string `mapstructure:"driver"` // memory or postgres
	ConnectionString string `mapstructure:"connection_string"`
	MaxOpenConns     int    `mapstructure:"max_open_conns"`
	MaxIdleConns     int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime  string `mapstructure:"conn_max_lifetime"`
}

// Cache holds retention and extraction cache configuration
type Cache struct {
	Backend   string    `mapstructure:"backend"` // database or sqlite
	Directory string    `mapstructure:"directory"`
	TTL       TTLConfig `mapstructure:"ttl"`
}

// TTLConfig holds TTL configuration for different content types
type TTLConfig struct {
	Articles    string `mapstructure:"articles"`
	Extractions string `mapstructure:"extractions"`
}

// AI holds LLM provider configuration
type AI struct {
	Provider          string        `mapstructure:"provider"` // gemini, command or mock
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	Gemini            GeminiConfig  `mapstructure:"gemini"`
	Command           CommandConfig `mapstructure:"command"`
}

// GeminiConfig holds Google Gemini configuration
type GeminiConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int32   `mapstructure:"max_tokens"`
	Temperature float32 `mapstructure:"temperature"`
}

// CommandConfig configures an LLM reached through a local CLI
type CommandConfig struct {
	Path     string   `mapstructure:"path"`
	Args     []string `mapstructure:"args"`
	Model    string   `mapstructure:"model"`
	MaxTurns int      `mapstructure:"max_turns"`
}

// Pipeline holds article processing configuration
type Pipeline struct {
	Workers          int     `mapstructure:"workers"`
	BatchSize        int     `mapstructure:"batch_size"`
	RetryAttempts    int     `mapstructure:"retry_attempts"`
	RetryBackoff     string  `mapstructure:"retry_backoff"`
	MaxBackoff       string  `mapstructure:"max_backoff"`
	RequestTimeout   string  `mapstructure:"request_timeout"`
	MentionThreshold int     `mapstructure:"mention_threshold"`
	FuzzyThreshold   float64 `mapstructure:"fuzzy_threshold"`
	BodyExcerptChars int     `mapstructure:"body_excerpt_chars"`
}

// Aggregation holds temporal aggregation configuration
type Aggregation struct {
	WindowRounds        int     `mapstructure:"window_rounds"`
	VolatilityThreshold float64 `mapstructure:"volatility_threshold"`
	TrendThreshold      float64 `mapstructure:"trend_threshold"`
}

// Daemon holds background schedule configuration
type Daemon struct {
	TriageInterval      string `mapstructure:"triage_interval"`
	AnalysisInterval    string `mapstructure:"analysis_interval"`
	RetriageInterval    string `mapstructure:"retriage_interval"`
	CleanupInterval     string `mapstructure:"cleanup_interval"`
	AggregationInterval string `mapstructure:"aggregation_interval"`
}

// Server holds HTTP server configuration
type Server struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORS            CORS          `mapstructure:"cors"`
}

// CORS holds cross-origin configuration
type CORS struct {
	Enabled        bool     `mapstructure:"enabled"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// PostHog holds product analytics configuration
type PostHog struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
	Host    string `mapstructure:"host"`
}

// Logging holds logging configuration
type Logging struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var globalConfig *Config

// Load loads the configuration from various sources
func Load(configFile string) (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	// Load .env file if it exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Printf("Warning: Error loading .env file: %v\n", err)
		}
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
		viper.SetConfigName(".newsintel")
		viper.SetConfigType("yaml")
	}

	setDefaults()
	bindEnvironmentVariables()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	config.App.ConfigFile = viper.ConfigFileUsed()

	if err := postProcessConfig(config); err != nil {
		return nil, fmt.Errorf("error post-processing config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	globalConfig = config
	return config, nil
}

// Get returns the global configuration, loading it if necessary
func Get() *Config {
	if globalConfig == nil {
		config, err := Load("")
		if err != nil {
			panic(fmt.Sprintf("Failed to load configuration: %v", err))
		}
		return config
	}
	return globalConfig
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("app.debug", false)
	viper.SetDefault("app.data_dir", ".newsintel")
	viper.SetDefault("app.domain", "afl")
	viper.SetDefault("app.timezone", "Australia/Melbourne")

	viper.SetDefault("database.driver", "memory")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")

	viper.SetDefault("cache.backend", "database")
	viper.SetDefault("cache.directory", ".newsintel")
	viper.SetDefault("cache.ttl.articles", "24h")
	viper.SetDefault("cache.ttl.extractions", "24h")

	viper.SetDefault("ai.provider", "gemini")
	viper.SetDefault("ai.requests_per_minute", 60)
	viper.SetDefault("ai.gemini.model", "gemini-flash-lite-latest")
	viper.SetDefault("ai.gemini.max_tokens", 2048)
	viper.SetDefault("ai.gemini.temperature", 0.1)
	viper.SetDefault("ai.command.path", "claude")
	viper.SetDefault("ai.command.args", []string{"-p", "--output-format", "json"})
	viper.SetDefault("ai.command.max_turns", 1)

	viper.SetDefault("pipeline.workers", 4)
	viper.SetDefault("pipeline.batch_size", 50)
	viper.SetDefault("pipeline.retry_attempts", 3)
	viper.SetDefault("pipeline.retry_backoff", "2s")
	viper.SetDefault("pipeline.max_backoff", "30s")
	viper.SetDefault("pipeline.request_timeout", "45s")
	viper.SetDefault("pipeline.mention_threshold", 3)
	viper.SetDefault("pipeline.fuzzy_threshold", 0.8)
	viper.SetDefault("pipeline.body_excerpt_chars", 4000)

	viper.SetDefault("aggregation.window_rounds", 4)
	viper.SetDefault("aggregation.volatility_threshold", 0.5)
	viper.SetDefault("aggregation.trend_threshold", 0.15)

	viper.SetDefault("daemon.triage_interval", "5m")
	viper.SetDefault("daemon.analysis_interval", "10m")
	viper.SetDefault("daemon.retriage_interval", "30m")
	viper.SetDefault("daemon.cleanup_interval", "1h")
	viper.SetDefault("daemon.aggregation_interval", "6h")

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "15s")
	viper.SetDefault("server.write_timeout", "60s")
	viper.SetDefault("server.shutdown_timeout", "10s")
	viper.SetDefault("server.cors.enabled", false)

	viper.SetDefault("posthog.enabled", false)
	viper.SetDefault("posthog.host", "https://app.posthog.com")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

// bindEnvironmentVariables sets up flexible environment variable binding
func bindEnvironmentVariables() {
	bindEnvKeys("ai.gemini.api_key", []string{
		"GEMINI_API_KEY",
		"GOOGLE_GEMINI_API_KEY",
		"GOOGLE_AI_API_KEY",
	})

	bindEnvKeys("database.connection_string", []string{
		"DATABASE_URL",
		"NEWSINTEL_DATABASE_URL",
	})

	bindEnvKeys("posthog.api_key", []string{
		"POSTHOG_API_KEY",
	})

	bindEnvKeys("ai.provider", []string{
		"NEWSINTEL_LLM_PROVIDER",
		"LLM_PROVIDER",
	})

	bindEnvKeys("app.debug", []string{
		"DEBUG",
		"NEWSINTEL_DEBUG",
	})
}

// bindEnvKeys binds the first found environment variable to a viper key
func bindEnvKeys(viperKey string, envKeys []string) {
	for _, envKey := range envKeys {
		if value := os.Getenv(envKey); value != "" {
			viper.Set(viperKey, value)
			return
		}
	}
}

// postProcessConfig applies post-processing to configuration values
func postProcessConfig(config *Config) error {
	if config.Cache.Directory != "" {
		config.Cache.Directory = expandPath(config.Cache.Directory)
	}
	if config.App.DataDir != "" {
		config.App.DataDir = expandPath(config.App.DataDir)
	}

	durations := map[string]string{
		"database.conn_max_lifetime":  config.Database.ConnMaxLifetime,
		"cache.ttl.articles":          config.Cache.TTL.Articles,
		"cache.ttl.extractions":       config.Cache.TTL.Extractions,
		"pipeline.retry_backoff":      config.Pipeline.RetryBackoff,
		"pipeline.max_backoff":        config.Pipeline.MaxBackoff,
		"pipeline.request_timeout":    config.Pipeline.RequestTimeout,
		"daemon.triage_interval":      config.Daemon.TriageInterval,
		"daemon.analysis_interval":    config.Daemon.AnalysisInterval,
		"daemon.retriage_interval":    config.Daemon.RetriageInterval,
		"daemon.cleanup_interval":     config.Daemon.CleanupInterval,
		"daemon.aggregation_interval": config.Daemon.AggregationInterval,
	}

	for key, duration := range durations {
		if duration != "" {
			if _, err := time.ParseDuration(duration); err != nil {
				return fmt.Errorf("invalid duration for %s: %s", key, duration)
			}
		}
	}

	return nil
}

// expandPath expands ~ and environment variables in paths
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return os.ExpandEnv(path)
}

// validateConfig ensures required configuration is present
func validateConfig(config *Config) error {
	var errors []string

	switch config.Database.Driver {
	case "memory":
	case "postgres":
		if config.Database.ConnectionString == "" {
			errors = append(errors, "Postgres driver requires a connection string. Set DATABASE_URL or database.connection_string")
		}
	default:
		errors = append(errors, fmt.Sprintf("Unknown database driver: %s. Supported: memory, postgres", config.Database.Driver))
	}

	switch config.Cache.Backend {
	case "database", "sqlite":
	default:
		errors = append(errors, fmt.Sprintf("Unknown cache backend: %s. Supported: database, sqlite", config.Cache.Backend))
	}

	switch config.AI.Provider {
	case "gemini", "command", "mock":
	default:
		errors = append(errors, fmt.Sprintf("Unknown LLM provider: %s. Supported: gemini, command, mock", config.AI.Provider))
	}

	if config.Pipeline.FuzzyThreshold <= 0 || config.Pipeline.FuzzyThreshold > 1 {
		errors = append(errors, "pipeline.fuzzy_threshold must be in (0, 1]")
	}
	if config.Pipeline.RetryAttempts < 1 {
		errors = append(errors, "pipeline.retry_attempts must be at least 1")
	}
	if config.Aggregation.WindowRounds < 2 {
		errors = append(errors, "aggregation.window_rounds must be at least 2")
	}
	if _, err := time.LoadLocation(config.App.Timezone); err != nil {
		errors = append(errors, fmt.Sprintf("Unknown timezone: %s", config.App.Timezone))
	}

	if config.PostHog.Enabled && config.PostHog.APIKey == "" {
		errors = append(errors, "PostHog is enabled but no API key is set. Set POSTHOG_API_KEY")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration errors:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// Duration parses a validated duration string, returning fallback when empty.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// Location returns the configured timezone, or UTC if it cannot be loaded.
func (a App) Location() *time.Location {
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Convenience getters for commonly used configuration values
func GetApp() App                 { return Get().App }
func GetDatabase() Database       { return Get().Database }
func GetCache() Cache             { return Get().Cache }
func GetAI() AI                   { return Get().AI }
func GetPipeline() Pipeline       { return Get().Pipeline }
func GetAggregation() Aggregation { return Get().Aggregation }
func GetDaemon() Daemon           { return Get().Daemon }
func GetServer() Server           { return Get().Server }
func GetPostHog() PostHog         { return Get().PostHog }
func GetLogging() Logging         { return Get().Logging }

func GetGeminiAPIKey() string { return Get().AI.Gemini.APIKey }
func IsDebugMode() bool       { return Get().App.Debug }

// Reset clears the global configuration (useful for testing)
func Reset() {
	globalConfig = nil
	viper.Reset()
}
