package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	OCR       OCRConfig       `yaml:"ocr" mapstructure:"ocr"`
	Scoring   ScoringConfig   `yaml:"scoring" mapstructure:"scoring"`
	Certainty CertaintyConfig `yaml:"certainty" mapstructure:"certainty"`
	Monitor   MonitorConfig   `yaml:"monitor" mapstructure:"monitor"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	MaxUploadMB int      `yaml:"max_upload_mb" mapstructure:"max_upload_mb"`
}

// OCRConfig configures screenshot text recognition.
type OCRConfig struct {
	Provider      string   `yaml:"provider" mapstructure:"provider"`
	TesseractPath string   `yaml:"tesseract_path" mapstructure:"tesseract_path"`
	Languages     []string `yaml:"languages" mapstructure:"languages"`
	MistralKey    string   `yaml:"mistral_api_key" mapstructure:"mistral_api_key"`
	MistralModel  string   `yaml:"mistral_model" mapstructure:"mistral_model"`
	TimeoutSecs   int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit     float64  `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// ScoringConfig configures the trust-score collaborator.
type ScoringConfig struct {
	Provider                string             `yaml:"provider" mapstructure:"provider"`
	BaseURL                 string             `yaml:"base_url" mapstructure:"base_url"`
	APIKey                  string             `yaml:"api_key" mapstructure:"api_key"`
	TimeoutSecs             int                `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit               float64            `yaml:"rate_limit" mapstructure:"rate_limit"`
	RateBurst               int                `yaml:"rate_burst" mapstructure:"rate_burst"`
	RetryMaxAttempts        int                `yaml:"retry_max_attempts" mapstructure:"retry_max_attempts"`
	RetryInitialBackoffMs   int                `yaml:"retry_initial_backoff_ms" mapstructure:"retry_initial_backoff_ms"`
	RetryMaxBackoffMs       int                `yaml:"retry_max_backoff_ms" mapstructure:"retry_max_backoff_ms"`
	CircuitFailureThreshold int                `yaml:"circuit_failure_threshold" mapstructure:"circuit_failure_threshold"`
	CircuitResetTimeoutSecs int                `yaml:"circuit_reset_timeout_secs" mapstructure:"circuit_reset_timeout_secs"`
	Weights                 map[string]float64 `yaml:"weights" mapstructure:"weights"`
}

// CertaintyConfig selects where the certainty table is loaded from:
// "store" (database), "file" (YAML at TablePath) or "builtin".
type CertaintyConfig struct {
	Source    string `yaml:"source" mapstructure:"source"`
	TablePath string `yaml:"table_path" mapstructure:"table_path"`
}

// MonitorConfig configures the metrics collector.
type MonitorConfig struct {
	Enabled         bool `yaml:"enabled" mapstructure:"enabled"`
	IntervalSecs    int  `yaml:"interval_secs" mapstructure:"interval_secs"`
	LookbackHours   int  `yaml:"lookback_hours" mapstructure:"lookback_hours"`
	StaleAlertLimit int  `yaml:"stale_alert_limit" mapstructure:"stale_alert_limit"`

	// RejectionRateThreshold alerts when the share of rejected screenshots
	// in the lookback window exceeds it.
	RejectionRateThreshold float64 `yaml:"rejection_rate_threshold" mapstructure:"rejection_rate_threshold"`
	WebhookURL             string  `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// Load reads configuration from config.yaml and PHONETRUST_* environment
// variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PHONETRUST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "phonetrust.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.max_upload_mb", 8)
	v.SetDefault("ocr.provider", "tesseract")
	v.SetDefault("ocr.tesseract_path", "tesseract")
	v.SetDefault("ocr.languages", []string{"fra", "eng"})
	v.SetDefault("ocr.mistral_model", "mistral-ocr-latest")
	v.SetDefault("ocr.timeout_secs", 30)
	v.SetDefault("ocr.rate_limit", 2.0)
	v.SetDefault("scoring.provider", "local")
	v.SetDefault("scoring.timeout_secs", 10)
	v.SetDefault("scoring.rate_limit", 20.0)
	v.SetDefault("scoring.rate_burst", 5)
	v.SetDefault("scoring.retry_max_attempts", 3)
	v.SetDefault("scoring.retry_initial_backoff_ms", 250)
	v.SetDefault("scoring.retry_max_backoff_ms", 5000)
	v.SetDefault("scoring.circuit_failure_threshold", 5)
	v.SetDefault("scoring.circuit_reset_timeout_secs", 30)
	v.SetDefault("scoring.weights", map[string]float64{
		"otp_verified":   15,
		"ussd_certified": 20,
		"identity_match": 25,
		"sms_activity":   20,
		"phone_age":      10,
		"fraud_free":     10,
	})
	v.SetDefault("certainty.source", "store")
	v.SetDefault("certainty.table_path", "certainty.yaml")
	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.interval_secs", 60)
	v.SetDefault("monitor.lookback_hours", 24)
	v.SetDefault("monitor.stale_alert_limit", 25)
	v.SetDefault("monitor.rejection_rate_threshold", 0.5)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the settings required by a command are present.
// Sections: "store", "ocr", "scoring", "serve".
func (c *Config) Validate(section string) error {
	var missing []string
	switch section {
	case "store":
		missing = c.missingStore()
	case "ocr":
		missing = c.missingOCR()
	case "scoring":
		missing = c.missingScoring()
	case "serve":
		missing = append(c.missingStore(), c.missingOCR()...)
		missing = append(missing, c.missingScoring()...)
		if c.Server.Port <= 0 {
			missing = append(missing, "server.port")
		}
	default:
		return eris.Errorf("config: unknown section %q", section)
	}
	if len(missing) > 0 {
		return eris.Errorf("config: missing required fields for %s: %s", section, strings.Join(missing, ", "))
	}
	return nil
}

func (c *Config) missingStore() []string {
	var missing []string
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		missing = append(missing, "store.driver (sqlite|postgres)")
	}
	if c.Store.DatabaseURL == "" {
		missing = append(missing, "store.database_url")
	}
	return missing
}

func (c *Config) missingOCR() []string {
	switch c.OCR.Provider {
	case "tesseract", "":
		return nil
	case "mistral":
		if c.OCR.MistralKey == "" {
			return []string{"ocr.mistral_api_key"}
		}
		return nil
	default:
		return []string{"ocr.provider (tesseract|mistral)"}
	}
}

func (c *Config) missingScoring() []string {
	switch c.Scoring.Provider {
	case "local", "":
		return nil
	case "http":
		if c.Scoring.BaseURL == "" {
			return []string{"scoring.base_url"}
		}
		return nil
	default:
		return []string{"scoring.provider (local|http)"}
	}
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
