package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/formpulse/formpulse/internal/logger"
)

// DBConfig holds the postgres connection settings. An empty Host means "run
// without a database": the server falls back to the in-memory store.
type DBConfig struct {
	Host            string
	Port            int
	Username        string
	Password        string
	Database        string
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Enabled reports whether a database is configured.
func (c *DBConfig) Enabled() bool {
	return c != nil && c.Host != ""
}

// Config holds the application's configuration values.
type Config struct {
	ServerPort    string
	WebhookSecret string

	LLMProvider        string
	GeminiAPIKey       string
	OllamaHost         string
	GeneratorModelName string

	MaxWorkers     int
	FormConfigPath string

	// SheetsCredentialsFile points at a Google service-account JSON key.
	// Empty disables the google_sheets integration.
	SheetsCredentialsFile string

	RateLimitPerMinute int
	CircuitThreshold   int
	CircuitCooldown    time.Duration

	Database     *DBConfig
	LoggerConfig logger.Config
}

// LoadConfig reads configuration from environment variables and a .env file,
// sets sensible defaults, and validates required fields. It uses the Viper
// library to handle configuration loading and precedence.
func LoadConfig() (*Config, error) {
	viper.SetConfigFile(".env")

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "text")
	viper.SetDefault("LOG_OUTPUT", "stdout")
	viper.SetDefault("LLM_PROVIDER", "ollama")
	viper.SetDefault("OLLAMA_HOST", "http://localhost:11434")
	viper.SetDefault("GENERATOR_MODEL_NAME", "gemma3:latest")
	viper.SetDefault("MAX_WORKERS", 5)
	viper.SetDefault("FORM_CONFIG_PATH", "formpulse.yaml")
	viper.SetDefault("RATE_LIMIT_PER_MINUTE", 10)
	viper.SetDefault("CIRCUIT_THRESHOLD", 5)
	viper.SetDefault("CIRCUIT_COOLDOWN_SECONDS", 60)
	viper.SetDefault("DB_PORT", 5432)
	viper.SetDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30)
	viper.SetDefault("DB_CONN_MAX_IDLE_MINUTES", 5)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// A missing .env is fine; env vars still apply.
			fmt.Printf("warning: failed to read .env file: %v\n", err)
		}
	}
	viper.AutomaticEnv()

	if viper.GetString("WEBHOOK_SECRET") == "" {
		return nil, fmt.Errorf("WEBHOOK_SECRET must be set")
	}

	// Special handling for Gemini generator model name.
	generatorModel := viper.GetString("GENERATOR_MODEL_NAME")
	if viper.GetString("LLM_PROVIDER") == "gemini" {
		geminiModel := viper.GetString("GEMINI_GENERATOR_MODEL_NAME")
		if geminiModel != "" {
			generatorModel = geminiModel
		} else {
			generatorModel = "gemini-2.5-flash"
		}
	}

	cfg := &Config{
		ServerPort:            viper.GetString("SERVER_PORT"),
		WebhookSecret:         viper.GetString("WEBHOOK_SECRET"),
		LLMProvider:           viper.GetString("LLM_PROVIDER"),
		GeminiAPIKey:          viper.GetString("GEMINI_API_KEY"),
		OllamaHost:            viper.GetString("OLLAMA_HOST"),
		GeneratorModelName:    generatorModel,
		MaxWorkers:            viper.GetInt("MAX_WORKERS"),
		FormConfigPath:        viper.GetString("FORM_CONFIG_PATH"),
		SheetsCredentialsFile: viper.GetString("SHEETS_CREDENTIALS_FILE"),
		RateLimitPerMinute:    viper.GetInt("RATE_LIMIT_PER_MINUTE"),
		CircuitThreshold:      viper.GetInt("CIRCUIT_THRESHOLD"),
		CircuitCooldown:       time.Duration(viper.GetInt("CIRCUIT_COOLDOWN_SECONDS")) * time.Second,
		Database: &DBConfig{
			Host:            viper.GetString("DB_HOST"),
			Port:            viper.GetInt("DB_PORT"),
			Username:        viper.GetString("DB_USERNAME"),
			Password:        viper.GetString("DB_PASSWORD"),
			Database:        viper.GetString("DB_DATABASE"),
			ConnMaxLifetime: time.Duration(viper.GetInt("DB_CONN_MAX_LIFETIME_MINUTES")) * time.Minute,
			ConnMaxIdleTime: time.Duration(viper.GetInt("DB_CONN_MAX_IDLE_MINUTES")) * time.Minute,
		},
		LoggerConfig: logger.Config{
			Level:  viper.GetString("LOG_LEVEL"),
			Format: viper.GetString("LOG_FORMAT"),
			Output: viper.GetString("LOG_OUTPUT"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.MaxWorkers <= 0 {
		return fmt.Errorf("MAX_WORKERS must be positive, got %d", c.MaxWorkers)
	}
	if c.RateLimitPerMinute <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be positive, got %d", c.RateLimitPerMinute)
	}
	if c.CircuitThreshold <= 0 {
		return fmt.Errorf("CIRCUIT_THRESHOLD must be positive, got %d", c.CircuitThreshold)
	}
	if c.LLMProvider == "gemini" && c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY must be set for the gemini provider")
	}
	if c.Database.Enabled() && c.Database.Database == "" {
		return fmt.Errorf("DB_DATABASE must be set when DB_HOST is configured")
	}
	return nil
}
