package config

import (
	"fmt"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Agent backends.
const (
	BackendHTTP   = "http"
	BackendGemini = "gemini"
)

// FileEnvVar names the environment variable that points at an optional YAML
// config file.
const FileEnvVar = "APP_CONFIG_FILE"

type Config struct {
	// HTTP Server
	Port               string `yaml:"port"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
	MaxUploadBytes     int64  `yaml:"max_upload_bytes"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Agent
	AgentBackend       string        `yaml:"agent_backend"`
	AgentBaseURL       string        `yaml:"agent_base_url"`
	AgentAPIKey        string        `yaml:"agent_api_key"`
	AgentUserID        string        `yaml:"agent_user_id"`
	AgentTimeout       time.Duration `yaml:"agent_timeout"`
	ChatAgentID        string        `yaml:"chat_agent_id"`
	SpreadsheetAgentID string        `yaml:"spreadsheet_agent_id"`
	ImageAgentID       string        `yaml:"image_agent_id"`

	// Gemini backend
	GeminiAPIKey string `yaml:"gemini_api_key"`
	GeminiModel  string `yaml:"gemini_model"`

	// Session state
	NotificationTTL time.Duration `yaml:"notification_ttl"`
	PreviewTTL      time.Duration `yaml:"preview_ttl"`
	AssetCacheTTL   time.Duration `yaml:"asset_cache_ttl"`

	// AMQP, optional
	AMQPURL      string `yaml:"amqp_url"`
	AMQPExchange string `yaml:"amqp_exchange"`
	AMQPQueue    string `yaml:"amqp_queue"`
}

// Defaults returns the configuration used when neither a file nor the
// environment sets a key.
func Defaults() *Config {
	return &Config{
		Port:               "8081",
		RateLimitPerMinute: 60,
		MaxUploadBytes:     10 << 20,

		LogLevel:  "info",
		LogFormat: "text",

		AgentBackend:       BackendHTTP,
		AgentUserID:        "ledgerlens",
		AgentTimeout:       60 * time.Second,
		ChatAgentID:        "expense-chat",
		SpreadsheetAgentID: "spreadsheet-parser",
		ImageAgentID:       "receipt-ocr",

		GeminiModel: "gemini-1.5-flash",

		NotificationTTL: 5 * time.Second,
		PreviewTTL:      time.Hour,
		AssetCacheTTL:   30 * time.Minute,

		AMQPExchange: "ledgerlens",
		AMQPQueue:    "ledger_events",
	}
}

// Load reads the configuration from the environment only.
func Load() *Config {
	cfg := Defaults()
	applyEnv(cfg)
	return cfg
}

// LoadFile layers defaults, then the YAML file at path (if any), then the
// environment. ${VAR} references in the file are expanded before parsing.
func LoadFile(path string) (*Config, error) {
	cfg := Defaults()
	if path == "" {
		path = os.Getenv(FileEnvVar)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(c *Config) {
	c.Port = getEnv("PORT", c.Port)
	c.RateLimitPerMinute = getEnvInt("RATE_LIMIT_PER_MINUTE", c.RateLimitPerMinute)
	c.MaxUploadBytes = getEnvInt64("MAX_UPLOAD_BYTES", c.MaxUploadBytes)

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)

	c.AgentBackend = getEnv("AGENT_BACKEND", c.AgentBackend)
	c.AgentBaseURL = getEnv("AGENT_BASE_URL", c.AgentBaseURL)
	c.AgentAPIKey = getEnv("AGENT_API_KEY", c.AgentAPIKey)
	c.AgentUserID = getEnv("AGENT_USER_ID", c.AgentUserID)
	c.AgentTimeout = getEnvDuration("AGENT_TIMEOUT", c.AgentTimeout)
	c.ChatAgentID = getEnv("CHAT_AGENT_ID", c.ChatAgentID)
	c.SpreadsheetAgentID = getEnv("SPREADSHEET_AGENT_ID", c.SpreadsheetAgentID)
	c.ImageAgentID = getEnv("IMAGE_AGENT_ID", c.ImageAgentID)

	c.GeminiAPIKey = getEnv("GEMINI_API_KEY", c.GeminiAPIKey)
	c.GeminiModel = getEnv("GEMINI_MODEL", c.GeminiModel)

	c.NotificationTTL = getEnvDuration("NOTIFICATION_TTL", c.NotificationTTL)
	c.PreviewTTL = getEnvDuration("PREVIEW_TTL", c.PreviewTTL)
	c.AssetCacheTTL = getEnvDuration("ASSET_CACHE_TTL", c.AssetCacheTTL)

	c.AMQPURL = getEnv("AMQP_URL", c.AMQPURL)
	c.AMQPExchange = getEnv("AMQP_EXCHANGE", c.AMQPExchange)
	c.AMQPQueue = getEnv("AMQP_QUEUE", c.AMQPQueue)
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + c.Port
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLevels, strings.ToLower(c.LogLevel)) {
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of %v", c.LogLevel, validLevels))
	}
	validFormats := []string{"text", "json"}
	if !slices.Contains(validFormats, c.LogFormat) {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be one of %v", c.LogFormat, validFormats))
	}

	// Validate agent backend
	validBackends := []string{BackendHTTP, BackendGemini}
	switch c.AgentBackend {
	case BackendHTTP:
		if c.AgentBaseURL == "" {
			errors = append(errors, "AGENT_BASE_URL is required when using http agent backend")
		} else if u, err := url.Parse(c.AgentBaseURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid agent base URL '%s': %v", c.AgentBaseURL, err))
		} else if u.Scheme != "http" && u.Scheme != "https" {
			errors = append(errors, fmt.Sprintf("invalid agent base URL scheme '%s': must be 'http' or 'https'", u.Scheme))
		}
	case BackendGemini:
		if c.GeminiAPIKey == "" {
			errors = append(errors, "GEMINI_API_KEY is required when using gemini agent backend")
		}
		if c.GeminiModel == "" {
			errors = append(errors, "Gemini model cannot be empty when using gemini agent backend")
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid agent backend '%s': must be one of %v", c.AgentBackend, validBackends))
	}

	for name, id := range map[string]string{
		"CHAT_AGENT_ID":        c.ChatAgentID,
		"SPREADSHEET_AGENT_ID": c.SpreadsheetAgentID,
		"IMAGE_AGENT_ID":       c.ImageAgentID,
	} {
		if strings.TrimSpace(id) == "" {
			errors = append(errors, fmt.Sprintf("%s cannot be empty", name))
		}
	}

	if c.AgentTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid agent timeout %v: must be at least 1 second", c.AgentTimeout))
	} else if c.AgentTimeout > 10*time.Minute {
		errors = append(errors, fmt.Sprintf("invalid agent timeout %v: must be at most 10 minutes", c.AgentTimeout))
	}

	if c.NotificationTTL < time.Second {
		errors = append(errors, fmt.Sprintf("invalid notification ttl %v: must be at least 1 second", c.NotificationTTL))
	}
	if c.PreviewTTL < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid preview ttl %v: must be at least 1 minute", c.PreviewTTL))
	}
	if c.AssetCacheTTL < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid asset cache ttl %v: must be at least 1 minute", c.AssetCacheTTL))
	}

	if c.MaxUploadBytes < 1 {
		errors = append(errors, fmt.Sprintf("invalid max upload bytes %d: must be positive", c.MaxUploadBytes))
	} else if c.MaxUploadBytes > 100<<20 {
		errors = append(errors, fmt.Sprintf("invalid max upload bytes %d: must be at most 100MB", c.MaxUploadBytes))
	}
	if c.RateLimitPerMinute < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1 per minute", c.RateLimitPerMinute))
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	// Return combined errors
	if len(errors) > 0 {
		slices.Sort(errors)
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
