package backend

import (
	"fmt"
	"time"

	"ledgerlens/internal/config"
)

// Config holds configuration for backend creation
type Config struct {
	// Backend type
	Type    BackendType
	Timeout time.Duration

	// HTTP agent specific
	BaseURL string
	APIKey  string
	UserID  string

	// Gemini specific
	GeminiAPIKey string
	GeminiModel  string

	// Asset id cache in front of the backend; Gemini holds uploads at least
	// as long and as many.
	AssetCacheEntries int
	AssetCacheTTL     time.Duration

	// Agent ids, used by Gemini to pick a system instruction
	ChatAgentID        string
	SpreadsheetAgentID string
	ImageAgentID       string
}

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	backendType := BackendType(appConfig.AgentBackend)
	if !backendType.IsValid() {
		return Config{}, fmt.Errorf("invalid backend type in config: %s", appConfig.AgentBackend)
	}

	return Config{
		Type:    backendType,
		Timeout: appConfig.AgentTimeout,

		BaseURL: appConfig.AgentBaseURL,
		APIKey:  appConfig.AgentAPIKey,
		UserID:  appConfig.AgentUserID,

		GeminiAPIKey: appConfig.GeminiAPIKey,
		GeminiModel:  appConfig.GeminiModel,

		AssetCacheTTL: appConfig.AssetCacheTTL,

		ChatAgentID:        appConfig.ChatAgentID,
		SpreadsheetAgentID: appConfig.SpreadsheetAgentID,
		ImageAgentID:       appConfig.ImageAgentID,
	}, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}

	switch c.Type {
	case HTTPBackend:
		if c.BaseURL == "" {
			return fmt.Errorf("agent base URL is required for http backend")
		}
	case GeminiBackend:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("Gemini API key is required for gemini backend")
		}
	}

	return nil
}

// GetBackendTypes returns all valid backend types
func GetBackendTypes() []BackendType {
	return []BackendType{HTTPBackend, GeminiBackend}
}

// GetBackendTypeStrings returns all valid backend type strings
func GetBackendTypeStrings() []string {
	types := GetBackendTypes()
	strings := make([]string, len(types))
	for i, t := range types {
		strings[i] = t.String()
	}
	return strings
}
