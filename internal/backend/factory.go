package backend

import (
	"context"
	"fmt"
	"strings"

	"ledgerlens/internal/agent/gemini"
	"ledgerlens/internal/agent/httpagent"
	"ledgerlens/internal/cache"
	"ledgerlens/internal/core"
	"ledgerlens/internal/log"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &DefaultFactory{
		logger: logger.WithComponent(log.ComponentBackend),
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case HTTPBackend:
		return f.createHTTPBackend(config)
	case GeminiBackend:
		return f.createGeminiBackend(ctx, config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createHTTPBackend(config Config) (*BackendResult, error) {
	client, err := httpagent.New(httpagent.Config{
		BaseURL: config.BaseURL,
		APIKey:  config.APIKey,
		UserID:  config.UserID,
		Timeout: config.Timeout,
	}, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize HTTP agent client: %w", err)
	}

	f.logger.Info("Initialized HTTP agent backend",
		"base_url", config.BaseURL,
		"timeout", config.Timeout)

	return &BackendResult{
		Client:      client,
		Cleanup:     func() error { return nil },
		LegacyExcel: true,
	}, nil
}

func (f *DefaultFactory) createGeminiBackend(ctx context.Context, config Config) (*BackendResult, error) {
	client, err := gemini.New(ctx, gemini.Config{
		APIKey:       config.GeminiAPIKey,
		Model:        config.GeminiModel,
		Instructions: instructions(config),
		Timeout:      config.Timeout,
		HeldAssets:   config.AssetCacheEntries,
		AssetTTL:     config.AssetCacheTTL,
	}, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Gemini client: %w", err)
	}

	f.logger.Info("Initialized Gemini agent backend", "model", config.GeminiModel)

	// Workbooks are flattened with excelize, which only reads .xlsx.
	return &BackendResult{
		Client:  client,
		Cleanup: client.Close,
		Caches:  []cache.Cleaner{client.Assets()},
	}, nil
}

// instructions gives each configured agent id the system instruction that
// the remote agent service would otherwise carry.
func instructions(config Config) map[string]string {
	categories := strings.Join(core.Categories, ", ")
	return map[string]string{
		config.ChatAgentID: "You are a personal finance assistant. Answer questions about the user's " +
			"expenses using only the ledger summary included in the message. Be brief and quote amounts exactly.",
		config.SpreadsheetAgentID: "You convert bank exports and expense spreadsheets into JSON expense records. " +
			"Valid categories: " + categories + ". Reply with JSON only.",
		config.ImageAgentID: "You read photographed receipts and extract the total, merchant, date and category. " +
			"Valid categories: " + categories + ". Reply with JSON only and report a confidence for every field.",
	}
}
