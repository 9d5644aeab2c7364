package backend

import (
	"context"

	"ledgerlens/internal/agent"
	"ledgerlens/internal/cache"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult contains the agent client and optional cleanup function
type BackendResult struct {
	Client  agent.Client
	Cleanup CleanupFunc
	// Caches held by the backend that the cache manager should sweep.
	Caches []cache.Cleaner
	// LegacyExcel is set when the backend can read .xls (BIFF) workbooks.
	LegacyExcel bool
}

// Factory creates agent backends based on configuration
type Factory interface {
	// CreateBackend creates an agent client based on the provided config
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// BackendType represents the type of agent backend
type BackendType string

const (
	HTTPBackend   BackendType = "http"
	GeminiBackend BackendType = "gemini"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case HTTPBackend, GeminiBackend:
		return true
	default:
		return false
	}
}
