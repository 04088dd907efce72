package backend

import (
	"context"
	"time"

	"villagecash/internal/amqp"
	"villagecash/internal/services"
	"villagecash/internal/source"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult contains the backend instance and optional cleanup function
type BackendResult struct {
	// Backend is the raw data backend.
	Backend source.Backend
	// Loader reads through the fetch cache when one is configured.
	Loader source.Loader
	// AMQP is nil when no broker is configured or reachable.
	AMQP    *amqp.Client
	Cleanup CleanupFunc
}

// Publisher returns the change publisher, or a nil interface without AMQP.
func (r *BackendResult) Publisher() services.Publisher {
	if r.AMQP == nil {
		return nil
	}
	return r.AMQP
}

// Factory creates backends based on configuration
type Factory interface {
	// CreateBackend creates a backend instance based on the provided config
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	// Backend type
	Type BackendType

	// SQLite specific
	SQLiteDBPath string

	// Google Sheets specific
	GoogleSpreadsheetID string
	GoogleSheetName     string

	// Memory backend specific
	DataDirectory string

	// Optional for every backend
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// CacheSize 0 disables the fetch cache.
	CacheSize int
	CacheTTL  time.Duration
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	SheetsBackend BackendType = "sheets"
	MemoryBackend BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, SheetsBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
