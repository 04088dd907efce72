package backend

import (
	"context"
	"errors"
	"fmt"

	"villagecash/internal/amqp"
	"villagecash/internal/cache"
	"villagecash/internal/log"
	"villagecash/internal/source"
	"villagecash/internal/source/google"
	"villagecash/internal/source/memory"
	"villagecash/internal/storage"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.FromContext(context.Background())
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

	var (
		b       source.Backend
		closers []func() error
		err     error
	)
	switch config.Type {
	case SQLiteBackend:
		b, closers, err = f.createSQLiteBackend(config)
	case SheetsBackend:
		b, err = f.createSheetsBackend(ctx, config)
	case MemoryBackend:
		b, err = f.createMemoryBackend(config)
	default:
		err = fmt.Errorf("unsupported backend type: %s", config.Type)
	}
	if err != nil {
		return nil, err
	}

	res := &BackendResult{Backend: b, Loader: b}

	if config.CacheSize > 0 {
		loader, lru := source.NewCachedLoader(b, config.CacheSize, config.CacheTTL)
		res.Loader = loader
		if config.CacheTTL > 0 {
			mgr := cache.NewManager(func(removed int) {
				f.logger.Debug("Expired fetch cache entries removed", "removed", removed)
			})
			mgr.Register(lru)
			mgr.StartCleanup(config.CacheTTL)
			closers = append(closers, func() error { mgr.Stop(); return nil })
		}
		f.logger.Info("Fetch cache enabled", "size", config.CacheSize, "ttl", config.CacheTTL)
	}

	// AMQP is optional; the backend works without change events.
	if config.AMQPURL != "" {
		client, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
		if err != nil {
			f.logger.Warn("Failed to initialize AMQP client, continuing without change events", log.FieldError, err)
		} else {
			res.AMQP = client
			closers = append(closers, client.Close)
			f.logger.Info("Initialized AMQP client",
				"exchange", config.AMQPExchange,
				"queue", config.AMQPQueue)
		}
	}

	res.Cleanup = func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
	return res, nil
}

func (f *DefaultFactory) createSQLiteBackend(config Config) (source.Backend, []func() error, error) {
	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}
	f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)
	return repo, []func() error{repo.Close}, nil
}

func (f *DefaultFactory) createSheetsBackend(ctx context.Context, config Config) (source.Backend, error) {
	cli, err := google.New(ctx, config.GoogleSpreadsheetID, config.GoogleSheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
	}
	f.logger.Info("Initialized Google Sheets backend", "sheet", config.GoogleSheetName)
	return cli, nil
}

func (f *DefaultFactory) createMemoryBackend(config Config) (source.Backend, error) {
	dataDir := config.DataDirectory
	if dataDir == "" {
		dataDir = "data"
	}

	st, err := memory.NewFromFiles(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize memory backend: %w", err)
	}
	f.logger.Info("Initialized memory backend", "data_directory", dataDir)
	return st, nil
}
