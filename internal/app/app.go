// Package app builds the retrieval stack from a RetrievalConfig. The server,
// ingest and search binaries share it so that they open the store, cache and
// collaborators the same way.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"uplink/internal/config"
	"uplink/internal/domain/entity"
	"uplink/internal/infra/adapter/persistence/postgres"
	"uplink/internal/infra/adapter/persistence/sqlite"
	"uplink/internal/infra/cache"
	"uplink/internal/infra/classifier"
	"uplink/internal/infra/db"
	"uplink/internal/infra/embedder"
	"uplink/internal/repository"
	"uplink/internal/usecase/retrieval"
	"uplink/internal/usecase/search"
	"uplink/internal/usecase/write"
)

// App holds the wired components. Start must be called before writes are
// accepted, and Close releases everything in reverse order.
type App struct {
	Config     *config.RetrievalConfig
	DB         *sql.DB
	Repo       repository.RecordRepository
	Serializer *write.Serializer
	Cache      *cache.Cache
	Engine     *search.Engine
	Service    *retrieval.Service

	logger *slog.Logger
}

// New opens the store, migrates it, and wires the serializer, cache, engine
// and façade. On error every resource opened so far is closed.
//
// A badger cache directory that cannot be opened, typically because another
// process holds its lock, degrades to an in-memory cache.
func New(ctx context.Context, cfg *config.RetrievalConfig, logger *slog.Logger) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}

	database, err := db.Open(ctx, cfg.Store.Driver, cfg.StoreDSN(), db.PoolConfig{
		MaxOpenConns:    cfg.Store.MaxOpenConns,
		MaxIdleConns:    cfg.Store.MaxIdleConns,
		ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Store.ConnMaxIdleTime,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err != nil {
			_ = database.Close()
		}
	}()

	if err := db.MigrateUp(database, cfg.Store.Driver); err != nil {
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	emb, err := NewEmbedder(cfg.Embedding)
	if err != nil {
		return nil, err
	}
	cls, err := NewClassifier(cfg.Classifier)
	if err != nil {
		return nil, err
	}

	backend, err := NewCacheBackend(cfg.Cache, logger)
	if err != nil {
		if cfg.Cache.Backend != config.CacheBadger && cfg.Cache.Backend != "" {
			return nil, err
		}
		// a cache that cannot open is a miss, not a startup failure; the
		// usual cause is another process holding the badger directory lock
		logger.Warn("cache unavailable, using in-memory cache",
			slog.String("dir", cfg.Cache.Dir),
			slog.Any("error", err))
		backend = cache.NewMemoryBackend()
	}
	resultCache := cache.New(backend, cfg.Cache.TTL, cache.WithLogger(logger))

	repo := NewRepository(database, cfg.Store.Driver)

	serializer := write.NewSerializer(repo, write.Config{
		QueueCapacity:   cfg.Write.QueueCapacity,
		DefaultTimeout:  cfg.Write.Timeout,
		ShutdownTimeout: cfg.Write.ShutdownTimeout,
		ApplyTimeout:    cfg.Write.ApplyTimeout,
	}, write.WithLogger(logger))

	engine := search.NewEngine(repo, emb, search.Config{
		MaxTopK:          cfg.Search.MaxTopK,
		BatchParallelism: cfg.Search.BatchParallelism,
	})

	svc := retrieval.NewService(retrieval.Dependencies{
		Repo:       repo,
		Writer:     serializer,
		Engine:     engine,
		Cache:      resultCache,
		Embedder:   emb,
		Classifier: cls,
	}, retrieval.Config{
		DefaultTopK:       cfg.Search.DefaultTopK,
		WriteTimeout:      cfg.Write.Timeout,
		IngestParallelism: cfg.Search.IngestParallelism,
		SearchTimeout:     cfg.Search.Timeout,
	})

	logger.Info("retrieval stack initialized",
		slog.String("store", cfg.Store.Driver),
		slog.String("cache", backend.Location()),
		slog.String("embedding", cfg.Embedding.Provider),
		slog.String("classifier", cfg.Classifier.Provider))

	return &App{
		Config:     cfg,
		DB:         database,
		Repo:       repo,
		Serializer: serializer,
		Cache:      resultCache,
		Engine:     engine,
		Service:    svc,
		logger:     logger,
	}, nil
}

// Start launches the write serializer.
func (a *App) Start() error {
	return a.Serializer.Start()
}

// Close drains the serializer within the configured shutdown timeout, then
// closes the cache and the store.
func (a *App) Close(ctx context.Context) error {
	stopCtx, cancel := context.WithTimeout(ctx, a.Config.Write.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.Serializer.Stop(stopCtx); err != nil {
		errs = append(errs, fmt.Errorf("stop serializer: %w", err))
	}
	stats := a.Serializer.Stats()
	a.logger.Info("write serializer stopped",
		slog.Uint64("total_writes", stats.TotalWrites),
		slog.Uint64("failed_writes", stats.FailedWrites))

	if err := a.Cache.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close cache: %w", err))
	}
	if err := a.DB.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}

// NewRepository returns the record repository for driver.
func NewRepository(database *sql.DB, driver string) repository.RecordRepository {
	if driver == config.StorePostgres {
		return postgres.NewRecordRepo(database)
	}
	return sqlite.NewRecordRepo(database)
}

// NewCacheBackend opens the configured cache backend.
func NewCacheBackend(cfg config.CacheConfig, logger *slog.Logger) (cache.Backend, error) {
	switch cfg.Backend {
	case config.CacheMemory:
		return cache.NewMemoryBackend(), nil
	case config.CacheBadger, "":
		backend, err := cache.NewBadgerBackend(cache.BadgerOptions{Dir: cfg.Dir, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("open cache: %w", err)
		}
		return backend, nil
	default:
		return nil, fmt.Errorf("open cache: unsupported backend %q", cfg.Backend)
	}
}

// NewEmbedder builds the configured embedding collaborator.
func NewEmbedder(cfg config.EmbeddingConfig) (search.Embedder, error) {
	switch cfg.Provider {
	case config.EmbeddingHash:
		return embedder.NewHash(cfg.Dimensions), nil
	case config.EmbeddingOpenAI, "":
		oc := embedder.DefaultOpenAIConfig()
		oc.APIKey = cfg.APIKey
		oc.BaseURL = cfg.BaseURL
		if cfg.Model != "" {
			oc.Model = cfg.Model
		}
		oc.Dimensions = cfg.Dimensions
		if cfg.Timeout > 0 {
			oc.Timeout = cfg.Timeout
		}
		oc.RequestsPerSecond = cfg.RequestsPerSecond
		emb, err := embedder.NewOpenAI(oc)
		if err != nil {
			return nil, err
		}
		return emb, nil
	default:
		return nil, fmt.Errorf("%w: unsupported embedding provider %q", entity.ErrInvalidInput, cfg.Provider)
	}
}

// NewClassifier builds the configured bias classifier.
func NewClassifier(cfg config.ClassifierConfig) (retrieval.Classifier, error) {
	switch cfg.Provider {
	case config.ClassifierNoop, "":
		return classifier.NewNoop(), nil
	case config.ClassifierOpenAI, config.ClassifierClaude:
		model := cfg.Model
		if model == "" && cfg.Provider == config.ClassifierClaude {
			model = classifier.DefaultClaudeModel
		}
		cc := classifier.DefaultConfig(model)
		cc.APIKey = cfg.APIKey
		cc.BaseURL = cfg.BaseURL
		if cfg.Timeout > 0 {
			cc.Timeout = cfg.Timeout
		}
		cc.RequestsPerSecond = cfg.RequestsPerSecond

		if cfg.Provider == config.ClassifierClaude {
			c, err := classifier.NewClaude(cc)
			if err != nil {
				return nil, err
			}
			return c, nil
		}
		c, err := classifier.NewOpenAI(cc)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("%w: unsupported classifier provider %q", entity.ErrInvalidInput, cfg.Provider)
	}
}
