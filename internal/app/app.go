// Package app provides application initialization and dependency injection.
//
// App is the container that wires the caches, the vector index, the chunk
// store, and the retrieval orchestrator together from validated
// configuration. Components receive their collaborators as explicit
// constructor arguments; App owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koopa0/ragcache/api"
	"github.com/koopa0/ragcache/db"
	"github.com/koopa0/ragcache/internal/chunk"
	"github.com/koopa0/ragcache/internal/config"
	"github.com/koopa0/ragcache/internal/embedding"
	"github.com/koopa0/ragcache/internal/generate"
	"github.com/koopa0/ragcache/internal/index"
	"github.com/koopa0/ragcache/internal/ingest"
	"github.com/koopa0/ragcache/internal/log"
	"github.com/koopa0/ragcache/internal/querycache"
	"github.com/koopa0/ragcache/internal/retrieval"
)

// App is the core application container.
type App struct {
	Config *config.Config
	Logger log.Logger

	Genkit       *genkit.Genkit
	Embeddings   *embedding.Cache
	Index        index.Index
	Answers      *querycache.Cache[retrieval.Result]
	Chunks       *chunk.Store
	Orchestrator *retrieval.Orchestrator
	Ingestor     *ingest.Ingestor

	// DBPool is non-nil only with the postgres index backend.
	DBPool *pgxpool.Pool

	// memIndex is non-nil only with the memory backend; used for snapshot
	// persistence across restarts.
	memIndex *index.Memory
}

// Setup creates and initializes the application.
// Returns an App with embedded cleanup; call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if logger == nil {
		logger = log.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	g, err := provideGenkit(ctx)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder := googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found", cfg.EmbedderModel)
	}

	a.Embeddings = embedding.NewCache(
		embedding.NewGenkitEmbedder(embedder, cfg.EmbedderModel, cfg.VectorDimension),
		embedding.CacheConfig{
			Capacity:     cfg.EmbeddingCacheCapacity,
			MaxTextLen:   cfg.MaxTextLen,
			BatchMaxSize: cfg.EmbeddingBatchMaxSize,
		},
		logger,
	)

	if err := a.provideIndex(ctx); err != nil {
		return nil, err
	}

	a.Answers = querycache.New[retrieval.Result](querycache.Config{
		Capacity: cfg.QueryCacheCapacity,
		TTL:      cfg.QueryCacheTTL,
	})
	a.Chunks = chunk.NewStore()

	a.Orchestrator = retrieval.New(
		a.Embeddings,
		a.Index,
		a.Answers,
		a.Chunks,
		generate.NewGenkit(g, cfg.GenerationModel),
		retrieval.Options{
			TopK:              cfg.TopK,
			MinScore:          cfg.MinScore,
			MaxContextSize:    cfg.MaxContextSize,
			GenerationTimeout: cfg.GenerationTimeout,
		},
		logger,
	)

	a.Ingestor = ingest.New(
		a.Chunks,
		a.Embeddings,
		a.Index,
		a.Answers,
		ingest.Config{
			BatchMaxSize:     cfg.EmbeddingBatchMaxSize,
			MaxOutstanding:   cfg.IngestMaxOutstanding,
			BatchesPerSecond: cfg.IngestBatchesPerSecond,
		},
		logger,
	)

	a.loadSnapshots(ctx)
	return a, nil
}

// provideGenkit initializes Genkit with the Google AI plugin. The plugin
// reads GEMINI_API_KEY from the environment.
func provideGenkit(ctx context.Context) (*genkit.Genkit, error) {
	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		return nil, errors.New("initializing genkit")
	}
	return g, nil
}

// provideIndex creates the configured vector index backend.
func (a *App) provideIndex(ctx context.Context) error {
	cfg := a.Config

	metric, err := index.ParseMetric(cfg.SimilarityMetric)
	if err != nil {
		return err
	}

	switch cfg.IndexBackend {
	case config.BackendMemory:
		mem := index.NewMemory(cfg.VectorDimension, metric, a.Logger)
		a.memIndex = mem
		a.Index = mem
		return nil

	case config.BackendPostgres:
		dsn := cfg.PostgresDSN()
		if err := db.Migrate(dsn); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return fmt.Errorf("parsing connection config: %w", err)
		}
		poolCfg.MaxConns = 10
		poolCfg.MinConns = 2
		poolCfg.MaxConnLifetime = 30 * time.Minute
		poolCfg.MaxConnIdleTime = 5 * time.Minute
		poolCfg.HealthCheckPeriod = 1 * time.Minute

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return fmt.Errorf("creating connection pool: %w", err)
		}

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil {
			pool.Close()
			return fmt.Errorf("pinging database: %w", err)
		}

		a.DBPool = pool
		a.Index = index.NewPostgres(pool, cfg.VectorDimension, metric, a.Logger)
		return nil

	default:
		return fmt.Errorf("%w: %q", config.ErrInvalidBackend, cfg.IndexBackend)
	}
}

// loadSnapshots restores the embedding cache and memory index from disk.
// Missing or unreadable snapshots are not fatal; the process starts cold.
func (a *App) loadSnapshots(ctx context.Context) {
	cfg := a.Config

	if cfg.EmbeddingSnapshotPath != "" {
		n, err := a.Embeddings.LoadSnapshot(cfg.EmbeddingSnapshotPath)
		switch {
		case err == nil:
			a.Logger.Info("embedding snapshot loaded", "entries", n, "path", cfg.EmbeddingSnapshotPath)
		case errors.Is(err, os.ErrNotExist):
			a.Logger.Debug("no embedding snapshot", "path", cfg.EmbeddingSnapshotPath)
		default:
			a.Logger.Warn("loading embedding snapshot failed, starting cold",
				"path", cfg.EmbeddingSnapshotPath, "error", err)
		}
	}

	if a.memIndex != nil && cfg.IndexSnapshotPath != "" {
		n, err := a.memIndex.Load(ctx, cfg.IndexSnapshotPath)
		switch {
		case err == nil:
			if verr := a.memIndex.Verify(); verr != nil {
				a.Logger.Warn("loaded index snapshot failed verification, rebuilding",
					"path", cfg.IndexSnapshotPath, "error", verr)
				if _, rerr := a.Ingestor.Rebuild(ctx); rerr != nil {
					a.Logger.Warn("index rebuild failed, starting cold", "error", rerr)
				}
				return
			}
			a.Logger.Info("index snapshot loaded", "vectors", n, "path", cfg.IndexSnapshotPath)
		case errors.Is(err, os.ErrNotExist):
			a.Logger.Debug("no index snapshot", "path", cfg.IndexSnapshotPath)
		default:
			a.Logger.Warn("loading index snapshot failed, starting cold",
				"path", cfg.IndexSnapshotPath, "error", err)
		}
	}
}

// SaveSnapshots persists the embedding cache and memory index to disk.
func (a *App) SaveSnapshots() error {
	cfg := a.Config
	var errs []error

	if cfg.EmbeddingSnapshotPath != "" {
		n, err := a.Embeddings.SaveSnapshot(cfg.EmbeddingSnapshotPath)
		if err != nil {
			errs = append(errs, fmt.Errorf("saving embedding snapshot: %w", err))
		} else {
			a.Logger.Info("embedding snapshot saved", "entries", n, "path", cfg.EmbeddingSnapshotPath)
		}
	}

	if a.memIndex != nil && cfg.IndexSnapshotPath != "" {
		n, err := a.memIndex.Save(cfg.IndexSnapshotPath)
		if err != nil {
			errs = append(errs, fmt.Errorf("saving index snapshot: %w", err))
		} else {
			a.Logger.Info("index snapshot saved", "vectors", n, "path", cfg.IndexSnapshotPath)
		}
	}

	return errors.Join(errs...)
}

// Stats implements api.StatsSource over the live components.
func (a *App) Stats(ctx context.Context) (api.Stats, error) {
	vectors, err := a.Index.Len(ctx)
	if err != nil {
		return api.Stats{}, fmt.Errorf("counting index vectors: %w", err)
	}
	return api.Stats{
		EmbeddingCache: api.FromCacheStats(a.Embeddings.Stats()),
		QueryCache:     api.FromCacheStats(a.Answers.Stats()),
		IndexVectors:   vectors,
		CorpusChunks:   a.Chunks.Len(),
		CorpusVersion:  a.Chunks.Version(),
	}, nil
}

// Close gracefully shuts down all resources. Snapshots are saved first so a
// restart resumes warm.
func (a *App) Close() error {
	a.Logger.Info("shutting down application")

	var errs []error
	if a.Embeddings != nil {
		if err := a.SaveSnapshots(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Index != nil {
		if err := a.Index.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing index: %w", err))
		}
	}
	if a.DBPool != nil {
		a.DBPool.Close()
		a.Logger.Info("database pool closed")
	}
	return errors.Join(errs...)
}
