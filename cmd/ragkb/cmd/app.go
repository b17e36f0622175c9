package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Aman-CERP/ragkb/internal/chunk"
	"github.com/Aman-CERP/ragkb/internal/config"
	"github.com/Aman-CERP/ragkb/internal/documents"
	"github.com/Aman-CERP/ragkb/internal/embed"
	"github.com/Aman-CERP/ragkb/internal/ingest"
	"github.com/Aman-CERP/ragkb/internal/llm"
	"github.com/Aman-CERP/ragkb/internal/logging"
	"github.com/Aman-CERP/ragkb/internal/search"
	"github.com/Aman-CERP/ragkb/internal/store"
	"github.com/Aman-CERP/ragkb/internal/telemetry"
)

// loadConfig resolves configuration from the global flags.
func loadConfig(g *globalOptions) (*config.Config, error) {
	dir, err := filepath.Abs(g.dir)
	if err != nil {
		return nil, fmt.Errorf("resolve project directory: %w", err)
	}

	var cfg *config.Config
	if g.configFile != "" {
		cfg, err = config.LoadFile(g.configFile)
	} else {
		cfg, err = config.Load(dir)
	}
	if err != nil {
		return nil, err
	}

	switch {
	case g.dataDir != "":
		cfg.DataDir, err = filepath.Abs(g.dataDir)
		if err != nil {
			return nil, fmt.Errorf("resolve data directory: %w", err)
		}
	case cfg.DataDir == "":
		cfg.DataDir = filepath.Join(dir, config.DefaultDataDirName)
	}
	if g.debug {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// installLogging routes slog to the data directory's log file. Stderr gets
// a copy only with --debug, and never when stdio carries a protocol.
func installLogging(cfg *config.Config, g *globalOptions, stdio bool) (func(), error) {
	logCfg := cfg.Logging
	if logCfg.FilePath == "" {
		logCfg.FilePath = logging.DefaultLogPath(cfg.DataDir)
	}
	if stdio {
		logCfg = logging.FileOnly(logCfg, logCfg.FilePath)
	} else {
		logCfg.Stderr = g.debug
	}
	return logging.Install(logCfg)
}

// app is the fully wired knowledge base for one command.
type app struct {
	cfg       *config.Config
	metrics   *telemetry.Metrics
	lock      *store.DirLock
	embedder  embed.Embedder
	vectors   *store.HNSWVectorStore
	keywords  store.KeywordStore
	docs      *store.SQLiteDocumentStore
	pipeline  *ingest.Pipeline
	generator llm.Generator
	engine    *search.Engine
	manager   *documents.Manager

	closers      []func() error
	closeLogging func()
}

type appOptions struct {
	// stdio keeps stdout and stderr free of log output.
	stdio bool
}

// openApp loads configuration, takes the data directory lock and wires
// every component. Close releases them in reverse order.
func openApp(ctx context.Context, g *globalOptions, opts appOptions) (_ *app, err error) {
	cfg, err := loadConfig(g)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	a := &app{cfg: cfg, metrics: telemetry.New()}
	a.closeLogging, err = installLogging(cfg, g, opts.stdio)
	if err != nil {
		return nil, fmt.Errorf("set up logging: %w", err)
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.lock = store.NewDirLock(cfg.DataDir)
	if err := a.lock.TryLock(); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.lock.Unlock)

	a.embedder, err = embed.NewEmbedder(ctx, cfg.Embedding)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.embedder.Close)

	a.vectors, err = store.NewHNSWVectorStore(store.HNSWConfig{
		Dir:      filepath.Join(cfg.DataDir, store.VectorsDirName),
		M:        cfg.Vector.M,
		EfSearch: cfg.Vector.EfSearch,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.vectors.Close)

	a.keywords, err = store.NewKeywordStore(cfg.DataDir, cfg.Keyword.Backend)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.keywords.Close)

	a.docs, err = store.NewSQLiteDocumentStore(filepath.Join(cfg.DataDir, store.DocumentsFileName))
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.docs.Close)

	a.pipeline, err = ingest.New(a.embedder, a.vectors, a.keywords, ingest.Config{
		IndexName: cfg.Vector.IndexName,
		Metric:    strings.ToLower(cfg.Vector.Metric),
		Chunking: chunk.Options{
			Strategy: chunk.Strategy(cfg.Chunking.Strategy),
			MaxSize:  cfg.Chunking.MaxSize,
			Overlap:  cfg.Chunking.Overlap,
		},
		Metrics: a.metrics,
	})
	if err != nil {
		return nil, err
	}

	a.generator, err = llm.NewGenerator(ctx, cfg.Generation)
	if err != nil {
		return nil, err
	}
	engineOpts := []search.EngineOption{search.WithRemover(a.pipeline)}
	if a.generator != nil {
		a.closers = append(a.closers, a.generator.Close)
		engineOpts = append(engineOpts, search.WithGenerator(a.generator))
	}

	a.engine, err = search.NewEngine(a.embedder, a.vectors, a.keywords, search.Config{
		IndexName: cfg.Vector.IndexName,
		Defaults: search.QueryOptions{
			TopK:         cfg.Query.TopK,
			MinScore:     search.Float(cfg.Query.MinScore),
			Mode:         search.Mode(cfg.Query.Mode),
			VectorWeight: search.Float(cfg.Query.VectorWeight),
			RerankModel:  cfg.Rerank.Model,
		},
		RRFConstant:      cfg.Query.RRFConstant,
		RerankCandidates: cfg.Rerank.MaxCandidates,
		Metrics:          a.metrics,
	}, engineOpts...)
	if err != nil {
		return nil, err
	}

	a.manager, err = documents.NewManager(a.docs, a.pipeline, a.engine, documents.Config{
		Workers:      cfg.Documents.Workers,
		QueueSize:    cfg.Documents.QueueSize,
		EmbedTimeout: cfg.Documents.EmbedTimeout,
		Metrics:      a.metrics,
	})
	if err != nil {
		return nil, err
	}
	// The manager closes first so queued embeddings finish against open
	// stores.
	a.closers = append(a.closers, a.manager.Close)

	slog.Debug("app_ready",
		slog.String("data_dir", cfg.DataDir),
		slog.String("index", cfg.Vector.IndexName),
		slog.Bool("generation", a.generator != nil))
	return a, nil
}

// Close drains background work and releases every component.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	if a.closeLogging != nil {
		a.closeLogging()
		a.closeLogging = nil
	}
	return errors.Join(errs...)
}

// withApp opens the app, runs fn and always closes it.
func withApp(ctx context.Context, g *globalOptions, opts appOptions, fn func(*app) error) (err error) {
	a, err := openApp(ctx, g, opts)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, a.Close())
	}()
	return fn(a)
}
