package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/evilpsycho42/mem-cli/internal/chunk"
	"github.com/evilpsycho42/mem-cli/internal/config"
	"github.com/evilpsycho42/mem-cli/internal/daemon"
	"github.com/evilpsycho42/mem-cli/internal/embed"
	"github.com/evilpsycho42/mem-cli/internal/fulltext"
	"github.com/evilpsycho42/mem-cli/internal/layout"
	"github.com/evilpsycho42/mem-cli/internal/search"
	"github.com/evilpsycho42/mem-cli/internal/store"
	memsync "github.com/evilpsycho42/mem-cli/internal/sync"
	"github.com/evilpsycho42/mem-cli/internal/workspace"
)

// providers is the process-wide embedding provider cache. CLI runs hold
// at most one provider; inside the daemon the same cache keeps the model
// warm across forwarded runs, and its counters feed ping responses.
var providers = daemon.NewProviderCache()

// app bundles everything an invocation needs once its workspace is
// resolved: config, layout, the open store, and the sync engine.
type app struct {
	cfg    *config.Config
	ws     *layout.Workspace
	db     *store.DB
	engine *memsync.Engine
	ft     *fulltext.Index
}

// openApp loads config, checks workspace access, and opens the index
// store. hybrid additionally opens the BM25 index and wires it into the
// sync engine.
func openApp(flags *globalFlags, hybrid bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	ws, err := workspace.Resolve(flags.path, flags.public, flags.token)
	if err != nil {
		return nil, err
	}

	db, err := store.Open(ws.IndexPath())
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg: cfg,
		ws:  ws,
		db:  db,
		engine: memsync.New(db, ws, chunkingFromConfig(cfg), memsync.PipelineConfig{
			BatchMaxTokens:       cfg.Embeddings.BatchMaxTokens,
			ApproxCharsPerToken:  cfg.Embeddings.ApproxCharsPerToken,
			CacheLookupBatchSize: cfg.Embeddings.CacheLookupBatchSize,
		}),
	}
	a.engine.LockOpts = memsync.DefaultLockOptions()

	if hybrid || cfg.Search.Hybrid {
		ft, ferr := fulltext.Open(ws.FulltextPath())
		if ferr != nil {
			db.Close()
			return nil, ferr
		}
		a.ft = ft
		a.engine.Fulltext = ft
	}

	return a, nil
}

func (a *app) close() {
	if a.ft != nil {
		_ = a.ft.Close()
	}
	_ = a.db.Close()
}

func (a *app) searchEngine() *search.Engine {
	return search.New(a.db)
}

// provider returns the cached embedding provider for the configured
// backend, downloading a remote model specifier into the cache dir
// first when needed.
func (a *app) provider(ctx context.Context) (embed.Provider, error) {
	model := a.cfg.Embeddings.ModelPath
	if embed.IsRemoteSpec(model) {
		cacheDir, err := a.cfg.ResolveCacheDir()
		if err != nil {
			return nil, err
		}
		local, err := embed.NewModelManager(cacheDir).EnsureModel(ctx, model)
		if err != nil {
			return nil, err
		}
		model = local
	}
	return providers.Get(ctx, embed.ParseProvider(a.cfg.Embeddings.Provider), model)
}

func chunkingFromConfig(cfg *config.Config) chunk.ChunkingConfig {
	return chunk.ChunkingConfig{
		Tokens:        cfg.Chunking.Tokens,
		Overlap:       cfg.Chunking.Overlap,
		MinChars:      cfg.Chunking.MinChars,
		CharsPerToken: cfg.Chunking.CharsPerToken,
	}
}

// rootContext is cancelled on SIGINT/SIGTERM so long operations (watch,
// daemon serve, cold syncs) unwind cleanly.
func rootContext() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return ctx
}

// effectiveToken applies the MEM_CLI_TOKEN fallback used by commands
// that report rather than resolve (init has no meta.json to check yet).
func effectiveToken(flags *globalFlags) string {
	if flags.token != "" {
		return flags.token
	}
	return os.Getenv("MEM_CLI_TOKEN")
}
