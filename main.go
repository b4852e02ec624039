package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/alecthomas/kong"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"

	"github.com/blampe/bookinfo/internal"
)

// serveCmd wires every dependency and runs the HTTP/WebSocket server,
// following the same pgconfig embedding and flag shape as the base
// `server` command, generalized with the redis and provider config
// blocks this domain additionally needs.
type serveCmd struct {
	pgconfig
	redisconfig
	providerconfig
	logconfig

	Port              int           `default:"8788" help:"Port to serve traffic on." env:"PORT"`
	VisionBaseURL     string        `default:"" help:"Base URL of the bookshelf-scan vision service." env:"VISION_BASE_URL"`
	VisionKey         string        `default:"" help:"API key for the vision service." env:"VISION_KEY"`
	CSVExtractBaseURL string        `default:"" help:"Base URL of the AI-assisted CSV row extractor." env:"CSV_EXTRACT_BASE_URL"`
	CSVExtractKey     string        `default:"" help:"API key for the CSV row extractor." env:"CSV_EXTRACT_KEY"`
	JobCleanupAfter   time.Duration `default:"24h" help:"How long a terminal job's state survives before its cleanup alarm deletes it."`
}

func (s *serveCmd) Run() error {
	_ = s.logconfig.Run()
	ctx := context.Background()

	metrics := internal.NewMetrics()

	jobStore, err := internal.NewPostgresJobStore(ctx, s.dsn())
	if err != nil {
		return fmt.Errorf("connecting job store: %w", err)
	}
	internal.RegisterJobStorePool(jobStore.Pool(), metrics)

	durable, err := internal.NewRedisStore(ctx, s.RedisAddr, s.RedisPassword, s.RedisDB)
	if err != nil {
		return fmt.Errorf("connecting cache store: %w", err)
	}
	cache, err := internal.NewUnifiedCache(durable, metrics)
	if err != nil {
		return fmt.Errorf("building cache: %w", err)
	}

	providers, err := s.buildProviders(ctx)
	if err != nil {
		return fmt.Errorf("configuring providers: %w", err)
	}
	engine := internal.NewEngine(cache, providers...)

	registry := internal.NewRegistry(jobStore, s.JobCleanupAfter, metrics)
	if err := registry.Resume(ctx); err != nil {
		log(ctx).Warn("resuming in-flight jobs", "err", err)
	}

	limiter := internal.NewRateLimiter()

	queue := internal.NewQueueConsumer(durable.Client(), engine, cache, "", "", metrics)
	queueCtx, stopQueue := context.WithCancel(ctx)
	defer stopQueue()
	go queue.Run(queueCtx)

	a := &app{
		engine:    engine,
		registry:  registry,
		limiter:   limiter,
		queue:     queue,
		vision:    internal.NewHTTPVisionClient(s.VisionBaseURL, internal.StringSecret(s.VisionKey)),
		quality:   internal.BasicImageQualityChecker{},
		csv:       internal.NewHTTPCSVExtractor(s.CSVExtractBaseURL, internal.StringSecret(s.CSVExtractKey)),
		metrics:   metrics,
		maxImage:  internal.MaxImageBytes,
		maxCSV:    internal.MaxCSVBytes,
		maxPhotos: internal.MaxBatchPhotos,
	}

	addr := fmt.Sprintf(":%d", s.Port)
	server := &http.Server{
		Handler:      newRouter(a),
		Addr:         addr,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 3 * time.Minute, // long enough for a pipeline to run in-request if ever needed.
		ErrorLog:     slog.NewLogLogger(slog.Default().Handler(), slog.LevelError),
	}

	log(ctx).Info("listening", "addr", addr)
	return server.ListenAndServe()
}

// buildProviders constructs the three upstream clients in fallback
// order: GoogleBooks, OpenLibrary, ISBNdb.
func (s *serveCmd) buildProviders(ctx context.Context) ([]internal.Provider, error) {
	gb, err := internal.NewGoogleBooksProvider(ctx, s.GoogleBooksBaseURL, internal.StringSecret(s.GoogleBooksKey), s.RPS)
	if err != nil {
		return nil, err
	}
	ol := internal.NewOpenLibraryProvider(s.OpenLibraryBaseURL, s.RPS)
	idb, err := internal.NewISBNdbProvider(ctx, s.ISBNdbBaseURL, internal.StringSecret(s.ISBNdbKey), s.RPS)
	if err != nil {
		return nil, err
	}
	return []internal.Provider{gb, ol, idb}, nil
}

// migrateCmd applies the durable job store's schema migrations using
// golang-migrate/migrate rather than hand-rolled DDL.
func (c *migrateCmd) Run() error {
	_ = c.logconfig.Run()

	m, err := migrate.New("file://"+c.MigrationsDir, "pgx5://"+c.dsn()[len("postgres://"):])
	if err != nil {
		return fmt.Errorf("building migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// purgeCmd busts cache entries by key prefix, exposing the cache's
// InvalidateByPrefix as an operator tool. Keys here are
// deterministic search/book/enrichment prefixes rather than per-resource
// ids, so a prefix purge is the natural unit of invalidation.
func (c *purgeCmd) Run() error {
	_ = c.logconfig.Run()
	ctx := context.Background()

	durable, err := internal.NewRedisStore(ctx, c.RedisAddr, c.RedisPassword, c.RedisDB)
	if err != nil {
		return err
	}
	defer func() { _ = durable.Close() }()

	cache, err := internal.NewUnifiedCache(durable, nil)
	if err != nil {
		return err
	}
	return cache.InvalidateByPrefix(ctx, c.Prefix)
}

func main() {
	_ = godotenv.Load()

	kctx := kong.Parse(&cli{})
	err := kctx.Run()
	if err != nil {
		log(context.Background()).Error("fatal", "err", err)
		os.Exit(1)
	}
}

func init() {
	// Limit our memory to 90% of what's free. This affects cache sizes.
	_, err := memlimit.SetGoMemLimitWithOpts(
		memlimit.WithRatio(0.9),
		memlimit.WithLogger(slog.Default()),
		memlimit.WithProvider(
			memlimit.ApplyFallback(
				memlimit.FromCgroup,
				memlimit.FromSystem,
			),
		),
	)
	if err != nil {
		panic(err)
	}
}
