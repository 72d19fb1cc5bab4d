// Package main is the entry point for the GovWatch MY procurement pipeline CLI.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/govwatchmy/procurement-pipeline/internal/api"
	"github.com/govwatchmy/procurement-pipeline/internal/api/handlers"
	"github.com/govwatchmy/procurement-pipeline/internal/api/middleware"
	"github.com/govwatchmy/procurement-pipeline/internal/browser"
	"github.com/govwatchmy/procurement-pipeline/internal/config"
	"github.com/govwatchmy/procurement-pipeline/internal/diagnostics"
	"github.com/govwatchmy/procurement-pipeline/internal/events"
	"github.com/govwatchmy/procurement-pipeline/internal/extract"
	"github.com/govwatchmy/procurement-pipeline/internal/importer"
	"github.com/govwatchmy/procurement-pipeline/internal/normalize"
	"github.com/govwatchmy/procurement-pipeline/internal/pipeline"
	"github.com/govwatchmy/procurement-pipeline/internal/storage"
	"github.com/govwatchmy/procurement-pipeline/pkg/logger"
	"github.com/govwatchmy/procurement-pipeline/pkg/shutdown"
)

// Version information (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Missing .env is fine; plain environment variables still apply.
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:     "govwatch",
		Short:   "GovWatch MY procurement data pipeline",
		Long:    "Scrapes, normalizes, and stores Malaysian government procurement disclosures.",
		Version: fmt.Sprintf("%s (built %s)", Version, BuildTime),
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newScrapeCmd())
	rootCmd.AddCommand(newImportCmd())
	rootCmd.AddCommand(newScriptCmd())

	return rootCmd.Execute()
}

// runtimeDeps holds the wired dependencies shared by serve and scrape.
type runtimeDeps struct {
	cfg       *config.Config
	log       *logger.Logger
	db        *storage.PostgresDB
	store     storage.RecordStore
	publisher events.Publisher
	archive   diagnostics.Archive
	pipe      *pipeline.Pipeline
	shutdown  *shutdown.Handler
}

// buildDeps wires storage, events, object storage, and the pipeline from
// configuration. External systems are optional: each one that fails to
// connect degrades with a warning instead of aborting.
func buildDeps(dryRun bool) (*runtimeDeps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(logger.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		AddSource: cfg.Log.AddSource,
	})
	log.SetDefault()

	d := &runtimeDeps{
		cfg:      cfg,
		log:      log,
		shutdown: shutdown.New(log.Logger, time.Duration(cfg.Server.ShutdownTimeout)*time.Second),
	}

	if dryRun {
		log.Info("dry run: records go to an in-memory store")
		d.store = storage.NewMemoryRecordStore()
	} else if cfg.Database.Host != "" {
		db, dbErr := storage.NewPostgres(storage.PostgresConfig{
			DSN:          cfg.Database.DSN(),
			MaxOpenConns: cfg.Database.MaxOpenConns,
			MaxIdleConns: cfg.Database.MaxIdleConns,
		})
		if dbErr != nil {
			log.Warn("failed to connect to database, using in-memory store", "error", dbErr)
			d.store = storage.NewMemoryRecordStore()
		} else {
			d.db = db
			recordStore := storage.NewRecordStore(db, log)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := recordStore.EnsureSchema(ctx); err != nil {
				cancel()
				db.Close()
				return nil, fmt.Errorf("failed to ensure schema: %w", err)
			}
			cancel()
			d.store = recordStore
			log.Info("connected to database", "host", cfg.Database.Host, "database", cfg.Database.Database)
			d.shutdown.RegisterNamed("database", func(ctx context.Context) error {
				return db.Close()
			})
		}
	} else {
		log.Warn("database not configured, using in-memory store")
		d.store = storage.NewMemoryRecordStore()
	}

	if cfg.NATS.Enabled && cfg.NATS.URL != "" {
		natsCfg := events.DefaultNATSConfig()
		natsCfg.URL = cfg.NATS.URL
		if cfg.NATS.Name != "" {
			natsCfg.Name = cfg.NATS.Name
		}
		pub, natsErr := events.NewNATSPublisher(natsCfg, log)
		if natsErr != nil {
			log.Warn("failed to connect to NATS, events disabled", "error", natsErr)
		} else {
			d.publisher = pub
			log.Info("connected to NATS", "url", cfg.NATS.URL)
			d.shutdown.RegisterNamed("nats", func(ctx context.Context) error {
				pub.Close()
				return nil
			})
		}
	}

	if cfg.Storage.Enabled && cfg.Storage.Endpoint != "" {
		objStore, minioErr := storage.NewMinIOStorage(storage.MinIOConfig{
			Endpoint:        cfg.Storage.Endpoint,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretAccessKey,
			BucketName:      cfg.Storage.BucketName,
			UseSSL:          cfg.Storage.UseSSL,
		})
		if minioErr != nil {
			log.Warn("failed to connect to object storage, diagnostic archiving disabled", "error", minioErr)
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := objStore.InitBucket(ctx); err != nil {
				log.Warn("failed to initialize storage bucket", "error", err)
			}
			cancel()
			d.archive = objStore
			log.Info("connected to object storage", "endpoint", cfg.Storage.Endpoint, "bucket", cfg.Storage.BucketName)
		}
	}

	sessionFactory := func(ctx context.Context, diag *diagnostics.Run) (pipeline.Session, error) {
		bcfg := browser.DefaultConfig()
		bcfg.UserAgent = cfg.Scraper.UserAgent
		bcfg.Headless = cfg.Scraper.Headless
		bcfg.NavTimeout = cfg.Scraper.NavTimeout
		bcfg.SettleDelay = cfg.Scraper.SettleDelay
		bcfg.ScrollIterations = cfg.Scraper.ScrollIterations
		bcfg.ScrollDelay = cfg.Scraper.ScrollDelay
		bcfg.RateLimit = cfg.Scraper.RateLimit
		return browser.Launch(ctx, bcfg, diag, log)
	}

	d.pipe = pipeline.New(cfg.Scraper, d.store, normalize.New(), sessionFactory, d.publisher, d.archive, log)
	return d, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := buildDeps(false)
			if err != nil {
				return err
			}
			cfg, log := deps.cfg, deps.log

			log.Info("starting GovWatch MY",
				"version", Version,
				"environment", cfg.Server.Environment,
				"port", cfg.Server.Port,
			)

			var rateLimitStore middleware.RateLimitStore
			if cfg.Redis.Enabled {
				redisStore, redisErr := middleware.NewRedisRateLimitStore(cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB)
				if redisErr != nil {
					log.Warn("failed to connect to Redis, using in-memory rate limiting", "error", redisErr)
				} else {
					rateLimitStore = redisStore
					log.Info("connected to Redis", "addr", cfg.Redis.Addr())
					deps.shutdown.RegisterNamed("redis", func(ctx context.Context) error {
						return redisStore.Close()
					})
				}
			}

			health := map[string]handlers.HealthChecker{}
			if deps.db != nil {
				health["database"] = deps.db
			}
			if archive, ok := deps.archive.(*storage.MinIOStorage); ok {
				health["object_storage"] = archive
			}

			router := api.NewRouter(api.Dependencies{
				Logger:         log,
				Trigger:        deps.pipe,
				Sink:           deps.store,
				Health:         health,
				RateLimitStore: rateLimitStore,
			}, api.DefaultRouterConfig())

			serverCfg := api.DefaultServerConfig()
			serverCfg.Port = cfg.Server.Port
			serverCfg.ShutdownTimeout = time.Duration(cfg.Server.ShutdownTimeout) * time.Second

			server := api.NewServer(router, serverCfg, log)
			deps.shutdown.RegisterNamed("http-server", func(ctx context.Context) error {
				return server.Shutdown(ctx)
			})

			go func() {
				if err := server.Start(); err != nil && err != http.ErrServerClosed {
					log.Error("HTTP server error", "error", err)
				}
			}()

			deps.shutdown.Wait()
			log.Info("server stopped")
			return nil
		},
	}
}

func newScrapeCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Run a single scrape of the configured target URLs",
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := buildDeps(dryRun)
			if err != nil {
				return err
			}
			defer deps.shutdown.Shutdown()

			result := deps.pipe.Trigger(cmd.Context())

			out, _ := json.MarshalIndent(result, "", "  ")
			fmt.Println(string(out))

			if dryRun {
				if mem, ok := deps.store.(*storage.MemoryRecordStore); ok {
					for _, rec := range mem.Records() {
						fmt.Printf("  %s | %s | RM %.2f | %s | %s\n",
							rec.Ministry, rec.Vendor, rec.Amount, rec.Method, rec.Date)
					}
				}
			}

			if !result.Success {
				// Soft failure for the API, hard exit code for the CLI so
				// cron and CI notice.
				return fmt.Errorf("scrape failed: %s", result.Message)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "extract and normalize but do not write to the database")
	return cmd
}

func newImportCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "import <file>...",
		Short: "Import historical procurement data from CSV or XLSX files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := buildDeps(dryRun)
			if err != nil {
				return err
			}
			defer deps.shutdown.Shutdown()

			im := importer.New(deps.store, deps.log)

			total := 0
			for _, path := range args {
				n, err := im.CountRows(path)
				if err != nil {
					return fmt.Errorf("cannot read %s: %w", path, err)
				}
				total += n
			}

			bar := progressbar.NewOptions(total,
				progressbar.OptionSetDescription("Importing records"),
				progressbar.OptionShowCount(),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "=",
					SaucerHead:    ">",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
			)
			im.Progress = func() { _ = bar.Add(1) }

			var inserted, dropped, rows int
			for _, path := range args {
				res, err := im.File(cmd.Context(), path)
				if err != nil {
					return fmt.Errorf("import %s: %w", path, err)
				}
				rows += res.Rows
				inserted += res.Inserted
				dropped += res.Dropped
			}
			_ = bar.Finish()

			fmt.Printf("\nimported %d of %d rows (%d dropped or duplicate)\n", inserted, rows, rows-inserted)
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "parse and normalize but do not write to the database")
	return cmd
}

func newScriptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "script",
		Short: "Print the browser console extraction script",
		Long: "Prints a standalone JavaScript snippet to paste into the browser console " +
			"on a procurement page when automated access is blocked. The script extracts " +
			"records client-side and downloads them as JSON for the import or upload endpoints.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(extract.ConsoleScript())
		},
	}
}
