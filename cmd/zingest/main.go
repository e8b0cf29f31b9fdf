package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zingest/zingest/internal/config"
	"github.com/zingest/zingest/internal/engine"
	"github.com/zingest/zingest/internal/intake"
	zlog "github.com/zingest/zingest/internal/log"
	"github.com/zingest/zingest/internal/notify"
	"github.com/zingest/zingest/internal/opencast"
	"github.com/zingest/zingest/internal/queue"
	"github.com/zingest/zingest/internal/store"
	"github.com/zingest/zingest/internal/zoom"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("zingest %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLogger := zlog.Base()
		bootLogger.Fatal().Err(err).
			Str("event", "config.load_failed").
			Str("config_path", *configPath).
			Msg("failed to load configuration")
	}

	zlog.Configure(zlog.Config{Level: cfg.LogLevel, Service: "zingest"})
	logger := zlog.WithComponent("main")

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).
			Str("event", "config.invalid").
			Msg("configuration is not usable")
	}
	if cfg.Database == config.DefaultDatabase {
		logger.Warn().
			Str("event", "config.default_database").
			Str("database", cfg.Database).
			Msg("using the default local database file, configure a database for production")
	}
	if !cfg.WebhookEnabled() {
		logger.Warn().
			Str("event", "config.webhook_disabled").
			Msg("webhook ingest disabled: set a default workflow plus a default series or acl")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).
			Str("event", "store.open_failed").
			Str("database", cfg.Database).
			Msg("failed to open database")
	}
	defer func() { _ = st.Close() }()

	source := zoom.New(cfg.Zoom.JWTKey, cfg.Zoom.JWTSecret, zoom.Options{GDPR: cfg.Zoom.GDPR})
	source.OnUser = func(ctx context.Context, u zoom.User) {
		err := st.EnsureUser(ctx, store.User{
			ID: u.ID, FirstName: u.FirstName, LastName: u.LastName, Email: u.Email,
		})
		if err != nil {
			hookLogger := zlog.WithComponentFromContext(ctx, "main")
			hookLogger.Warn().Err(err).
				Str("event", "user_cache.write_failed").Msg("user cache upsert failed")
		}
	}

	var seriesFilter *regexp.Regexp
	if cfg.Opencast.SeriesFilter != "" {
		seriesFilter = regexp.MustCompile(cfg.Opencast.SeriesFilter)
	}
	sink := opencast.New(cfg.Opencast.URL, cfg.Opencast.User, cfg.Opencast.Password, opencast.Options{
		WorkflowAllowlist: cfg.WorkflowAllowlist(),
		SeriesFilter:      seriesFilter,
	})

	broker := queue.New(cfg.Rabbit.Host, cfg.Rabbit.User, cfg.Rabbit.Password)
	defer func() { _ = broker.Close() }()

	svc, err := intake.NewService(st, source, sink, broker, cfg)
	if err != nil {
		logger.Fatal().Err(err).
			Str("event", "intake.init_failed").
			Msg("failed to build intake service")
	}

	eng := engine.New(st, source, sink, engine.Options{
		InProgressRoot: cfg.InProgressRoot,
		Workers:        cfg.Workers,
		Notifier:       notifierOrNil(cfg),
	})

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           svc.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info().
		Str("event", "startup").
		Str("version", version).
		Str("addr", cfg.Listen).
		Str("opencast", cfg.Opencast.URL).
		Str("rabbit", cfg.Rabbit.Host).
		Int("workers", cfg.Workers).
		Bool("gdpr", cfg.Zoom.GDPR).
		Msg("starting zingest")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		err := eng.Run(ctx, broker)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Str("event", "shutdown.error").Msg("zingest exited with error")
	}
	logger.Info().Str("event", "shutdown").Msg("zingest stopped")
}

// notifierOrNil avoids handing the engine a typed nil interface value.
func notifierOrNil(cfg config.Config) engine.Notifier {
	if m := notify.New(cfg.Email); m != nil {
		return m
	}
	return nil
}
