// Command searcher serves the search page, the JSON search API and the
// static document tree from a previously built index.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/store"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/middleware"
	pkgredis "github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/redis"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "searcher: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	if err := run(cfg); err != nil {
		slog.Error("search service failed", "error", err)
		fmt.Fprintf(os.Stderr, "searcher: %v\n", err)
		os.Exit(1)
	}
	slog.Info("search service stopped")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("starting search service",
		"port", cfg.Server.Port,
		"home_dir", cfg.Server.HomeDir,
		"driver", cfg.Store.Driver,
	)

	var m *metrics.Metrics
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		m = metrics.New()
		if cfg.Metrics.Port != cfg.Server.Port {
			metricsServer = metrics.NewServer(cfg.Metrics.Port, cfg.Server.ReadTimeout)
		}
	}

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("opening index (run mkindex first): %w", err)
	}
	resolver := searcher.NewResolver(st)
	defer func() {
		if closer, ok := resolver.Reader().(io.Closer); ok {
			closer.Close()
		}
	}()

	var queryCache *cache.QueryCache
	var redisClient *pkgredis.Client
	if cfg.Redis.Enabled {
		redisClient, err = pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, cfg.Redis.CacheTTL, cache.WithGeneration(resolver.Generation))
			// Results cached before this process started may predate the index.
			if err := queryCache.Invalidate(ctx); err != nil {
				slog.Warn("clearing stale query cache failed", "error", err)
			}
			slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	var invalidator searcher.Invalidator
	if queryCache != nil {
		invalidator = queryCache
	}
	reloader := searcher.NewReloader(resolver, cfg.Store, nil, invalidator, m)
	aggregator := analytics.NewAggregator()

	g, ctx := errgroup.WithContext(ctx)

	var tracker handler.Tracker = aggregator
	if cfg.Kafka.Enabled {
		instance := instanceID()

		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
		defer producer.Close()
		collector := analytics.NewCollector(producer, 10000)
		collector.Start(ctx)
		defer collector.Close()
		tracker = collector

		// Every instance must see every event, so each gets its own group.
		analyticsConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents,
			cfg.Kafka.ConsumerGroup+"-analytics-"+instance, aggregator.HandleMessage)
		defer analyticsConsumer.Close()
		g.Go(func() error { return analyticsConsumer.Start(ctx) })

		indexConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete,
			cfg.Kafka.ConsumerGroup+"-"+instance,
			func(ctx context.Context, key, value []byte) error {
				if err := reloader.HandleMessage(ctx, key, value); err != nil {
					return err
				}
				return aggregator.HandleMessage(ctx, key, value)
			})
		defer indexConsumer.Close()
		g.Go(func() error { return indexConsumer.Start(ctx) })

		slog.Info("kafka enabled",
			"analytics_topic", cfg.Kafka.Topics.AnalyticsEvents,
			"index_topic", cfg.Kafka.Topics.IndexComplete,
			"instance", instance,
		)
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-hup:
				slog.Info("SIGHUP received, reloading index")
				if err := reloader.Reload(ctx); err != nil {
					slog.Error("index reload failed", "error", err)
				}
			}
		}
	})

	checker := health.NewChecker()
	checker.Register("store", func(ctx context.Context) health.ComponentHealth {
		pinger, ok := resolver.Reader().(health.Pinger)
		if !ok {
			return health.ComponentHealth{Status: health.StatusDown, Message: "no index"}
		}
		return health.PingCheck(pinger, true)(ctx)
	})
	if redisClient != nil {
		checker.Register("redis", health.PingCheck(redisClient, false))
	}

	opts := []handler.Option{
		handler.WithTracker(tracker),
		handler.WithStats(aggregator),
		handler.WithTracing(cfg.Tracing.Enabled),
	}
	if queryCache != nil {
		opts = append(opts, handler.WithCache(queryCache))
	}
	if m != nil {
		opts = append(opts, handler.WithMetrics(m))
	}
	h, err := handler.New(resolver, cfg.Server.HomeDir, cfg.Search.MaxQueryLength, opts...)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	if m != nil {
		mux.Handle("GET /metrics", metrics.Handler())
	}

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	if m != nil {
		chain = middleware.Metrics(m)(chain)
	}
	chain = middleware.CORS(middleware.DefaultCORSConfig())(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g.Go(func() error {
		slog.Info("search service listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if metricsServer != nil {
		g.Go(func() error {
			slog.Info("metrics server listening", "addr", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		if metricsServer != nil {
			err = errors.Join(err, metricsServer.Shutdown(shutdownCtx))
		}
		return err
	})

	return g.Wait()
}

func instanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "searcher"
	}
	return host + "-" + uuid.NewString()[:8]
}
