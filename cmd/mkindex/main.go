// Command mkindex rebuilds the search index from <root>/wiki/**/*.html.
//
// Usage:
//
//	mkindex [-config path] [-root dir] [root]
//
// The index is written to the configured store (index.db in the working
// directory by default) and replaces the previous index only when the build
// completes. Per-document problems are logged as warnings and do not change
// the exit status.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to config file")
	rootFlag := flag.String("root", "", "collection root containing the wiki directory (overrides config)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-config path] [-root dir] [root]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mkindex: %v\n", err)
		return 1
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	root := cfg.Indexer.Root
	switch {
	case *rootFlag != "":
		root = *rootFlag
	case flag.NArg() == 1:
		root = flag.Arg(0)
	case flag.NArg() > 1:
		flag.Usage()
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []indexer.Option{indexer.WithTracing(cfg.Tracing.Enabled)}

	var registry *prometheus.Registry
	if cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		opts = append(opts, indexer.WithMetrics(metrics.NewWithRegistry(registry)))
	}

	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete)
		defer producer.Close()
		opts = append(opts, indexer.WithPublisher(producer))
	}

	builder := indexer.NewBuilder(cfg.Indexer, cfg.Store, opts...)
	stats, err := builder.Build(ctx, root)
	if registry != nil {
		pushMetrics(cfg.Metrics.PushGateway, registry)
	}
	if err != nil {
		slog.Error("index build failed", "root", root, "error", err)
		fmt.Fprintf(os.Stderr, "mkindex: %v\n", err)
		return 1
	}

	fmt.Printf("indexed %d of %d documents (%d unreadable, %d empty, %d failed): %d words, %d postings in %s\n",
		stats.Indexed, stats.Scanned,
		stats.SkippedUnreadable, stats.SkippedEmpty, stats.Failed,
		stats.Words, stats.Postings, stats.Duration.Round(time.Millisecond),
	)
	return 0
}

// pushMetrics sends build metrics to a Pushgateway. mkindex exits before any
// scrape could reach it.
func pushMetrics(gateway string, registry *prometheus.Registry) {
	if gateway == "" {
		slog.Debug("metrics enabled without a pushgateway, not pushing")
		return
	}
	if err := push.New(gateway, "mkindex").Gatherer(registry).Push(); err != nil {
		slog.Warn("pushing build metrics failed", "gateway", gateway, "error", err)
	}
}
