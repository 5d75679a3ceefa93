package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"forumharvest/internal/api"
	"forumharvest/internal/config"
	"forumharvest/internal/crawl"
	"forumharvest/internal/logging"
	"forumharvest/internal/progress"
	"forumharvest/internal/progress/sinks"
)

// newCrawlCmd creates and configures the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Harvests a forum's content tree",
		Long: `Walks the target forum's categories, topic listing pages and topics,
persisting every entity. A re-invocation resumes where the previous run
stopped; --full re-walks the whole hierarchy from scratch.`,
		RunE: runCrawlCommand,
	}

	flags := cmd.Flags()
	flags.String("url", "", "forum base URL to crawl")
	flags.String("db", "", "path of the embedded database file")
	flags.Bool("full", false, "disregard crawled flags and re-walk everything")
	flags.String("since", "", "only harvest content newer than this date (YYYY-MM-DD or RFC3339)")
	flags.Int("delay-ms", 0, "minimum delay between requests in milliseconds")
	flags.String("metrics-addr", "", "serve /healthz and /metrics on this address while crawling")

	v := viper.GetViper()
	_ = v.BindPFlag("harvest.url", flags.Lookup("url"))
	_ = v.BindPFlag("harvest.db_path", flags.Lookup("db"))
	_ = v.BindPFlag("harvest.full_crawl", flags.Lookup("full"))
	_ = v.BindPFlag("harvest.since", flags.Lookup("since"))
	_ = v.BindPFlag("harvest.rate_limit_ms", flags.Lookup("delay-ms"))
	_ = v.BindPFlag("metrics.addr", flags.Lookup("metrics-addr"))

	return cmd
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.URL == "" {
		return errors.New("a forum url is required (--url or harvest.url)")
	}

	logger, err := logging.New(cfg.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reporter, server, err := buildProgress(cfg, logger)
	if err != nil {
		return err
	}
	if server != nil {
		server.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Warn("status server shutdown failed", zap.Error(err))
			}
		}()
	}

	crawler, err := crawl.New(cfg.URL, cfg.DBPath, crawl.Options{
		FullCrawl:   cfg.FullCrawl,
		Since:       cfg.Since,
		RateLimit:   cfg.RateLimit,
		Burst:       cfg.Burst,
		Retries:     cfg.Retries,
		UserAgent:   cfg.UserAgent,
		HTTPTimeout: cfg.HTTPTimeout,
	}, logger, reporter)
	if err != nil {
		return fmt.Errorf("init crawler: %w", err)
	}
	defer func() {
		if cerr := crawler.Close(); cerr != nil {
			logger.Warn("failed to close crawler", zap.Error(cerr))
		}
	}()

	if err := crawler.Crawl(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("crawl: %w", err)
	}
	logger.Info("crawl finished", zap.String("forum", cfg.URL))
	return nil
}

// buildProgress wires the progress sinks: structured logs always, the
// Prometheus sink plus status server when a metrics address is configured.
func buildProgress(cfg config.Config, logger *zap.Logger) (*progress.Reporter, *api.Server, error) {
	progressSinks := []progress.Sink{sinks.NewLogSink(logger)}
	if cfg.MetricsAddr == "" {
		return progress.NewReporter(progressSinks...), nil, nil
	}
	registry := prometheus.NewRegistry()
	promSink, err := sinks.NewPrometheusSink(registry)
	if err != nil {
		return nil, nil, fmt.Errorf("init metrics: %w", err)
	}
	progressSinks = append(progressSinks, promSink)
	return progress.NewReporter(progressSinks...), api.NewServer(cfg.MetricsAddr, registry, logger), nil
}
