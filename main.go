package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	githubql "github.com/shurcooL/githubv4"
	"github.com/shurcooL/graphql"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/xerrors"

	"github.com/ddsvuln/vuln-dataset/classify"
	"github.com/ddsvuln/vuln-dataset/config"
	"github.com/ddsvuln/vuln-dataset/export"
	"github.com/ddsvuln/vuln-dataset/ghsa"
	"github.com/ddsvuln/vuln-dataset/kevc"
	"github.com/ddsvuln/vuln-dataset/logging"
	"github.com/ddsvuln/vuln-dataset/metrics"
	"github.com/ddsvuln/vuln-dataset/nvd"
	"github.com/ddsvuln/vuln-dataset/pipeline"
	"github.com/ddsvuln/vuln-dataset/utils"
	"github.com/ddsvuln/vuln-dataset/vulners"
)

// flag name -> configuration key
var flagKeys = map[string]string{
	"config":          "config",
	"feeds":           "feeds",
	"terms":           "terms",
	"vocabulary":      "vocabulary",
	"providers":       "providers",
	"weights":         "weights",
	"concurrency":     "concurrency",
	"timeout":         "timeout",
	"output":          "output",
	"append":          "append",
	"published-after": "published_after",
	"require-vendor":  "require_vendor",
	"kev":             "kev",
	"cache":           "cache",
	"redis-addr":      "redis_addr",
	"metrics-addr":    "metrics_addr",
	"log-level":       "log.level",
	"log-format":      "log.format",
	"log-file":        "log.file",
	"state-dir":       "state_dir",
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:           "vuln-dataset",
		Short:         "Build a classified dataset of DDS vulnerabilities from NVD, Vulners and GitHub advisories",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, v)
			if err != nil {
				return err
			}
			logger := logging.New(cfg.Log)
			defer func() { _ = logger.Sync() }()

			if err = cfg.Validate(); err != nil {
				return xerrors.Errorf("invalid configuration: %w", err)
			}
			if err = run(cmd.Context(), cfg, logger); err != nil {
				logger.Error("Run failed", zap.Error(err))
				return err
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringP("config", "c", "", "YAML config file")
	f.StringSlice("feeds", nil, "feeds to query (nvd, vulners, ghsa)")
	f.StringSlice("terms", nil, "search terms (default: the DDS vendor vocabulary)")
	f.String("vocabulary", "", "YAML file with vendors and terms")
	f.StringSlice("providers", nil, "classification providers in tie-break order (gemini, chatgpt, llama, default, none)")
	f.StringToString("weights", nil, "provider voting weights, e.g. gemini=1,chatgpt=2")
	f.Int("concurrency", 2, "records classified concurrently")
	f.Duration("timeout", 0, "per-record provider timeout, retries included (default 2m)")
	f.StringP("output", "o", "", "output file; .json and .json.zst write JSON, anything else CSV")
	f.Bool("append", false, "append to an existing CSV, skipping ids already present")
	f.String("published-after", "", "drop records published before this date")
	f.Bool("require-vendor", false, "drop records that mention no known vendor")
	f.Bool("kev", false, "flag records listed in the CISA Known Exploited Vulnerabilities Catalog")
	f.String("cache", "", "verdict cache (memory, redis, none)")
	f.String("redis-addr", "", "redis address for --cache redis")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address")
	f.String("log-level", "", "log level (debug, info, warn, error)")
	f.String("log-format", "", "log format (console, json)")
	f.String("log-file", "", "also write JSON logs to this rotating file")
	f.String("state-dir", "", "directory of last_run.json")

	return cmd
}

func loadConfig(cmd *cobra.Command, v *viper.Viper) (config.Config, error) {
	config.SetDefaults(v)
	config.BindEnv(v)
	for name, key := range flagKeys {
		flag := cmd.Flags().Lookup(name)
		// only explicitly set flags override the environment and config file
		if flag == nil || !flag.Changed {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return config.Config{}, xerrors.Errorf("failed to bind --%s: %w", name, err)
		}
	}

	return config.Load(v)
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.MetricsAddr != "" {
		go func() {
			if err := m.Serve(ctx, cfg.MetricsAddr, logger); err != nil {
				logger.Warn("Metrics server stopped", zap.Error(err))
			}
		}()
	}

	cache, closeCache := classify.NewCache(ctx, cfg, logger)
	defer func() { _ = closeCache() }()

	providers, err := classify.Build(ctx, cfg, cache, m, logger)
	if err != nil {
		return xerrors.Errorf("failed to build providers: %w", err)
	}

	opts := []pipeline.Option{
		pipeline.WithClassifiers(providers),
		pipeline.WithKEV(kevc.NewConfig(kevc.WithLogger(logger))),
		pipeline.WithMetrics(m),
		pipeline.WithLogger(logger),
	}
	for _, name := range cfg.Feeds {
		opts = append(opts, feedOption(ctx, cfg, name, logger))
	}

	res, err := pipeline.New(cfg, opts...).Run(ctx)
	if err != nil {
		return xerrors.Errorf("pipeline error: %w", err)
	}
	if res.FeedErrors != nil {
		logger.Warn("Some searches failed", zap.Error(res.FeedErrors))
	}

	appFs := afero.NewOsFs()
	n, err := export.New(appFs, cfg.Output, cfg.Append).Export(res.Records)
	if err != nil {
		return xerrors.Errorf("export error: %w", err)
	}
	m.RecordsExported(n)
	logger.Info("Dataset written", zap.String("output", cfg.Output), zap.Int("records", n), zap.Int("dropped", len(res.Drops)))

	if err = utils.NewFs(appFs).SetLastRun(cfg.StateDir, res.Summary(n)); err != nil {
		logger.Warn("Unable to record the run summary", zap.Error(err))
	}
	return nil
}

func feedOption(ctx context.Context, cfg config.Config, name string, logger *zap.Logger) pipeline.Option {
	switch name {
	case config.FeedVulners:
		ex := vulners.NewExtractor(
			vulners.WithBaseURL(cfg.Vulners.BaseURL),
			vulners.WithAPIKey(cfg.Vulners.APIKey),
			vulners.WithLogger(logger),
		)
		return pipeline.WithExtractor(ex, cfg.Vulners.Interval)
	case config.FeedGHSA:
		src := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: cfg.GitHub.APIKey},
		)
		httpClient := oauth2.NewClient(ctx, src)

		var client ghsa.GithubClient = githubql.NewClient(httpClient)
		if cfg.GitHub.BaseURL != "" {
			// GitHub Enterprise GraphQL endpoint
			client = graphql.NewClient(cfg.GitHub.BaseURL, httpClient)
		}
		return pipeline.WithExtractor(ghsa.NewConfig(client, logger), cfg.GitHub.Interval)
	}

	interval := cfg.NVD.Interval
	if interval <= 0 {
		interval = nvd.Interval(cfg.NVD.APIKey)
	}
	ex := nvd.NewExtractor(
		nvd.WithBaseURL(cfg.NVD.BaseURL),
		nvd.WithAPIKey(cfg.NVD.APIKey),
		nvd.WithLogger(logger),
	)
	return pipeline.WithExtractor(ex, interval)
}
