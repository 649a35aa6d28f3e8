package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/crossinglab/vidharvest/internal/config"
	"github.com/crossinglab/vidharvest/internal/harvest"
	"github.com/crossinglab/vidharvest/internal/logging"
	"github.com/crossinglab/vidharvest/internal/metrics"
	"github.com/crossinglab/vidharvest/internal/ops"
	"github.com/crossinglab/vidharvest/internal/ratelimit"
	"github.com/crossinglab/vidharvest/internal/search"
	"github.com/crossinglab/vidharvest/internal/store/csvstore"
	"github.com/crossinglab/vidharvest/internal/store/postgres"
	"github.com/crossinglab/vidharvest/internal/strategy/player"
	"github.com/crossinglab/vidharvest/internal/strategy/ytdlp"
)

type harvestFlags struct {
	output      string
	maxVideos   int
	minDuration int
	maxDuration int
	searchTerms []string
	apiKey      string
	useBrowser  bool
}

// newHarvestCmd creates the 'harvest' subcommand, the main acquisition run.
func newHarvestCmd() *cobra.Command {
	flags := &harvestFlags{}
	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Runs one acquisition pass over the configured search terms",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHarvest(cmd, flags)
		},
	}
	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "directory for downloaded videos")
	cmd.Flags().IntVarP(&flags.maxVideos, "max-videos", "m", 0, "maximum successful downloads")
	cmd.Flags().IntVar(&flags.minDuration, "min-duration", -1, "minimum video duration in seconds")
	cmd.Flags().IntVar(&flags.maxDuration, "max-duration", -1, "maximum video duration in seconds")
	cmd.Flags().StringSliceVarP(&flags.searchTerms, "search-terms", "s", nil, "search terms (overrides defaults)")
	cmd.Flags().StringVar(&flags.apiKey, "api-key", "", "search API key")
	cmd.Flags().BoolVar(&flags.useBrowser, "use-browser", false, "discover candidates with a headless browser instead of the search API")
	return cmd
}

func runHarvest(cmd *cobra.Command, flags *harvestFlags) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	metrics.Init()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.Output.Dir, 0o750); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	recorder, err := openRecorder(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open metadata store: %w", err)
	}
	defer func() {
		if cerr := recorder.Close(); cerr != nil {
			logger.Warn("close metadata store", zap.Error(cerr))
		}
	}()

	gate := ratelimit.New(ratelimit.Config{
		MinInterval:    cfg.Rate.MinInterval,
		JitterInterval: cfg.Rate.JitterInterval,
		MaxInterval:    cfg.Rate.MaxInterval,
	})

	primary := ytdlp.New(ytdlp.Config{
		Binary:    cfg.YtDlp.Path,
		Timeout:   cfg.YtDlp.Timeout,
		OutputDir: cfg.Output.Dir,
	}, gate, logger)
	if err := primary.CheckInstalled(ctx); err != nil {
		logger.Warn("yt-dlp unavailable, relying on the fallback strategy", zap.Error(err))
	}
	fallback := player.New(player.Config{
		OutputDir: cfg.Output.Dir,
	}, gate, logger)

	retry := harvest.NewRetryPolicy(cfg.Retry.MaxAttempts, cfg.Retry.BaseDelay, cfg.Retry.MaxDelay)
	chain := harvest.NewChain(retry, gate, logger, primary, fallback)

	orch, err := harvest.NewOrchestrator(harvest.OrchestratorConfig{
		Constraints: harvest.Constraints{
			MinDurationSeconds: cfg.Harvest.MinDurationSeconds,
			MaxDurationSeconds: cfg.Harvest.MaxDurationSeconds,
		},
		SuccessCap:  cfg.Harvest.MaxVideos,
		Concurrency: cfg.Harvest.Concurrency,
	}, chain, recorder, harvest.SystemClock{}, logger)
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}
	logger = logging.ForRun(logger, orch.RunID())

	known, err := orch.SeedKnown(ctx)
	if err != nil {
		return err
	}
	if known > 0 {
		logger.Info("seeded ledger from metadata store", zap.Int("known_ids", known))
	}

	src, closeSrc, err := openSource(cfg, gate, logger)
	if err != nil {
		return fmt.Errorf("open candidate source: %w", err)
	}
	defer closeSrc()

	if cfg.Ops.Port > 0 {
		server := ops.New(cfg.Ops.Port, logger)
		go func() {
			if err := server.Run(ctx); err != nil {
				logger.Warn("ops listener stopped", zap.Error(err))
			}
		}()
	}

	summary, err := orch.Run(ctx, src)
	fmt.Println(summary.String())
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("harvest run: %w", err)
	}
	return nil
}

func loadConfig(flags *harvestFlags) (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, err
	}
	if flags.output != "" {
		cfg.Output.Dir = flags.output
	}
	if flags.maxVideos > 0 {
		cfg.Harvest.MaxVideos = flags.maxVideos
	}
	if flags.minDuration >= 0 {
		cfg.Harvest.MinDurationSeconds = flags.minDuration
	}
	if flags.maxDuration >= 0 {
		cfg.Harvest.MaxDurationSeconds = flags.maxDuration
	}
	if len(flags.searchTerms) > 0 {
		cfg.Harvest.SearchTerms = flags.searchTerms
	}
	if flags.apiKey != "" {
		cfg.Search.APIKey = flags.apiKey
	}
	if flags.useBrowser {
		cfg.Search.UseBrowser = true
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func openRecorder(ctx context.Context, cfg config.Config) (harvest.Recorder, error) {
	switch cfg.Store.Backend {
	case config.StorePostgres:
		return postgres.Open(ctx, postgres.Config{
			DSN:   cfg.Store.PostgresDSN,
			Table: cfg.Store.PostgresTable,
		})
	default:
		return csvstore.Open(filepath.Join(cfg.Output.Dir, csvstore.DefaultFilename))
	}
}

func openSource(cfg config.Config, gate harvest.Gate, logger *zap.Logger) (harvest.Source, func(), error) {
	terms := cfg.Harvest.SearchTerms
	if cfg.Search.UseBrowser {
		src, err := search.NewBrowserSource(search.BrowserConfig{
			Terms:      terms,
			MaxPerTerm: cfg.Search.MaxResults,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return src, src.Close, nil
	}
	src, err := search.NewAPISource(search.APIConfig{
		APIKey:     cfg.Search.APIKey,
		Terms:      terms,
		MaxPerTerm: cfg.Search.MaxResults,
	}, gate, logger)
	if err != nil {
		return nil, nil, err
	}
	return src, func() {}, nil
}
