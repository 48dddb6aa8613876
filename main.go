package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Geergon/media-relay-bot/internal/botapi"
	"github.com/Geergon/media-relay-bot/internal/config"
	"github.com/Geergon/media-relay-bot/internal/database"
	"github.com/Geergon/media-relay-bot/internal/delivery"
	"github.com/Geergon/media-relay-bot/internal/downloader"
	"github.com/Geergon/media-relay-bot/internal/logger"
	"github.com/Geergon/media-relay-bot/internal/media"
	"github.com/Geergon/media-relay-bot/internal/mtproto"
	"github.com/Geergon/media-relay-bot/internal/tgbot"
	"github.com/Geergon/media-relay-bot/internal/transcode"
	"github.com/Geergon/media-relay-bot/internal/yt"
)

const pollTimeoutSec = 60

func main() {
	flags, err := config.ParseFlags(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	envErr := godotenv.Load(flags.EnvFile)

	cfg, err := config.Load(flags.ConfigPath, flags.Set)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		JSON:       cfg.Log.JSON,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	if envErr != nil {
		if errors.Is(envErr, fs.ErrNotExist) {
			log.Warn("no dotenv file, using the environment", zap.String("file", flags.EnvFile))
		} else {
			log.Warn("load dotenv file", zap.String("file", flags.EnvFile), zap.Error(envErr))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, flags, log); err != nil {
		log.Error("bot stopped", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, flags config.Flags, log *zap.Logger) error {
	if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}

	fetcher := downloader.NewFetcher(downloader.FetcherOptions{
		MaxRateLimitDelay: cfg.Limits.MaxRetryAfter,
		Log:               log.Named("fetch"),
	})
	remuxer := transcode.NewRemuxer(transcode.RemuxerOptions{
		FFmpeg:  cfg.Tools.FFmpeg,
		TempDir: cfg.TempDir,
		Timeout: cfg.Limits.RemuxTimeout,
		Fetcher: fetcher,
		Log:     log.Named("remux"),
	})
	tools := yt.New(yt.Options{
		YtDlp:      cfg.Tools.YtDlp,
		GalleryDl:  cfg.Tools.GalleryDl,
		CookiesDir: cfg.CookiesDir,
		TempDir:    cfg.TempDir,
		Log:        log.Named("yt"),
	})
	scraper := downloader.NewScraper(fetcher, remuxer, cfg.TempDir, log.Named("scraper"))
	chain := buildChain(cfg, tools, scraper, log)

	if flags.Fetch != "" {
		return fetchOnce(ctx, chain, flags)
	}

	bot, err := botapi.New(botapi.Options{
		Token:        cfg.Token,
		Endpoint:     cfg.BotAPIEndpoint,
		MaxRetryWait: cfg.Limits.MaxRetryAfter,
		Debug:        cfg.Debug,
		Log:          log.Named("botapi"),
	})
	if err != nil {
		return err
	}

	db, err := database.InitDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	settings, err := config.NewSettings(flags.ConfigPath, log.Named("settings"))
	if err != nil {
		return err
	}
	settings.Watch()

	mt := mtproto.New(mtproto.Options{
		AppID:        cfg.AppID,
		APIHash:      cfg.APIHash,
		BotToken:     cfg.Token,
		SessionPath:  cfg.SessionPath,
		MaxFloodWait: cfg.Limits.MaxFloodWait,
		Log:          log.Named("mtproto"),
	})
	// A nil interface, not a nil *mtproto.Client, tells the selector there is
	// no high-capacity path.
	var highCapacity delivery.HighCapacityTransport
	if mt.Configured() {
		highCapacity = mt
	} else {
		log.Info("APP_ID/API_HASH not set, files over the standard limit will be compressed")
	}

	compressor := transcode.NewCompressor(transcode.CompressorOptions{
		FFmpeg:  cfg.Tools.FFmpeg,
		FFprobe: cfg.Tools.FFprobe,
		TempDir: cfg.TempDir,
		Timeout: cfg.Limits.CompressTimeout,
		Log:     log.Named("compress"),
	})
	selector := delivery.NewSelector(bot, highCapacity, compressor, cfg.Thresholds(), log.Named("delivery"))

	router := tgbot.New(tgbot.Options{
		Config:   cfg,
		Settings: settings,
		DB:       db,
		Bot:      bot,
		Chain:    chain,
		Selector: selector,
		Tools:    tools,
		Log:      log.Named("router"),
	})

	log.Info("bot started",
		zap.String("account", bot.Self().UserName),
		zap.Strings("strategies", chain.Strategies()),
		zap.Bool("high_capacity", highCapacity != nil))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return router.Run(gctx, bot.Updates(gctx, pollTimeoutSec))
	})
	if mt.Configured() {
		g.Go(func() error {
			if err := mt.Start(gctx); err != nil {
				log.Warn("high capacity transport unavailable", zap.Error(err))
				return nil
			}
			<-gctx.Done()
			mt.Stop()
			return nil
		})
	}
	err = g.Wait()
	log.Info("bot stopped")
	return err
}

// buildChain orders the strategies: extractors first, then the configured
// scraper backends, then the generic page scrapers.
func buildChain(cfg config.Config, tools *yt.Tools, scraper *downloader.Scraper, log *zap.Logger) *downloader.Chain {
	strategies := []downloader.Strategy{tools.YtDlpStrategy(), tools.GalleryDlStrategy()}
	for _, b := range cfg.Backends {
		strategies = append(strategies, scraper.Backend(b))
	}
	strategies = append(strategies, scraper.Page(), scraper.Stream())
	return downloader.NewChain(log.Named("chain"), strategies...)
}

// fetchOnce runs the chain for one URL and prints the downloaded file path.
// The caller owns the file.
func fetchOnce(ctx context.Context, chain *downloader.Chain, flags config.Flags) error {
	kind, err := media.ParseKind(flags.Kind)
	if err != nil {
		return err
	}
	res := chain.Acquire(ctx, flags.Fetch, kind)
	if !res.Success {
		return res.Err
	}
	fmt.Println(res.Path)
	return nil
}
