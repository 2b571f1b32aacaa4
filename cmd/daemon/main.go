package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/slidemanager/backend-daemon/internal/config"
	"github.com/slidemanager/backend-daemon/internal/controlapi"
	"github.com/slidemanager/backend-daemon/internal/embed"
	"github.com/slidemanager/backend-daemon/internal/eventbus"
	"github.com/slidemanager/backend-daemon/internal/jobmanager"
	"github.com/slidemanager/backend-daemon/internal/logger"
	"github.com/slidemanager/backend-daemon/internal/observability"
	"github.com/slidemanager/backend-daemon/internal/ratelimit"
	"github.com/slidemanager/backend-daemon/internal/store"
	"github.com/slidemanager/backend-daemon/internal/textextract"
)

func main() {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	root := os.Getenv("SLIDEMANAGER_LIBRARY_ROOT")
	if root == "" {
		root, err = os.Getwd()
		if err != nil {
			log.Error("could not determine library root", "error", err)
			os.Exit(1)
		}
	}

	log.Info("loading configuration...")
	cfg, err := config.Load(root, log)
	if err != nil {
		log.Error("config load failed", "error", err)
		os.Exit(1)
	}

	log.Info("opening index database", "path", cfg.DBPath)
	st, err := store.Open(cfg.DBPath, log)
	if err != nil {
		log.Error("store open failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var mirror eventbus.Mirror
	if cfg.RedisAddr != "" {
		redisMirror, mirrorErr := eventbus.NewRedisMirror(cfg.RedisAddr, cfg.RedisChannel, log)
		if mirrorErr != nil {
			log.Warn("redis event mirror unavailable, continuing without it", "error", mirrorErr)
		} else {
			mirror = redisMirror
		}
	}
	bus := eventbus.New(st, log, mirror)

	limiter := ratelimit.NewDualTokenBucket(cfg.Embed.ReqPerMin, cfg.Embed.TokPerMin)
	embedC := embed.NewHTTPClient(
		getEnvDefault("SLIDEMANAGER_EMBED_BASE_URL", "https://api.openai.com"),
		os.Getenv("SLIDEMANAGER_EMBED_API_KEY"),
		limiter,
		cfg.Embed.MaxRetries,
		log,
	)

	var ocr *textextract.OCRFallback
	if cfg.VisionCredentialsFile != "" {
		ocr, err = textextract.NewOCRFallback(ctx, cfg.VisionCredentialsFile, log)
		if err != nil {
			log.Warn("OCR fallback unavailable, continuing without it", "error", err)
			ocr = nil
		}
	}

	mgr := jobmanager.New(st, bus, embedC, ocr, cfg, log)
	mgr.StartWatchdog(ctx)

	shutdownOTel := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "slidemanager-daemon",
		Enabled:     cfg.OTELEnabled,
		SampleRatio: cfg.OTELSampleRatio,
	})
	defer func() {
		if shutdownOTel != nil {
			_ = shutdownOTel(context.Background())
		}
	}()

	metrics := observability.Init(log)
	if metrics != nil {
		metrics.StartServer(ctx, log, getEnvDefault("METRICS_ADDR", "127.0.0.1:9464"))
		metrics.StartSQLiteCollector(ctx, log, st.DB())
		metrics.StartTaskQueueCollector(ctx, log, st.DB())
		if cfg.RedisAddr != "" {
			metrics.StartRedisCollector(ctx, log, cfg.RedisAddr)
		}
	}

	router := controlapi.NewRouter(cfg, mgr, st, bus, log)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	log.Info("control API listening", "addr", addr)
	go func() {
		if err := router.Run(addr); err != nil {
			log.Error("control API server stopped", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
}

func getEnvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
