// entry point of the application
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mediagrab/internal/config"
	"mediagrab/internal/consts"
	"mediagrab/internal/depmanager"
	"mediagrab/internal/downloader"
	"mediagrab/internal/events"
	httprouter "mediagrab/internal/infrastructure/delivery/http"
	"mediagrab/internal/observability"
	"mediagrab/internal/proxymgr"
	"mediagrab/internal/scraper"
	"mediagrab/internal/service"
	"mediagrab/internal/storage"
	"mediagrab/internal/uploader"
	httpserver "mediagrab/pkg/http/server"
	"mediagrab/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.New()
	if err != nil {
		slog.Error("config new", slog.Any("error", err))
		stop()
		os.Exit(1)
	}

	log, err := logger.New(&logger.Options{
		AddSource: true,
		Level:     cfg.App.LogLevel,
	})
	if err != nil {
		slog.WarnContext(ctx, "logger level invalid; defaulting to info", slog.Any("error", err))
	}

	metrics := observability.New(prometheus.DefaultRegisterer)
	bus := events.NewBus(log)

	proxyMgr := proxymgr.New(log, cfg.Proxy, metrics)
	if proxyMgr.HasProxies() {
		go proxyMgr.StartHealthChecker(ctx)

		log.InfoContext(ctx, "proxy manager initialized", slog.Int("proxy_count", proxyMgr.ProxyCount()))
	}

	client := proxyMgr.Client(proxymgr.ClientOptions{ResponseHeaderTimeout: cfg.Source.RequestTimeout})
	headers := cfg.Source.Headers()

	depMgr := depmanager.New(log, cfg.DepManager, metrics)
	depMgr.OnInstallStart(func() {
		bus.Notify(events.Event{Kind: events.KindStatus, Message: consts.StatusInstallingTool, Time: time.Now()})
	})

	fetcher := downloader.NewFileFetcher(log, client, headers, cfg.Source.ChunkSize)
	hls := downloader.NewHLSFetcher(log, fetcher, cfg.HLS.TolerateMissingSegments)
	transcoder := downloader.NewStreamTranscoder(log, depMgr, hls, cfg.HLS, headers)

	// uploads can sit on the response long after the body is sent
	uploadClient := proxyMgr.Client(proxymgr.ClientOptions{})

	uploads, err := uploader.NewManager(log, cfg.Upload, cfg.Source.Tags, metrics,
		uploader.NewSettingsStore(cfg.Upload.SettingsFile),
		func(apiKey string) uploader.Client {
			return uploader.NewHTTPClient(log, uploadClient, cfg.Upload.BaseURL, apiKey)
		})
	if err != nil {
		log.ErrorContext(ctx, "uploader new", slog.Any("error", err))
		stop()
		os.Exit(1)
	}

	pipeline := downloader.New(log, cfg, metrics, scraper.New(log, client, headers), fetcher, transcoder, uploads)

	storer := storage.New(ctx, log, cfg, metrics)
	bus.Attach(storer)

	// Service
	svc := service.New(cfg, log, pipeline, storer, bus, uploads, metrics)

	// HTTP Server
	router := httprouter.New(log, cfg, svc, bus, metrics)

	httpSrv := httpserver.New(router, httpserver.Options{
		Addr:            cfg.HTTP.Port,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
	})

	svc.Start(ctx)

	log.InfoContext(ctx, "mediagrab started",
		slog.String("port", cfg.HTTP.Port),
		slog.String("downloads", cfg.Dir.Downloads),
		slog.Any("upload", uploads.Status()))

	// Waiting for shutdown signal
	select {
	case <-ctx.Done():
	case err, ok := <-httpSrv.Notify():
		if ok {
			log.ErrorContext(ctx, "http server", slog.Any("error", err))
		}
	}

	if err := svc.Stop(consts.DefaultStopTimeout); err != nil {
		log.WarnContext(ctx, "service stop", slog.Any("error", err))
	}

	err = httpSrv.Shutdown()
	if err != nil {
		log.Error(err.Error())
	}

	log.InfoContext(ctx, "mediagrab shut down gracefully")
}
