package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/MobileShell/gateway/internal/access"
	"github.com/GriffinCanCode/MobileShell/gateway/internal/cache"
	"github.com/GriffinCanCode/MobileShell/gateway/internal/delivery"
	"github.com/GriffinCanCode/MobileShell/gateway/internal/infrastructure/config"
	"github.com/GriffinCanCode/MobileShell/gateway/internal/infrastructure/logging"
	"github.com/GriffinCanCode/MobileShell/gateway/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/MobileShell/gateway/internal/platform"
)

// The gateway normally lives embedded in a mobile shell. This harness
// wires the same components standalone: positional arguments that look
// like URLs are classified against the allow-list, everything else is
// registered with the delivery server and served until interrupted.
func main() {
	configPath := flag.String("config", os.Getenv("GATEWAY_CONFIG"), "YAML config overlay path")
	metricsAddr := flag.String("metrics", "", "optional loopback address for /metrics, e.g. 127.0.0.1:9090")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stdout"},
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	metrics := monitoring.NewMetrics()

	gateway := access.New(access.Config{
		Enabled:     cfg.Access.Enabled,
		AllowedURLs: cfg.Access.AllowedURLs,
	}, logger.Component("access")).WithMetrics(metrics)

	resourceCache, err := cache.New(cache.Config{
		Dir:             cfg.Cache.Dir,
		MaxAge:          cfg.Cache.MaxAge(),
		StaleWindow:     cfg.Cache.StaleWindow(),
		MaxDiskBytes:    cfg.Cache.MaxDiskBytes(),
		MemoryFraction:  cfg.Cache.MemoryFraction,
		HeapBudgetBytes: int64(cfg.Cache.HeapBudgetMB) * 1024 * 1024,
	}, cache.Deps{
		Logger:  logger.Component("cache"),
		Metrics: metrics,
	})
	if err != nil {
		logger.Fatal("Failed to create resource cache", zap.Error(err))
	}
	logger.Info("Resource cache ready", zap.Int64("disk_bytes", resourceCache.DiskSizeBytes()))

	srv := delivery.New(delivery.Config{
		PortRangeStart: cfg.Server.PortRangeStart,
		PortRangeEnd:   cfg.Server.PortRangeEnd,
		CacheDir:       cfg.Cache.Dir + string(os.PathSeparator) + "delivery",
		AllowedRoots:   cfg.Server.AllowedRoots,
		FileTTL:        cfg.Server.FileTTL(),
		SweepInterval:  cfg.Server.SweepInterval(),
		ConnTimeout:    cfg.Server.ConnTimeout(),
		MaxConnections: cfg.Server.MaxConnections,
	}, delivery.Deps{
		Logger:   logger.Component("delivery"),
		Platform: platform.Real(),
		Metrics:  metrics,
	})

	info, err := srv.Start()
	if err != nil {
		logger.Fatal("Failed to start delivery server", zap.Error(err))
	}
	defer srv.Stop()
	logger.Info("Delivery server listening", zap.String("base_url", info.BaseURL))

	for _, arg := range flag.Args() {
		if strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://") {
			verdict := gateway.Classify(arg)
			logger.Info("Classified URL",
				zap.String("url", arg),
				zap.String("verdict", verdict.String()),
			)
			if verdict == access.Allowed {
				res, err := resourceCache.Lookup(context.Background(), arg)
				logger.Info("Cache lookup",
					zap.String("url", arg),
					zap.Bool("hit", err == nil && res != nil),
				)
			}
			continue
		}
		url, err := srv.Register(arg, "", "")
		if err != nil {
			logger.Warn("Failed to register file", zap.String("path", arg), zap.Error(err))
			continue
		}
		logger.Info("Serving file", zap.String("path", arg), zap.String("url", url))
	}

	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			metrics.UpdateUptime()
		}
	}()

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				logger.Warn("Metrics endpoint exited", zap.Error(err))
			}
		}()
		logger.Info("Metrics endpoint up", zap.String("addr", *metricsAddr))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down")
}
