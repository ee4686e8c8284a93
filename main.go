// Package main is the entry point for ledgerwatch mini (lwm).
// It loads the node set, starts the refresh scheduler and serves the
// dashboard.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ledgerwatch.mini/lwm/internal/admin"
	"ledgerwatch.mini/lwm/internal/config"
	"ledgerwatch.mini/lwm/internal/dispatch"
	"ledgerwatch.mini/lwm/internal/docs"
	"ledgerwatch.mini/lwm/internal/health"
	"ledgerwatch.mini/lwm/internal/logger"
	"ledgerwatch.mini/lwm/internal/metrics"
	"ledgerwatch.mini/lwm/internal/nodeapi"
	"ledgerwatch.mini/lwm/internal/registry"
	"ledgerwatch.mini/lwm/internal/scheduler"
	"ledgerwatch.mini/lwm/internal/session"
	"ledgerwatch.mini/lwm/internal/types"
	"ledgerwatch.mini/lwm/internal/web"
)

func main() {
	configPath := flag.String("config", os.Getenv("LWM_CONFIG"), "config file (yaml, toml or json)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	slogger := logger.Setup(logger.Options{Service: "lwm", Level: cfg.LogLevel, File: cfg.LogFile})
	slogger.Info("ledgerwatch mini starting", "version", types.Version, "nodes", cfg.Nodes)

	collectors := metrics.Get()

	reg := registry.New(cfg.Nodes)
	dispatcher := dispatch.New(reg, dispatch.Options{
		Timeout: cfg.RequestTimeout.Duration,
		Rate:    cfg.RequestRate,
		Burst:   cfg.RequestBurst,
		Logger:  slogger,
		Metrics: collectors,
	})
	ledgerClient := nodeapi.NewLedger(dispatcher)
	direct := nodeapi.NewDirect(dispatcher)

	prober := health.NewProber(cfg.Nodes, direct, health.Options{
		Timeout: cfg.ProbeTimeout.Duration,
		Metrics: collectors,
	})
	runner := admin.NewRunner(cfg.Nodes, direct, ledgerClient, admin.Options{
		Logger:  slogger,
		Metrics: collectors,
	})

	feed := logger.New(cfg.LogBuffer).WithSink(slogger)
	sess := session.New(reg, ledgerClient, prober, runner, feed, session.Options{
		RecentWindow: cfg.RecentWindow,
		SettleDelay:  cfg.SettleDelay.Duration,
		Logger:       slogger,
	})
	defer sess.Close()

	port := resolvePort(cfg.Port)
	if err := ensurePortAvailable(port); err != nil {
		log.Fatalf("Port %d unavailable: %v", port, err)
	}

	server, err := web.NewServer(sess, web.Options{
		Port: port,
		Feed: feed,
		Docs: docs.NewService(cfg.DocsDir),
		AdminLimit: web.RateLimit{
			RequestsPerMinute: cfg.AdminRatePerMinute,
			Burst:             cfg.AdminBurst,
		},
		Metrics: promhttp.Handler(),
		Logger:  slogger,
	})
	if err != nil {
		log.Fatalf("Failed to initialize web server: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	serverErrors := server.Start(ctx)
	slogger.Info(fmt.Sprintf("Web dashboard available at http://localhost:%d", port))

	sched := scheduler.New(sess, scheduler.Options{
		Interval: cfg.RefreshInterval.Duration,
		Logger:   slogger,
		Metrics:  collectors,
	})
	go func() {
		if err := sched.Start(ctx); err != nil && ctx.Err() == nil {
			slogger.Error("refresh scheduler did not start", "error", err)
		}
	}()

	select {
	case err := <-serverErrors:
		if err != nil {
			log.Fatalf("Web server exited: %v", err)
		}
	case <-ctx.Done():
	}

	slogger.Info("shutting down")
	sched.Stop()
	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slogger.Warn("web server shutdown incomplete", "error", err)
	}
}

func resolvePort(defaultPort int) int {
	portStr := os.Getenv("PORT")
	if portStr == "" {
		return defaultPort
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		log.Printf("Warning: invalid PORT value %q, using %d", portStr, defaultPort)
		return defaultPort
	}

	return port
}

func ensurePortAvailable(port int) error {
	addr := fmt.Sprintf(":%d", port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return listener.Close()
}
