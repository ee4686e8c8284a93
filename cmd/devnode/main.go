// Command devnode runs a development ledger node. It serves the same HTTP
// endpoints the dashboard talks to and keeps its chain in SQLite, so two or
// three of them on different ports make a local test network.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"ledgerwatch.mini/lwm/internal/devnode"
	"ledgerwatch.mini/lwm/internal/logger"
)

func main() {
	port := flag.Int("port", 5000, "listen port")
	dbPath := flag.String("db", "", "SQLite file (default devnode-<port>.db)")
	difficulty := flag.Int("difficulty", devnode.DefaultDifficulty, "leading zero hex digits required in block hashes")
	peers := flag.String("peers", "", "comma-separated peer URLs to register at startup")
	logLevel := flag.String("log-level", "info", "debug, info, warn or error")
	logFile := flag.String("log-file", "", "optional rotated log file")
	flag.Parse()

	slogger := logger.Setup(logger.Options{Service: "devnode", Level: *logLevel, File: *logFile})

	if *dbPath == "" {
		*dbPath = fmt.Sprintf("devnode-%d.db", *port)
	}
	store, err := devnode.OpenStore(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open node store: %v", err)
	}
	defer store.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	node, err := devnode.New(ctx, store, devnode.Options{Difficulty: *difficulty, Logger: slogger})
	if err != nil {
		log.Fatalf("Failed to start node: %v", err)
	}
	for _, p := range strings.Split(*peers, ",") {
		if p = strings.TrimSpace(p); p == "" {
			continue
		}
		if _, err := node.RegisterPeer(p); err != nil {
			log.Fatalf("Invalid peer %q: %v", p, err)
		}
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", *port),
		Handler:           devnode.Handler(node),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErrors := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
		close(serverErrors)
	}()
	go node.Run(ctx)

	st := node.Status()
	slogger.Info("devnode listening", "port", *port, "db", *dbPath, "blocks", st.Blocks, "pending", st.Pending)

	select {
	case err := <-serverErrors:
		if err != nil {
			log.Fatalf("HTTP server exited: %v", err)
		}
	case <-ctx.Done():
	}

	slogger.Info("shutting down")
	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slogger.Warn("shutdown incomplete", "error", err)
	}
}
