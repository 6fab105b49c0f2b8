package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/thanhnp/supplychain-ledger/internal/api"
	"github.com/thanhnp/supplychain-ledger/internal/config"
	"github.com/thanhnp/supplychain-ledger/internal/ledger"
	"github.com/thanhnp/supplychain-ledger/internal/metrics"
	"github.com/thanhnp/supplychain-ledger/internal/storage"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if closer := setupLogOutput(cfg.Log); closer != nil {
		defer closer.Close()
	}

	log.Println("Starting supply chain ledger server...")

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(registry)
	if err != nil {
		log.Fatalf("Failed to register metrics: %v", err)
	}

	opts := []ledger.Option{
		ledger.WithGenesisProof(cfg.Ledger.GenesisProof),
		ledger.WithSealTimeout(cfg.Ledger.SealTimeout()),
		ledger.WithObserver(m),
	}

	// Open the block store when persistence is enabled
	var stores *storage.ChainStores
	if cfg.Ledger.Persist {
		stores, err = storage.Open(cfg.Pebble.Path, storage.Options{CacheSizeMB: cfg.Pebble.CacheSizeMB})
		if err != nil {
			log.Fatalf("Failed to open Pebble database: %v", err)
		}
		opts = append(opts, ledger.WithStore(stores.BlockStore))
	} else {
		log.Println("Ledger persistence disabled, chain lives in memory only")
	}

	l, err := ledger.New(opts...)
	if err != nil {
		if stores != nil {
			stores.Close()
		}
		log.Fatalf("Failed to initialize ledger: %v", err)
	}
	m.SetChainLength(l.Length())
	log.Printf("Ledger ready with %d blocks", l.Length())

	router := api.NewRouter(l, api.Options{
		CORSOrigin:   cfg.Server.CORSOrigin,
		DefaultProof: cfg.Ledger.DefaultProof,
		Gatherer:     registry,
	})

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router.Engine(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start HTTP server in goroutine
	go func() {
		log.Printf("HTTP server listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")

	// Stop accepting requests before closing the store so no seal races the close
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	if stores != nil {
		if err := stores.Close(); err != nil {
			log.Printf("Error closing database: %v", err)
		}
	}

	log.Println("Server stopped")
}

// setupLogOutput tees the standard logger to a rotated file when configured
func setupLogOutput(cfg config.LogConfig) io.Closer {
	if cfg.File == "" {
		return nil
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stdout, rotator))
	return rotator
}
