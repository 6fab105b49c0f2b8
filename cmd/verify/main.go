package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/thanhnp/supplychain-ledger/internal/config"
	"github.com/thanhnp/supplychain-ledger/internal/ledger"
	"github.com/thanhnp/supplychain-ledger/internal/storage"
)

// verify replays a stored chain and reports every integrity violation.
// The server must not be running against the same database.
func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	path := flag.String("path", "", "Pebble database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *path != "" {
		cfg.Pebble.Path = *path
	}

	stores, err := storage.Open(cfg.Pebble.Path, storage.Options{CacheSizeMB: cfg.Pebble.CacheSizeMB})
	if err != nil {
		log.Fatalf("Failed to open Pebble database: %v", err)
	}
	defer stores.Close()

	blocks, err := stores.BlockStore.Blocks()
	if err != nil {
		stores.Close()
		log.Fatalf("Failed to load blocks: %v", err)
	}

	violations := ledger.VerifyBlocks(blocks)
	if len(violations) == 0 {
		fmt.Printf("chain valid: %d blocks\n", len(blocks))
		return
	}

	fmt.Printf("chain INVALID: %d blocks, %d violations\n", len(blocks), len(violations))
	for _, v := range violations {
		fmt.Printf("  %s\n", v.Error())
	}
	stores.Close()
	os.Exit(1)
}
