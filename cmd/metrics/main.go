package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"video-autopost/internal"
	"video-autopost/internal/logging"
	"video-autopost/internal/scheduler"

	"github.com/joho/godotenv"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")

	printJSON := flag.Bool("print", false, "Print the snapshot to stdout")
	flag.Parse()

	cfg, err := internal.LoadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.ErrorsLog)
	if err != nil {
		fmt.Printf("Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	ctx := context.Background()
	svc, err := scheduler.BuildService(ctx, cfg, log)
	if err != nil {
		log.Errorf("build service: %v", err)
		os.Exit(1)
	}

	fmt.Println("=== Collecting metrics ===")
	snap, err := svc.CollectMetrics(ctx)
	if err != nil {
		log.Errorf("collect metrics: %v", err)
		fmt.Printf("❌ Error collecting metrics: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✅ %d YouTube videos, %d Instagram media saved to %s\n", len(snap.YouTube), len(snap.Instagram), cfg.MetricsKey)

	if *printJSON {
		b, _ := json.MarshalIndent(snap, "", "  ")
		fmt.Println(string(b))
	}
}
