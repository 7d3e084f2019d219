package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"video-autopost/internal"
	"video-autopost/internal/logging"
	"video-autopost/internal/scheduler"

	"github.com/joho/godotenv"
)

func main() {
	os.Exit(run())
}

func run() int {
	daemon := flag.Bool("daemon", false, "Stay running and post at POST_TIMES")
	dryRun := flag.Bool("dry-run", false, "Select and describe the next video without publishing")
	flag.Parse()

	// Load .env file if it exists (try multiple paths)
	envPaths := []string{".env", "../.env", "../../.env"}
	for _, path := range envPaths {
		_ = godotenv.Load(path)
	}

	cfg, cfgErr := internal.LoadConfig()
	log, err := logging.New(cfg.ErrorsLog)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		return 1
	}
	defer log.Close()

	if cfgErr != nil {
		log.Errorf("config: %v", cfgErr)
		return 1
	}
	if *dryRun {
		cfg.DryRun = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Stop on SIGINT/SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Infof("shutdown signal received")
		cancel()
	}()

	svc, err := scheduler.BuildService(ctx, cfg, log)
	if err != nil {
		log.Errorf("build service: %v", err)
		return 1
	}

	if *daemon {
		if err := svc.Run(ctx); err != nil {
			log.Errorf("scheduler stopped: %v", err)
			return exitCode(err)
		}
		time.Sleep(300 * time.Millisecond)
		return 0
	}

	report, err := svc.RunOnce(ctx)
	if err != nil {
		log.Errorf("run: %v", err)
		return exitCode(err)
	}
	if report.Skipped != "" {
		log.Infof("nothing published: %s", report.Skipped)
	}
	return 0
}

// exitCode maps configuration problems to a failing exit status. Platform
// failures are reported in the run, not through the exit code.
func exitCode(err error) int {
	if errors.Is(err, internal.ErrConfig) {
		return 1
	}
	return 2
}
