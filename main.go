package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"auto_paper_bot/config"
	"auto_paper_bot/logs"

	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "Path to the config.yaml file (empty: defaults and environment only)")
	backtestBars := flag.Int("backtest", 0, "Replay the last N bars instead of running live")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		fmt.Println("Note: .env file not found, will continue using system environment variables.")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Fatal error: Unable to load config file '%s': %v\n", *configPath, err)
		os.Exit(1)
	}
	envCfg := config.LoadEnvConfig()

	logFilename := filepath.Join(cfg.Normal.LogDirectory, strings.ToUpper(cfg.Symbol)+"_bot.log")
	if err := logs.Init(cfg.Logs, logFilename); err != nil {
		fmt.Printf("Fatal error: Failed to initialize logging system: %v\n", err)
		os.Exit(1)
	}
	defer logs.Close()

	logs.Infof("Configuration loaded successfully, logs will be written to: %s", logFilename)

	if *backtestBars > 0 {
		rep, err := RunBacktest(context.Background(), cfg, envCfg, *backtestBars)
		if err != nil {
			logs.Fatalf("Backtest failed: %v", err)
		}
		fmt.Println(rep)
		return
	}

	orchestrator, err := NewOrchestrator(cfg, envCfg)
	if err != nil {
		logs.Fatalf("Failed to initialize Orchestrator: %v", err)
	}
	orchestrator.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	orchestrator.Stop()
}
