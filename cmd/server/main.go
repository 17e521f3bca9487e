package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"example.com/simplehttp/internal/config"
	"example.com/simplehttp/internal/handlers/staticfileserver"
	"example.com/simplehttp/internal/logger"
	"example.com/simplehttp/internal/router"
	"example.com/simplehttp/internal/server"
)

var configFilePath string

func main() {
	flag.StringVar(&configFilePath, "config", "", "Path to the configuration file (JSON, TOML or YAML)")
	flag.Parse()

	if configFilePath == "" {
		fmt.Fprintln(os.Stderr, "Error: Configuration file path must be provided via -config flag.")
		flag.Usage()
		os.Exit(1)
	}

	absConfigPath, err := filepath.Abs(configFilePath)
	if err != nil {
		log.Fatalf("Error getting absolute path for config file %s: %v", configFilePath, err)
	}
	configFilePath = absConfigPath

	cfg, err := config.LoadConfig(configFilePath)
	if err != nil {
		log.Fatalf("Failed to load configuration from %s: %v", configFilePath, err)
	}

	appLogger, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	// os.Exit skips deferred calls, so failures below close the logs explicitly.
	exit := func(code int) {
		if err := appLogger.CloseLogFiles(); err != nil {
			log.Printf("Error closing log files during shutdown: %v", err)
		}
		os.Exit(code)
	}

	handler, err := staticfileserver.New(cfg, appLogger)
	if err != nil {
		appLogger.Error("Failed to create static file handler", logger.LogFields{"error": err.Error()})
		exit(1)
	}

	appRouter, err := router.NewRouter(handler, appLogger)
	if err != nil {
		appLogger.Error("Failed to initialize router", logger.LogFields{"error": err.Error()})
		exit(1)
	}

	srv, err := server.NewServer(cfg, appLogger, appRouter)
	if err != nil {
		appLogger.Error("Failed to initialize server", logger.LogFields{"error": err.Error()})
		exit(1)
	}

	appLogger.Info("Starting server", logger.LogFields{
		"config":    configFilePath,
		"address":   cfg.Server.ListenAddress(),
		"directory": cfg.Server.Directory,
	})
	if err := srv.Start(); err != nil {
		appLogger.Error("Server exited with an error", logger.LogFields{"error": err.Error()})
		exit(1)
	}
	exit(0)
}
