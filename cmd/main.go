package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/fundvault/fundvault-chain/internal/app"
	"github.com/fundvault/fundvault-chain/internal/config"
	"github.com/fundvault/fundvault-chain/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(&logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: cfg.Service.Name,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting fundvault-chain",
		zap.String("env", cfg.Service.Env),
		zap.Int("http_port", cfg.Service.HTTPPort))

	application, err := app.NewApp(cfg)
	if err != nil {
		logger.Fatal("failed to initialize app", zap.Error(err))
	}

	if err := application.Run(); err != nil {
		logger.Fatal("app exited with error", zap.Error(err))
	}
}
