package main

import (
	"llmcouncil/internal/config"
	logpkg "llmcouncil/internal/log"
	"llmcouncil/internal/server"
	"llmcouncil/internal/storage"

	"github.com/joho/godotenv"
)

func main() {
	dotenvErr := godotenv.Load()

	logger := logpkg.CreateLogger()
	defer func() {
		if appLog, ok := logger.(*logpkg.AppLogger); ok {
			_ = appLog.Close()
		}
	}()

	if dotenvErr != nil {
		logger.Warn("No .env file found, using system environment variables")
	}
	logger.Info("Logger initialized")

	cfg, err := config.LoadServerConfigFromEnv(logger)
	if err != nil {
		logger.Fatal("Failed to load server configuration: %v", err)
	}

	councilCfg, err := config.LoadCouncilConfig(cfg.CouncilConfigPath)
	if err != nil {
		logger.Fatal("Failed to load council configuration: %v", err)
	}
	logger.Info("Council: %v, chairman %s", councilCfg.ModelNames(), councilCfg.Chairman.Name)

	storageInstance, err := storage.InitStorage(storage.Settings{
		DataDir:  cfg.DataDir,
		RedisURL: cfg.RedisURL,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() { _ = storageInstance.Close() }()

	cfg.Council = councilCfg
	cfg.Stats = storageInstance.Stats
	cfg.Conversations = storageInstance.Conversations
	cfg.Logger = logger

	srv, err := server.NewServer(cfg)
	if err != nil {
		logger.Fatal("Failed to create server: %v", err)
	}
	defer func() { _ = srv.Close() }()

	logger.Info("Starting server on port %s", cfg.Port)
	if err := srv.Run(); err != nil {
		logger.Fatal("Server error: %v", err)
	}
}
