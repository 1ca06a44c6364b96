package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/go-mizu/mizu"

	"github.com/kolabpad/kolabpad/internal/httpapi"
	"github.com/kolabpad/kolabpad/internal/registry"
	"github.com/kolabpad/kolabpad/internal/store"
	"github.com/kolabpad/kolabpad/pkg/logger"
)

// Config holds all process configuration, sourced from environment
// variables with fallback defaults.
type Config struct {
	Port       string
	ExpiryDays int
	SQLiteURI  string
}

func main() {
	logger.Init()
	defer logger.Sync()

	cfg := Config{
		Port:       getEnv("PORT", "3030"),
		ExpiryDays: getEnvInt("EXPIRY_DAYS", 1),
		SQLiteURI:  os.Getenv("SQLITE_URI"),
	}

	logger.Info("starting kolabpad server")
	logger.Info("port: %s", cfg.Port)
	logger.Info("document expiry: %d day(s)", cfg.ExpiryDays)

	var snapStore store.SnapshotStore
	if cfg.SQLiteURI != "" {
		logger.Info("snapshot store: sqlite at %s", cfg.SQLiteURI)
		sqlStore, err := store.OpenSQLite(cfg.SQLiteURI)
		if err != nil {
			logger.Error("failed to open snapshot store: %v", err)
			os.Exit(1)
		}
		defer sqlStore.Close()
		snapStore = sqlStore
	} else {
		logger.Info("snapshot store: disabled (in-memory only)")
	}

	reg := registry.New(snapStore, cfg.ExpiryDays)

	evictorCtx, stopEvictor := context.WithCancel(context.Background())
	go reg.RunEvictor(evictorCtx)

	app := mizu.New()
	httpapi.New(reg).Mount(app)

	addr := fmt.Sprintf(":%s", cfg.Port)
	err := app.Listen(addr)

	stopEvictor()
	reg.Shutdown()

	if err != nil {
		logger.Error("server exited with error: %v", err)
		os.Exit(1)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
