package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/gin-gonic/gin"

	"latchkey/internal/api"
	"latchkey/internal/config"
	"latchkey/internal/database"
	"latchkey/internal/keys"
	"latchkey/internal/service"
	"latchkey/internal/store"
	"latchkey/internal/version"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := database.Migrate(cfg.DatabaseURL, "migrations"); err != nil {
		slog.Info("Migration error (may be safe if no changes)", "error", err)
	}

	ctx := context.Background()
	pool, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Corrupt key material is fatal: regenerating would orphan every token
	// already in the field.
	keypair, err := keys.Load(cfg.KeysDir)
	if err != nil {
		slog.Error("Failed to load signing keypair", "error", err, "dir", cfg.KeysDir)
		os.Exit(1)
	}

	licenseStore := store.NewPostgresLicenseStore(pool)
	activationStore := store.NewPostgresActivationStore(pool)
	logStore := store.NewPostgresLogStore(pool)
	statsStore := store.NewPostgresStatsStore(pool)

	engine := service.NewEngine(licenseStore, activationStore, keypair, cfg.OfflineTokenTTL)

	server := api.NewServer(cfg, pool, keypair, engine, licenseStore, activationStore, logStore, statsStore)

	slog.Info("Latchkey ("+version.Version+") is now on duty",
		"port", cfg.Port,
		"public_key", keypair.PublicKeyBase64(),
	)
	if err := server.Router.Run(":" + cfg.Port); err != nil {
		slog.Error("Failed to run server", "error", err)
		os.Exit(1)
	}
}
