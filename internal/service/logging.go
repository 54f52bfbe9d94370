package service

import (
	"context"
	"log/slog"

	"latchkey/internal/models"
	"latchkey/internal/store"
)

func AsyncLogAdminAction(ctx context.Context, logStore store.LogStore, entry *models.AdminLog) {
	slog.Info("Admin Action",
		"action", entry.Action,
		"entity_type", entry.EntityType,
		"entity_id", entry.EntityID,
		"actor", entry.Actor,
	)

	go func() {
		if err := logStore.CreateAdminLog(context.Background(), entry); err != nil {
			slog.Error("Failed to create admin log", "error", err, "action", entry.Action)
		}
	}()
}

func AsyncLogActivationCheck(ctx context.Context, logStore store.LogStore, entry *models.ActivationCheckLog, status Status, reason Reason) {
	slog.Info("Activation Check",
		"key", entry.LicenseKey,
		"module", entry.ModuleTag,
		"fingerprint", entry.Fingerprint,
		"status", status,
		"reason", reason,
		"ip", entry.IPAddress,
		"http_status", entry.StatusCode,
	)

	go func() {
		if err := logStore.CreateActivationCheckLog(context.Background(), entry); err != nil {
			slog.Error("Failed to create activation check log", "error", err, "key", entry.LicenseKey)
		}
	}()
}
