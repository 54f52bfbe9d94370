package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"latchkey/internal/models"
)

type StatsStore interface {
	GetDashboardStats(ctx context.Context) (*models.DashboardStats, error)
}

type PostgresStatsStore struct {
	DB *pgxpool.Pool
}

func NewPostgresStatsStore(db *pgxpool.Pool) *PostgresStatsStore {
	return &PostgresStatsStore{DB: db}
}

func (s *PostgresStatsStore) GetDashboardStats(ctx context.Context) (*models.DashboardStats, error) {
	stats := &models.DashboardStats{}

	if err := s.DB.QueryRow(ctx, `SELECT count(*) FROM licenses`).Scan(&stats.TotalLicenses); err != nil {
		return nil, fmt.Errorf("failed to count licenses: %w", err)
	}

	if err := s.DB.QueryRow(ctx, `SELECT count(*) FROM licenses WHERE revoked`).Scan(&stats.RevokedLicenses); err != nil {
		return nil, fmt.Errorf("failed to count revoked licenses: %w", err)
	}

	if err := s.DB.QueryRow(ctx, `SELECT count(*) FROM activations WHERE active`).Scan(&stats.ActiveActivations); err != nil {
		return nil, fmt.Errorf("failed to count active activations: %w", err)
	}

	if err := s.DB.QueryRow(ctx, `SELECT count(*) FROM activation_check_logs`).Scan(&stats.TotalActivationChecks); err != nil {
		return nil, fmt.Errorf("failed to count activation checks: %w", err)
	}

	deniedQuery := `
		SELECT count(*) FROM activation_check_logs
		WHERE status_code <> $1 OR response_payload->>'status' = 'denied'`
	if err := s.DB.QueryRow(ctx, deniedQuery, http.StatusOK).Scan(&stats.DeniedActivationChecks); err != nil {
		return nil, fmt.Errorf("failed to count denied activation checks: %w", err)
	}

	recentQuery := `
		SELECT id, action, entity_type, entity_id, COALESCE(actor, ''), details, created_at
		FROM admin_logs
		ORDER BY created_at DESC
		LIMIT 5`
	rows, err := s.DB.Query(ctx, recentQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent admin logs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var log models.AdminLog
		var detailsJSON []byte
		if err := rows.Scan(
			&log.ID,
			&log.Action,
			&log.EntityType,
			&log.EntityID,
			&log.Actor,
			&detailsJSON,
			&log.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan admin log: %w", err)
		}
		if err := json.Unmarshal(detailsJSON, &log.Details); err != nil {
			return nil, fmt.Errorf("failed to unmarshal details: %w", err)
		}
		stats.RecentAdminLogs = append(stats.RecentAdminLogs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating admin logs: %w", err)
	}

	return stats, nil
}
