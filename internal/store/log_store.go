package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"latchkey/internal/models"
)

type LogStore interface {
	CreateActivationCheckLog(ctx context.Context, log *models.ActivationCheckLog) error
	CreateAdminLog(ctx context.Context, log *models.AdminLog) error
	GetActivationCheckLogsByLicenseKey(ctx context.Context, licenseKey string, statusCode *int, pagination models.PaginationParams) ([]models.ActivationCheckLog, int, error)
	ListAdminLogs(ctx context.Context, actor *string, pagination models.PaginationParams) ([]models.AdminLog, int, error)
}

type PostgresLogStore struct {
	DB *pgxpool.Pool
}

func NewPostgresLogStore(db *pgxpool.Pool) *PostgresLogStore {
	return &PostgresLogStore{DB: db}
}

func (s *PostgresLogStore) CreateActivationCheckLog(ctx context.Context, log *models.ActivationCheckLog) error {
	query := `
		INSERT INTO activation_check_logs (license_id, license_key, module_tag, fingerprint, request_payload, response_payload, ip_address, user_agent, status_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`

	requestPayloadJSON, err := json.Marshal(log.RequestPayload)
	if err != nil {
		return fmt.Errorf("failed to marshal request payload: %w", err)
	}

	responsePayloadJSON, err := json.Marshal(log.ResponsePayload)
	if err != nil {
		return fmt.Errorf("failed to marshal response payload: %w", err)
	}

	return s.DB.QueryRow(
		ctx,
		query,
		log.LicenseID,
		log.LicenseKey,
		log.ModuleTag,
		log.Fingerprint,
		requestPayloadJSON,
		responsePayloadJSON,
		log.IPAddress,
		log.UserAgent,
		log.StatusCode,
	).Scan(&log.ID, &log.CreatedAt)
}

func (s *PostgresLogStore) CreateAdminLog(ctx context.Context, log *models.AdminLog) error {
	query := `
		INSERT INTO admin_logs (action, entity_type, entity_id, actor, details)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	detailsJSON, err := json.Marshal(log.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal details: %w", err)
	}

	return s.DB.QueryRow(
		ctx,
		query,
		log.Action,
		log.EntityType,
		log.EntityID,
		log.Actor,
		detailsJSON,
	).Scan(&log.ID, &log.CreatedAt)
}

func (s *PostgresLogStore) GetActivationCheckLogsByLicenseKey(ctx context.Context, licenseKey string, statusCode *int, pagination models.PaginationParams) ([]models.ActivationCheckLog, int, error) {
	query := `
		SELECT id, license_id, license_key, module_tag, fingerprint, request_payload, response_payload, ip_address, user_agent, status_code, created_at
		FROM activation_check_logs
		WHERE license_key = $1`
	countQuery := `SELECT count(*) FROM activation_check_logs WHERE license_key = $1`

	args := []interface{}{licenseKey}
	if statusCode != nil {
		query += fmt.Sprintf(" AND status_code = $%d", len(args)+1)
		countQuery += fmt.Sprintf(" AND status_code = $%d", len(args)+1)
		args = append(args, *statusCode)
	}

	query += ` ORDER BY created_at DESC`

	var totalCount int
	if err := s.DB.QueryRow(ctx, countQuery, args...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("failed to get total count of log entries: %w", err)
	}

	limit, offset := pagination.Normalize()
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query activation check logs: %w", err)
	}
	defer rows.Close()

	var logs []models.ActivationCheckLog
	for rows.Next() {
		var log models.ActivationCheckLog
		var requestPayloadJSON, responsePayloadJSON []byte
		if err := rows.Scan(
			&log.ID,
			&log.LicenseID,
			&log.LicenseKey,
			&log.ModuleTag,
			&log.Fingerprint,
			&requestPayloadJSON,
			&responsePayloadJSON,
			&log.IPAddress,
			&log.UserAgent,
			&log.StatusCode,
			&log.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan activation check log: %w", err)
		}

		if err := json.Unmarshal(requestPayloadJSON, &log.RequestPayload); err != nil {
			return nil, 0, fmt.Errorf("failed to unmarshal request payload: %w", err)
		}
		if err := json.Unmarshal(responsePayloadJSON, &log.ResponsePayload); err != nil {
			return nil, 0, fmt.Errorf("failed to unmarshal response payload: %w", err)
		}

		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating activation check logs: %w", err)
	}

	return logs, totalCount, nil
}

func (s *PostgresLogStore) ListAdminLogs(ctx context.Context, actor *string, pagination models.PaginationParams) ([]models.AdminLog, int, error) {
	query := `
		SELECT id, action, entity_type, entity_id, COALESCE(actor, ''), details, created_at
		FROM admin_logs
	`
	countQuery := `SELECT count(*) FROM admin_logs`
	var args []interface{}
	if actor != nil {
		query += ` WHERE actor = $1`
		countQuery += ` WHERE actor = $1`
		args = append(args, *actor)
	}
	query += ` ORDER BY created_at DESC`

	var totalCount int
	if err := s.DB.QueryRow(ctx, countQuery, args...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("failed to get total count of admin logs: %w", err)
	}

	limit, offset := pagination.Normalize()
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query admin logs: %w", err)
	}
	defer rows.Close()

	var logs []models.AdminLog
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
			return nil, 0, fmt.Errorf("failed to scan admin log: %w", err)
		}

		if err := json.Unmarshal(detailsJSON, &log.Details); err != nil {
			return nil, 0, fmt.Errorf("failed to unmarshal details: %w", err)
		}

		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating admin logs: %w", err)
	}

	return logs, totalCount, nil
}
