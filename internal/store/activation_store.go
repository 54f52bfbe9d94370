package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"latchkey/internal/models"
)

type ActivationStore interface {
	// ClaimSeat atomically renews the activation for a fingerprint that
	// currently holds a seat or, when the fingerprint is new or was
	// deactivated, claims a seat if one is free. Returns ErrSeatLimit when
	// the license is full and ErrNotFound when the license row vanished.
	ClaimSeat(ctx context.Context, licenseID uuid.UUID, fingerprint string, hostname string, now time.Time) (*models.Activation, error)
	GetActivation(ctx context.Context, licenseID uuid.UUID, fingerprint string) (*models.Activation, error)
	Touch(ctx context.Context, licenseID uuid.UUID, fingerprint string, now time.Time) error
	Deactivate(ctx context.Context, licenseID uuid.UUID, fingerprint string) error
	CountActiveSeats(ctx context.Context, licenseID uuid.UUID) (int, error)
	ListActivations(ctx context.Context, licenseID uuid.UUID, pagination models.PaginationParams) ([]models.Activation, int, error)
}

type PostgresActivationStore struct {
	DB *pgxpool.Pool
}

func NewPostgresActivationStore(db *pgxpool.Pool) *PostgresActivationStore {
	return &PostgresActivationStore{DB: db}
}

const activationColumns = `id, license_id, fingerprint, COALESCE(hostname, ''), active, activated_at, last_seen`

func scanActivation(row pgx.Row) (*models.Activation, error) {
	var a models.Activation
	err := row.Scan(
		&a.ID,
		&a.LicenseID,
		&a.Fingerprint,
		&a.Hostname,
		&a.Active,
		&a.ActivatedAt,
		&a.LastSeen,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: activation", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to scan activation: %w", err)
	}
	return &a, nil
}

// ClaimSeat serializes the seat check and the insert behind a row lock on
// the license, so two racing activations for the last free seat cannot both
// commit. The UNIQUE (license_id, fingerprint) constraint backs this up at
// the schema level.
func (s *PostgresActivationStore) ClaimSeat(ctx context.Context, licenseID uuid.UUID, fingerprint string, hostname string, now time.Time) (*models.Activation, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var maxMachines int
	err = tx.QueryRow(ctx, `SELECT max_machines FROM licenses WHERE id = $1 FOR UPDATE`, licenseID).Scan(&maxMachines)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: license", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to lock license row: %w", err)
	}

	// A fingerprint currently holding a seat always renews, even when the
	// license is full. Only active rows qualify: a released seat must go
	// back through the count below.
	renewQuery := `
		UPDATE activations
		SET last_seen = $3, hostname = COALESCE(NULLIF($4, ''), hostname)
		WHERE license_id = $1 AND fingerprint = $2 AND active
		RETURNING ` + activationColumns
	act, err := scanActivation(tx.QueryRow(ctx, renewQuery, licenseID, fingerprint, now, hostname))
	if err == nil {
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("failed to commit transaction: %w", err)
		}
		return act, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	var inUse int
	countQuery := `SELECT count(DISTINCT fingerprint) FROM activations WHERE license_id = $1 AND active`
	if err := tx.QueryRow(ctx, countQuery, licenseID).Scan(&inUse); err != nil {
		return nil, fmt.Errorf("failed to count active seats: %w", err)
	}
	if inUse >= maxMachines {
		return nil, fmt.Errorf("%w: %d of %d seats in use", ErrSeatLimit, inUse, maxMachines)
	}

	// A deactivated row for this fingerprint is revived in place so the
	// device keeps its activation history.
	reviveQuery := `
		UPDATE activations
		SET active = TRUE, last_seen = $3, hostname = COALESCE(NULLIF($4, ''), hostname)
		WHERE license_id = $1 AND fingerprint = $2 AND NOT active
		RETURNING ` + activationColumns
	act, err = scanActivation(tx.QueryRow(ctx, reviveQuery, licenseID, fingerprint, now, hostname))
	if err == nil {
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("failed to commit transaction: %w", err)
		}
		return act, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	insertQuery := `
		INSERT INTO activations (id, license_id, fingerprint, hostname, active, activated_at, last_seen)
		VALUES ($1, $2, $3, NULLIF($4, ''), TRUE, $5, $5)
		RETURNING ` + activationColumns
	act, err = scanActivation(tx.QueryRow(ctx, insertQuery, uuid.New(), licenseID, fingerprint, hostname, now))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, fmt.Errorf("%w: activation", ErrDuplicate)
		}
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return act, nil
}

func (s *PostgresActivationStore) GetActivation(ctx context.Context, licenseID uuid.UUID, fingerprint string) (*models.Activation, error) {
	query := `SELECT ` + activationColumns + ` FROM activations WHERE license_id = $1 AND fingerprint = $2`
	return scanActivation(s.DB.QueryRow(ctx, query, licenseID, fingerprint))
}

// Touch refreshes liveness for an active activation without claiming seats.
func (s *PostgresActivationStore) Touch(ctx context.Context, licenseID uuid.UUID, fingerprint string, now time.Time) error {
	query := `UPDATE activations SET last_seen = $3 WHERE license_id = $1 AND fingerprint = $2 AND active`
	tag, err := s.DB.Exec(ctx, query, licenseID, fingerprint, now)
	if err != nil {
		return fmt.Errorf("failed to update liveness: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: activation", ErrNotFound)
	}
	return nil
}

// Deactivate releases the seat held by a fingerprint. The row stays behind
// so a later re-activation reuses it instead of consuming a fresh one.
func (s *PostgresActivationStore) Deactivate(ctx context.Context, licenseID uuid.UUID, fingerprint string) error {
	query := `UPDATE activations SET active = FALSE WHERE license_id = $1 AND fingerprint = $2 AND active`
	tag, err := s.DB.Exec(ctx, query, licenseID, fingerprint)
	if err != nil {
		return fmt.Errorf("failed to deactivate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: activation", ErrNotFound)
	}
	return nil
}

func (s *PostgresActivationStore) CountActiveSeats(ctx context.Context, licenseID uuid.UUID) (int, error) {
	var count int
	query := `SELECT count(DISTINCT fingerprint) FROM activations WHERE license_id = $1 AND active`
	if err := s.DB.QueryRow(ctx, query, licenseID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count active seats: %w", err)
	}
	return count, nil
}

func (s *PostgresActivationStore) ListActivations(ctx context.Context, licenseID uuid.UUID, pagination models.PaginationParams) ([]models.Activation, int, error) {
	var totalCount int
	if err := s.DB.QueryRow(ctx, `SELECT count(*) FROM activations WHERE license_id = $1`, licenseID).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("failed to get total count of activations: %w", err)
	}

	limit, offset := pagination.Normalize()
	query := `SELECT ` + activationColumns + ` FROM activations WHERE license_id = $1 ORDER BY activated_at DESC LIMIT $2 OFFSET $3`

	rows, err := s.DB.Query(ctx, query, licenseID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list activations: %w", err)
	}
	defer rows.Close()

	var activations []models.Activation
	for rows.Next() {
		a, err := scanActivation(rows)
		if err != nil {
			return nil, 0, err
		}
		activations = append(activations, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating activations: %w", err)
	}

	return activations, totalCount, nil
}
