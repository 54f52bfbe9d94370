package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"latchkey/internal/models"
)

type LicenseStore interface {
	CreateLicense(ctx context.Context, license *models.License) error
	UpdateLicense(ctx context.Context, license *models.License) error
	GetLicenseByKey(ctx context.Context, key string, moduleTag string) (*models.License, error)
	GetLicense(ctx context.Context, id string) (*models.License, error)
	RevokeLicense(ctx context.Context, key string) error
	DeleteLicense(ctx context.Context, key string) error
	ListLicenses(ctx context.Context, moduleTag *string, pagination models.PaginationParams) ([]models.License, int, error)
}

type PostgresLicenseStore struct {
	DB *pgxpool.Pool
}

func NewPostgresLicenseStore(db *pgxpool.Pool) *PostgresLicenseStore {
	return &PostgresLicenseStore{DB: db}
}

const licenseColumns = `id, key, owner_name, owner_email, module_tag, max_machines, COALESCE(max_version, ''), expires_at, revoked, created_at, updated_at`

func scanLicense(row pgx.Row) (*models.License, error) {
	var l models.License
	err := row.Scan(
		&l.ID,
		&l.Key,
		&l.OwnerName,
		&l.OwnerEmail,
		&l.ModuleTag,
		&l.MaxMachines,
		&l.MaxVersion,
		&l.ExpiresAt,
		&l.Revoked,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: license", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to scan license: %w", err)
	}
	return &l, nil
}

func (s *PostgresLicenseStore) CreateLicense(ctx context.Context, license *models.License) error {
	query := `
		INSERT INTO licenses (
			id, key, owner_name, owner_email, module_tag, max_machines, max_version, expires_at, revoked, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, $10, $11
		)
	`
	_, err := s.DB.Exec(ctx, query,
		license.ID,
		license.Key,
		license.OwnerName,
		license.OwnerEmail,
		license.ModuleTag,
		license.MaxMachines,
		license.MaxVersion,
		license.ExpiresAt,
		license.Revoked,
		license.CreatedAt,
		license.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: license key", ErrDuplicate)
		}
		return fmt.Errorf("failed to create license: %w", err)
	}

	return nil
}

// UpdateLicense updates the mutable policy fields. The revoked flag is
// deliberately not touched here: revocation is one-way and only ever set
// through RevokeLicense.
func (s *PostgresLicenseStore) UpdateLicense(ctx context.Context, license *models.License) error {
	query := `
		UPDATE licenses SET
			owner_name = $1,
			owner_email = $2,
			max_machines = $3,
			max_version = NULLIF($4, ''),
			expires_at = $5,
			updated_at = $6
		WHERE key = $7
	`
	res, err := s.DB.Exec(ctx, query,
		license.OwnerName,
		license.OwnerEmail,
		license.MaxMachines,
		license.MaxVersion,
		license.ExpiresAt,
		license.UpdatedAt,
		license.Key,
	)
	if err != nil {
		return fmt.Errorf("failed to update license: %w", err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("%w: license", ErrNotFound)
	}

	return nil
}

func (s *PostgresLicenseStore) GetLicenseByKey(ctx context.Context, key string, moduleTag string) (*models.License, error) {
	query := `SELECT ` + licenseColumns + ` FROM licenses WHERE key = $1 AND module_tag = $2`
	return scanLicense(s.DB.QueryRow(ctx, query, key, moduleTag))
}

func (s *PostgresLicenseStore) GetLicense(ctx context.Context, id string) (*models.License, error) {
	query := `SELECT ` + licenseColumns + ` FROM licenses WHERE id = $1`
	return scanLicense(s.DB.QueryRow(ctx, query, id))
}

func (s *PostgresLicenseStore) RevokeLicense(ctx context.Context, key string) error {
	query := `UPDATE licenses SET revoked = TRUE, updated_at = NOW() WHERE key = $1`
	tag, err := s.DB.Exec(ctx, query, key)
	if err != nil {
		return fmt.Errorf("failed to revoke license: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: license", ErrNotFound)
	}
	return nil
}

// DeleteLicense removes a license permanently; its activations cascade.
func (s *PostgresLicenseStore) DeleteLicense(ctx context.Context, key string) error {
	query := `DELETE FROM licenses WHERE key = $1`
	tag, err := s.DB.Exec(ctx, query, key)
	if err != nil {
		return fmt.Errorf("failed to delete license: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: license", ErrNotFound)
	}
	return nil
}

func (s *PostgresLicenseStore) ListLicenses(ctx context.Context, moduleTag *string, pagination models.PaginationParams) ([]models.License, int, error) {
	countQuery := `SELECT count(*) FROM licenses`
	countArgs := []interface{}{}
	if moduleTag != nil {
		countQuery += ` WHERE module_tag = $1`
		countArgs = append(countArgs, *moduleTag)
	}

	var totalCount int
	if err := s.DB.QueryRow(ctx, countQuery, countArgs...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("failed to get total count of licenses: %w", err)
	}

	query := `SELECT ` + licenseColumns + ` FROM licenses`
	args := []interface{}{}
	if moduleTag != nil {
		query += ` WHERE module_tag = $1`
		args = append(args, *moduleTag)
	}
	query += ` ORDER BY created_at DESC`

	limit, offset := pagination.Normalize()
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list licenses: %w", err)
	}
	defer rows.Close()

	var licenses []models.License
	for rows.Next() {
		l, err := scanLicense(rows)
		if err != nil {
			return nil, 0, err
		}
		licenses = append(licenses, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating licenses: %w", err)
	}

	return licenses, totalCount, nil
}
