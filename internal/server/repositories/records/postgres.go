// Package records provides the PostgreSQL-backed store for reconciled
// client records.
package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/finkeeper/internal/common"
	"github.com/dmitrijs2005/finkeeper/internal/dbx"
	"github.com/dmitrijs2005/finkeeper/internal/server/models"
)

// PostgresRepository implements record storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectColumns = `id, type, user_id, data, version, last_modified, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scan(row rowScanner) (*models.Record, error) {
	var rec models.Record
	var t string
	var data []byte
	if err := row.Scan(&rec.ID, &t, &rec.UserID, &data, &rec.Version, &rec.LastModified, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Type = models.RecordType(t)
	rec.Data = data
	return &rec, nil
}

func (r *PostgresRepository) GetForUpdate(ctx context.Context, id string) (*models.Record, error) {
	query := `SELECT ` + selectColumns + ` FROM records WHERE id = $1 FOR UPDATE`
	rec, err := scan(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select record: %w", err)
	}
	return rec, nil
}

func (r *PostgresRepository) Insert(ctx context.Context, rec *models.Record) error {
	query := `
		INSERT INTO records (id, type, user_id, data, version, last_modified)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.db.ExecContext(ctx, query,
		rec.ID, string(rec.Type), rec.UserID, string(rec.Data), rec.Version, rec.LastModified)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Update(ctx context.Context, rec *models.Record) error {
	query := `
		UPDATE records SET
			data = $4,
			version = $5,
			last_modified = $6,
			updated_at = now()
		WHERE id = $1 AND user_id = $2 AND type = $3 AND version < $5`
	res, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.UserID, string(rec.Type), string(rec.Data), rec.Version, rec.LastModified)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return common.ErrVersionConflict
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}

func (r *PostgresRepository) Get(ctx context.Context, userID string, t models.RecordType, id string) (*models.Record, error) {
	query := `SELECT ` + selectColumns + ` FROM records WHERE id = $1 AND user_id = $2 AND type = $3`
	rec, err := scan(r.db.QueryRowContext(ctx, query, id, userID, string(t)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select record: %w", err)
	}
	return rec, nil
}

func (r *PostgresRepository) List(ctx context.Context, userID string, t models.RecordType) ([]*models.Record, error) {
	query := `SELECT ` + selectColumns + ` FROM records WHERE user_id = $1 AND type = $2 ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, userID, string(t))
	if err != nil {
		return nil, fmt.Errorf("failed to select records: %w", err)
	}
	defer rows.Close()

	result := make([]*models.Record, 0)
	for rows.Next() {
		rec, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, userID string, t models.RecordType, id string) error {
	query := `DELETE FROM records WHERE id = $1 AND user_id = $2 AND type = $3`
	res, err := r.db.ExecContext(ctx, query, id, userID, string(t))
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
