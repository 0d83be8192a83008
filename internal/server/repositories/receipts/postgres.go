// Package receipts stores the object-storage keys of transaction receipts.
package receipts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/finkeeper/internal/common"
	"github.com/dmitrijs2005/finkeeper/internal/dbx"
	"github.com/dmitrijs2005/finkeeper/internal/server/models"
)

// PostgresRepository implements receipt storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

var _ Repository = (*PostgresRepository)(nil)

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Upsert(ctx context.Context, rec *models.Receipt) error {
	query := `
		INSERT INTO receipts (transaction_id, user_id, storage_key)
		VALUES ($1, $2, $3)
		ON CONFLICT (transaction_id)
		DO UPDATE SET
			storage_key = EXCLUDED.storage_key
			WHERE receipts.user_id = EXCLUDED.user_id`
	res, err := r.db.ExecContext(ctx, query, rec.TransactionID, rec.UserID, rec.StorageKey)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorUnauthorized
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, userID, transactionID string) (*models.Receipt, error) {
	query := `SELECT transaction_id, user_id, storage_key, created_at FROM receipts
		WHERE transaction_id = $1 AND user_id = $2`

	var rec models.Receipt
	err := r.db.QueryRowContext(ctx, query, transactionID, userID).
		Scan(&rec.TransactionID, &rec.UserID, &rec.StorageKey, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select receipt: %w", err)
	}
	return &rec, nil
}
