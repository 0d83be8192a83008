package records

import (
	"context"

	"github.com/dmitrijs2005/finkeeper/internal/server/models"
)

type Repository interface {
	// GetForUpdate locks the row by id for the rest of the transaction.
	// It returns common.ErrorNotFound when there is no such row.
	GetForUpdate(ctx context.Context, id string) (*models.Record, error)

	Insert(ctx context.Context, rec *models.Record) error

	// Update stores rec only when the row is owned by rec.UserID, has the same
	// type and an older version. Otherwise it returns common.ErrVersionConflict.
	Update(ctx context.Context, rec *models.Record) error

	Get(ctx context.Context, userID string, t models.RecordType, id string) (*models.Record, error)
	List(ctx context.Context, userID string, t models.RecordType) ([]*models.Record, error)

	// Delete returns common.ErrorNotFound when nothing was deleted.
	Delete(ctx context.Context, userID string, t models.RecordType, id string) error
}
