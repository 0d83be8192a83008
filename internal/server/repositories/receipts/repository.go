package receipts

import (
	"context"

	"github.com/dmitrijs2005/finkeeper/internal/server/models"
)

type Repository interface {
	// Upsert stores the receipt for a transaction. A receipt owned by another
	// user is never replaced; that case returns common.ErrorUnauthorized.
	Upsert(ctx context.Context, r *models.Receipt) error

	// Get returns common.ErrorNotFound when the user has no receipt for the
	// transaction.
	Get(ctx context.Context, userID, transactionID string) (*models.Receipt, error)
}
