package records

import (
	"context"
	"encoding/json"

	"github.com/dmitrijs2005/finkeeper/internal/client/models"
)

// Repository describes the LocalStore operations used by the sync engine.
type Repository interface {
	// Save creates the record with version 1 or bumps the stored version by
	// one. The record is always left pending.
	Save(ctx context.Context, t models.RecordType, userID, id string, data json.RawMessage) (*models.OfflineRecord, error)

	// Get returns common.ErrorNotFound when the record is absent.
	Get(ctx context.Context, t models.RecordType, id string) (*models.OfflineRecord, error)

	// GetAll returns every payload owned by userID, in no particular order.
	GetAll(ctx context.Context, t models.RecordType, userID string) ([]json.RawMessage, error)

	// GetUnsynced returns every record of userID with synced == false.
	GetUnsynced(ctx context.Context, t models.RecordType, userID string) ([]*models.OfflineRecord, error)

	// MarkSynced is idempotent and a no-op for a missing record.
	MarkSynced(ctx context.Context, t models.RecordType, id string) error

	// MarkSyncedAt marks the record synced only if its version still equals
	// version. It reports whether the row was updated.
	MarkSyncedAt(ctx context.Context, t models.RecordType, id string, version int64) (bool, error)

	// SetStatus moves the record from one status to another and reports
	// whether it was in the from status.
	SetStatus(ctx context.Context, t models.RecordType, id string, from, to models.SyncStatus) (bool, error)

	// ApplyRemote adopts a server copy when its version is >= the local one.
	// It reports whether the local record changed.
	ApplyRemote(ctx context.Context, t models.RecordType, userID string, remote *models.OfflineRecord) (bool, error)

	// CountByStatus tallies userID's records of type t per sync status.
	CountByStatus(ctx context.Context, t models.RecordType, userID string) (map[models.SyncStatus]int, error)

	Delete(ctx context.Context, t models.RecordType, id string) error
}
