package client

import (
	"context"

	"github.com/dmitrijs2005/finkeeper/internal/api"
	"github.com/dmitrijs2005/finkeeper/internal/client/models"
)

// Client is the transport contract the sync engine and CLI depend on.
type Client interface {
	Ping(ctx context.Context) error

	// BulkSync pushes one chunk of records of type t.
	BulkSync(ctx context.Context, t models.RecordType, records []*models.OfflineRecord) (*api.BulkResponse, error)

	// List returns the server copy of every record of type t. The returned
	// envelopes carry ID, Type, Version, LastModified and Data only.
	List(ctx context.Context, t models.RecordType) ([]*models.OfflineRecord, error)

	Delete(ctx context.Context, t models.RecordType, id string) error

	ReceiptUploadURL(ctx context.Context, transactionID string) (string, error)
	ReceiptDownloadURL(ctx context.Context, transactionID string) (string, error)
}
