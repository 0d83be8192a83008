package models

import "time"

// Receipt links a transaction to a file in object storage. The file itself
// is uploaded by the client through a presigned URL.
type Receipt struct {
	TransactionID string
	UserID        string

	// StorageKey is the object-storage key (path) of the file.
	StorageKey string

	CreatedAt time.Time
}
