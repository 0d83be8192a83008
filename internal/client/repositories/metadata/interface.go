// Package metadata stores small key/value facts about the local store: the
// at-rest encryption salt and verifier, the saved access token and the time
// of the last completed sync.
package metadata

import (
	"context"
	"time"
)

// Well-known keys.
const (
	KeyEncryptionSalt = "encryption_salt"
	KeyLastSyncAt     = "last_sync_at"
	KeyVerifier       = "encryption_verifier"
	KeyAccessToken    = "access_token"
)

type Repository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error

	// GetTime returns the zero time when key is absent.
	GetTime(ctx context.Context, key string) (time.Time, error)
	SetTime(ctx context.Context, key string, t time.Time) error
}
