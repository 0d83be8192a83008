package client

import "errors"

var (
	// ErrUnavailable marks transport failures: the server could not be
	// reached, timed out or answered 429/5xx. The syncer leaves records
	// pending and does not count the attempt.
	ErrUnavailable = errors.New("server unavailable")

	// ErrUnauthorized is returned for 401/403 and for a wrong local passphrase.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrLocalDataNotAvailable means the local store has not been set up yet.
	ErrLocalDataNotAvailable = errors.New("local data unavailable")

	// ErrNoSession means no access token has been configured or saved.
	ErrNoSession = errors.New("no access token configured")
)
