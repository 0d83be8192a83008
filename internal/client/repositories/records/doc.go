// Package records is the client's durable, versioned record store (LocalStore).
//
// Every record lives in one SQLite table keyed by (type, id). A local write
// bumps the version in a single INSERT .. ON CONFLICT statement, so concurrent
// saves to different ids never interfere and a save to the same id is
// serialised by SQLite itself. The (type, user_id, synced) index backs
// GetUnsynced.
//
// Payloads are stored as plain JSON unless the repository is built with a
// cryptox.Sealer, in which case they are sealed with AES-GCM and bound to
// their (type, id).
package records
