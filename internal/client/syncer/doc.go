// Package syncer pushes locally pending records to the server.
//
// A Manager is either Idle or Syncing. A single flag admits one episode at a
// time; a request that arrives while an episode runs gets ErrSyncInProgress
// and is not queued. Within an episode the types are visited in the fixed
// order transaction, budget, loan (or concurrently with ParallelTypes). Each
// type's unsynced records are pushed in chunks, one chunk in flight at a
// time, with a pause between chunks of the same type.
//
// Per-record outcomes drive the store: accepted ids are marked synced if
// their version did not move during the push, rejected ids go back to pending
// and, after MaxAttempts rejections, to error. Transport failures leave the
// chunk pending without counting an attempt.
package syncer
