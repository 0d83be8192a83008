// Package services contains the application services the CLI talks to.
//
// RecordService is the offline-first write path: every mutation lands in the
// local store first and is pushed later by the sync manager. VaultService
// unlocks the optional at-rest encryption of the local store.
package services
