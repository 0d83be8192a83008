// Package models defines client-side data models used by the FinKeeper CLI.
package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/finkeeper/internal/common"
)

// RecordType classifies a synchronised record kind.
type RecordType string

const (
	RecordTypeTransaction RecordType = "transaction"
	RecordTypeBudget      RecordType = "budget"
	RecordTypeLoan        RecordType = "loan"
)

// AllTypes is the fixed order in which types are synchronised.
var AllTypes = []RecordType{RecordTypeTransaction, RecordTypeBudget, RecordTypeLoan}

// ParseRecordType accepts both singular and plural spellings ("loan", "loans").
func ParseRecordType(s string) (RecordType, error) {
	for _, t := range AllTypes {
		if s == string(t) || s == t.Plural() {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", common.ErrUnknownRecordType, s)
}

// Plural is the collection name used in HTTP paths.
func (t RecordType) Plural() string {
	return string(t) + "s"
}

// SyncStatus is the push state of a local record.
type SyncStatus string

const (
	SyncStatusPending SyncStatus = "pending"
	SyncStatusSyncing SyncStatus = "syncing"
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusError   SyncStatus = "error"
)

// OfflineRecord is the durable local envelope around a record payload.
type OfflineRecord struct {
	// ID matches the "id" field of Data.
	ID     string
	Type   RecordType
	UserID string

	// Data is the record payload as plain JSON (decrypted if the store seals it).
	Data json.RawMessage

	// Version increases on every local mutation. It only jumps when a newer
	// server copy is adopted.
	Version int64

	LastModified time.Time
	SyncStatus   SyncStatus

	// Synced is true iff SyncStatus is SyncStatusSynced.
	Synced bool
}

// QueueAction is the intent recorded for a pending push.
type QueueAction string

const (
	QueueActionCreate QueueAction = "create"
	QueueActionUpdate QueueAction = "update"
)

// SyncQueueItem is retry bookkeeping for one (type, id). It is not
// authoritative; the records table is.
type SyncQueueItem struct {
	Action    QueueAction
	Type      RecordType
	RecordID  string
	UserID    string
	Payload   json.RawMessage
	CreatedAt time.Time
	Attempts  int
	LastError string
}

// SyncResult aggregates the outcome of a sync episode across all types.
type SyncResult struct {
	Synced   int
	Failed   int
	Errors   []string
	Started  time.Time
	Finished time.Time
}

// Merge folds o into r.
func (r *SyncResult) Merge(o *SyncResult) {
	if o == nil {
		return
	}
	r.Synced += o.Synced
	r.Failed += o.Failed
	r.Errors = append(r.Errors, o.Errors...)
}
