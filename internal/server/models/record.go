// Package models defines server-side data models persisted in the database.
package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/finkeeper/internal/common"
)

type RecordType string

const (
	RecordTypeTransaction RecordType = "transaction"
	RecordTypeBudget      RecordType = "budget"
	RecordTypeLoan        RecordType = "loan"
)

var recordTypes = map[string]RecordType{
	"transaction": RecordTypeTransaction, "transactions": RecordTypeTransaction,
	"budget": RecordTypeBudget, "budgets": RecordTypeBudget,
	"loan": RecordTypeLoan, "loans": RecordTypeLoan,
}

// ParseRecordType accepts the singular or the plural (URL) form.
func ParseRecordType(s string) (RecordType, error) {
	if t, ok := recordTypes[s]; ok {
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", common.ErrUnknownRecordType, s)
}

// Record is the server copy of a client record. Version is the client's
// version counter as last accepted; the server never invents versions.
type Record struct {
	ID     string
	Type   RecordType
	UserID string

	// Data is the payload without the _version/_lastModified metadata.
	Data json.RawMessage

	Version int64

	// LastModified is the client's modification time in ms since epoch.
	LastModified int64

	CreatedAt time.Time
	UpdatedAt time.Time
}
