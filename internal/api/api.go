// Package api holds the JSON wire contract shared by the FinKeeper client and
// server: bulk sync request/response bodies and the flat record encoding.
//
// On the wire a record is one flat JSON object: its domain fields plus "id",
// "_version" (int) and "_lastModified" (unix milliseconds).
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/finkeeper/internal/common"
)

var ErrMalformedRecord = errors.New("malformed record")

// BulkRequest is the body of POST /sync/{type}/bulk.
type BulkRequest struct {
	Records []json.RawMessage `json:"records"`
}

// BulkError reports one rejected record.
type BulkError struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// BulkResponse lists accepted ids and per-record failures.
type BulkResponse struct {
	Success     bool        `json:"success"`
	Synced      []string    `json:"synced"`
	Errors      []BulkError `json:"errors"`
	Total       int         `json:"total"`
	SyncedCount int         `json:"syncedCount"`
	ErrorCount  int         `json:"errorCount"`
}

// ListResponse is the body of GET /{type}.
type ListResponse struct {
	Records []json.RawMessage `json:"records"`
}

// ReceiptResponse carries a presigned object-storage URL.
type ReceiptResponse struct {
	URL string `json:"url"`
	Key string `json:"key,omitempty"`
}

// PingResponse is the body of GET /ping.
type PingResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Record is a decoded wire record.
type Record struct {
	ID           string
	Version      int64
	LastModified int64

	// Data is the payload without the underscore metadata; it keeps "id".
	Data json.RawMessage
}

// Encode flattens data and the sync metadata into one wire object.
func Encode(id string, version, lastModified int64, data json.RawMessage) (json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if len(bytes.TrimSpace(data)) > 0 && !bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, fmt.Errorf("%w: payload is not an object: %v", ErrMalformedRecord, err)
		}
	}

	var err error
	if fields[common.FieldID], err = json.Marshal(id); err != nil {
		return nil, err
	}
	if fields[common.FieldVersion], err = json.Marshal(version); err != nil {
		return nil, err
	}
	if fields[common.FieldLastModified], err = json.Marshal(lastModified); err != nil {
		return nil, err
	}

	return json.Marshal(fields)
}

// Decode splits a wire object into id, metadata and payload. Missing
// "_version" or "_lastModified" decode as zero; a missing id is an error.
func Decode(raw json.RawMessage) (*Record, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: null record", ErrMalformedRecord)
	}

	rec := &Record{}
	if v, ok := fields[common.FieldID]; ok {
		if err := json.Unmarshal(v, &rec.ID); err != nil {
			return nil, fmt.Errorf("%w: id must be a string", ErrMalformedRecord)
		}
	}
	if rec.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrMalformedRecord)
	}

	if v, ok := fields[common.FieldVersion]; ok {
		if err := json.Unmarshal(v, &rec.Version); err != nil {
			return nil, fmt.Errorf("%w: _version must be an integer", ErrMalformedRecord)
		}
		delete(fields, common.FieldVersion)
	}
	if v, ok := fields[common.FieldLastModified]; ok {
		if err := json.Unmarshal(v, &rec.LastModified); err != nil {
			return nil, fmt.Errorf("%w: _lastModified must be an integer", ErrMalformedRecord)
		}
		delete(fields, common.FieldLastModified)
	}

	data, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	rec.Data = data
	return rec, nil
}
