package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/finkeeper/internal/api"
	"github.com/dmitrijs2005/finkeeper/internal/common"
	"github.com/dmitrijs2005/finkeeper/internal/logging"
	"github.com/dmitrijs2005/finkeeper/internal/server/lock"
	"github.com/dmitrijs2005/finkeeper/internal/server/models"
)

// BulkResult is the per-request outcome of a bulk sync. Ids whose stored
// version won are still listed in Synced.
type BulkResult struct {
	Synced      []string
	Errors      []api.BulkError
	Total       int
	SyncedCount int
	ErrorCount  int
}

// Response converts the result to its wire form.
func (r *BulkResult) Response() *api.BulkResponse {
	synced := r.Synced
	if synced == nil {
		synced = []string{}
	}
	errs := r.Errors
	if errs == nil {
		errs = []api.BulkError{}
	}
	return &api.BulkResponse{
		Success:     r.ErrorCount == 0,
		Synced:      synced,
		Errors:      errs,
		Total:       r.Total,
		SyncedCount: r.SyncedCount,
		ErrorCount:  r.ErrorCount,
	}
}

func (r *BulkResult) accept(id string) {
	r.Synced = append(r.Synced, id)
	r.SyncedCount++
}

func (r *BulkResult) reject(id string, err error) {
	r.Errors = append(r.Errors, api.BulkError{ID: id, Error: err.Error()})
	r.ErrorCount++
}

// recordApplier is the part of RecordService the reconciler needs.
type recordApplier interface {
	Apply(ctx context.Context, userID string, t models.RecordType, raw json.RawMessage) (string, Outcome, error)
}

// Reconciler applies pushed chunks record by record. A failing record never
// affects its siblings.
type Reconciler struct {
	records   recordApplier
	locker    lock.Locker
	batchSize int
	pause     time.Duration
	logger    logging.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

func NewReconciler(records recordApplier, locker lock.Locker, batchSize int, pause time.Duration, logger logging.Logger) *Reconciler {
	if batchSize <= 0 {
		batchSize = common.DefaultChunkSize
	}
	return &Reconciler{
		records:   records,
		locker:    locker,
		batchSize: batchSize,
		pause:     pause,
		logger:    logger.With("module", "reconciler"),
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var errRequestAborted = errors.New("request aborted before the record was processed")

// ErrUnavailable fails a whole bulk request when the record store cannot
// serve it. Clients retry the chunk later without counting an attempt.
var ErrUnavailable = errors.New("record store unavailable")

// rejectable reports whether err is a verdict on the record itself. Any
// other failure says nothing about the record and must not cost it a retry.
func rejectable(err error) bool {
	return errors.Is(err, api.ErrMalformedRecord) ||
		errors.Is(err, common.ErrValidation) ||
		errors.Is(err, common.ErrUnknownRecordType) ||
		errors.Is(err, ErrForeignRecord) ||
		errors.Is(err, ErrIDMismatch)
}

// BulkSync reconciles raws for userID. Rejections of individual records are
// reported per record. The request fails as a whole when the per-user lock
// cannot be taken or the store fails; records committed before a store
// failure are accepted again as kept when the chunk is replayed.
func (r *Reconciler) BulkSync(ctx context.Context, userID string, t models.RecordType, raws []json.RawMessage) (*BulkResult, error) {
	release, err := r.locker.Lock(ctx, lock.Key(userID, string(t)))
	if err != nil {
		return nil, err
	}
	defer release()

	res := &BulkResult{Total: len(raws)}

	for start := 0; start < len(raws); start += r.batchSize {
		if start > 0 {
			if err := r.sleep(ctx, r.pause); err != nil {
				for _, raw := range raws[start:] {
					res.reject(idOf(raw), errRequestAborted)
				}
				break
			}
		}

		end := min(start+r.batchSize, len(raws))
		for _, raw := range raws[start:end] {
			id, _, err := r.records.Apply(ctx, userID, t, raw)
			if err != nil {
				if id == "" {
					id = idOf(raw)
				}
				if !rejectable(err) {
					r.logger.Error(ctx, "bulk sync aborted", "user", userID, "type", t, "id", id, "error", err)
					return nil, fmt.Errorf("%w: %w", ErrUnavailable, common.ErrorInternal)
				}
				r.logger.Debug(ctx, "record rejected", "type", t, "id", id, "error", err)
				res.reject(id, err)
				continue
			}
			res.accept(id)
		}
	}

	r.logger.Info(ctx, "bulk sync done", "user", userID, "type", t,
		"total", res.Total, "synced", res.SyncedCount, "errors", res.ErrorCount)
	return res, nil
}

// idOf digs the id out of a record that failed before decoding.
func idOf(raw json.RawMessage) string {
	var probe struct {
		ID any `json:"id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	if s, ok := probe.ID.(string); ok {
		return s
	}
	return ""
}
