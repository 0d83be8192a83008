package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/finkeeper/internal/api"
	"github.com/dmitrijs2005/finkeeper/internal/common"
	"github.com/dmitrijs2005/finkeeper/internal/logging"
	"github.com/dmitrijs2005/finkeeper/internal/server/lock"
	"github.com/dmitrijs2005/finkeeper/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeApplier struct {
	mu      sync.Mutex
	calls   []string
	failIDs map[string]error
}

func (f *fakeApplier) Apply(ctx context.Context, userID string, t models.RecordType, raw json.RawMessage) (string, Outcome, error) {
	id := idOf(raw)
	f.mu.Lock()
	f.calls = append(f.calls, id)
	f.mu.Unlock()
	if err := f.failIDs[id]; err != nil {
		return id, 0, err
	}
	return id, OutcomeInserted, nil
}

type failingLocker struct{}

func (failingLocker) Lock(ctx context.Context, key string) (func(), error) {
	return nil, lock.ErrNotObtained
}

func records(n int) []json.RawMessage {
	out := make([]json.RawMessage, n)
	for i := range out {
		out[i] = json.RawMessage(fmt.Sprintf(`{"id":"r%02d","_version":1}`, i))
	}
	return out
}

func newTestReconciler(app recordApplier, batch int) (*Reconciler, *[]time.Duration) {
	r := NewReconciler(app, lock.NewLocalLocker(), batch, 5*time.Millisecond, logging.NopLogger{})
	var pauses []time.Duration
	r.sleep = func(ctx context.Context, d time.Duration) error {
		pauses = append(pauses, d)
		return ctx.Err()
	}
	return r, &pauses
}

func TestBulkSync_SubBatchesWithPauses(t *testing.T) {
	app := &fakeApplier{}
	r, pauses := newTestReconciler(app, 10)

	res, err := r.BulkSync(context.Background(), "u1", models.RecordTypeTransaction, records(25))
	require.NoError(t, err)

	assert.Equal(t, 25, res.Total)
	assert.Equal(t, 25, res.SyncedCount)
	assert.Equal(t, 0, res.ErrorCount)
	assert.Len(t, app.calls, 25)
	assert.Equal(t, []time.Duration{5 * time.Millisecond, 5 * time.Millisecond}, *pauses)
	assert.True(t, res.Response().Success)
}

func TestBulkSync_PartialFailureIsolation(t *testing.T) {
	app := &fakeApplier{failIDs: map[string]error{
		"r04": fmt.Errorf("%w: amount must be greater than 0", common.ErrValidation),
	}}
	r, _ := newTestReconciler(app, 10)

	res, err := r.BulkSync(context.Background(), "u1", models.RecordTypeTransaction, records(10))
	require.NoError(t, err)

	assert.Equal(t, 9, res.SyncedCount)
	assert.Equal(t, 1, res.ErrorCount)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "r04", res.Errors[0].ID)
	assert.Contains(t, res.Errors[0].Error, "amount must be greater than 0")
	assert.NotContains(t, res.Synced, "r04")

	resp := res.Response()
	assert.False(t, resp.Success)
	assert.Equal(t, 10, resp.Total)
}

func TestBulkSync_MalformedRecordKeepsProbedID(t *testing.T) {
	r, _ := newTestReconciler(&malformedApplier{}, 10)

	res, err := r.BulkSync(context.Background(), "u1", models.RecordTypeLoan,
		[]json.RawMessage{json.RawMessage(`{"id":"x1","_version":"bad"}`)})
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "x1", res.Errors[0].ID)
}

type malformedApplier struct{}

func (malformedApplier) Apply(ctx context.Context, userID string, t models.RecordType, raw json.RawMessage) (string, Outcome, error) {
	return "", 0, fmt.Errorf("%w: _version must be an integer", api.ErrMalformedRecord)
}

func TestBulkSync_StoreFailureFailsWholeRequest(t *testing.T) {
	app := &fakeApplier{failIDs: map[string]error{
		"r03": errors.New("begin tx: dial tcp 10.0.0.5:5432: connect: connection refused"),
	}}
	r, _ := newTestReconciler(app, 10)

	res, err := r.BulkSync(context.Background(), "u1", models.RecordTypeTransaction, records(8))
	require.ErrorIs(t, err, ErrUnavailable)
	require.ErrorIs(t, err, common.ErrorInternal)
	assert.NotContains(t, err.Error(), "dial tcp")
	assert.Nil(t, res)
	assert.Equal(t, []string{"r00", "r01", "r02", "r03"}, app.calls)
}

func TestBulkSync_RejectionsStayPerRecord(t *testing.T) {
	app := &fakeApplier{failIDs: map[string]error{
		"r00": fmt.Errorf("%w: missing id", api.ErrMalformedRecord),
		"r01": fmt.Errorf("%w: amount is required", common.ErrValidation),
		"r02": ErrForeignRecord,
	}}
	r, _ := newTestReconciler(app, 10)

	res, err := r.BulkSync(context.Background(), "u1", models.RecordTypeTransaction, records(4))
	require.NoError(t, err)
	assert.Equal(t, 3, res.ErrorCount)
	assert.Equal(t, []string{"r03"}, res.Synced)
}

func TestBulkSync_BeginFailureOverRecordService(t *testing.T) {
	svc, mock := newRecordSvc(t)
	mock.ExpectBegin().WillReturnError(errors.New("dial tcp 10.0.0.5:5432: connect: connection refused"))

	r, _ := newTestReconciler(svc, 10)
	res, err := r.BulkSync(context.Background(), "u1", models.RecordTypeTransaction,
		[]json.RawMessage{txJSON("t1", 1)})
	require.ErrorIs(t, err, ErrUnavailable)
	assert.NotContains(t, err.Error(), "connection refused")
	assert.Nil(t, res)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkSync_ReplayedChunkIsIdempotent(t *testing.T) {
	svc, mock := newRecordSvc(t)
	r, _ := newTestReconciler(svc, 10)
	ctx := context.Background()
	chunk := []json.RawMessage{txJSON("t1", 1), txJSON("t2", 4)}

	// First delivery inserts both.
	for _, id := range []string{"t1", "t2"} {
		mock.ExpectBegin()
		mock.ExpectQuery(`FOR UPDATE`).WithArgs(id).WillReturnError(sql.ErrNoRows)
		mock.ExpectExec(`INSERT INTO records`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
	}
	res, err := r.BulkSync(ctx, "u1", models.RecordTypeTransaction, chunk)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2"}, res.Synced)

	// The client never saw the answer and sends the same chunk again; t2 has
	// meanwhile moved on to v6 from another device.
	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs("t1").WillReturnRows(storedRow("t1", "u1", models.RecordTypeTransaction, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs("t2").WillReturnRows(storedRow("t2", "u1", models.RecordTypeTransaction, 6))
	mock.ExpectCommit()

	res, err = r.BulkSync(ctx, "u1", models.RecordTypeTransaction, chunk)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2"}, res.Synced)
	assert.Zero(t, res.ErrorCount)

	// No second INSERT and no UPDATE that would lower t2.
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkSync_EmptyRequest(t *testing.T) {
	r, pauses := newTestReconciler(&fakeApplier{}, 10)

	res, err := r.BulkSync(context.Background(), "u1", models.RecordTypeBudget, nil)
	require.NoError(t, err)
	resp := res.Response()
	assert.True(t, resp.Success)
	assert.NotNil(t, resp.Synced)
	assert.NotNil(t, resp.Errors)
	assert.Empty(t, *pauses)
}

func TestBulkSync_LockFailure(t *testing.T) {
	r := NewReconciler(&fakeApplier{}, failingLocker{}, 10, 0, logging.NopLogger{})
	_, err := r.BulkSync(context.Background(), "u1", models.RecordTypeBudget, records(1))
	require.ErrorIs(t, err, lock.ErrNotObtained)
}

func TestBulkSync_CancelledDuringPauseRejectsRest(t *testing.T) {
	app := &fakeApplier{}
	r, _ := newTestReconciler(app, 10)

	ctx, cancel := context.WithCancel(context.Background())
	r.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	res, err := r.BulkSync(ctx, "u1", models.RecordTypeTransaction, records(15))
	require.NoError(t, err)
	assert.Equal(t, 10, res.SyncedCount)
	assert.Equal(t, 5, res.ErrorCount)
	assert.Equal(t, "r10", res.Errors[0].ID)
	assert.Len(t, app.calls, 10)
}

func TestBulkSync_SameUserRequestsDoNotInterleave(t *testing.T) {
	app := &orderApplier{}
	r := NewReconciler(app, lock.NewLocalLocker(), 2, time.Millisecond, logging.NopLogger{})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(tag string) {
			defer wg.Done()
			raws := []json.RawMessage{
				json.RawMessage(fmt.Sprintf(`{"id":"%s1"}`, tag)),
				json.RawMessage(fmt.Sprintf(`{"id":"%s2"}`, tag)),
				json.RawMessage(fmt.Sprintf(`{"id":"%s3"}`, tag)),
			}
			_, err := r.BulkSync(context.Background(), "u1", models.RecordTypeTransaction, raws)
			assert.NoError(t, err)
		}([]string{"a", "b"}[i])
	}
	wg.Wait()

	require.Len(t, app.seen, 6)
	first := app.seen[0][0]
	for i := 0; i < 3; i++ {
		assert.Equal(t, first, app.seen[i][0])
	}
}

type orderApplier struct {
	mu   sync.Mutex
	seen []string
}

func (o *orderApplier) Apply(ctx context.Context, userID string, t models.RecordType, raw json.RawMessage) (string, Outcome, error) {
	id := idOf(raw)
	o.mu.Lock()
	o.seen = append(o.seen, id)
	o.mu.Unlock()
	return id, OutcomeInserted, nil
}

func TestSleepCtx(t *testing.T) {
	require.NoError(t, sleepCtx(context.Background(), time.Millisecond))
	require.NoError(t, sleepCtx(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sleepCtx(ctx, time.Hour), context.Canceled)
}

func TestIDOf(t *testing.T) {
	assert.Equal(t, "a", idOf(json.RawMessage(`{"id":"a"}`)))
	assert.Equal(t, "", idOf(json.RawMessage(`{"id":5}`)))
	assert.Equal(t, "", idOf(json.RawMessage(`nope`)))
}
