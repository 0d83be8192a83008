package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmitrijs2005/finkeeper/internal/client/client"
	"github.com/dmitrijs2005/finkeeper/internal/client/models"
	"github.com/dmitrijs2005/finkeeper/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := client.InitDatabase(context.Background(), filepath.Join(t.TempDir(), "q.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func item(id string, action models.QueueAction) *models.SyncQueueItem {
	return &models.SyncQueueItem{
		Action:    action,
		Type:      models.RecordTypeBudget,
		RecordID:  id,
		UserID:    "u1",
		Payload:   json.RawMessage(`{"id":"` + id + `"}`),
		CreatedAt: time.UnixMilli(1000),
	}
}

func TestUpsert_LatestIntentReplacesEarlier(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.Upsert(ctx, item("b1", models.QueueActionUpdate)))
	_, err := r.RecordFailure(ctx, models.RecordTypeBudget, "u1", "b1", "boom")
	require.NoError(t, err)

	next := item("b1", models.QueueActionUpdate)
	next.Payload = json.RawMessage(`{"id":"b1","name":"v2"}`)
	require.NoError(t, r.Upsert(ctx, next))

	got, err := r.Get(ctx, models.RecordTypeBudget, "b1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.Attempts)
	assert.Empty(t, got.LastError)
	assert.JSONEq(t, `{"id":"b1","name":"v2"}`, string(got.Payload))

	items, err := r.List(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestUpsert_CreateStaysCreate(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.Upsert(ctx, item("b1", models.QueueActionCreate)))
	require.NoError(t, r.Upsert(ctx, item("b1", models.QueueActionUpdate)))

	got, err := r.Get(ctx, models.RecordTypeBudget, "b1")
	require.NoError(t, err)
	assert.Equal(t, models.QueueActionCreate, got.Action)
}

func TestRecordFailure_CountsAndCreates(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	n, err := r.RecordFailure(ctx, models.RecordTypeLoan, "u1", "l1", "first")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = r.RecordFailure(ctx, models.RecordTypeLoan, "u1", "l1", "second")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := r.Get(ctx, models.RecordTypeLoan, "l1")
	require.NoError(t, err)
	assert.Equal(t, "second", got.LastError)
	assert.Equal(t, models.QueueActionUpdate, got.Action)
}

func TestRemove(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.Upsert(ctx, item("b1", models.QueueActionCreate)))
	require.NoError(t, r.Remove(ctx, models.RecordTypeBudget, "b1"))
	require.NoError(t, r.Remove(ctx, models.RecordTypeBudget, "b1"))

	_, err := r.Get(ctx, models.RecordTypeBudget, "b1")
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestList_ScopedByUser(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.Upsert(ctx, item("a", models.QueueActionCreate)))
	other := item("b", models.QueueActionCreate)
	other.UserID = "u2"
	require.NoError(t, r.Upsert(ctx, other))

	items, err := r.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "a", items[0].RecordID)
	assert.Equal(t, int64(1000), items[0].CreatedAt.UnixMilli())
}
