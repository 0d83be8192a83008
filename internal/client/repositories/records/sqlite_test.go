package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/finkeeper/internal/client/client"
	"github.com/dmitrijs2005/finkeeper/internal/client/models"
	"github.com/dmitrijs2005/finkeeper/internal/common"
	"github.com/dmitrijs2005/finkeeper/internal/cryptox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	tx   = models.RecordTypeTransaction
	user = "u1"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := client.InitDatabase(context.Background(), filepath.Join(t.TempDir(), "local.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func payload(id string, amount string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"id":%q,"amount":%q}`, id, amount))
}

func TestSave_VersionEqualsNumberOfSaves(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		rec, err := r.Save(ctx, tx, user, "t1", payload("t1", fmt.Sprint(i)))
		require.NoError(t, err)
		require.EqualValues(t, i, rec.Version)
	}

	got, err := r.Get(ctx, tx, "t1")
	require.NoError(t, err)
	assert.EqualValues(t, 5, got.Version)
	assert.Equal(t, models.SyncStatusPending, got.SyncStatus)
	assert.False(t, got.Synced)
	assert.JSONEq(t, `{"id":"t1","amount":"5"}`, string(got.Data))
}

func TestSave_AfterSyncResetsToPending(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	_, err := r.Save(ctx, tx, user, "t1", payload("t1", "1"))
	require.NoError(t, err)
	require.NoError(t, r.MarkSynced(ctx, tx, "t1"))

	got, err := r.Get(ctx, tx, "t1")
	require.NoError(t, err)
	require.True(t, got.Synced)
	require.Equal(t, models.SyncStatusSynced, got.SyncStatus)

	rec, err := r.Save(ctx, tx, user, "t1", payload("t1", "2"))
	require.NoError(t, err)
	assert.EqualValues(t, 2, rec.Version)
	assert.Equal(t, models.SyncStatusPending, rec.SyncStatus)

	got, err = r.Get(ctx, tx, "t1")
	require.NoError(t, err)
	assert.False(t, got.Synced)
}

func TestSave_UsesClock(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	r := NewSQLiteRepository(setupDB(t), WithClock(func() time.Time { return at }))

	rec, err := r.Save(context.Background(), tx, user, "t1", payload("t1", "1"))
	require.NoError(t, err)
	assert.True(t, rec.LastModified.Equal(at))

	got, err := r.Get(context.Background(), tx, "t1")
	require.NoError(t, err)
	assert.True(t, got.LastModified.Equal(at))
}

func TestGet_NotFound(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	_, err := r.Get(context.Background(), tx, "absent")
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestTypesAreSeparateCollections(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	_, err := r.Save(ctx, tx, user, "same", payload("same", "1"))
	require.NoError(t, err)
	rec, err := r.Save(ctx, models.RecordTypeLoan, user, "same", payload("same", "1"))
	require.NoError(t, err)
	assert.EqualValues(t, 1, rec.Version)
}

func TestSave_DoesNotTakeOverAnotherUsersRecord(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	_, err := r.Save(ctx, tx, user, "t1", payload("t1", "1"))
	require.NoError(t, err)
	_, err = r.Save(ctx, tx, user, "t1", payload("t1", "2"))
	require.NoError(t, err)

	_, err = r.Save(ctx, tx, "intruder", "t1", payload("t1", "999"))
	require.ErrorIs(t, err, ErrOwnedByOtherUser)
	assert.NotErrorIs(t, err, common.ErrStorage)

	got, err := r.Get(ctx, tx, "t1")
	require.NoError(t, err)
	assert.Equal(t, user, got.UserID)
	assert.EqualValues(t, 2, got.Version)
	assert.JSONEq(t, `{"id":"t1","amount":"2"}`, string(got.Data))
}

func TestGetAll_ScopedByUser(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	_, err := r.Save(ctx, tx, user, "a", payload("a", "1"))
	require.NoError(t, err)
	_, err = r.Save(ctx, tx, user, "b", payload("b", "2"))
	require.NoError(t, err)
	_, err = r.Save(ctx, tx, "other", "c", payload("c", "3"))
	require.NoError(t, err)

	all, err := r.GetAll(ctx, tx, user)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	none, err := r.GetAll(ctx, models.RecordTypeBudget, user)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestGetUnsynced(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := r.Save(ctx, tx, user, id, payload(id, "1"))
		require.NoError(t, err)
	}
	require.NoError(t, r.MarkSynced(ctx, tx, "b"))

	recs, err := r.GetUnsynced(ctx, tx, user)
	require.NoError(t, err)
	ids := make([]string, 0, len(recs))
	for _, rec := range recs {
		ids = append(ids, rec.ID)
		assert.Equal(t, user, rec.UserID)
	}
	assert.ElementsMatch(t, []string{"a", "c"}, ids)
}

func TestMarkSynced_MissingIsNoop(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	require.NoError(t, r.MarkSynced(context.Background(), tx, "gone"))
}

func TestMarkSyncedAt_VersionGuard(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	_, err := r.Save(ctx, tx, user, "a", payload("a", "1"))
	require.NoError(t, err)
	_, err = r.Save(ctx, tx, user, "a", payload("a", "2"))
	require.NoError(t, err)

	ok, err := r.MarkSyncedAt(ctx, tx, "a", 1)
	require.NoError(t, err)
	assert.False(t, ok, "stale version must not mark synced")

	ok, err = r.MarkSyncedAt(ctx, tx, "a", 2)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := r.Get(ctx, tx, "a")
	require.NoError(t, err)
	assert.True(t, got.Synced)
}

func TestSetStatus(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	_, err := r.Save(ctx, tx, user, "a", payload("a", "1"))
	require.NoError(t, err)

	ok, err := r.SetStatus(ctx, tx, "a", models.SyncStatusPending, models.SyncStatusSyncing)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.SetStatus(ctx, tx, "a", models.SyncStatusPending, models.SyncStatusError)
	require.NoError(t, err)
	assert.False(t, ok, "from status no longer matches")

	ok, err = r.SetStatus(ctx, tx, "a", models.SyncStatusSyncing, models.SyncStatusError)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := r.Get(ctx, tx, "a")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusError, got.SyncStatus)
	assert.False(t, got.Synced)

	counts, err := r.CountByStatus(ctx, tx, user)
	require.NoError(t, err)
	assert.Equal(t, map[models.SyncStatus]int{models.SyncStatusError: 1}, counts)
}

func TestApplyRemote(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	remote := func(id string, v int64, amount string) *models.OfflineRecord {
		return &models.OfflineRecord{ID: id, Version: v, LastModified: time.UnixMilli(1000), Data: payload(id, amount)}
	}

	// absent locally: added as synced
	changed, err := r.ApplyRemote(ctx, tx, user, remote("new", 4, "9"))
	require.NoError(t, err)
	assert.True(t, changed)
	got, err := r.Get(ctx, tx, "new")
	require.NoError(t, err)
	assert.EqualValues(t, 4, got.Version)
	assert.True(t, got.Synced)

	// local newer: kept
	for i := 0; i < 3; i++ {
		_, err = r.Save(ctx, tx, user, "local", payload("local", "local"))
		require.NoError(t, err)
	}
	changed, err = r.ApplyRemote(ctx, tx, user, remote("local", 2, "server"))
	require.NoError(t, err)
	assert.False(t, changed)
	got, err = r.Get(ctx, tx, "local")
	require.NoError(t, err)
	assert.EqualValues(t, 3, got.Version)
	assert.Equal(t, models.SyncStatusPending, got.SyncStatus)
	assert.JSONEq(t, string(payload("local", "local")), string(got.Data))

	// server newer: adopted, version never decreases
	changed, err = r.ApplyRemote(ctx, tx, user, remote("local", 5, "server"))
	require.NoError(t, err)
	assert.True(t, changed)
	got, err = r.Get(ctx, tx, "local")
	require.NoError(t, err)
	assert.EqualValues(t, 5, got.Version)
	assert.True(t, got.Synced)
	assert.JSONEq(t, string(payload("local", "server")), string(got.Data))

	// another user's row is never overwritten
	_, err = r.Save(ctx, tx, "other", "theirs", payload("theirs", "1"))
	require.NoError(t, err)
	changed, err = r.ApplyRemote(ctx, tx, user, remote("theirs", 10, "mine"))
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestDelete(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	_, err := r.Save(ctx, tx, user, "a", payload("a", "1"))
	require.NoError(t, err)
	require.NoError(t, r.Delete(ctx, tx, "a"))
	require.NoError(t, r.Delete(ctx, tx, "a"))

	_, err = r.Get(ctx, tx, "a")
	require.ErrorIs(t, err, common.ErrorNotFound)

	rec, err := r.Save(ctx, tx, user, "a", payload("a", "1"))
	require.NoError(t, err)
	assert.EqualValues(t, 1, rec.Version)
}

func TestConcurrentSaves_DifferentIDsDoNotInterfere(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, 2*n)
	for _, id := range []string{"A", "B"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < n; i++ {
				if _, err := r.Save(ctx, tx, user, id, payload(id, fmt.Sprint(i))); err != nil {
					errs <- err
				}
			}
		}(id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	for _, id := range []string{"A", "B"} {
		got, err := r.Get(ctx, tx, id)
		require.NoError(t, err)
		assert.EqualValues(t, n, got.Version, id)
	}
}

func TestConcurrentSaves_SameIDNeverLosesABump(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	const workers, each = 4, 10
	var wg sync.WaitGroup
	versions := make(chan int64, workers*each)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				rec, err := r.Save(ctx, tx, user, "hot", payload("hot", "x"))
				if assert.NoError(t, err) {
					versions <- rec.Version
				}
			}
		}()
	}
	wg.Wait()
	close(versions)

	seen := map[int64]bool{}
	for v := range versions {
		assert.False(t, seen[v], "version %d reused", v)
		seen[v] = true
	}
	got, err := r.Get(ctx, tx, "hot")
	require.NoError(t, err)
	assert.EqualValues(t, workers*each, got.Version)
}

func TestSealer_EncryptsAtRest(t *testing.T) {
	db := setupDB(t)
	key := cryptox.DeriveKey([]byte("pass"), cryptox.NewSalt())
	sealer, err := cryptox.NewSealer(key)
	require.NoError(t, err)

	r := NewSQLiteRepository(db, WithSealer(sealer))
	ctx := context.Background()

	_, err = r.Save(ctx, tx, user, "a", payload("a", "42.00"))
	require.NoError(t, err)

	var raw []byte
	require.NoError(t, db.QueryRow(`SELECT data FROM records WHERE id = 'a'`).Scan(&raw))
	assert.NotContains(t, string(raw), "42.00")

	got, err := r.Get(ctx, tx, "a")
	require.NoError(t, err)
	assert.JSONEq(t, string(payload("a", "42.00")), string(got.Data))

	plain := NewSQLiteRepository(db)
	_, err = plain.GetAll(ctx, tx, user)
	require.NoError(t, err, "unsealed reader just sees bytes")

	otherKey, err := cryptox.NewSealer(cryptox.DeriveKey([]byte("wrong"), cryptox.NewSalt()))
	require.NoError(t, err)
	_, err = NewSQLiteRepository(db, WithSealer(otherKey)).Get(ctx, tx, "a")
	require.ErrorIs(t, err, common.ErrStorage)
}

func TestRead_ReinitialisesMissingSchema(t *testing.T) {
	db, err := sql.Open("sqlite", client.SQLiteDSN(filepath.Join(t.TempDir(), "fresh.db")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	calls := 0
	r := NewSQLiteRepository(db, WithInitializer(func(ctx context.Context) error {
		calls++
		return client.RunMigrations(ctx, db)
	}))

	all, err := r.GetAll(context.Background(), tx, user)
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Equal(t, 1, calls)

	_, err = r.Get(context.Background(), tx, "x")
	require.ErrorIs(t, err, common.ErrorNotFound)
	assert.Equal(t, 1, calls)
}

func TestRead_WithoutInitializerFails(t *testing.T) {
	db, err := sql.Open("sqlite", client.SQLiteDSN(filepath.Join(t.TempDir(), "fresh.db")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = NewSQLiteRepository(db).GetAll(context.Background(), tx, user)
	require.ErrorIs(t, err, common.ErrStorage)
}

func TestWriteErrorsAreStorageErrors(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	require.NoError(t, db.Close())

	ctx := context.Background()
	_, err := r.Save(ctx, tx, user, "a", payload("a", "1"))
	require.ErrorIs(t, err, common.ErrStorage)
	require.ErrorIs(t, r.Delete(ctx, tx, "a"), common.ErrStorage)
	require.ErrorIs(t, r.MarkSynced(ctx, tx, "a"), common.ErrStorage)
}
