package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/finkeeper/internal/client/models"
	"github.com/dmitrijs2005/finkeeper/internal/common"
	"github.com/dmitrijs2005/finkeeper/internal/cryptox"
	"github.com/dmitrijs2005/finkeeper/internal/dbx"
)

// SQLiteRepository implements Repository over a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db     dbx.DBTX
	sealer *cryptox.Sealer
	now    func() time.Time

	initMu sync.Mutex
	init   func(ctx context.Context) error
}

var _ Repository = (*SQLiteRepository)(nil)

// ErrOwnedByOtherUser is returned by Save when the (type, id) row already
// belongs to a different local user.
var ErrOwnedByOtherUser = errors.New("record id belongs to another user")

type Option func(*SQLiteRepository)

// WithSealer encrypts payloads at rest.
func WithSealer(s *cryptox.Sealer) Option {
	return func(r *SQLiteRepository) { r.sealer = s }
}

// WithInitializer sets the schema bootstrap run when a read finds the
// tables missing (typically client.RunMigrations bound to the same DB).
func WithInitializer(fn func(ctx context.Context) error) Option {
	return func(r *SQLiteRepository) { r.init = fn }
}

// WithClock overrides time.Now for lastModified stamps.
func WithClock(now func() time.Time) Option {
	return func(r *SQLiteRepository) { r.now = now }
}

func NewSQLiteRepository(db dbx.DBTX, opts ...Option) *SQLiteRepository {
	r := &SQLiteRepository{db: db, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

const selectColumns = `id, type, user_id, data, version, last_modified, sync_status, synced`

func (r *SQLiteRepository) Save(ctx context.Context, t models.RecordType, userID, id string, data json.RawMessage) (*models.OfflineRecord, error) {
	stored, err := r.seal(t, id, data)
	if err != nil {
		return nil, fmt.Errorf("save %s/%s: %w: %w", t, id, common.ErrStorage, err)
	}

	now := r.now()
	query := `
		INSERT INTO records (type, id, user_id, data, version, last_modified, sync_status, synced)
		VALUES (?, ?, ?, ?, 1, ?, 'pending', 0)
		ON CONFLICT(type, id) DO UPDATE SET
			data = excluded.data,
			version = records.version + 1,
			last_modified = excluded.last_modified,
			sync_status = 'pending',
			synced = 0
		WHERE records.user_id = excluded.user_id
		RETURNING version`

	var version int64
	err = r.db.QueryRowContext(ctx, query, string(t), id, userID, stored, now.UnixMilli()).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		// The conflict branch was skipped by the owner guard.
		return nil, fmt.Errorf("save %s/%s: %w", t, id, ErrOwnedByOtherUser)
	}
	if err != nil {
		return nil, fmt.Errorf("save %s/%s: %w: %w", t, id, common.ErrStorage, err)
	}

	return &models.OfflineRecord{
		ID:           id,
		Type:         t,
		UserID:       userID,
		Data:         data,
		Version:      version,
		LastModified: time.UnixMilli(now.UnixMilli()),
		SyncStatus:   models.SyncStatusPending,
		Synced:       false,
	}, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, t models.RecordType, id string) (*models.OfflineRecord, error) {
	var rec *models.OfflineRecord
	err := r.read(ctx, func() error {
		row := r.db.QueryRowContext(ctx,
			`SELECT `+selectColumns+` FROM records WHERE type = ? AND id = ?`, string(t), id)
		var err error
		rec, err = r.scan(row)
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w: %w", t, id, common.ErrStorage, err)
	}
	return rec, nil
}

func (r *SQLiteRepository) GetAll(ctx context.Context, t models.RecordType, userID string) ([]json.RawMessage, error) {
	var out []json.RawMessage
	err := r.read(ctx, func() error {
		recs, err := r.query(ctx,
			`SELECT `+selectColumns+` FROM records WHERE type = ? AND user_id = ?`, string(t), userID)
		if err != nil {
			return err
		}
		out = make([]json.RawMessage, 0, len(recs))
		for _, rec := range recs {
			out = append(out, rec.Data)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get all %s: %w: %w", t, common.ErrStorage, err)
	}
	return out, nil
}

func (r *SQLiteRepository) GetUnsynced(ctx context.Context, t models.RecordType, userID string) ([]*models.OfflineRecord, error) {
	var out []*models.OfflineRecord
	err := r.read(ctx, func() error {
		var err error
		out, err = r.query(ctx,
			`SELECT `+selectColumns+` FROM records WHERE type = ? AND user_id = ? AND synced = 0
			 ORDER BY last_modified, id`, string(t), userID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get unsynced %s: %w: %w", t, common.ErrStorage, err)
	}
	return out, nil
}

func (r *SQLiteRepository) MarkSynced(ctx context.Context, t models.RecordType, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE records SET sync_status = 'synced', synced = 1 WHERE type = ? AND id = ?`, string(t), id)
	if err != nil {
		return fmt.Errorf("mark synced %s/%s: %w: %w", t, id, common.ErrStorage, err)
	}
	return nil
}

func (r *SQLiteRepository) MarkSyncedAt(ctx context.Context, t models.RecordType, id string, version int64) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE records SET sync_status = 'synced', synced = 1 WHERE type = ? AND id = ? AND version = ?`,
		string(t), id, version)
	if err != nil {
		return false, fmt.Errorf("mark synced %s/%s@%d: %w: %w", t, id, version, common.ErrStorage, err)
	}
	return affectedOne(res)
}

func (r *SQLiteRepository) SetStatus(ctx context.Context, t models.RecordType, id string, from, to models.SyncStatus) (bool, error) {
	synced := 0
	if to == models.SyncStatusSynced {
		synced = 1
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE records SET sync_status = ?, synced = ? WHERE type = ? AND id = ? AND sync_status = ?`,
		string(to), synced, string(t), id, string(from))
	if err != nil {
		return false, fmt.Errorf("set status %s/%s %s->%s: %w: %w", t, id, from, to, common.ErrStorage, err)
	}
	return affectedOne(res)
}

func (r *SQLiteRepository) ApplyRemote(ctx context.Context, t models.RecordType, userID string, remote *models.OfflineRecord) (bool, error) {
	stored, err := r.seal(t, remote.ID, remote.Data)
	if err != nil {
		return false, fmt.Errorf("apply remote %s/%s: %w: %w", t, remote.ID, common.ErrStorage, err)
	}

	// The WHERE on the upsert branch keeps the version monotonic and never
	// lets another user's row be overwritten.
	query := `
		INSERT INTO records (type, id, user_id, data, version, last_modified, sync_status, synced)
		VALUES (?, ?, ?, ?, ?, ?, 'synced', 1)
		ON CONFLICT(type, id) DO UPDATE SET
			data = excluded.data,
			version = excluded.version,
			last_modified = excluded.last_modified,
			sync_status = 'synced',
			synced = 1
		WHERE excluded.version >= records.version AND records.user_id = excluded.user_id`

	res, err := r.db.ExecContext(ctx, query,
		string(t), remote.ID, userID, stored, remote.Version, remote.LastModified.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("apply remote %s/%s: %w: %w", t, remote.ID, common.ErrStorage, err)
	}
	return affectedOne(res)
}

func (r *SQLiteRepository) CountByStatus(ctx context.Context, t models.RecordType, userID string) (map[models.SyncStatus]int, error) {
	out := map[models.SyncStatus]int{}
	err := r.read(ctx, func() error {
		rows, err := r.db.QueryContext(ctx,
			`SELECT sync_status, COUNT(*) FROM records WHERE type = ? AND user_id = ? GROUP BY sync_status`,
			string(t), userID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var status string
			var n int
			if err := rows.Scan(&status, &n); err != nil {
				return err
			}
			out[models.SyncStatus(status)] = n
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("count %s: %w: %w", t, common.ErrStorage, err)
	}
	return out, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, t models.RecordType, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM records WHERE type = ? AND id = ?`, string(t), id)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w: %w", t, id, common.ErrStorage, err)
	}
	return nil
}

// read runs fn and, if the schema is not there yet, initialises it once and
// retries.
func (r *SQLiteRepository) read(ctx context.Context, fn func() error) error {
	err := fn()
	if err == nil || r.init == nil || !isMissingSchema(err) {
		return err
	}

	r.initMu.Lock()
	initErr := r.init(ctx)
	r.initMu.Unlock()
	if initErr != nil {
		return fmt.Errorf("reinitialise store: %w", initErr)
	}
	return fn()
}

func isMissingSchema(err error) bool {
	return strings.Contains(err.Error(), "no such table")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *SQLiteRepository) scan(row rowScanner) (*models.OfflineRecord, error) {
	var (
		rec      models.OfflineRecord
		typ      string
		status   string
		data     []byte
		modified int64
		synced   int
	)
	if err := row.Scan(&rec.ID, &typ, &rec.UserID, &data, &rec.Version, &modified, &status, &synced); err != nil {
		return nil, err
	}
	rec.Type = models.RecordType(typ)
	rec.SyncStatus = models.SyncStatus(status)
	rec.Synced = synced == 1
	rec.LastModified = time.UnixMilli(modified)

	plain, err := r.open(rec.Type, rec.ID, data)
	if err != nil {
		return nil, err
	}
	rec.Data = plain
	return &rec, nil
}

func (r *SQLiteRepository) query(ctx context.Context, query string, args ...any) ([]*models.OfflineRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.OfflineRecord
	for rows.Next() {
		rec, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *SQLiteRepository) seal(t models.RecordType, id string, data json.RawMessage) ([]byte, error) {
	if r.sealer == nil {
		return []byte(data), nil
	}
	return r.sealer.Seal(data, associatedData(t, id)), nil
}

func (r *SQLiteRepository) open(t models.RecordType, id string, stored []byte) (json.RawMessage, error) {
	if r.sealer == nil {
		return json.RawMessage(stored), nil
	}
	plain, err := r.sealer.Open(stored, associatedData(t, id))
	if err != nil {
		return nil, fmt.Errorf("open %s/%s: %w", t, id, err)
	}
	return json.RawMessage(plain), nil
}

func associatedData(t models.RecordType, id string) []byte {
	return []byte(string(t) + "/" + id)
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}
