// Package queue persists pending push intents with retry bookkeeping.
//
// The queue is not authoritative: the records table decides what gets pushed.
// Items exist so the sync manager can count failed attempts per record and so
// the CLI can show why something has not synced.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/finkeeper/internal/client/models"
	"github.com/dmitrijs2005/finkeeper/internal/common"
	"github.com/dmitrijs2005/finkeeper/internal/dbx"
)

type Repository interface {
	// Upsert records the latest intent for (type, id), replacing any earlier
	// one and resetting its attempts. A pending create stays a create.
	Upsert(ctx context.Context, item *models.SyncQueueItem) error

	Get(ctx context.Context, t models.RecordType, id string) (*models.SyncQueueItem, error)

	// RecordFailure bumps the attempt counter and returns its new value.
	// A missing item is created as an update intent with one attempt.
	RecordFailure(ctx context.Context, t models.RecordType, userID, id, lastError string) (int, error)

	Remove(ctx context.Context, t models.RecordType, id string) error

	List(ctx context.Context, userID string) ([]*models.SyncQueueItem, error)
}

type SQLiteRepository struct {
	db  dbx.DBTX
	now func() time.Time
}

var _ Repository = (*SQLiteRepository)(nil)

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

func (r *SQLiteRepository) Upsert(ctx context.Context, item *models.SyncQueueItem) error {
	created := item.CreatedAt
	if created.IsZero() {
		created = r.now()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_queue (type, record_id, user_id, action, payload, created_at, attempts, last_error)
		VALUES (?, ?, ?, ?, ?, ?, 0, '')
		ON CONFLICT(type, record_id) DO UPDATE SET
			user_id = excluded.user_id,
			action = CASE WHEN sync_queue.action = 'create' THEN 'create' ELSE excluded.action END,
			payload = excluded.payload,
			created_at = excluded.created_at,
			attempts = 0,
			last_error = ''`,
		string(item.Type), item.RecordID, item.UserID, string(item.Action), []byte(item.Payload), created.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to upsert queue item %s/%s: %w: %w", item.Type, item.RecordID, common.ErrStorage, err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, t models.RecordType, id string) (*models.SyncQueueItem, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT type, record_id, user_id, action, payload, created_at, attempts, last_error
		FROM sync_queue WHERE type = ? AND record_id = ?`, string(t), id)

	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue item %s/%s: %w", t, id, err)
	}
	return item, nil
}

func (r *SQLiteRepository) RecordFailure(ctx context.Context, t models.RecordType, userID, id, lastError string) (int, error) {
	var attempts int
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO sync_queue (type, record_id, user_id, action, payload, created_at, attempts, last_error)
		VALUES (?, ?, ?, 'update', NULL, ?, 1, ?)
		ON CONFLICT(type, record_id) DO UPDATE SET
			attempts = sync_queue.attempts + 1,
			last_error = excluded.last_error
		RETURNING attempts`,
		string(t), id, userID, r.now().UnixMilli(), lastError).Scan(&attempts)
	if err != nil {
		return 0, fmt.Errorf("failed to record failure %s/%s: %w: %w", t, id, common.ErrStorage, err)
	}
	return attempts, nil
}

func (r *SQLiteRepository) Remove(ctx context.Context, t models.RecordType, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE type = ? AND record_id = ?`, string(t), id)
	if err != nil {
		return fmt.Errorf("failed to remove queue item %s/%s: %w: %w", t, id, common.ErrStorage, err)
	}
	return nil
}

func (r *SQLiteRepository) List(ctx context.Context, userID string) ([]*models.SyncQueueItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT type, record_id, user_id, action, payload, created_at, attempts, last_error
		FROM sync_queue WHERE user_id = ? ORDER BY created_at, record_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}
	defer rows.Close()

	var out []*models.SyncQueueItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue row: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate queue rows: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(s scanner) (*models.SyncQueueItem, error) {
	var (
		item    models.SyncQueueItem
		typ     string
		action  string
		payload []byte
		created int64
	)
	if err := s.Scan(&typ, &item.RecordID, &item.UserID, &action, &payload, &created, &item.Attempts, &item.LastError); err != nil {
		return nil, err
	}
	item.Type = models.RecordType(typ)
	item.Action = models.QueueAction(action)
	item.Payload = payload
	item.CreatedAt = time.UnixMilli(created)
	return &item, nil
}
