package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/finkeeper/internal/api"
	"github.com/dmitrijs2005/finkeeper/internal/client/models"
	"github.com/dmitrijs2005/finkeeper/internal/common"
	"github.com/dmitrijs2005/finkeeper/internal/logging"
	"github.com/dmitrijs2005/finkeeper/internal/notify"
	"golang.org/x/sync/errgroup"
)

var (
	ErrSyncInProgress = errors.New("sync already in progress")
	ErrOffline        = errors.New("offline")
	ErrNoUser         = errors.New("no authenticated user")
)

const absentFromResponse = "absent from response"

// Store is the subset of the LocalStore the manager needs.
type Store interface {
	GetUnsynced(ctx context.Context, t models.RecordType, userID string) ([]*models.OfflineRecord, error)
	MarkSyncedAt(ctx context.Context, t models.RecordType, id string, version int64) (bool, error)
	SetStatus(ctx context.Context, t models.RecordType, id string, from, to models.SyncStatus) (bool, error)
}

// Queue is the retry bookkeeping the manager updates.
type Queue interface {
	RecordFailure(ctx context.Context, t models.RecordType, userID, id, lastError string) (int, error)
	Remove(ctx context.Context, t models.RecordType, id string) error
}

// Pusher sends one chunk to the bulk reconciler.
type Pusher interface {
	BulkSync(ctx context.Context, t models.RecordType, records []*models.OfflineRecord) (*api.BulkResponse, error)
}

// Connectivity is satisfied by *connectivity.Monitor.
type Connectivity interface {
	IsOnline() bool
	Subscribe(fn func(online bool)) (unsubscribe func())
}

// UserResolver returns the authenticated user id.
type UserResolver func() (string, error)

type Config struct {
	ChunkSize      int
	ChunkDelay     time.Duration
	EpisodeTimeout time.Duration
	MaxAttempts    int
	ParallelTypes  bool
}

func DefaultConfig() Config {
	return Config{
		ChunkSize:      common.DefaultChunkSize,
		ChunkDelay:     time.Second,
		EpisodeTimeout: 2 * time.Minute,
		MaxAttempts:    5,
	}
}

// StatusEvent is published when an episode starts (Syncing true, no Result)
// and when it ends (Syncing false, with Result).
type StatusEvent struct {
	Syncing bool
	Result  *models.SyncResult
}

type Manager struct {
	store  Store
	queue  Queue
	pusher Pusher
	conn   Connectivity
	user   UserResolver
	cfg    Config
	logger logging.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	mu      sync.Mutex
	syncing bool
	last    *models.SyncResult

	broker *notify.Broker[StatusEvent]
	wg     sync.WaitGroup
}

func NewManager(store Store, queue Queue, pusher Pusher, conn Connectivity, user UserResolver, cfg Config, logger logging.Logger) *Manager {
	def := DefaultConfig()
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.ChunkDelay < 0 {
		cfg.ChunkDelay = 0
	}
	if cfg.EpisodeTimeout <= 0 {
		cfg.EpisodeTimeout = def.EpisodeTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if logger == nil {
		logger = logging.NopLogger{}
	}

	return &Manager{
		store:  store,
		queue:  queue,
		pusher: pusher,
		conn:   conn,
		user:   user,
		cfg:    cfg,
		logger: logger.With("module", "syncer"),
		sleep:  sleepCtx,
		now:    time.Now,
		broker: notify.NewBroker[StatusEvent](),
	}
}

// Subscribe registers fn for status events.
func (m *Manager) Subscribe(fn func(StatusEvent)) (unsubscribe func()) {
	return m.broker.Subscribe(fn)
}

func (m *Manager) IsSyncing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.syncing
}

// LastResult returns the result of the most recent finished episode, or nil.
func (m *Manager) LastResult() *models.SyncResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// StartSync runs one episode if the monitor reports online.
func (m *Manager) StartSync(ctx context.Context) (*models.SyncResult, error) {
	if m.conn != nil && !m.conn.IsOnline() {
		return nil, ErrOffline
	}
	return m.run(ctx)
}

// ForceSync runs one episode regardless of the monitor's state.
func (m *Manager) ForceSync(ctx context.Context) (*models.SyncResult, error) {
	return m.run(ctx)
}

// Trigger starts an episode in the background and logs its outcome.
func (m *Manager) Trigger(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		res, err := m.StartSync(ctx)
		switch {
		case errors.Is(err, ErrSyncInProgress), errors.Is(err, ErrOffline):
			m.logger.Debug(ctx, "sync not started", "reason", err)
		case err != nil:
			m.logger.Warn(ctx, "sync not started", "error", err)
		default:
			m.logger.Info(ctx, "sync finished", "synced", res.Synced, "failed", res.Failed)
		}
	}()
}

// Start subscribes to connectivity transitions and triggers an episode on
// every transition to online.
func (m *Manager) Start(ctx context.Context) (stop func()) {
	if m.conn == nil {
		return func() {}
	}
	return m.conn.Subscribe(func(online bool) {
		if online {
			m.Trigger(ctx)
		}
	})
}

// Wait blocks until background episodes started by Trigger have returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) tryAcquire() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.syncing {
		return false
	}
	m.syncing = true
	return true
}

func (m *Manager) release(res *models.SyncResult) {
	m.mu.Lock()
	m.syncing = false
	m.last = res
	m.mu.Unlock()
}

func (m *Manager) run(ctx context.Context) (*models.SyncResult, error) {
	userID, err := m.user()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoUser, err)
	}
	if userID == "" {
		return nil, ErrNoUser
	}

	if !m.tryAcquire() {
		return nil, ErrSyncInProgress
	}

	res := &models.SyncResult{Started: m.now()}
	m.broker.Publish(StatusEvent{Syncing: true})
	defer func() {
		res.Finished = m.now()
		m.release(res)
		m.broker.Publish(StatusEvent{Syncing: false, Result: res})
	}()

	ctx, cancel := context.WithTimeout(ctx, m.cfg.EpisodeTimeout)
	defer cancel()

	m.logger.Debug(ctx, "sync episode started", "user", userID)

	if m.cfg.ParallelTypes {
		results := make([]*models.SyncResult, len(models.AllTypes))
		var g errgroup.Group
		for i, t := range models.AllTypes {
			g.Go(func() error {
				results[i] = m.syncType(ctx, t, userID)
				return nil
			})
		}
		_ = g.Wait()
		for _, r := range results {
			res.Merge(r)
		}
	} else {
		for _, t := range models.AllTypes {
			res.Merge(m.syncType(ctx, t, userID))
		}
	}

	return res, nil
}

func (m *Manager) syncType(ctx context.Context, t models.RecordType, userID string) *models.SyncResult {
	res := &models.SyncResult{}

	recs, err := m.store.GetUnsynced(ctx, t, userID)
	if err != nil {
		m.logger.Error(ctx, "failed to load unsynced records", "type", t, "error", err)
		res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", t, err))
		return res
	}

	candidates := recs[:0]
	for _, r := range recs {
		if r.SyncStatus != models.SyncStatusError {
			candidates = append(candidates, r)
		}
	}

	chunks := chunk(candidates, m.cfg.ChunkSize)
	for i, c := range chunks {
		if i > 0 {
			if err := m.sleep(ctx, m.cfg.ChunkDelay); err != nil {
				m.abandon(t, chunks[i:], err, res)
				break
			}
		}
		if err := ctx.Err(); err != nil {
			m.abandon(t, chunks[i:], err, res)
			break
		}
		m.pushChunk(ctx, t, userID, c, res)
	}

	return res
}

func (m *Manager) pushChunk(ctx context.Context, t models.RecordType, userID string, recs []*models.OfflineRecord, res *models.SyncResult) {
	for _, r := range recs {
		if _, err := m.store.SetStatus(ctx, t, r.ID, r.SyncStatus, models.SyncStatusSyncing); err != nil {
			m.logger.Warn(ctx, "failed to mark syncing", "type", t, "id", r.ID, "error", err)
		}
	}

	resp, err := m.pusher.BulkSync(ctx, t, recs)
	if err != nil {
		m.logger.Warn(ctx, "chunk push failed", "type", t, "size", len(recs), "error", err)
		for _, r := range recs {
			m.revert(t, r.ID, models.SyncStatusPending)
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("%s/%s: %v", t, r.ID, err))
		}
		return
	}

	// The server has answered; bookkeeping must finish even if the episode
	// deadline passes meanwhile.
	ctx = context.WithoutCancel(ctx)

	accepted := make(map[string]struct{}, len(resp.Synced))
	for _, id := range resp.Synced {
		accepted[id] = struct{}{}
	}
	rejected := make(map[string]string, len(resp.Errors))
	for _, e := range resp.Errors {
		rejected[e.ID] = e.Error
	}

	for _, r := range recs {
		if _, ok := accepted[r.ID]; ok {
			m.accept(ctx, t, r)
			res.Synced++
			continue
		}

		msg, ok := rejected[r.ID]
		if !ok {
			msg = absentFromResponse
		}
		res.Failed++
		res.Errors = append(res.Errors, fmt.Sprintf("%s/%s: %s", t, r.ID, msg))
		m.reject(ctx, t, userID, r.ID, msg)
	}

	m.logger.Debug(ctx, "chunk pushed", "type", t, "size", len(recs),
		"synced", resp.SyncedCount, "errors", resp.ErrorCount)
}

func (m *Manager) accept(ctx context.Context, t models.RecordType, r *models.OfflineRecord) {
	marked, err := m.store.MarkSyncedAt(ctx, t, r.ID, r.Version)
	if err != nil {
		m.logger.Error(ctx, "failed to mark synced", "type", t, "id", r.ID, "error", err)
		m.revert(t, r.ID, models.SyncStatusPending)
		return
	}
	if !marked {
		// Edited (or deleted) while in flight; the newer version stays pending.
		m.logger.Debug(ctx, "record changed during push", "type", t, "id", r.ID)
		m.revert(t, r.ID, models.SyncStatusPending)
		return
	}
	if err := m.queue.Remove(ctx, t, r.ID); err != nil {
		m.logger.Warn(ctx, "failed to remove queue item", "type", t, "id", r.ID, "error", err)
	}
}

func (m *Manager) reject(ctx context.Context, t models.RecordType, userID, id, msg string) {
	to := models.SyncStatusPending

	attempts, err := m.queue.RecordFailure(ctx, t, userID, id, msg)
	if err != nil {
		m.logger.Warn(ctx, "failed to record attempt", "type", t, "id", id, "error", err)
	} else if attempts >= m.cfg.MaxAttempts {
		to = models.SyncStatusError
		m.logger.Warn(ctx, "record will not be retried", "type", t, "id", id, "attempts", attempts, "error", msg)
	}

	m.revert(t, id, to)
}

// revert moves a record out of syncing. It runs on a fresh context so an
// expired episode still leaves the store consistent.
func (m *Manager) revert(t models.RecordType, id string, to models.SyncStatus) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := m.store.SetStatus(ctx, t, id, models.SyncStatusSyncing, to); err != nil {
		m.logger.Warn(ctx, "failed to reset status", "type", t, "id", id, "error", err)
	}
}

func (m *Manager) abandon(t models.RecordType, rest [][]*models.OfflineRecord, cause error, res *models.SyncResult) {
	for _, c := range rest {
		for _, r := range c {
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("%s/%s: not sent: %v", t, r.ID, cause))
		}
	}
}

func chunk(recs []*models.OfflineRecord, size int) [][]*models.OfflineRecord {
	var out [][]*models.OfflineRecord
	for start := 0; start < len(recs); start += size {
		end := min(start+size, len(recs))
		out = append(out, recs[start:end])
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
