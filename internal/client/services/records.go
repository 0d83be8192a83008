package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dmitrijs2005/finkeeper/internal/client/client"
	"github.com/dmitrijs2005/finkeeper/internal/client/models"
	"github.com/dmitrijs2005/finkeeper/internal/client/repositories/queue"
	"github.com/dmitrijs2005/finkeeper/internal/client/repositories/records"
	"github.com/dmitrijs2005/finkeeper/internal/common"
	"github.com/dmitrijs2005/finkeeper/internal/logging"
	"github.com/dmitrijs2005/finkeeper/internal/netx"
	"github.com/dmitrijs2005/finkeeper/internal/validation"
	"github.com/google/uuid"
)

// ErrOfflineOnly is returned by operations that need the server.
var ErrOfflineOnly = errors.New("operation requires a connection to the server")

// RecordService is the CLI-facing API over the local store.
//
// Contract:
//   - Save never talks to the network; it queues the record and nudges the
//     sync manager when online.
//   - Delete is local first; the remote delete is best effort.
//   - List merges the server copy when online and always returns local data.
type RecordService interface {
	Save(ctx context.Context, t models.RecordType, data map[string]any) (*models.OfflineRecord, error)
	Get(ctx context.Context, t models.RecordType, id string) (*models.OfflineRecord, error)
	Delete(ctx context.Context, t models.RecordType, id string) error
	List(ctx context.Context, t models.RecordType) ([]json.RawMessage, error)
	Status(ctx context.Context) (map[models.RecordType]map[models.SyncStatus]int, error)
	Queue(ctx context.Context) ([]*models.SyncQueueItem, error)
	UploadReceipt(ctx context.Context, transactionID, path string) error
	ReceiptURL(ctx context.Context, transactionID string) (string, error)
}

// OnlineChecker is satisfied by *connectivity.Monitor.
type OnlineChecker interface {
	IsOnline() bool
}

// Trigger is satisfied by *syncer.Manager.
type Trigger interface {
	Trigger(ctx context.Context)
}

type recordService struct {
	store   records.Repository
	queue   queue.Repository
	remote  client.Client
	conn    OnlineChecker
	trigger Trigger
	user    func() (string, error)
	logger  logging.Logger

	newID  func() string
	upload func(ctx context.Context, url string, body []byte, contentType string) error
}

func NewRecordService(store records.Repository, q queue.Repository, remote client.Client, conn OnlineChecker,
	trigger Trigger, user func() (string, error), logger logging.Logger) RecordService {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &recordService{
		store:   store,
		queue:   q,
		remote:  remote,
		conn:    conn,
		trigger: trigger,
		user:    user,
		logger:  logger.With("module", "records"),
		newID:   uuid.NewString,
		upload: func(ctx context.Context, url string, body []byte, contentType string) error {
			return netx.UploadToPresignedURL(ctx, nil, url, body, contentType)
		},
	}
}

func (s *recordService) userID() (string, error) {
	id, err := s.user()
	if err != nil {
		return "", fmt.Errorf("no authenticated user: %w", err)
	}
	return id, nil
}

// Save validates data, assigns an id when missing and stores a new version.
// Keys starting with an underscore are sync metadata and are dropped.
func (s *recordService) Save(ctx context.Context, t models.RecordType, data map[string]any) (*models.OfflineRecord, error) {
	userID, err := s.userID()
	if err != nil {
		return nil, err
	}

	payload := make(map[string]any, len(data)+1)
	for k, v := range data {
		if strings.HasPrefix(k, "_") {
			continue
		}
		payload[k] = v
	}

	id, _ := payload[common.FieldID].(string)
	if id == "" {
		id = s.newID()
		payload[common.FieldID] = id
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}

	if err := validation.Validate(string(t), raw); err != nil {
		return nil, err
	}

	rec, err := s.store.Save(ctx, t, userID, id, raw)
	if err != nil {
		return nil, fmt.Errorf("saving record: %w", err)
	}

	action := models.QueueActionUpdate
	if rec.Version == 1 {
		action = models.QueueActionCreate
	}
	item := &models.SyncQueueItem{Action: action, Type: t, RecordID: id, UserID: userID, Payload: raw}
	if err := s.queue.Upsert(ctx, item); err != nil {
		// The record itself is pending, so the push still happens.
		s.logger.Warn(ctx, "queue upsert failed", "type", t, "id", id, "error", err)
	}

	if s.conn.IsOnline() {
		s.trigger.Trigger(context.WithoutCancel(ctx))
	}
	return rec, nil
}

func (s *recordService) Get(ctx context.Context, t models.RecordType, id string) (*models.OfflineRecord, error) {
	rec, err := s.store.Get(ctx, t, id)
	if err != nil {
		return nil, fmt.Errorf("error retrieving record: %w", err)
	}
	return rec, nil
}

// Delete removes the record locally and, when online, on the server too.
// Deletes made offline are never propagated.
func (s *recordService) Delete(ctx context.Context, t models.RecordType, id string) error {
	if err := s.store.Delete(ctx, t, id); err != nil {
		return fmt.Errorf("error deleting record: %w", err)
	}
	if err := s.queue.Remove(ctx, t, id); err != nil {
		s.logger.Warn(ctx, "queue cleanup failed", "type", t, "id", id, "error", err)
	}

	if !s.conn.IsOnline() {
		return nil
	}
	if err := s.remote.Delete(ctx, t, id); err != nil && !errors.Is(err, common.ErrorNotFound) {
		s.logger.Warn(ctx, "remote delete failed", "type", t, "id", id, "error", err)
	}
	return nil
}

// List returns userID's payloads of type t, newest first.
func (s *recordService) List(ctx context.Context, t models.RecordType) ([]json.RawMessage, error) {
	userID, err := s.userID()
	if err != nil {
		return nil, err
	}

	if s.conn.IsOnline() {
		s.pull(ctx, t, userID)
	}

	rows, err := s.store.GetAll(ctx, t, userID)
	if err != nil {
		return nil, fmt.Errorf("error listing records: %w", err)
	}
	sortRecords(rows)
	return rows, nil
}

func (s *recordService) pull(ctx context.Context, t models.RecordType, userID string) {
	remote, err := s.remote.List(ctx, t)
	if err != nil {
		s.logger.Warn(ctx, "pull failed, showing local data", "type", t, "error", err)
		return
	}
	adopted := 0
	for _, r := range remote {
		r.Type = t
		r.UserID = userID
		changed, err := s.store.ApplyRemote(ctx, t, userID, r)
		if err != nil {
			s.logger.Warn(ctx, "merge failed", "type", t, "id", r.ID, "error", err)
			continue
		}
		if changed {
			adopted++
		}
	}
	s.logger.Debug(ctx, "pulled", "type", t, "received", len(remote), "adopted", adopted)
}

type sortKey struct {
	ID        string `json:"id"`
	Date      string `json:"date"`
	StartDate string `json:"startDate"`
	CreatedAt string `json:"createdAt"`
}

func (k sortKey) when() string {
	for _, v := range []string{k.Date, k.StartDate, k.CreatedAt} {
		if t, ok := validation.ParseDate(v); ok {
			return t.UTC().Format("2006-01-02T15:04:05")
		}
	}
	return ""
}

func sortRecords(rows []json.RawMessage) {
	keys := make([]sortKey, len(rows))
	for i, r := range rows {
		_ = json.Unmarshal(r, &keys[i])
	}
	idx := make([]int, len(rows))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ka, kb := keys[idx[a]], keys[idx[b]]
		wa, wb := ka.when(), kb.when()
		if wa != wb {
			return wa > wb
		}
		return ka.ID < kb.ID
	})
	sorted := make([]json.RawMessage, len(rows))
	for i, j := range idx {
		sorted[i] = rows[j]
	}
	copy(rows, sorted)
}

// Status counts the user's records per type and sync status.
func (s *recordService) Status(ctx context.Context) (map[models.RecordType]map[models.SyncStatus]int, error) {
	userID, err := s.userID()
	if err != nil {
		return nil, err
	}
	out := make(map[models.RecordType]map[models.SyncStatus]int, len(models.AllTypes))
	for _, t := range models.AllTypes {
		counts, err := s.store.CountByStatus(ctx, t, userID)
		if err != nil {
			return nil, fmt.Errorf("error counting %s: %w", t, err)
		}
		out[t] = counts
	}
	return out, nil
}

func (s *recordService) Queue(ctx context.Context) ([]*models.SyncQueueItem, error) {
	userID, err := s.userID()
	if err != nil {
		return nil, err
	}
	return s.queue.List(ctx, userID)
}

// UploadReceipt stores the file at path as the receipt of a transaction.
// The transaction must exist locally.
func (s *recordService) UploadReceipt(ctx context.Context, transactionID, path string) error {
	if !s.conn.IsOnline() {
		return ErrOfflineOnly
	}
	if _, err := s.store.Get(ctx, models.RecordTypeTransaction, transactionID); err != nil {
		return fmt.Errorf("error retrieving transaction: %w", err)
	}

	body, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading receipt: %w", err)
	}

	url, err := s.remote.ReceiptUploadURL(ctx, transactionID)
	if err != nil {
		return fmt.Errorf("error getting upload url: %w", err)
	}
	if err := s.upload(ctx, url, body, contentTypeFor(path)); err != nil {
		return fmt.Errorf("error uploading receipt: %w", err)
	}
	return nil
}

func (s *recordService) ReceiptURL(ctx context.Context, transactionID string) (string, error) {
	if !s.conn.IsOnline() {
		return "", ErrOfflineOnly
	}
	return s.remote.ReceiptDownloadURL(ctx, transactionID)
}

func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}
