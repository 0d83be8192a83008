package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/finkeeper/internal/api"
	"github.com/dmitrijs2005/finkeeper/internal/common"
	"github.com/dmitrijs2005/finkeeper/internal/dbx"
	"github.com/dmitrijs2005/finkeeper/internal/logging"
	"github.com/dmitrijs2005/finkeeper/internal/server/models"
	"github.com/dmitrijs2005/finkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/finkeeper/internal/validation"
)

var (
	// ErrForeignRecord is reported when the id is already taken by a record of
	// another user or another type.
	ErrForeignRecord = errors.New("record id belongs to another owner or type")

	// ErrIDMismatch is returned when the path id and the body id differ.
	ErrIDMismatch = errors.New("record id does not match the request path")
)

// Outcome tells how a single record was reconciled.
type Outcome int

const (
	OutcomeInserted Outcome = iota
	OutcomeUpdated
	// OutcomeKept means the stored version is newer or equal and won.
	OutcomeKept
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeUpdated:
		return "updated"
	default:
		return "kept"
	}
}

type RecordService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	logger      logging.Logger
}

func NewRecordService(db *sql.DB, rm repomanager.RepositoryManager, logger logging.Logger) *RecordService {
	return &RecordService{db: db, repomanager: rm, logger: logger.With("module", "records")}
}

// Apply reconciles one wire record under last-writer-wins in its own
// transaction. It returns the record id, which is set even on most errors so
// callers can report per-record failures.
func (s *RecordService) Apply(ctx context.Context, userID string, t models.RecordType, raw json.RawMessage) (string, Outcome, error) {
	in, err := api.Decode(raw)
	if err != nil {
		return "", 0, err
	}
	if in.Version < 1 {
		return in.ID, 0, fmt.Errorf("%w: _version must be at least 1", api.ErrMalformedRecord)
	}
	if err := validation.Validate(string(t), in.Data); err != nil {
		return in.ID, 0, err
	}

	rec := &models.Record{
		ID:           in.ID,
		Type:         t,
		UserID:       userID,
		Data:         in.Data,
		Version:      in.Version,
		LastModified: in.LastModified,
	}

	var outcome Outcome
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Records(tx)

		existing, err := repo.GetForUpdate(ctx, rec.ID)
		if errors.Is(err, common.ErrorNotFound) {
			outcome = OutcomeInserted
			return repo.Insert(ctx, rec)
		}
		if err != nil {
			return err
		}

		if existing.UserID != userID || existing.Type != t {
			return ErrForeignRecord
		}

		if rec.Version <= existing.Version {
			outcome = OutcomeKept
			return nil
		}

		outcome = OutcomeUpdated
		err = repo.Update(ctx, rec)
		if errors.Is(err, common.ErrVersionConflict) {
			// The row is locked, so this only happens if it changed owner
			// between the read and the write; the stored copy stands.
			outcome = OutcomeKept
			return nil
		}
		return err
	})
	if err != nil {
		return rec.ID, 0, err
	}

	s.logger.Debug(ctx, "record reconciled", "type", t, "id", rec.ID, "version", rec.Version, "outcome", outcome.String())
	return rec.ID, outcome, nil
}

// Upsert is the single-record collaborator write. pathID, when not empty,
// must match the body id or is filled into a body without one.
func (s *RecordService) Upsert(ctx context.Context, userID string, t models.RecordType, pathID string, raw json.RawMessage) (json.RawMessage, error) {
	if pathID != "" {
		var err error
		raw, err = withID(raw, pathID)
		if err != nil {
			return nil, err
		}
	}

	id, _, err := s.Apply(ctx, userID, t, raw)
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, userID, t, id)
}

func withID(raw json.RawMessage, id string) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, fmt.Errorf("%w: body is not an object", api.ErrMalformedRecord)
	}
	if v, ok := fields[common.FieldID]; ok {
		var bodyID string
		if err := json.Unmarshal(v, &bodyID); err != nil || (bodyID != "" && bodyID != id) {
			return nil, ErrIDMismatch
		}
	}
	fields[common.FieldID], _ = json.Marshal(id)
	return json.Marshal(fields)
}

// Get returns the record in wire form.
func (s *RecordService) Get(ctx context.Context, userID string, t models.RecordType, id string) (json.RawMessage, error) {
	rec, err := s.repomanager.Records(s.db).Get(ctx, userID, t, id)
	if err != nil {
		return nil, err
	}
	return api.Encode(rec.ID, rec.Version, rec.LastModified, rec.Data)
}

// List returns all records of a type owned by the user in wire form.
func (s *RecordService) List(ctx context.Context, userID string, t models.RecordType) ([]json.RawMessage, error) {
	recs, err := s.repomanager.Records(s.db).List(ctx, userID, t)
	if err != nil {
		return nil, err
	}

	out := make([]json.RawMessage, 0, len(recs))
	for _, r := range recs {
		enc, err := api.Encode(r.ID, r.Version, r.LastModified, r.Data)
		if err != nil {
			s.logger.Warn(ctx, "skipping undecodable record", "type", t, "id", r.ID, "error", err)
			continue
		}
		out = append(out, enc)
	}
	return out, nil
}

// Delete removes a record. It returns common.ErrorNotFound when there is
// nothing to delete.
func (s *RecordService) Delete(ctx context.Context, userID string, t models.RecordType, id string) error {
	if err := s.repomanager.Records(s.db).Delete(ctx, userID, t, id); err != nil {
		return err
	}
	s.logger.Info(ctx, "record deleted", "type", t, "id", id)
	return nil
}
