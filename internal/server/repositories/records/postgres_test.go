package records

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/finkeeper/internal/common"
	"github.com/dmitrijs2005/finkeeper/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresRepository(db), mock
}

var columns = []string{"id", "type", "user_id", "data", "version", "last_modified", "created_at", "updated_at"}

func sample() *models.Record {
	return &models.Record{
		ID: "t1", Type: models.RecordTypeTransaction, UserID: "u1",
		Data: []byte(`{"id":"t1"}`), Version: 3, LastModified: 1700000000000,
	}
}

func TestGetForUpdate_Found(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT .* FROM records WHERE id = \$1 FOR UPDATE`).
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("t1", "transaction", "u1", []byte(`{"id":"t1"}`), int64(2), int64(5), now, now))

	rec, err := repo.GetForUpdate(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, models.RecordTypeTransaction, rec.Type)
	assert.EqualValues(t, 2, rec.Version)
	assert.JSONEq(t, `{"id":"t1"}`, string(rec.Data))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetForUpdate_NotFoundAndError(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`FOR UPDATE`).WithArgs("x").WillReturnError(sql.ErrNoRows)
	_, err := repo.GetForUpdate(context.Background(), "x")
	require.ErrorIs(t, err, common.ErrorNotFound)

	mock.ExpectQuery(`FOR UPDATE`).WithArgs("y").WillReturnError(errors.New("conn reset"))
	_, err = repo.GetForUpdate(context.Background(), "y")
	require.Error(t, err)
	require.NotErrorIs(t, err, common.ErrorNotFound)
}

func TestInsert(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	rec := sample()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO records (id, type, user_id, data, version, last_modified)`)).
		WithArgs("t1", "transaction", "u1", `{"id":"t1"}`, int64(3), int64(1700000000000)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Insert(context.Background(), rec))

	mock.ExpectExec(`INSERT INTO records`).WillReturnError(errors.New("duplicate key"))
	require.Error(t, repo.Insert(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate_RowsAffected(t *testing.T) {
	cases := []struct {
		name    string
		rows    int64
		wantErr error
	}{
		{"updated", 1, nil},
		{"stale or foreign", 0, common.ErrVersionConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo, mock := newRepoWithMock(t)
			mock.ExpectExec(`UPDATE records SET .* WHERE id = \$1 AND user_id = \$2 AND type = \$3 AND version < \$5`).
				WithArgs("t1", "u1", "transaction", `{"id":"t1"}`, int64(3), int64(1700000000000)).
				WillReturnResult(sqlmock.NewResult(0, tc.rows))

			err := repo.Update(context.Background(), sample())
			if tc.wantErr == nil {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, tc.wantErr)
			}
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestUpdate_Errors(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`UPDATE records`).WillReturnError(errors.New("boom"))
	require.Error(t, repo.Update(context.Background(), sample()))

	mock.ExpectExec(`UPDATE records`).WillReturnResult(sqlmock.NewErrorResult(errors.New("ra")))
	require.Error(t, repo.Update(context.Background(), sample()))

	mock.ExpectExec(`UPDATE records`).WillReturnResult(sqlmock.NewResult(0, 2))
	err := repo.Update(context.Background(), sample())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected rows affected")
}

func TestList(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT .* FROM records WHERE user_id = \$1 AND type = \$2 ORDER BY id`).
		WithArgs("u1", "budget").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("b1", "budget", "u1", []byte(`{"id":"b1"}`), int64(1), int64(1), now, now).
			AddRow("b2", "budget", "u1", []byte(`{"id":"b2"}`), int64(4), int64(2), now, now))

	got, err := repo.List(context.Background(), "u1", models.RecordTypeBudget)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b2", got[1].ID)
	assert.EqualValues(t, 4, got[1].Version)
}

func TestList_Empty(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectQuery(`FROM records`).WithArgs("u1", "loan").WillReturnRows(sqlmock.NewRows(columns))

	got, err := repo.List(context.Background(), "u1", models.RecordTypeLoan)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestGet(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now()

	mock.ExpectQuery(`WHERE id = \$1 AND user_id = \$2 AND type = \$3`).
		WithArgs("l1", "u1", "loan").
		WillReturnRows(sqlmock.NewRows(columns).AddRow("l1", "loan", "u1", []byte(`{}`), int64(1), int64(1), now, now))
	rec, err := repo.Get(context.Background(), "u1", models.RecordTypeLoan, "l1")
	require.NoError(t, err)
	assert.Equal(t, "l1", rec.ID)

	mock.ExpectQuery(`WHERE id = \$1`).WithArgs("l2", "u1", "loan").WillReturnError(sql.ErrNoRows)
	_, err = repo.Get(context.Background(), "u1", models.RecordTypeLoan, "l2")
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestDelete(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`DELETE FROM records WHERE id = \$1 AND user_id = \$2 AND type = \$3`).
		WithArgs("t1", "u1", "transaction").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Delete(context.Background(), "u1", models.RecordTypeTransaction, "t1"))

	mock.ExpectExec(`DELETE FROM records`).
		WithArgs("t1", "u1", "transaction").
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.Delete(context.Background(), "u1", models.RecordTypeTransaction, "t1")
	require.ErrorIs(t, err, common.ErrorNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
