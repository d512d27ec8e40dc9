package store

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPostgresMock(t *testing.T, limit int64) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	s := NewPostgresStoreFromDB(db, limit)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		s.Close()
	})
	return s, mock
}

func TestPostgresStoreGet(t *testing.T) {
	s, mock := newPostgresMock(t, 0)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT value FROM kv WHERE key = $1`)).
		WithArgs("leads").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte(`[{"id":"l1"}]`)))

	v, err := s.Get("leads")
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"l1"}]`, string(v))
}

func TestPostgresStoreGetNotFound(t *testing.T) {
	s, mock := newPostgresMock(t, 0)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT value FROM kv WHERE key = $1`)).
		WithArgs("leads").
		WillReturnRows(sqlmock.NewRows([]string{"value"}))

	_, err := s.Get("leads")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStoreSetNotifiesInTransaction(t *testing.T) {
	s, mock := newPostgresMock(t, 0)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(
		`INSERT INTO kv (key, value) VALUES ($1, $2)`)).
		WithArgs("leads", []byte(`[]`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`SELECT pg_notify($1, $2)`)).
		WithArgs("leadstore_changes", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.Set("leads", []byte(`[]`)))
}

func TestPostgresStoreSetRollsBackOnFailure(t *testing.T) {
	s, mock := newPostgresMock(t, 0)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(
		`INSERT INTO kv (key, value) VALUES ($1, $2)`)).
		WithArgs("leads", []byte(`[]`)).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	assert.Error(t, s.Set("leads", []byte(`[]`)))
}

func TestPostgresStoreRemove(t *testing.T) {
	s, mock := newPostgresMock(t, 0)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM kv WHERE key = $1`)).
		WithArgs("leads").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`SELECT pg_notify($1, $2)`)).
		WithArgs("leadstore_changes", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.Remove("leads"))
}

func TestPostgresStoreKeys(t *testing.T) {
	s, mock := newPostgresMock(t, 0)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT key FROM kv ORDER BY key`)).
		WillReturnRows(sqlmock.NewRows([]string{"key"}).AddRow("columnConfig").AddRow("leads"))

	keys, err := s.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"columnConfig", "leads"}, keys)
}

func TestPostgresStoreEstimateQuota(t *testing.T) {
	s, mock := newPostgresMock(t, 1<<20)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT pg_total_relation_size('kv')`)).
		WillReturnRows(sqlmock.NewRows([]string{"size"}).AddRow(int64(4096)))

	q, err := s.EstimateQuota(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1<<20), q.Limit)
	assert.Equal(t, int64(4096), q.Usage)
}

func TestPostgresStoreEstimateQuotaWithoutLimit(t *testing.T) {
	s, _ := newPostgresMock(t, 0)

	_, err := s.EstimateQuota(context.Background())
	assert.Error(t, err)
}

func TestPostgresStoreWatchRequiresURL(t *testing.T) {
	s, _ := newPostgresMock(t, 0)

	_, err := s.Watch(context.Background())
	assert.Error(t, err)
}
