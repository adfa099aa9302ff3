package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*CompletionStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewWithPool(mock, "")
	require.NoError(t, err)
	return store, mock
}

func TestNewWithPoolRejectsBadTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(mock, "completions; DROP TABLE x")
	require.Error(t, err)

	_, err = NewWithPool(nil, "")
	require.Error(t, err)
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS assignment_completions").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetCompletedInsertsAndDeletes(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	at := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	url := "https://canvas.example.edu/courses/1/assignments/2"

	mock.ExpectExec("INSERT INTO assignment_completions").
		WithArgs(url, at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("DELETE FROM assignment_completions").
		WithArgs(url).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, store.SetCompleted(context.Background(), url, true, at))
	require.NoError(t, store.SetCompleted(context.Background(), url, false, at))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetCompletedRequiresURL(t *testing.T) {
	t.Parallel()
	store, _ := newMockStore(t)
	require.Error(t, store.SetCompleted(context.Background(), "", true, time.Now()))
}

func TestSetCompletedWrapsError(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO").WillReturnError(errors.New("boom"))

	err := store.SetCompleted(context.Background(), "https://x/a", true, time.Now())
	require.ErrorContains(t, err, "insert completion")
}

func TestCompletedSet(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	urls := []string{"https://x/a", "https://x/b"}
	mock.ExpectQuery(regexp.QuoteMeta("SELECT url FROM assignment_completions WHERE url = ANY($1)")).
		WithArgs(urls).
		WillReturnRows(pgxmock.NewRows([]string{"url"}).AddRow("https://x/b"))

	got, err := store.CompletedSet(context.Background(), urls)
	require.NoError(t, err)
	require.Equal(t, map[string]bool{"https://x/b": true}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompletedSetEmptySkipsQuery(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	got, err := store.CompletedSet(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListCompleted(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	newer := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	older := newer.Add(-time.Hour)
	mock.ExpectQuery("SELECT url, completed_at FROM assignment_completions").
		WillReturnRows(pgxmock.NewRows([]string{"url", "completed_at"}).
			AddRow("https://x/b", newer).
			AddRow("https://x/a", older))

	got, err := store.ListCompleted(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "https://x/b", got[0].URL)
	require.True(t, got[1].CompletedAt.Equal(older))
	require.NoError(t, mock.ExpectationsWereMet())
}
