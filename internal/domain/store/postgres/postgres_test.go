package postgres

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/sportsbook-ops/backbone/internal/domain/model"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(sqlx.NewDb(db, "postgres")), mock
}

func TestGetAgentReturnsNotFoundWhenNoRows(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("SELECT (.+) FROM agents WHERE id = \\$1").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "login", "parent_id", "type", "status", "office_tag",
			"commission_structure_id", "permissions", "config", "created_at", "updated_at"}))

	_, ok, err := store.GetAgent(context.Background(), "missing")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAgentScansRow(t *testing.T) {
	store, mock := newMock(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT (.+) FROM agents WHERE id = \\$1").
		WithArgs("a1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "login", "parent_id", "type", "status", "office_tag",
			"commission_structure_id", "permissions", "config", "created_at", "updated_at"}).
			AddRow("a1", "agent-one", "", "A", "active", "", "", 0, []byte(`{}`), now, now))

	a, ok, err := store.GetAgent(context.Background(), "a1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "agent-one", a.Login)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBeginCommitRoundTrip(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO agents").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	ctx := context.Background()
	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.PutAgent(ctx, &model.Agent{ID: "a2", Login: "agent-two"}))
	require.NoError(t, tx.Commit(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBeginRollbackOnError(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	ctx := context.Background()
	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}
