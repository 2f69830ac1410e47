package calls

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupPostgresTest(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	s := NewPostgresStore(mockPool)
	s.clock = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }
	return s, mockPool
}

func TestPostgresStore_ClaimFinalization(t *testing.T) {
	s, mockPool := setupPostgresTest(t)
	defer mockPool.Close()

	q := `UPDATE calls SET finalized_at = \$2 WHERE id = \$1 AND finalized_at IS NULL`

	t.Run("Won", func(t *testing.T) {
		mockPool.ExpectExec(q).WithArgs("call-1", pgxmock.AnyArg()).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		ok, err := s.ClaimFinalization(context.Background(), "call-1", time.Now())
		require.NoError(t, err)
		assert.True(t, ok)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("AlreadyClaimed", func(t *testing.T) {
		mockPool.ExpectExec(q).WithArgs("call-1", pgxmock.AnyArg()).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		ok, err := s.ClaimFinalization(context.Background(), "call-1", time.Now())
		require.NoError(t, err)
		assert.False(t, ok)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("DBError", func(t *testing.T) {
		dbErr := errors.New("connection reset")
		mockPool.ExpectExec(q).WithArgs("call-1", pgxmock.AnyArg()).WillReturnError(dbErr)
		_, err := s.ClaimFinalization(context.Background(), "call-1", time.Now())
		assert.ErrorIs(t, err, dbErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPostgresStore_AppendLogEntry(t *testing.T) {
	s, mockPool := setupPostgresTest(t)
	defer mockPool.Close()

	q := `INSERT INTO call_logs \(id, call_id, role, content, created_at\) VALUES \(\$1, \$2, \$3, \$4, \$5\)`

	t.Run("Inserted", func(t *testing.T) {
		mockPool.ExpectExec(q).
			WithArgs(pgxmock.AnyArg(), "call-1", "CONTACT", "Yes, Tuesday works.", pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		e, err := s.AppendLogEntry(context.Background(), "call-1", RoleContact, "Yes, Tuesday works.")
		require.NoError(t, err)
		assert.Len(t, e.ID, 26)
		assert.Equal(t, RoleContact, e.Role)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("UnknownCall", func(t *testing.T) {
		mockPool.ExpectExec(q).
			WithArgs(pgxmock.AnyArg(), "call-404", "SYSTEM", "x", pgxmock.AnyArg()).
			WillReturnError(&pgconn.PgError{Code: pgForeignKeyViolation})
		_, err := s.AppendLogEntry(context.Background(), "call-404", RoleSystem, "x")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("InvalidRole", func(t *testing.T) {
		_, err := s.AppendLogEntry(context.Background(), "call-1", Role("ROBOT"), "x")
		assert.ErrorIs(t, err, ErrInvalidArgument)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPostgresStore_UpsertIntentClamps(t *testing.T) {
	s, mockPool := setupPostgresTest(t)
	defer mockPool.Close()

	mockPool.ExpectExec(`INSERT INTO call_intents`).
		WithArgs("call-1", "reschedule", 0.0, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, s.UpsertIntent(context.Background(), "call-1", "reschedule", -3))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresStore_UpsertSummaryFollowUpKeepsText(t *testing.T) {
	s, mockPool := setupPostgresTest(t)
	defer mockPool.Close()

	next := "Send the intake form"
	mockPool.ExpectExec(`summary = call_summaries\.summary`).
		WithArgs("call-1", PendingSummary, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	err := s.UpsertSummary(context.Background(), SummaryUpdate{CallID: "call-1", Mode: SummaryFollowUp, NextSteps: &next})
	require.NoError(t, err)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresStore_UpdateStatusMissingRecordIsNoop(t *testing.T) {
	s, mockPool := setupPostgresTest(t)
	defer mockPool.Close()

	mockPool.ExpectBegin()
	mockPool.ExpectQuery(`FROM calls WHERE call_sid = \$1 FOR UPDATE`).WithArgs("CA-late").WillReturnError(pgx.ErrNoRows)
	mockPool.ExpectCommit()

	ch, err := s.UpdateStatus(context.Background(), StatusUpdate{CallSID: "CA-late", Status: StatusCompleted})
	require.NoError(t, err)
	assert.False(t, ch.Found)
	assert.False(t, ch.Applied)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresStore_UpdateStatusRollsBackOnError(t *testing.T) {
	s, mockPool := setupPostgresTest(t)
	defer mockPool.Close()

	dbErr := errors.New("lock timeout")
	mockPool.ExpectBegin()
	mockPool.ExpectQuery(`FROM calls WHERE id = \$1 FOR UPDATE`).WithArgs("call-1").WillReturnError(dbErr)
	mockPool.ExpectRollback()

	_, err := s.UpdateStatus(context.Background(), StatusUpdate{CallID: "call-1", Status: StatusCompleted})
	assert.ErrorIs(t, err, dbErr)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresStore_GetIntent(t *testing.T) {
	s, mockPool := setupPostgresTest(t)
	defer mockPool.Close()

	at := time.Date(2026, 3, 1, 9, 5, 0, 0, time.UTC)
	t.Run("Found", func(t *testing.T) {
		rows := mockPool.NewRows([]string{"call_id", "label", "confidence", "updated_at"}).
			AddRow("call-1", "confirm_appointment", 0.92, at)
		mockPool.ExpectQuery(`FROM call_intents WHERE call_id = \$1`).WithArgs("call-1").WillReturnRows(rows)

		in, ok, err := s.GetIntent(context.Background(), "call-1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "confirm_appointment", in.Label)
		assert.Equal(t, 0.92, in.Confidence)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("NotFound", func(t *testing.T) {
		mockPool.ExpectQuery(`FROM call_intents WHERE call_id = \$1`).WithArgs("call-2").WillReturnError(pgx.ErrNoRows)
		_, ok, err := s.GetIntent(context.Background(), "call-2")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPostgresStore_GetContactNotFound(t *testing.T) {
	s, mockPool := setupPostgresTest(t)
	defer mockPool.Close()

	mockPool.ExpectQuery(`FROM contacts WHERE id = \$1`).WithArgs("ct-404").WillReturnError(pgx.ErrNoRows)
	_, err := s.GetContact(context.Background(), "ct-404")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
