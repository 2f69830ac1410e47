package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const insertEventSQL = `INSERT INTO audit_events \(id, type, actor, ip_address, call_id, message, metadata, created_at\) VALUES \(\$1, \$2, \$3, \$4, \$5, \$6, \$7, \$8\)`

func TestPostgresRepo_Append(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	repo := NewPostgresRepo(mockPool)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("DefaultsMetadata", func(t *testing.T) {
		mockPool.ExpectExec(insertEventSQL).
			WithArgs("e-1", "session_created", "s", "", pgxmock.AnyArg(), "m", "{}", at).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		require.NoError(t, repo.Append(context.Background(), Event{ID: "e-1", Type: EventTypeSessionCreated, Actor: "s", Message: "m", CreatedAt: at}))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("DBError", func(t *testing.T) {
		dbErr := errors.New("connection reset")
		mockPool.ExpectExec(insertEventSQL).
			WithArgs("e-2", "call_control", "", "", pgxmock.AnyArg(), "", `{"a":1}`, at).
			WillReturnError(dbErr)
		err := repo.Append(context.Background(), Event{ID: "e-2", Type: EventTypeCallControl, CallID: "call-1", Metadata: `{"a":1}`, CreatedAt: at})
		assert.ErrorIs(t, err, dbErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestGormRepo_AppendAndList(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	repo := NewGormRepo(db)
	require.NoError(t, repo.AutoMigrate())

	svc := NewService(repo)
	ctx := context.Background()
	who := Actor{Subject: "session:1", IP: "10.0.0.1"}
	require.NoError(t, svc.LogControl(ctx, who, "call-1", "hangup", true))
	require.NoError(t, svc.LogSession(ctx, who))

	evs, err := repo.ForCall(ctx, "call-1")
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, EventTypeCallControl, evs[0].Type)
	assert.Equal(t, "10.0.0.1", evs[0].IPAddress)
	assert.JSONEq(t, `{"action":"hangup","applied":true}`, evs[0].Metadata)
}
