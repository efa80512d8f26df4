package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/phishscope/internal/audit"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

func sampleRecord() audit.Record {
	return audit.Record{
		ID:         "0b6c1b58-6f7e-4d3c-9c43-2d1f6a1e9f10",
		Timestamp:  time.Date(2024, 5, 4, 3, 2, 1, 0, time.UTC),
		Level:      audit.LevelInfo,
		Message:    "verdict issued",
		CallerID:   "alice",
		Action:     "scan.verdict",
		Cipher:     "aes-256-gcm",
		KeyMode:    "ephemeral",
		IV:         "000102030405060708090a0b",
		Ciphertext: "deadbeef",
	}
}

func recordArgs(rec audit.Record) []any {
	return []any{
		rec.ID, rec.Timestamp, rec.Level, rec.Message, rec.CallerID,
		rec.Action, rec.Cipher, rec.KeyMode, rec.IV, rec.Ciphertext,
	}
}

func TestNewStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should accept a nil logger", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing()
		s, err := New(context.Background(), mockPool, nil)
		require.NoError(t, err)
		assert.NotNil(t, s.log)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestWrite(t *testing.T) {
	ctx := context.Background()

	t.Run("should insert the record", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing()
		s, err := New(ctx, mockPool, zap.NewNop())
		require.NoError(t, err)

		rec := sampleRecord()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertAuditRecord)).
			WithArgs(recordArgs(rec)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, s.Write(ctx, rec))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should normalize the timestamp to UTC", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing()
		s, err := New(ctx, mockPool, zap.NewNop())
		require.NoError(t, err)

		rec := sampleRecord()
		want := recordArgs(rec)
		rec.Timestamp = rec.Timestamp.In(time.FixedZone("UTC+2", 2*60*60))
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertAuditRecord)).
			WithArgs(want...).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, s.Write(ctx, rec))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should wrap exec errors", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing()
		s, err := New(ctx, mockPool, zap.NewNop())
		require.NoError(t, err)

		rec := sampleRecord()
		dbErr := errors.New("relation \"audit_records\" does not exist")
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertAuditRecord)).
			WithArgs(recordArgs(rec)...).
			WillReturnError(dbErr)

		err = s.Write(ctx, rec)
		require.Error(t, err)
		assert.ErrorIs(t, err, dbErr)
		assert.Contains(t, err.Error(), rec.ID)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should reject an unexpected row count", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing()
		s, err := New(ctx, mockPool, zap.NewNop())
		require.NoError(t, err)

		rec := sampleRecord()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertAuditRecord)).
			WithArgs(recordArgs(rec)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 0))

		err = s.Write(ctx, rec)
		assert.ErrorContains(t, err, "expected 1 row inserted, got 0")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestStore_IsAuditSink(t *testing.T) {
	var _ audit.Sink = (*Store)(nil)
}
