package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/phishscope/internal/audit"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

const sqlInsertAuditRecord = `
        INSERT INTO audit_records (id, recorded_at, level, message, caller_id, action, cipher, key_mode, iv, ciphertext)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
    `

// Store persists audit records to PostgreSQL. The audit_records table is
// provisioned outside this program; the store only appends to it.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// Open connects a pgx pool to databaseURL and wraps it in a Store.
func Open(ctx context.Context, databaseURL string, logger *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	s, err := New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Write appends one audit record. It satisfies audit.Sink.
func (s *Store) Write(ctx context.Context, rec audit.Record) error {
	tag, err := s.pool.Exec(ctx, sqlInsertAuditRecord,
		rec.ID, rec.Timestamp.UTC(), rec.Level, rec.Message,
		rec.CallerID, rec.Action, rec.Cipher, rec.KeyMode,
		rec.IV, rec.Ciphertext,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit record %s: %w", rec.ID, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("audit record %s: expected 1 row inserted, got %d", rec.ID, tag.RowsAffected())
	}
	s.log.Debug("Audit record persisted.", zap.String("record_id", rec.ID), zap.String("action", rec.Action))
	return nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}
