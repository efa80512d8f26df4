package audit

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/phishscope/internal/observability"
)

// FileSink appends records as JSON lines through a zap core.
type FileSink struct {
	core zapcore.Core
}

// NewFileSink writes to w. Use observability.NewRotatingWriter for a rotated file.
func NewFileSink(w zapcore.WriteSyncer) *FileSink {
	return &FileSink{core: zapcore.NewCore(observability.NewAuditEncoder(), w, zapcore.DebugLevel)}
}

// Write emits one line for rec.
func (s *FileSink) Write(_ context.Context, rec Record) error {
	level, err := zapcore.ParseLevel(rec.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	entry := zapcore.Entry{Level: level, Time: rec.Timestamp, Message: rec.Message}
	fields := []zapcore.Field{
		zap.String("id", rec.ID),
		zap.String("caller_id", rec.CallerID),
		zap.String("action", rec.Action),
		zap.String("cipher", rec.Cipher),
		zap.String("key_mode", rec.KeyMode),
		zap.String("iv", rec.IV),
		zap.String("ciphertext", rec.Ciphertext),
	}
	if err := s.core.Write(entry, fields); err != nil {
		return err
	}
	return s.core.Sync()
}
