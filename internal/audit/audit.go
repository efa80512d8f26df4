// Package audit writes one encrypted, append-only record per scoring decision.
package audit

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/phishscope/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Record levels.
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Entry is what a caller asks to have audited.
type Entry struct {
	Level    string
	Message  string
	CallerID string
	Action   string
	// Details is serialized into the encrypted payload only.
	Details any
}

// Record is the emitted audit line. Everything outside IV and Ciphertext is
// plaintext metadata; the sealed payload repeats it alongside the details.
type Record struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Level      string    `json:"level"`
	Message    string    `json:"message"`
	CallerID   string    `json:"caller_id"`
	Action     string    `json:"action"`
	Cipher     string    `json:"cipher"`
	KeyMode    string    `json:"key_mode"`
	IV         string    `json:"iv"`
	Ciphertext string    `json:"ciphertext"`
}

// Payload is the plaintext sealed into a record.
type Payload struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	CallerID  string    `json:"caller_id"`
	Action    string    `json:"action"`
	Details   any       `json:"details,omitempty"`
}

// Sink is an append-only destination for records.
type Sink interface {
	Write(ctx context.Context, rec Record) error
}

// Logger seals entries and fans them out to every sink. It never returns
// errors to its callers; failures go to the fallback logger.
type Logger struct {
	sealer   *Sealer
	sinks    []Sink
	clock    clockwork.Clock
	fallback *zap.Logger
}

// NewLogger creates an audit logger.
func NewLogger(sealer *Sealer, sinks []Sink, clock clockwork.Clock, logger *zap.Logger) *Logger {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{
		sealer:   sealer,
		sinks:    sinks,
		clock:    clock,
		fallback: logger.Named("audit.fallback"),
	}
}

// Record builds, seals and emits one record. It returns the record that was
// emitted, or nil when sealing failed. Sink failures do not stop other sinks.
func (l *Logger) Record(ctx context.Context, e Entry) *Record {
	rec, err := l.seal(e)
	if err != nil {
		l.fallback.Error("Failed to seal audit record.",
			zap.String("action", e.Action),
			zap.String("caller_id", e.CallerID),
			zap.Error(err),
		)
		return nil
	}

	for _, sink := range l.sinks {
		if err := sink.Write(ctx, *rec); err != nil {
			l.fallback.Error("Failed to write audit record.",
				zap.String("record_id", rec.ID),
				zap.String("action", rec.Action),
				zap.String("sink", fmt.Sprintf("%T", sink)),
				zap.Error(err),
			)
		}
	}
	return rec
}

func (l *Logger) seal(e Entry) (*Record, error) {
	if e.Level == "" {
		e.Level = LevelInfo
	}
	rec := &Record{
		ID:        uuid.NewString(),
		Timestamp: l.clock.Now().UTC(),
		Level:     e.Level,
		Message:   e.Message,
		CallerID:  e.CallerID,
		Action:    e.Action,
		Cipher:    l.sealer.Cipher(),
		KeyMode:   l.sealer.KeyMode(),
	}

	plaintext, err := json.Marshal(Payload{
		Timestamp: rec.Timestamp,
		Level:     rec.Level,
		Message:   rec.Message,
		CallerID:  rec.CallerID,
		Action:    rec.Action,
		Details:   e.Details,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize audit payload: %w", err)
	}

	nonce, ciphertext, err := l.sealer.Seal(plaintext, []byte(rec.ID))
	if err != nil {
		return nil, err
	}
	rec.IV = hex.EncodeToString(nonce)
	rec.Ciphertext = hex.EncodeToString(ciphertext)
	return rec, nil
}

// ParseRecord decodes one JSON audit line.
func ParseRecord(line []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(line, &rec); err != nil {
		return Record{}, fmt.Errorf("invalid audit record: %w", err)
	}
	if rec.ID == "" || rec.IV == "" || rec.Ciphertext == "" {
		return Record{}, fmt.Errorf("invalid audit record: missing id, iv or ciphertext")
	}
	return rec, nil
}

// Decrypt opens a record's payload. The sealer must use the record's cipher
// and the master key it was sealed under.
func Decrypt(sealer *Sealer, rec Record) (*Payload, error) {
	if rec.KeyMode == config.KeyModeEphemeral {
		return nil, ErrNotDecryptable
	}
	if rec.Cipher != "" && rec.Cipher != sealer.Cipher() {
		return nil, fmt.Errorf("record cipher %q does not match sealer %q", rec.Cipher, sealer.Cipher())
	}

	nonce, err := hex.DecodeString(rec.IV)
	if err != nil {
		return nil, fmt.Errorf("invalid iv: %w", err)
	}
	ciphertext, err := hex.DecodeString(rec.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("invalid ciphertext: %w", err)
	}

	plaintext, err := sealer.Open(nonce, ciphertext, []byte(rec.ID))
	if err != nil {
		return nil, err
	}
	var p Payload
	if err := json.Unmarshal(plaintext, &p); err != nil {
		return nil, fmt.Errorf("failed to decode audit payload: %w", err)
	}
	return &p, nil
}
