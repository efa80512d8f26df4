package audit

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/phishscope/internal/config"
)

var testMasterKey = bytes.Repeat([]byte{0x42}, 32)

type lineBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lineBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lineBuffer) Sync() error { return nil }

func (b *lineBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Split(strings.TrimSpace(b.buf.String()), "\n")
}

type failingSink struct{}

func (failingSink) Write(context.Context, Record) error { return errors.New("disk full") }

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("no entropy") }

// -- Sealer --

func TestNewSealer_Validation(t *testing.T) {
	_, err := NewSealer("rot13", config.KeyModeEphemeral, nil)
	assert.ErrorContains(t, err, "unsupported audit cipher")

	_, err = NewSealer(config.CipherAESGCM, "forever", nil)
	assert.ErrorContains(t, err, "unsupported audit key mode")

	_, err = NewSealer(config.CipherAESGCM, config.KeyModeDerived, []byte("short"))
	assert.ErrorIs(t, err, ErrMasterKeyTooShort)
}

func TestSealer_DerivedRoundTrip(t *testing.T) {
	for _, cipherName := range []string{config.CipherAESGCM, config.CipherChaCha20Poly1305} {
		t.Run(cipherName, func(t *testing.T) {
			s, err := NewSealer(cipherName, config.KeyModeDerived, testMasterKey)
			require.NoError(t, err)

			nonce, ct, err := s.Seal([]byte("verdict payload"), []byte("record-1"))
			require.NoError(t, err)
			assert.Len(t, nonce, 12)

			pt, err := s.Open(nonce, ct, []byte("record-1"))
			require.NoError(t, err)
			assert.Equal(t, "verdict payload", string(pt))

			_, err = s.Open(nonce, ct, []byte("record-2"))
			assert.Error(t, err, "associated data is authenticated")

			ct[0] ^= 0xff
			_, err = s.Open(nonce, ct, []byte("record-1"))
			assert.Error(t, err, "tampering is detected")

			other, err := NewSealer(cipherName, config.KeyModeDerived, bytes.Repeat([]byte{0x07}, 32))
			require.NoError(t, err)
			ct[0] ^= 0xff
			_, err = other.Open(nonce, ct, []byte("record-1"))
			assert.Error(t, err, "a different master key cannot open the record")
		})
	}
}

func TestSealer_FreshNoncePerRecord(t *testing.T) {
	s, err := NewSealer(config.CipherAESGCM, config.KeyModeEphemeral, nil)
	require.NoError(t, err)

	n1, c1, err := s.Seal([]byte("same"), nil)
	require.NoError(t, err)
	n2, c2, err := s.Seal([]byte("same"), nil)
	require.NoError(t, err)

	assert.NotEqual(t, n1, n2)
	assert.NotEqual(t, c1, c2)
}

func TestSealer_EphemeralIsWriteOnly(t *testing.T) {
	s, err := NewSealer(config.CipherChaCha20Poly1305, config.KeyModeEphemeral, testMasterKey)
	require.NoError(t, err)

	nonce, ct, err := s.Seal([]byte("secret"), nil)
	require.NoError(t, err)
	_, err = s.Open(nonce, ct, nil)
	assert.ErrorIs(t, err, ErrNotDecryptable)
}

// -- Logger --

func newTestLogger(t *testing.T, keyMode string, sinks ...Sink) (*Logger, *observer.ObservedLogs) {
	t.Helper()
	sealer, err := NewSealer(config.CipherAESGCM, keyMode, testMasterKey)
	require.NoError(t, err)

	obsCore, logs := observer.New(zapcore.WarnLevel)
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 4, 3, 2, 1, 0, time.UTC))
	return NewLogger(sealer, sinks, clock, zap.New(obsCore)), logs
}

func TestLogger_RecordToFileAndDecrypt(t *testing.T) {
	buf := &lineBuffer{}
	l, logs := newTestLogger(t, config.KeyModeDerived, NewFileSink(buf))

	rec := l.Record(context.Background(), Entry{
		Level:    LevelInfo,
		Message:  "verdict issued",
		CallerID: "alice",
		Action:   "scan.verdict",
		Details:  map[string]any{"url": "https://g00gle-verify.tk/login", "total_score": 90},
	})
	require.NotNil(t, rec)
	assert.Equal(t, 0, logs.Len())

	lines := buf.Lines()
	require.Len(t, lines, 1)

	parsed, err := ParseRecord([]byte(lines[0]))
	require.NoError(t, err)
	assert.True(t, rec.Timestamp.Equal(parsed.Timestamp))
	want := *rec
	want.Timestamp = parsed.Timestamp
	assert.Equal(t, want, parsed)
	assert.Equal(t, "alice", parsed.CallerID)
	assert.Equal(t, "scan.verdict", parsed.Action)
	assert.Equal(t, config.CipherAESGCM, parsed.Cipher)
	assert.NotContains(t, lines[0], "g00gle-verify", "details never appear in plaintext")

	_, err = hex.DecodeString(parsed.IV)
	require.NoError(t, err)

	sealer, err := NewSealer(config.CipherAESGCM, config.KeyModeDerived, testMasterKey)
	require.NoError(t, err)
	payload, err := Decrypt(sealer, parsed)
	require.NoError(t, err)
	assert.Equal(t, "verdict issued", payload.Message)
	assert.True(t, parsed.Timestamp.Equal(payload.Timestamp))
	details, ok := payload.Details.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "https://g00gle-verify.tk/login", details["url"])
}

func TestLogger_EphemeralRecordsCannotBeDecrypted(t *testing.T) {
	buf := &lineBuffer{}
	l, _ := newTestLogger(t, config.KeyModeEphemeral, NewFileSink(buf))

	rec := l.Record(context.Background(), Entry{Level: LevelWarn, Message: "rejected", CallerID: "bob", Action: "scan.rejected"})
	require.NotNil(t, rec)
	assert.Equal(t, config.KeyModeEphemeral, rec.KeyMode)

	sealer, err := NewSealer(config.CipherAESGCM, config.KeyModeDerived, testMasterKey)
	require.NoError(t, err)
	_, err = Decrypt(sealer, *rec)
	assert.ErrorIs(t, err, ErrNotDecryptable)

	assert.Contains(t, buf.Lines()[0], `"level":"warn"`)
}

func TestLogger_SinkFailureGoesToFallback(t *testing.T) {
	buf := &lineBuffer{}
	l, logs := newTestLogger(t, config.KeyModeEphemeral, failingSink{}, NewFileSink(buf))

	rec := l.Record(context.Background(), Entry{Message: "verdict issued", CallerID: "carol", Action: "scan.verdict"})
	require.NotNil(t, rec)
	assert.Equal(t, LevelInfo, rec.Level, "level defaults to info")

	assert.Len(t, buf.Lines(), 1, "a failing sink does not stop the others")
	entries := logs.FilterMessage("Failed to write audit record.").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "audit.fallback", entries[0].LoggerName)
	assert.Equal(t, "disk full", entries[0].ContextMap()["error"])
}

func TestLogger_SealFailureGoesToFallback(t *testing.T) {
	buf := &lineBuffer{}
	l, logs := newTestLogger(t, config.KeyModeEphemeral, NewFileSink(buf))
	l.sealer.random = errReader{}

	assert.Nil(t, l.Record(context.Background(), Entry{Message: "x", CallerID: "dave", Action: "scan.verdict"}))
	assert.Equal(t, 1, logs.FilterMessage("Failed to seal audit record.").Len())
	assert.Equal(t, []string{""}, buf.Lines(), "nothing reaches the sinks")
}

func TestLogger_ConcurrentRecords(t *testing.T) {
	buf := &lineBuffer{}
	l, _ := newTestLogger(t, config.KeyModeDerived, NewFileSink(buf))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Record(context.Background(), Entry{Message: "verdict issued", CallerID: "c", Action: "scan.verdict"})
		}()
	}
	wg.Wait()

	lines := buf.Lines()
	require.Len(t, lines, 50)
	ids := make(map[string]struct{})
	for _, line := range lines {
		rec, err := ParseRecord([]byte(line))
		require.NoError(t, err)
		ids[rec.ID] = struct{}{}
	}
	assert.Len(t, ids, 50)
}

func TestParseRecord_Invalid(t *testing.T) {
	_, err := ParseRecord([]byte("not json"))
	assert.Error(t, err)

	_, err = ParseRecord([]byte(`{"id":"x"}`))
	assert.ErrorContains(t, err, "missing")
}

func TestDecrypt_CipherMismatch(t *testing.T) {
	l, _ := newTestLogger(t, config.KeyModeDerived)
	rec := l.Record(context.Background(), Entry{Message: "m", CallerID: "c", Action: "a"})
	require.NotNil(t, rec)

	chacha, err := NewSealer(config.CipherChaCha20Poly1305, config.KeyModeDerived, testMasterKey)
	require.NoError(t, err)
	_, err = Decrypt(chacha, *rec)
	assert.ErrorContains(t, err, "does not match")
}

func TestNewLogger_Defaults(t *testing.T) {
	sealer, err := NewSealer(config.CipherAESGCM, config.KeyModeEphemeral, nil)
	require.NoError(t, err)
	l := NewLogger(sealer, nil, nil, zaptest.NewLogger(t))
	assert.NotNil(t, l.Record(context.Background(), Entry{Message: "m"}))
}
