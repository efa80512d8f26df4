package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/phishscope/internal/analysis/domain"
	"github.com/xkilldash9x/phishscope/internal/analysis/threatfeed"
	"github.com/xkilldash9x/phishscope/internal/config"
)

func TestStartSweeper(t *testing.T) {
	logger := zap.NewNop()

	t.Run("SweepsOnEveryTick", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		wg := &sync.WaitGroup{}
		clock := clockwork.NewFakeClock()
		a, b := &countingSweeper{}, &countingSweeper{}

		StartSweeper(ctx, wg, clock, time.Minute, logger, a, b)
		require.NoError(t, clock.BlockUntilContext(ctx, 1))

		clock.Advance(time.Minute)
		assert.Eventually(t, func() bool { return a.calls.Load() == 1 && b.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

		clock.Advance(time.Minute)
		assert.Eventually(t, func() bool { return a.calls.Load() == 2 }, time.Second, 5*time.Millisecond)

		cancel()
		wg.Wait()
	})

	t.Run("DisabledWithoutInterval", func(t *testing.T) {
		wg := &sync.WaitGroup{}
		StartSweeper(context.Background(), wg, clockwork.NewFakeClock(), 0, logger, &countingSweeper{})
		assert.True(t, timedWait(wg, 10*time.Millisecond), "no goroutine was started")
	})
}

func TestInitializeAgeOracle(t *testing.T) {
	logger := zap.NewNop()

	oracle, err := InitializeAgeOracle(config.DomainConfig{AgeOracle: "none"}, nil, logger)
	require.NoError(t, err)
	assert.IsType(t, domain.NoopOracle{}, oracle)

	oracle, err = InitializeAgeOracle(config.DomainConfig{AgeOracle: "rdap", RDAPEndpoint: "https://rdap.example/domain"}, nil, logger)
	require.NoError(t, err)
	assert.IsType(t, &domain.RDAPOracle{}, oracle)

	_, err = InitializeAgeOracle(config.DomainConfig{AgeOracle: "whois"}, nil, logger)
	assert.ErrorContains(t, err, "unsupported age oracle")
}

func TestInitializeThreatChecker(t *testing.T) {
	logger := zap.NewNop()
	client := InitializeHTTPClient(config.NetworkConfig{}, logger)

	assert.Nil(t, InitializeThreatChecker(config.ThreatFeedConfig{Enabled: false}, client, logger))

	checker := InitializeThreatChecker(config.ThreatFeedConfig{Enabled: true, APIKey: "k", RequestsPerSecond: 1}, client, logger)
	assert.IsType(t, &threatfeed.SafeBrowsingClient{}, checker)
}

func TestInitializeAnalyzers_Order(t *testing.T) {
	logger := zap.NewNop()
	cfg := config.NewDefaultConfig()
	client := InitializeHTTPClient(cfg.Network(), logger)

	analyzers, err := InitializeAnalyzers(cfg, client, clockwork.NewFakeClock(), logger)
	require.NoError(t, err)

	var names []string
	for _, a := range analyzers {
		names = append(names, a.Name())
	}
	assert.Equal(t, []string{"structure", "domain", "brand", "redirect", "threat_feed"}, names)
}

func TestInitializeAuditSealer(t *testing.T) {
	t.Run("Ephemeral", func(t *testing.T) {
		sealer, err := InitializeAuditSealer(config.AuditConfig{Cipher: config.CipherChaCha20Poly1305, KeyMode: config.KeyModeEphemeral})
		require.NoError(t, err)
		assert.Equal(t, config.CipherChaCha20Poly1305, sealer.Cipher())
	})

	t.Run("Derived", func(t *testing.T) {
		sealer, err := InitializeAuditSealer(config.AuditConfig{
			Cipher:    config.CipherAESGCM,
			KeyMode:   config.KeyModeDerived,
			MasterKey: "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f",
		})
		require.NoError(t, err)
		assert.Equal(t, config.KeyModeDerived, sealer.KeyMode())
	})

	t.Run("BadHex", func(t *testing.T) {
		_, err := InitializeAuditSealer(config.AuditConfig{Cipher: config.CipherAESGCM, KeyMode: config.KeyModeDerived, MasterKey: "zz"})
		assert.ErrorContains(t, err, "hex encoded")
	})

	t.Run("UnknownCipher", func(t *testing.T) {
		_, err := InitializeAuditSealer(config.AuditConfig{Cipher: "des", KeyMode: config.KeyModeEphemeral})
		assert.ErrorContains(t, err, "failed to initialize audit sealer")
	})
}
