// File: internal/service/initializers.go
package service

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/xkilldash9x/phishscope/internal/analysis/brand"
	"github.com/xkilldash9x/phishscope/internal/analysis/core"
	"github.com/xkilldash9x/phishscope/internal/analysis/domain"
	"github.com/xkilldash9x/phishscope/internal/analysis/redirect"
	"github.com/xkilldash9x/phishscope/internal/analysis/structure"
	"github.com/xkilldash9x/phishscope/internal/analysis/threatfeed"
	"github.com/xkilldash9x/phishscope/internal/audit"
	"github.com/xkilldash9x/phishscope/internal/config"
	"github.com/xkilldash9x/phishscope/internal/network"
)

// Sweeper reclaims memory held by expired entries and reports how many it dropped.
type Sweeper interface {
	Sweep() int
}

// InitializeHTTPClient builds the shared outbound client. It never follows
// redirects; analyzers that need to do so walk the chain themselves.
func InitializeHTTPClient(cfg config.NetworkConfig, logger *zap.Logger) *network.Client {
	clientCfg := network.NewDefaultClientConfig()
	if cfg.Timeout > 0 {
		clientCfg.RequestTimeout = cfg.Timeout
	}
	if cfg.UserAgent != "" {
		clientCfg.UserAgent = cfg.UserAgent
	}
	clientCfg.IgnoreTLSErrors = cfg.IgnoreTLSErrors
	clientCfg.Logger = logger.Named("http_client")
	if cfg.IgnoreTLSErrors {
		logger.Warn("TLS verification is disabled; the domain analyzer will treat untrusted certificates as valid TLS.")
	}
	return network.NewClient(clientCfg)
}

// InitializeAgeOracle returns the registration-age source named by the config.
func InitializeAgeOracle(cfg config.DomainConfig, clock clockwork.Clock, logger *zap.Logger) (domain.AgeOracle, error) {
	switch cfg.AgeOracle {
	case "", "none":
		logger.Debug("Registration age lookups disabled.")
		return domain.NoopOracle{}, nil
	case "rdap":
		logger.Info("Initializing RDAP registration-age oracle.", zap.String("endpoint", cfg.RDAPEndpoint))
		return domain.NewRDAPOracle(cfg.RDAPEndpoint, nil, cfg.RDAPTimeout, clock, logger), nil
	default:
		return nil, fmt.Errorf("unsupported age oracle: %s", cfg.AgeOracle)
	}
}

// InitializeThreatChecker returns the reputation lookup client, or nil when
// the feed is disabled. Without a checker only caller-supplied reports count.
func InitializeThreatChecker(cfg config.ThreatFeedConfig, client *network.Client, logger *zap.Logger) threatfeed.Checker {
	if !cfg.Enabled {
		return nil
	}
	if cfg.APIKey == "" {
		logger.Warn("Threat feed enabled without an API key. Ensure PHISHSCOPE_THREAT_FEED_API_KEY is set.")
	}
	return threatfeed.NewSafeBrowsingClient(threatfeed.SafeBrowsingConfig{
		Endpoint:          cfg.Endpoint,
		APIKey:            cfg.APIKey,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Timeout:           cfg.Timeout,
	}, client, logger)
}

// InitializeAnalyzers builds the five analyzers in verdict order: structure,
// domain, brand, redirect, threat feed.
func InitializeAnalyzers(cfg config.Interface, client *network.Client, clock clockwork.Clock, logger *zap.Logger) ([]core.Analyzer, error) {
	oracle, err := InitializeAgeOracle(cfg.Domain(), clock, logger)
	if err != nil {
		return nil, err
	}
	prober := domain.NewHTTPSProber(client, cfg.Domain().TLSProbeTimeout, logger)

	return []core.Analyzer{
		structure.NewAnalyzer(logger),
		domain.NewAnalyzer(nil, prober, oracle, logger),
		brand.NewDetector(brand.DefaultBrands, logger),
		redirect.NewAnalyzer(client, cfg.Redirect().MaxHops, cfg.Redirect().Timeout, logger),
		threatfeed.NewAdapter(InitializeThreatChecker(cfg.ThreatFeed(), client, logger), logger),
	}, nil
}

// InitializeAuditSealer decodes the master key when one is needed.
func InitializeAuditSealer(cfg config.AuditConfig) (*audit.Sealer, error) {
	var masterKey []byte
	if cfg.KeyMode == config.KeyModeDerived {
		var err error
		if masterKey, err = hex.DecodeString(cfg.MasterKey); err != nil {
			return nil, fmt.Errorf("audit master key must be hex encoded: %w", err)
		}
	}
	sealer, err := audit.NewSealer(cfg.Cipher, cfg.KeyMode, masterKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audit sealer: %w", err)
	}
	return sealer, nil
}

// StartSweeper launches a goroutine that calls every sweeper once per
// interval until ctx is cancelled. It manages its lifecycle using wg.
func StartSweeper(ctx context.Context, wg *sync.WaitGroup, clock clockwork.Clock, interval time.Duration, logger *zap.Logger, sweepers ...Sweeper) {
	if interval <= 0 || len(sweepers) == 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Debug("Starting sweeper goroutine.", zap.Duration("interval", interval))
		defer logger.Debug("Sweeper goroutine shut down.")

		ticker := clock.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				removed := 0
				for _, s := range sweepers {
					removed += s.Sweep()
				}
				if removed > 0 {
					logger.Debug("Swept idle entries.", zap.Int("removed", removed))
				}
			}
		}
	}()
}
