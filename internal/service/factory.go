// File: internal/service/factory.go
package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/xkilldash9x/phishscope/internal/audit"
	"github.com/xkilldash9x/phishscope/internal/config"
	"github.com/xkilldash9x/phishscope/internal/observability"
	"github.com/xkilldash9x/phishscope/internal/pipeline"
	"github.com/xkilldash9x/phishscope/internal/scoring"
	"github.com/xkilldash9x/phishscope/internal/security"
	"github.com/xkilldash9x/phishscope/internal/server"
	"github.com/xkilldash9x/phishscope/internal/store"
)

// ComponentFactory creates the full set of components behind the pipeline.
// This abstraction is the key to making the commands testable.
type ComponentFactory interface {
	Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error)
}

// StoreOpener connects the audit database sink.
type StoreOpener func(ctx context.Context, databaseURL string, logger *zap.Logger) (*store.Store, error)

// concreteFactory is the production implementation of the ComponentFactory.
type concreteFactory struct {
	clock     clockwork.Clock
	openStore StoreOpener
}

// NewComponentFactory creates a new production-ready component factory.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{
		clock:     clockwork.NewRealClock(),
		openStore: store.Open,
	}
}

// Create handles the full dependency injection and initialization of components.
func (f *concreteFactory) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error) {
	if logger == nil {
		logger = observability.GetLogger()
	}
	components := &Components{sweeperWG: &sync.WaitGroup{}}

	// Ensure cleanup happens if initialization fails midway.
	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			components.Shutdown()
		}
	}()

	// 1. Outbound HTTP client
	components.HTTPClient = InitializeHTTPClient(cfg.Network(), logger)
	logger.Debug("HTTP client initialized.")

	// 2. Analyzers and aggregator
	analyzers, err := InitializeAnalyzers(cfg, components.HTTPClient, f.clock, logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize analyzers: %w", err)
		return nil, initializationErr
	}
	components.Aggregator = scoring.NewAggregator(analyzers, cfg.Scoring().AnalyzerTimeout, logger)
	logger.Debug("Score aggregator initialized.", zap.Int("analyzers", len(analyzers)))

	// 3. Admission control
	sec := cfg.Security()
	components.Sessions = security.NewSessionStore(sec.Session.IdleTimeout, f.clock, logger)
	components.Limiter = security.NewRateLimiter(sec.RateLimit.MaxRequests, sec.RateLimit.Window, f.clock, logger)
	logger.Debug("Session store and rate limiter initialized.")

	// 4. Audit sealer and sinks
	auditCfg := cfg.Audit()
	sealer, err := InitializeAuditSealer(auditCfg)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}
	components.AuditSealer = sealer

	var sinks []audit.Sink
	if auditCfg.LogFile != "" {
		components.auditWriter = observability.NewRotatingWriter(auditCfg.LogFile, auditCfg.MaxSize, auditCfg.MaxBackups, 0, false)
		sinks = append(sinks, audit.NewFileSink(components.auditWriter))
		logger.Debug("Audit file sink initialized.", zap.String("path", auditCfg.LogFile))
	}
	if auditCfg.DatabaseURL != "" {
		dbStore, err := f.openStore(ctx, auditCfg.DatabaseURL, logger)
		if err != nil {
			initializationErr = fmt.Errorf("failed to initialize audit database: %w", err)
			return nil, initializationErr
		}
		// Add to components immediately so the deferred Shutdown can close it if later steps fail.
		components.Store = dbStore
		sinks = append(sinks, dbStore)
		logger.Debug("Audit database sink initialized.")
	}
	if len(sinks) == 0 {
		logger.Warn("No audit sink configured; verdicts will not be recorded. Set audit.log_file or PHISHSCOPE_AUDIT_DATABASE_URL.")
	}
	components.Audit = audit.NewLogger(sealer, sinks, f.clock, logger)

	// 5. Pipeline
	p, err := pipeline.New(components.Sessions, components.Limiter, components.Aggregator, components.Audit, logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to create pipeline: %w", err)
		return nil, initializationErr
	}
	components.Pipeline = p
	components.Handlers = server.NewHandlers(logger, p, components.Sessions, components.Limiter)
	logger.Debug("Scoring pipeline initialized.")

	// 6. Sweeper
	// Use a detached context; Shutdown owns the sweeper's lifetime.
	sweepCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	components.sweeperCancel = cancel
	StartSweeper(sweepCtx, components.sweeperWG, f.clock, sec.Session.SweepInterval, logger, components.Sessions, components.Limiter)

	logger.Info("All components initialized successfully.")
	return components, nil
}
