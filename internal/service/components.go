// File: internal/service/components.go
package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/phishscope/internal/audit"
	"github.com/xkilldash9x/phishscope/internal/network"
	"github.com/xkilldash9x/phishscope/internal/observability"
	"github.com/xkilldash9x/phishscope/internal/pipeline"
	"github.com/xkilldash9x/phishscope/internal/scoring"
	"github.com/xkilldash9x/phishscope/internal/security"
	"github.com/xkilldash9x/phishscope/internal/server"
	"github.com/xkilldash9x/phishscope/internal/store"
)

// sweeperStopTimeout bounds how long Shutdown waits for the sweeper goroutine.
const sweeperStopTimeout = 5 * time.Second

// Components holds every initialized service behind the scoring pipeline.
// This struct centralizes their lifecycle management.
type Components struct {
	HTTPClient  *network.Client
	Aggregator  *scoring.Aggregator
	Sessions    *security.SessionStore
	Limiter     *security.RateLimiter
	AuditSealer *audit.Sealer
	Audit       *audit.Logger
	Store       *store.Store
	Pipeline    *pipeline.Pipeline
	Handlers    *server.Handlers

	// auditWriter backs the file sink; flushed on shutdown.
	auditWriter zapcore.WriteSyncer

	sweeperCancel context.CancelFunc
	sweeperWG     *sync.WaitGroup
}

// Shutdown releases resources in reverse order of creation. It is safe to
// call on partially initialized components.
func (c *Components) Shutdown() {
	logger := observability.GetLogger()
	logger.Debug("Beginning components shutdown sequence.")

	// 1. Stop the sweeper so nothing touches the stores while they drain.
	if c.sweeperCancel != nil {
		c.sweeperCancel()
	}
	if c.sweeperWG != nil {
		if !timedWait(c.sweeperWG, sweeperStopTimeout) {
			logger.Warn("Sweeper did not stop in time.")
		} else {
			logger.Debug("Sweeper stopped.")
		}
	}

	// 2. Flush the audit file.
	if c.auditWriter != nil {
		if err := c.auditWriter.Sync(); err != nil {
			logger.Warn("Failed to sync audit log.", zap.Error(err))
		}
	}

	// 3. Close the database connection pool.
	if c.Store != nil {
		c.Store.Close()
		logger.Debug("Database connection pool closed.")
	}

	// 4. Drop idle outbound connections.
	if c.HTTPClient != nil {
		c.HTTPClient.CloseIdleConnections()
	}

	logger.Info("All components shut down successfully.")
}

// timedWait waits for wg and reports whether it finished within timeout.
func timedWait(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
