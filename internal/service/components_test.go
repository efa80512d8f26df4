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
)

func TestTimedWait(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		wg := &sync.WaitGroup{}
		wg.Add(1)
		go func() {
			time.Sleep(10 * time.Millisecond)
			wg.Done()
		}()
		assert.True(t, timedWait(wg, 1*time.Second), "timedWait should return true when wait completes")
	})

	t.Run("Timeout", func(t *testing.T) {
		wg := &sync.WaitGroup{}
		wg.Add(1)
		assert.False(t, timedWait(wg, 10*time.Millisecond), "timedWait should return false on timeout")
		wg.Done()
	})
}

func TestComponents_Shutdown(t *testing.T) {
	t.Run("StopsSweeper", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		wg := &sync.WaitGroup{}
		clock := clockwork.NewFakeClock()
		sweeper := &countingSweeper{}
		StartSweeper(ctx, wg, clock, time.Minute, zap.NewNop(), sweeper)

		components := &Components{sweeperCancel: cancel, sweeperWG: wg}
		components.Shutdown()

		assert.True(t, timedWait(wg, 10*time.Millisecond), "the sweeper goroutine has exited")
		assert.ErrorIs(t, ctx.Err(), context.Canceled)
	})

	t.Run("PartiallyInitialized", func(t *testing.T) {
		components := &Components{}
		require.NotPanics(t, components.Shutdown)
	})
}
