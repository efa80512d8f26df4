// File: cmd/session_test.go
package cmd

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/phishscope/internal/config"
	"github.com/xkilldash9x/phishscope/internal/service"
)

// startAPI serves the real handlers backed by offline components.
func startAPI(t *testing.T) (*httptest.Server, *service.Components) {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.SetAuditLogFile("")

	components, err := (&offlineFactory{}).Create(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(components.Shutdown)

	r := chi.NewRouter()
	components.Handlers.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, components
}

func TestSessionCmd_CreateAndRevoke(t *testing.T) {
	srv, components := startAPI(t)

	out, err := executeCommand(t, "session", "create", "alice", "--server", srv.URL)
	require.NoError(t, err)
	token := strings.TrimSpace(out)
	assert.Len(t, token, 32)

	sess, ok := components.Sessions.Lookup(token)
	require.True(t, ok)
	assert.Equal(t, "alice", sess.CallerID)

	out, err = executeCommand(t, "session", "revoke", token, "--server", srv.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, "revoked\n", out)

	_, ok = components.Sessions.Lookup(token)
	assert.False(t, ok)
}

func TestSessionCmd_ServerError(t *testing.T) {
	srv, _ := startAPI(t)

	_, err := executeCommand(t, "session", "create", "   ", "--server", srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server returned 400")
}

func TestSessionCmd_Unreachable(t *testing.T) {
	srv := httptest.NewServer(nil)
	url := srv.URL
	srv.Close()

	_, err := executeCommand(t, "session", "create", "alice", "--server", url)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to reach server")
}
