package redirect

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/phishscope/internal/analysis/core"
	"github.com/xkilldash9x/phishscope/internal/network"
)

// routedClient returns a non-following client that dials srv for every host,
// so handlers can branch on r.Host.
func routedClient(srv *httptest.Server) *network.Client {
	client := network.NewClient(network.NewDefaultClientConfig())
	addr := srv.Listener.Addr().String()
	dialer := &net.Dialer{Timeout: time.Second}
	client.Transport = &http.Transport{
		DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, addr)
		},
	}
	return client
}

// chainHandler redirects /hop/N to /hop/N-1 on the same host and answers 200 at /hop/0.
func chainHandler(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.Host, "landing.example") {
		w.WriteHeader(http.StatusOK)
		return
	}
	switch {
	case r.URL.Path == "/away":
		http.Redirect(w, r, "http://landing.example/welcome", http.StatusFound)
	case r.URL.Path == "/loop":
		http.Redirect(w, r, "/loop", http.StatusTemporaryRedirect)
	case r.URL.Path == "/nolocation":
		w.WriteHeader(http.StatusMovedPermanently)
	case r.URL.Path == "/mailto":
		w.Header().Set("Location", "mailto:victim@example.com")
		w.WriteHeader(http.StatusFound)
	case strings.HasPrefix(r.URL.Path, "/hop/"):
		n, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/hop/"))
		if err != nil || n <= 0 {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.Redirect(w, r, fmt.Sprintf("/hop/%d", n-1), http.StatusMovedPermanently)
	default:
		w.WriteHeader(http.StatusOK)
	}
}

func TestAnalyzer_Analyze(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(chainHandler))
	defer srv.Close()

	tests := []struct {
		name           string
		url            string
		wantCount      int
		wantFinal      string
		wantScore      int
		wantIndicators []string
	}{
		{
			name:      "no redirect",
			url:       "http://start.example/",
			wantFinal: "http://start.example/",
		},
		{
			name:      "three hops is not long",
			url:       "http://start.example/hop/3",
			wantCount: 3,
			wantFinal: "http://start.example/hop/0",
		},
		{
			name:           "four hops",
			url:            "http://start.example/hop/4",
			wantCount:      4,
			wantFinal:      "http://start.example/hop/0",
			wantScore:      20,
			wantIndicators: []string{"long redirect chain (4 hops)"},
		},
		{
			name:           "chain capped at max hops",
			url:            "http://start.example/loop",
			wantCount:      10,
			wantFinal:      "http://start.example/loop",
			wantScore:      20,
			wantIndicators: []string{"long redirect chain (10 hops)"},
		},
		{
			name:           "cross domain jump",
			url:            "http://start.example/away",
			wantCount:      1,
			wantFinal:      "http://landing.example/welcome",
			wantScore:      25,
			wantIndicators: []string{"redirects to different host landing.example"},
		},
		{
			name:      "redirect without location ends the chain",
			url:       "http://start.example/nolocation",
			wantFinal: "http://start.example/nolocation",
		},
		{
			name:      "non web location ends the chain",
			url:       "http://start.example/mailto",
			wantFinal: "http://start.example/mailto",
		},
	}

	a := NewAnalyzer(routedClient(srv), 0, time.Second, zaptest.NewLogger(t))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := a.Analyze(context.Background(), core.NewTarget(tt.url, nil))
			require.NoError(t, err)
			require.NotNil(t, res.Redirect)

			assert.Equal(t, tt.wantCount, res.Redirect.Count)
			assert.Equal(t, tt.wantFinal, res.Redirect.FinalURL)
			assert.Equal(t, tt.wantScore, res.Signal.Score)
			assert.Equal(t, tt.wantIndicators, res.Signal.Indicators)
		})
	}
}

func TestAnalyzer_NetworkErrorIsUnknown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	a := NewAnalyzer(nil, 0, time.Second, zaptest.NewLogger(t))
	res, err := a.Analyze(context.Background(), core.NewTarget("http://"+addr+"/", nil))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Signal.Score)
	assert.Empty(t, res.Signal.Indicators)
	assert.Nil(t, res.Redirect)
}

func TestAnalyzer_TimeoutIsUnknown(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	a := NewAnalyzer(nil, 0, 50*time.Millisecond, zaptest.NewLogger(t))
	res, err := a.Analyze(context.Background(), core.NewTarget(srv.URL, nil))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Signal.Score)
	assert.Nil(t, res.Redirect)
}

func TestAnalyzer_CallerCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(chainHandler))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := NewAnalyzer(routedClient(srv), 0, time.Second, zaptest.NewLogger(t))
	_, err := a.Analyze(ctx, core.NewTarget("http://start.example/hop/2", nil))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAnalyzer_Malformed(t *testing.T) {
	a := NewAnalyzer(nil, 0, 0, zaptest.NewLogger(t))
	_, err := a.Analyze(context.Background(), core.NewTarget("not a url", nil))
	assert.ErrorIs(t, err, core.ErrMalformedURL)
}
