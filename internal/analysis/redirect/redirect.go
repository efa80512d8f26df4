// Package redirect follows a URL's redirect chain hop by hop and scores its
// length and whether it leaves the original host.
package redirect

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/phishscope/internal/analysis/core"
	"github.com/xkilldash9x/phishscope/internal/network"
)

const (
	DefaultMaxHops = 10
	DefaultTimeout = 5 * time.Second

	longChainHops     = 3
	pointsPerHop      = 5
	maxChainPoints    = 20
	crossDomainPoints = 25
	maxDrainBodyBytes = 4 << 10
)

// Analyzer implements the redirect chain checks.
type Analyzer struct {
	*core.BaseAnalyzer
	client  *network.Client
	maxHops int
	timeout time.Duration
}

// NewAnalyzer creates a redirect analyzer. The client must not follow
// redirects on its own; network.NewClient's default satisfies that.
func NewAnalyzer(client *network.Client, maxHops int, timeout time.Duration, logger *zap.Logger) *Analyzer {
	if client == nil {
		client = network.NewClient(network.NewDefaultClientConfig())
	}
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Analyzer{
		BaseAnalyzer: core.NewBaseAnalyzer("redirect", "Follows the redirect chain and scores length and cross-domain jumps", core.TypeNetwork, logger),
		client:       client,
		maxHops:      maxHops,
		timeout:      timeout,
	}
}

// Analyze traces the chain and scores it. A network failure anywhere in the
// chain yields an empty signal and no trace.
func (a *Analyzer) Analyze(ctx context.Context, target *core.Target) (*core.Result, error) {
	if target.Malformed() {
		return nil, core.ErrMalformedURL
	}

	trace, err := a.Trace(ctx, target.URL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.Logger.Debug("Redirect trace failed, treating chain as unknown.", zap.String("url", target.Raw), zap.Error(err))
		return &core.Result{}, nil
	}

	var sig core.Signal
	if trace.Count > longChainHops {
		sig.Addf(min(trace.Count*pointsPerHop, maxChainPoints), "long redirect chain (%d hops)", trace.Count)
	}
	if final, err := url.Parse(trace.FinalURL); err == nil {
		finalHost := normalizeHost(final.Hostname())
		if finalHost != "" && finalHost != target.Host {
			sig.Addf(crossDomainPoints, "redirects to different host %s", finalHost)
		}
	}

	return &core.Result{Signal: sig, Redirect: trace}, nil
}

// Trace requests start and follows Location headers until a non-redirect
// response or maxHops redirects, all within the analyzer timeout.
func (a *Analyzer) Trace(ctx context.Context, start *url.URL) (*core.RedirectTrace, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	current := start
	trace := &core.RedirectTrace{FinalURL: start.String()}

	for trace.Count < a.maxHops {
		next, err := a.hop(ctx, current)
		if err != nil {
			return nil, err
		}
		if next == nil {
			break
		}
		trace.Count++
		current = next
		trace.FinalURL = current.String()
	}
	return trace, nil
}

// hop fetches u and returns the redirect target, or nil if the response is not a redirect.
func (a *Analyzer) hop(ctx context.Context, u *url.URL) (*url.URL, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", u.Redacted(), err)
	}
	defer resp.Body.Close()
	// Drain a little so the connection can be reused for same-host hops.
	_, _ = io.CopyN(io.Discard, resp.Body, maxDrainBodyBytes)

	if !isRedirect(resp.StatusCode) {
		return nil, nil
	}
	next, err := resp.Location()
	if err != nil {
		// A redirect status without a usable Location ends the chain here.
		return nil, nil
	}
	if next.Scheme != "http" && next.Scheme != "https" {
		return nil, nil
	}
	return next, nil
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func normalizeHost(h string) string {
	return strings.TrimSuffix(strings.ToLower(h), ".")
}
