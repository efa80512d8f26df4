package domain

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/phishscope/internal/analysis/core"
	"github.com/xkilldash9x/phishscope/internal/network"
)

// DefaultProbeTimeout bounds a single TLS probe.
const DefaultProbeTimeout = 3 * time.Second

const httpsPort = "443"

// HTTPSProber probes TLS with a HEAD request that never follows redirects.
type HTTPSProber struct {
	client  *network.Client
	timeout time.Duration
	port    string
	logger  *zap.Logger
}

// NewHTTPSProber creates a prober. The client must not follow redirects.
func NewHTTPSProber(client *network.Client, timeout time.Duration, logger *zap.Logger) *HTTPSProber {
	if client == nil {
		client = network.NewClient(network.NewDefaultClientConfig())
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPSProber{client: client, timeout: timeout, port: httpsPort, logger: logger.Named("tls_probe")}
}

// Probe sends HEAD https://host/ where host is a bare hostname or IP. Any response below 400 counts as TLS.
// Connection and certificate failures count as no TLS. Timeouts and
// anything else are unknown.
func (p *HTTPSProber) Probe(ctx context.Context, host string) *bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.Head(ctx, p.probeURL(host))
	if err != nil {
		verdict := classifyProbeError(err)
		p.logger.Debug("TLS probe failed.", zap.String("host", host), zap.Error(err), zap.Bool("conclusive", verdict != nil))
		return verdict
	}
	defer resp.Body.Close()

	return core.Bool(resp.StatusCode < http.StatusBadRequest)
}

// probeURL builds https://host/, bracketing IPv6 literals.
func (p *HTTPSProber) probeURL(host string) string {
	authority := net.JoinHostPort(host, p.port)
	if p.port == httpsPort {
		authority = strings.TrimSuffix(authority, ":"+httpsPort)
	}
	return (&url.URL{Scheme: "https", Host: authority, Path: "/"}).String()
}

func classifyProbeError(err error) *bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return nil
	}

	var (
		recordErr    tls.RecordHeaderError
		certErr      *tls.CertificateVerificationError
		authorityErr x509.UnknownAuthorityError
		hostnameErr  x509.HostnameError
		invalidErr   x509.CertificateInvalidError
		dnsErr       *net.DNSError
	)
	switch {
	case errors.Is(err, http.ErrSchemeMismatch),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.As(err, &recordErr),
		errors.As(err, &certErr),
		errors.As(err, &authorityErr),
		errors.As(err, &hostnameErr),
		errors.As(err, &invalidErr),
		errors.As(err, &dnsErr):
		return core.Bool(false)
	}
	return nil
}
