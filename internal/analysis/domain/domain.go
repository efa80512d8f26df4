// Package domain scores facts about the target host: whether it resolves,
// whether it serves TLS and how recently it was registered.
package domain

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/phishscope/internal/analysis/core"
)

// DefaultResolveTimeout bounds the DNS lookup.
const DefaultResolveTimeout = 3 * time.Second

const (
	unresolvablePoints = 30
	noTLSPoints        = 20
	// Hosts younger than youngDomainDays score 25 - min(age, 25).
	youngDomainDays = 30
	maxAgePoints    = 25
)

// Resolver looks up the addresses of a host. *net.Resolver satisfies it.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// TLSProber reports whether a host serves HTTPS. A nil result means the probe
// could not tell.
type TLSProber interface {
	Probe(ctx context.Context, host string) *bool
}

// AgeOracle estimates how many days ago a host was registered.
type AgeOracle interface {
	AgeDays(ctx context.Context, host string) (days int, known bool)
}

// Analyzer implements the DNS, TLS and registration-age checks.
type Analyzer struct {
	*core.BaseAnalyzer
	resolver       Resolver
	resolveTimeout time.Duration
	prober         TLSProber
	oracle         AgeOracle
}

// NewAnalyzer wires the three collaborators. A nil resolver uses the system
// resolver and a nil oracle always answers unknown.
func NewAnalyzer(resolver Resolver, prober TLSProber, oracle AgeOracle, logger *zap.Logger) *Analyzer {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	if oracle == nil {
		oracle = NoopOracle{}
	}
	return &Analyzer{
		BaseAnalyzer:   core.NewBaseAnalyzer("domain", "Checks DNS resolvability, TLS availability and registration age", core.TypeNetwork, logger),
		resolver:       resolver,
		resolveTimeout: DefaultResolveTimeout,
		prober:         prober,
		oracle:         oracle,
	}
}

// Analyze runs the three sub-checks concurrently. None of them can fail the
// analysis, and indicators are always reported as DNS, TLS, then age.
func (a *Analyzer) Analyze(ctx context.Context, target *core.Target) (*core.Result, error) {
	if target.Malformed() {
		return nil, core.ErrMalformedURL
	}
	host := target.Host

	var (
		g          errgroup.Group
		resolvable bool
		hasTLS     *bool
		ageDays    int
		ageKnown   bool
	)
	g.Go(func() error {
		resolvable = a.resolves(ctx, target)
		return nil
	})
	if a.prober != nil {
		g.Go(func() error {
			hasTLS = a.prober.Probe(ctx, host)
			return nil
		})
	}
	g.Go(func() error {
		ageDays, ageKnown = a.oracle.AgeDays(ctx, host)
		return nil
	})
	_ = g.Wait()

	var sig core.Signal
	facts := &core.DomainFacts{Resolvable: resolvable, HasTLS: hasTLS}
	if !resolvable {
		sig.Add(unresolvablePoints, "does not resolve")
	}
	if hasTLS != nil && !*hasTLS {
		sig.Add(noTLSPoints, "no TLS")
	}
	if ageKnown {
		facts.AgeDays = core.Int(ageDays)
		if ageDays < youngDomainDays {
			sig.Addf(maxAgePoints-min(ageDays, maxAgePoints), "recently registered domain (%d days old)", ageDays)
		}
	}

	return &core.Result{Signal: sig, Domain: facts}, nil
}

// resolves reports whether the host has at least one address. IP literals
// always do.
func (a *Analyzer) resolves(ctx context.Context, target *core.Target) bool {
	if target.IsIPLiteral() {
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, a.resolveTimeout)
	defer cancel()

	addrs, err := a.resolver.LookupHost(ctx, target.Host)
	if err != nil || len(addrs) == 0 {
		a.Logger.Debug("Host does not resolve.", zap.String("host", target.Host), zap.Error(err))
		return false
	}
	return true
}

// NoopOracle never knows a registration age.
type NoopOracle struct{}

// AgeDays always reports unknown.
func (NoopOracle) AgeDays(context.Context, string) (int, bool) { return 0, false }
