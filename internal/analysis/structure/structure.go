// Package structure scores lexical properties of a URL. It never touches the network.
package structure

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"github.com/xkilldash9x/phishscope/internal/analysis/core"
)

// Rule weights.
const (
	ipLiteralPoints     = 25
	subdomainPoints     = 10
	suspiciousTLDPoints = 15
	longHostPoints      = 10
	encodingPoints      = 15
	hyphenPoints        = 10
)

// Rule thresholds. Each rule fires when the observed value is strictly greater.
const (
	maxSubdomainLabels = 3
	maxHostLength      = 30
	maxEncodedOctets   = 3
	maxHyphens         = 2
)

// suspiciousTLDs are free or cheap TLDs heavily used for throwaway phishing hosts.
var suspiciousTLDs = map[string]struct{}{
	"tk": {}, "ml": {}, "ga": {}, "cf": {}, "gq": {}, "cc": {}, "top": {}, "xyz": {},
}

var encodedOctet = regexp.MustCompile(`%[0-9A-Fa-f]{2}`)

// Analyzer implements the lexical URL checks.
type Analyzer struct {
	*core.BaseAnalyzer
}

// NewAnalyzer creates a structure analyzer.
func NewAnalyzer(logger *zap.Logger) *Analyzer {
	return &Analyzer{
		BaseAnalyzer: core.NewBaseAnalyzer("structure", "Scores lexical and syntactic properties of the URL", core.TypeStatic, logger),
	}
}

// Analyze runs Score against the target.
func (a *Analyzer) Analyze(_ context.Context, target *core.Target) (*core.Result, error) {
	if target.Malformed() {
		return nil, core.ErrMalformedURL
	}
	return &core.Result{Signal: Score(target)}, nil
}

// Score applies every structural rule. Rules are additive and the sum is not capped here.
func Score(target *core.Target) core.Signal {
	var sig core.Signal
	host := target.Host

	if target.IsIPv4Literal() {
		sig.Add(ipLiteralPoints, "uses IP literal")
	}

	if !target.IsIPLiteral() {
		if n := SubdomainLabels(host); n > maxSubdomainLabels {
			sig.Addf(subdomainPoints, "excessive subdomains (%d labels)", n)
		}
		if tld := topLevelDomain(host); tld != "" {
			if _, ok := suspiciousTLDs[tld]; ok {
				sig.Addf(suspiciousTLDPoints, "suspicious TLD .%s", tld)
			}
		}
	}

	if len(host) > maxHostLength {
		sig.Addf(longHostPoints, "unusually long domain (%d characters)", len(host))
	}

	if n := len(encodedOctet.FindAllString(target.URL.EscapedPath(), -1)); n > maxEncodedOctets {
		sig.Addf(encodingPoints, "high encoding density (%d percent-encoded octets in path)", n)
	}

	if n := strings.Count(host, "-"); n > maxHyphens {
		sig.Addf(hyphenPoints, "multiple hyphens in hostname (%d)", n)
	}

	return sig
}

// SubdomainLabels counts the labels to the left of the registrable domain.
// Hosts without a known public suffix fall back to counting all but the last two labels.
func SubdomainLabels(host string) int {
	labels := strings.Split(host, ".")
	registrable, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		if len(labels) <= 2 {
			return 0
		}
		return len(labels) - 2
	}
	return len(labels) - len(strings.Split(registrable, "."))
}

func topLevelDomain(host string) string {
	if i := strings.LastIndexByte(host, '.'); i >= 0 && i < len(host)-1 {
		return host[i+1:]
	}
	return ""
}
