package core

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Policy constants for score fusion.
const (
	// MaxScore caps the fused score.
	MaxScore = 100
	// PhishingThreshold is the inclusive lower bound for a phishing verdict.
	PhishingThreshold = 70
)

// ErrMalformedURL is returned by analyzers that need a parsed URL when the target has none.
var ErrMalformedURL = errors.New("malformed URL")

// Signal is the output of one analyzer: a non-negative score and the
// human-readable reasons for it, in the order they were found.
type Signal struct {
	Score      int      `json:"score"`
	Indicators []string `json:"indicators"`
}

// Add records a triggered rule.
func (s *Signal) Add(points int, indicator string) {
	if points < 0 {
		points = 0
	}
	s.Score += points
	s.Indicators = append(s.Indicators, indicator)
}

// Addf is Add with a formatted indicator.
func (s *Signal) Addf(points int, format string, args ...any) {
	s.Add(points, fmt.Sprintf(format, args...))
}

// Clone returns a copy that shares nothing with s.
func (s Signal) Clone() Signal {
	out := Signal{Score: s.Score}
	if len(s.Indicators) > 0 {
		out.Indicators = append([]string(nil), s.Indicators...)
	}
	return out
}

// DomainFacts are derived facts about the target host. Nil pointers mean unknown.
type DomainFacts struct {
	Resolvable bool  `json:"resolvable"`
	HasTLS     *bool `json:"has_tls"`
	AgeDays    *int  `json:"age_days"`
}

// RedirectTrace summarizes a followed redirect chain.
type RedirectTrace struct {
	Count    int    `json:"count"`
	FinalURL string `json:"final_url"`
}

// ThreatReport is a verdict supplied by an external reputation service.
type ThreatReport struct {
	IsSafe     bool   `json:"is_safe"`
	ThreatType string `json:"threat_type,omitempty"`
}

// Verdict is the fused result for one URL. It is built once and never mutated.
type Verdict struct {
	URL            string      `json:"url"`
	TotalScore     int         `json:"total_score"`
	IsPhishing     bool        `json:"is_phishing"`
	Indicators     []string    `json:"indicators"`
	DomainFacts    DomainFacts `json:"domain_facts"`
	RedirectCount  int         `json:"redirect_count"`
	ThreatFeedFlag *bool       `json:"threat_feed_flag"`
}

// Target is the unit of work handed to every analyzer.
type Target struct {
	// Raw is the URL exactly as submitted.
	Raw string
	// URL is nil when Raw could not be parsed into an absolute URL with a host.
	URL *url.URL
	// Host is the lower-cased hostname without port or brackets.
	Host string
	// ParseErr explains why URL is nil.
	ParseErr error
	// Threat carries a caller-supplied reputation verdict, if any.
	Threat *ThreatReport
}

// NewTarget parses raw into a Target. Parse failures are recorded on the
// Target rather than returned so that scoring can still proceed.
func NewTarget(raw string, threat *ThreatReport) *Target {
	t := &Target{Raw: raw, Threat: threat}

	u, err := url.Parse(strings.TrimSpace(raw))
	switch {
	case err != nil:
		t.ParseErr = err
	case !u.IsAbs() || u.Hostname() == "":
		t.ParseErr = fmt.Errorf("%q is not an absolute URL with a host", raw)
	case u.Scheme != "http" && u.Scheme != "https":
		t.ParseErr = fmt.Errorf("unsupported scheme %q", u.Scheme)
	default:
		t.URL = u
		t.Host = canonicalHost(u.Hostname())
	}
	return t
}

// canonicalHost lower-cases host and rewrites numeric IPv4 spellings that
// browsers connect to directly (2130706433, 127.1, 0x7f.0.0.1) as dotted quads.
func canonicalHost(hostname string) string {
	host := strings.TrimSuffix(strings.ToLower(hostname), ".")
	if net.ParseIP(host) != nil {
		return host
	}
	if ip, ok := parseLooseIPv4(host); ok {
		return ip.String()
	}
	return host
}

// parseLooseIPv4 follows the WHATWG URL IPv4 parser: one to four parts,
// each decimal, octal (leading 0) or hex (0x), with the last part filling
// the remaining bytes.
func parseLooseIPv4(host string) (net.IP, bool) {
	parts := strings.Split(host, ".")
	if len(parts) > 4 {
		return nil, false
	}
	nums := make([]uint64, len(parts))
	for i, p := range parts {
		n, ok := parseIPv4Part(p)
		if !ok {
			return nil, false
		}
		nums[i] = n
	}

	last := len(nums) - 1
	for _, n := range nums[:last] {
		if n > 255 {
			return nil, false
		}
	}
	if nums[last] >= uint64(1)<<(8*(4-last)) {
		return nil, false
	}
	v := nums[last]
	for i, n := range nums[:last] {
		v += n << (8 * (3 - i))
	}
	return net.IPv4(byte(v>>24), byte(v>>16), byte(v>>8), byte(v)), true
}

func parseIPv4Part(p string) (uint64, bool) {
	base := 10
	switch {
	case p == "":
		return 0, false
	case strings.HasPrefix(p, "0x"):
		if p = p[2:]; p == "" {
			return 0, true
		}
		base = 16
	case len(p) > 1 && p[0] == '0':
		p, base = p[1:], 8
	}
	n, err := strconv.ParseUint(p, base, 64)
	return n, err == nil
}

// Malformed reports whether the target failed to parse.
func (t *Target) Malformed() bool { return t.URL == nil }

// IsIPv4Literal reports whether the host is an IPv4 address. Numeric
// spellings were already canonicalized by NewTarget.
func (t *Target) IsIPv4Literal() bool {
	ip := net.ParseIP(t.Host)
	return ip != nil && ip.To4() != nil && !strings.Contains(t.Host, ":")
}

// IsIPLiteral reports whether the host is any IP address.
func (t *Target) IsIPLiteral() bool {
	return net.ParseIP(t.Host) != nil
}

// Result is what an analyzer returns. Only the analyzer that owns a fact fills it in.
type Result struct {
	Signal   Signal
	Domain   *DomainFacts
	Redirect *RedirectTrace
	// ThreatFlag is true when a reputation service called the URL unsafe. Nil is unknown.
	ThreatFlag *bool
}

// Bool returns a pointer to b.
func Bool(b bool) *bool { return &b }

// Int returns a pointer to i.
func Int(i int) *int { return &i }
