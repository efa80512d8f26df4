package domain

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"github.com/xkilldash9x/phishscope/internal/network"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultRDAPEndpoint is the bootstrap redirector for RDAP domain queries.
const DefaultRDAPEndpoint = "https://rdap.org/domain/"

// rdapResponse holds the part of an RDAP domain object we read.
type rdapResponse struct {
	Events []struct {
		Action string    `json:"eventAction"`
		Date   time.Time `json:"eventDate"`
	} `json:"events"`
}

// RDAPOracle answers registration age from the registry's RDAP service.
type RDAPOracle struct {
	endpoint string
	client   *network.Client
	timeout  time.Duration
	clock    clockwork.Clock
	logger   *zap.Logger
}

// NewRDAPOracle creates an oracle that queries endpoint + registrable domain.
// The client should follow redirects because rdap.org answers with one.
func NewRDAPOracle(endpoint string, client *network.Client, timeout time.Duration, clock clockwork.Clock, logger *zap.Logger) *RDAPOracle {
	if endpoint == "" {
		endpoint = DefaultRDAPEndpoint
	}
	if !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}
	if client == nil {
		cfg := network.NewDefaultClientConfig()
		cfg.FollowRedirects = true
		client = network.NewClient(cfg)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RDAPOracle{
		endpoint: endpoint,
		client:   client,
		timeout:  timeout,
		clock:    clock,
		logger:   logger.Named("rdap"),
	}
}

// AgeDays returns whole days since the registration event. Every failure is unknown.
func (o *RDAPOracle) AgeDays(ctx context.Context, host string) (int, bool) {
	registered, err := o.registrationDate(ctx, host)
	if err != nil {
		o.logger.Debug("Registration age unavailable.", zap.String("host", host), zap.Error(err))
		return 0, false
	}
	days := int(o.clock.Since(registered).Hours() / 24)
	if days < 0 {
		days = 0
	}
	return days, true
}

func (o *RDAPOracle) registrationDate(ctx context.Context, host string) (time.Time, error) {
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return time.Time{}, fmt.Errorf("no registrable domain for %q: %w", host, err)
	}

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.endpoint+domain, nil)
	if err != nil {
		return time.Time{}, err
	}
	req.Header.Set("Accept", "application/rdap+json")

	resp, err := o.client.Do(req)
	if err != nil {
		return time.Time{}, fmt.Errorf("rdap request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return time.Time{}, fmt.Errorf("rdap returned status %d", resp.StatusCode)
	}

	var body rdapResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return time.Time{}, fmt.Errorf("failed to decode rdap response: %w", err)
	}
	for _, ev := range body.Events {
		if ev.Action == "registration" && !ev.Date.IsZero() {
			return ev.Date, nil
		}
	}
	return time.Time{}, fmt.Errorf("rdap response for %s has no registration event", domain)
}
