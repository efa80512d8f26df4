package threatfeed

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/phishscope/internal/analysis/core"
	"github.com/xkilldash9x/phishscope/internal/network"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultEndpoint is the Safe Browsing v4 lookup API.
const DefaultEndpoint = "https://safebrowsing.googleapis.com/v4/threatMatches:find"

const maxResponseBytes = 1 << 20

var defaultThreatTypes = []string{
	"MALWARE",
	"SOCIAL_ENGINEERING",
	"UNWANTED_SOFTWARE",
	"POTENTIALLY_HARMFUL_APPLICATION",
}

// SafeBrowsingConfig configures the lookup client.
type SafeBrowsingConfig struct {
	Endpoint          string
	APIKey            string
	RequestsPerSecond float64
	Timeout           time.Duration
	ClientID          string
	ClientVersion     string
}

type threatEntry struct {
	URL string `json:"url"`
}

type findRequest struct {
	Client struct {
		ClientID      string `json:"clientId"`
		ClientVersion string `json:"clientVersion"`
	} `json:"client"`
	ThreatInfo struct {
		ThreatTypes      []string      `json:"threatTypes"`
		PlatformTypes    []string      `json:"platformTypes"`
		ThreatEntryTypes []string      `json:"threatEntryTypes"`
		ThreatEntries    []threatEntry `json:"threatEntries"`
	} `json:"threatInfo"`
}

type findResponse struct {
	Matches []struct {
		ThreatType string      `json:"threatType"`
		Threat     threatEntry `json:"threat"`
	} `json:"matches"`
}

// SafeBrowsingClient queries a Safe Browsing v4 compatible service. Outbound
// calls share one token bucket so a burst of scans cannot exceed the quota.
type SafeBrowsingClient struct {
	cfg     SafeBrowsingConfig
	client  *network.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewSafeBrowsingClient creates the client.
func NewSafeBrowsingClient(cfg SafeBrowsingConfig, client *network.Client, logger *zap.Logger) *SafeBrowsingClient {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "phishscope"
	}
	if cfg.ClientVersion == "" {
		cfg.ClientVersion = "1.0"
	}
	if client == nil {
		client = network.NewClient(network.NewDefaultClientConfig())
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SafeBrowsingClient{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		logger:  logger.Named("safebrowsing"),
	}
}

// Check reports the first match for rawURL, or a safe report when there is none.
func (c *SafeBrowsingClient) Check(ctx context.Context, rawURL string) (*core.ThreatReport, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	var body findRequest
	body.Client.ClientID = c.cfg.ClientID
	body.Client.ClientVersion = c.cfg.ClientVersion
	body.ThreatInfo.ThreatTypes = defaultThreatTypes
	body.ThreatInfo.PlatformTypes = []string{"ANY_PLATFORM"}
	body.ThreatInfo.ThreatEntryTypes = []string{"URL"}
	body.ThreatInfo.ThreatEntries = []threatEntry{{URL: rawURL}}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lookup request: %w", err)
	}

	endpoint, err := url.Parse(c.cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid threat feed endpoint: %w", err)
	}
	if c.cfg.APIKey != "" {
		q := endpoint.Query()
		q.Set("key", c.cfg.APIKey)
		endpoint.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("threat feed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("threat feed returned status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var found findResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&found); err != nil {
		return nil, fmt.Errorf("failed to decode threat feed response: %w", err)
	}

	if len(found.Matches) == 0 {
		return &core.ThreatReport{IsSafe: true}, nil
	}
	c.logger.Info("Threat feed match.", zap.String("url", rawURL), zap.String("threat_type", found.Matches[0].ThreatType))
	return &core.ThreatReport{IsSafe: false, ThreatType: found.Matches[0].ThreatType}, nil
}
