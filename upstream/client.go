// Package upstream implements the single bounded-timeout lookup call to
// the authoritative knowledge service consulted on a cache miss.
package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"scedge.app/pkg/apperr"
	"scedge.app/pkg/models"
)

// LookupResult is the decoded shape of a successful upstream response.
type LookupResult struct {
	Artifact            models.ArtifactPayload `json:"artifact"`
	ExpiresAt           *time.Time             `json:"expires_at,omitempty"`
	TTLRemainingSeconds *int64                 `json:"ttl_remaining_seconds,omitempty"`
}

// Client issues lookups against the upstream base URL, rate-limited the
// same way the teacher throttles outbound origin calls in warming/service.go.
type Client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
}

// NewClient builds a client bounded by timeout per call and maxRPS
// outbound requests per second. maxRPS <= 0 disables throttling.
func NewClient(baseURL string, timeout time.Duration, maxRPS float64) *Client {
	var limiter *rate.Limiter
	if maxRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(maxRPS), int(maxRPS)+1)
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		limiter:    limiter,
	}
}

// Lookup calls <base_url>/lookup?key=...[&tenant=...]. A 404 is reported
// as (nil, nil); any other non-2xx status or transport/parse failure is
// Internal.
func (c *Client) Lookup(ctx context.Context, key string, tenant *string) (*LookupResult, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, apperr.Internal(err, "upstream rate limiter: %v", err)
		}
	}

	q := url.Values{}
	q.Set("key", key)
	if tenant != nil && *tenant != "" {
		q.Set("tenant", *tenant)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/lookup?"+q.Encode(), nil)
	if err != nil {
		return nil, apperr.Internal(err, "failed to build upstream request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperr.Internal(err, "upstream request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperr.Internal(nil, "upstream returned status %d", resp.StatusCode)
	}

	var result LookupResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, apperr.Internal(err, "failed to decode upstream response: %v", err)
	}
	return &result, nil
}
