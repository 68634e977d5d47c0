package browserrelay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// upstreamTimeout is the wall cap on one forwarded call. Failures become
// 502 at the relay boundary, never a hung browser request.
const upstreamTimeout = 5 * time.Second

// maxUpstreamBody bounds how much of an upstream response is mirrored.
const maxUpstreamBody = 1 << 20

// Upstream forwards validated browser payloads to the error tracker and
// the metrics collector with their server-side API keys.
type Upstream struct {
	errorTrackerURL string
	errorTrackerKey string
	metricsURL      string
	metricsKey      string
	client          *http.Client
}

// NewUpstream creates the forwarding client.
func NewUpstream(errorTrackerURL, errorTrackerKey, metricsURL, metricsKey string) *Upstream {
	return &Upstream{
		errorTrackerURL: errorTrackerURL,
		errorTrackerKey: errorTrackerKey,
		metricsURL:      metricsURL,
		metricsKey:      metricsKey,
		client:          &http.Client{Timeout: upstreamTimeout},
	}
}

// PostError forwards one error payload. It returns the upstream status
// and body so 2xx responses can be mirrored to the browser.
func (u *Upstream) PostError(ctx context.Context, payload any) (int, []byte, error) {
	return u.post(ctx, u.errorTrackerURL+"/api/errors", u.errorTrackerKey, payload)
}

// PostMetrics forwards one enriched metrics batch.
func (u *Upstream) PostMetrics(ctx context.Context, payload any) (int, []byte, error) {
	return u.post(ctx, u.metricsURL+"/api/metrics", u.metricsKey, payload)
}

func (u *Upstream) post(ctx context.Context, url, apiKey string, payload any) (int, []byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal upstream payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", apiKey)

	resp, err := u.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("upstream %s: %w", url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	if err != nil {
		return 0, nil, fmt.Errorf("read upstream response: %w", err)
	}
	return resp.StatusCode, data, nil
}
