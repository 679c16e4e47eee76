package narrative

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"fleet-telemetry-pipeline/shared/config"
)

// Client calls the narrative service that turns per-trip driving stats into
// a short human-readable summary. Callers must treat failures as soft and
// fall back to a template; the pipeline never blocks on this dependency.
type Client struct {
	baseURL  string
	timeout  time.Duration
	retryMax int
	http     *http.Client
	breaker  *circuitBreaker
}

type SummaryRequest struct {
	DeviceID        string  `json:"device_id"`
	DurationMinutes float64 `json:"duration_minutes"`
	DistanceKM      float64 `json:"distance_km"`
	HarshBraking    int     `json:"harsh_braking"`
	HarshAccel      int     `json:"harsh_acceleration"`
	HarshCornering  int     `json:"harsh_cornering"`
	Score           int     `json:"score"`
}

type SummaryResponse struct {
	Summary string `json:"summary"`
}

func New(cfg config.Config) (*Client, error) {
	if cfg.NarrativeServiceURL == "" {
		return nil, errors.New("NARRATIVE_SERVICE_URL is required")
	}
	timeout := time.Duration(cfg.NarrativeTimeoutMS) * time.Millisecond
	return &Client{
		baseURL:  cfg.NarrativeServiceURL,
		timeout:  timeout,
		retryMax: cfg.NarrativeRetryMax,
		http:     &http.Client{Timeout: timeout},
		breaker:  newCircuitBreaker(5, 30*time.Second),
	}, nil
}

func (c *Client) Summarize(ctx context.Context, req SummaryRequest) (string, error) {
	if c == nil || c.http == nil {
		return "", errors.New("narrative client not initialized")
	}
	if c.breaker.Open() {
		return "", errors.New("narrative circuit open")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	var lastErr error
	for attempt := 0; attempt <= c.retryMax; attempt++ {
		reqHTTP, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/trips/summary", bytes.NewReader(body))
		if err != nil {
			return "", err
		}
		reqHTTP.Header.Set("Content-Type", "application/json")
		resp, err := c.http.Do(reqHTTP)
		if err != nil {
			lastErr = err
			c.breaker.Fail()
			continue
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = errors.New("narrative service error")
			c.breaker.Fail()
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return "", errors.New("narrative request failed")
		}
		var out SummaryResponse
		err = json.NewDecoder(resp.Body).Decode(&out)
		resp.Body.Close()
		if err != nil {
			c.breaker.Fail()
			return "", err
		}
		c.breaker.Success()
		return out.Summary, nil
	}
	if lastErr == nil {
		lastErr = errors.New("narrative request failed")
	}
	return "", lastErr
}

type circuitBreaker struct {
	mu            sync.Mutex
	failures      int
	openUntil     time.Time
	threshold     int
	resetDuration time.Duration
}

func newCircuitBreaker(threshold int, reset time.Duration) *circuitBreaker {
	return &circuitBreaker{threshold: threshold, resetDuration: reset}
}

func (b *circuitBreaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openUntil.IsZero() {
		return false
	}
	if time.Now().After(b.openUntil) {
		b.openUntil = time.Time{}
		b.failures = 0
		return false
	}
	return true
}

func (b *circuitBreaker) Fail() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= b.threshold {
		b.openUntil = time.Now().Add(b.resetDuration)
	}
}

func (b *circuitBreaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.openUntil = time.Time{}
}
