package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"fleet-telemetry-pipeline/shared/config"
	"fleet-telemetry-pipeline/shared/logx"
	"fleet-telemetry-pipeline/shared/metricsx"
)

// Error is a non-zero status returned by the provider. Only rate limiting
// is retryable; any other status is a final answer for that call.
type Error struct {
	Action string
	Status int
	Cause  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s: status %d: %s", e.Action, e.Status, e.Cause)
}

func (e *Error) Retryable() bool {
	return e.Status == StatusRateLimited
}

// Gateway is the single chokepoint for provider traffic. Every call flows
// through one process-wide token bucket so the pipeline as a whole stays
// under the provider's request quota no matter how many sync passes run.
type Gateway struct {
	baseURL    string
	http       *http.Client
	limiter    *bucket
	retryMax   int
	retryDelay time.Duration
	log        logx.Logger
	tracer     trace.Tracer
}

func NewGateway(cfg config.Config, log logx.Logger) (*Gateway, error) {
	if cfg.ProviderAPIURL == "" {
		return nil, errors.New("PROVIDER_API_URL is required")
	}
	return &Gateway{
		baseURL:    cfg.ProviderAPIURL,
		http:       &http.Client{Timeout: time.Duration(cfg.ProviderTimeoutMS) * time.Millisecond},
		limiter:    newBucket(cfg.ProviderRateRPS, cfg.ProviderBurst),
		retryMax:   cfg.ProviderRetryMax,
		retryDelay: time.Duration(cfg.ProviderRetryDelayMS) * time.Millisecond,
		log:        log,
		tracer:     otel.Tracer("provider"),
	}, nil
}

// Call performs one provider action and decodes the record into out when
// the status is zero. Transport failures, 5xx responses and rate-limit
// statuses are retried up to the configured maximum with a fixed delay;
// every other non-zero status is returned immediately as *Error.
func (g *Gateway) Call(ctx context.Context, action string, params map[string]string, out any) error {
	ctx, span := g.tracer.Start(ctx, "provider.call",
		trace.WithAttributes(attribute.String("provider.action", action)))
	defer span.End()

	start := time.Now()
	var lastErr error
	for attempt := 0; attempt <= g.retryMax; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(g.retryDelay):
			}
		}
		if err := g.limiter.wait(ctx); err != nil {
			return err
		}

		err := g.doOnce(ctx, action, params, out)
		if err == nil {
			metricsx.IncProviderCall(action, "ok")
			metricsx.ObserveProviderCallLatency(action, time.Since(start))
			return nil
		}

		var perr *Error
		if errors.As(err, &perr) && !perr.Retryable() {
			span.SetStatus(codes.Error, perr.Error())
			metricsx.IncProviderCall(action, "error")
			metricsx.ObserveProviderCallLatency(action, time.Since(start))
			return err
		}
		lastErr = err
		g.log.Warn(ctx, "provider_call_retry", "provider call failed, retrying",
			slog.String("action", action),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()))
	}

	span.SetStatus(codes.Error, "retries exhausted")
	metricsx.IncProviderCall(action, "exhausted")
	metricsx.ObserveProviderCallLatency(action, time.Since(start))
	return fmt.Errorf("provider %s: retries exhausted: %w", action, lastErr)
}

func (g *Gateway) doOnce(ctx context.Context, action string, params map[string]string, out any) error {
	q := url.Values{}
	q.Set("action", action)
	for k, v := range params {
		q.Set(k, v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := g.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("provider %s: http %d", action, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return &Error{Action: action, Status: -resp.StatusCode, Cause: "unexpected http status"}
	}

	var env Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("provider %s: decode: %w", action, err)
	}
	if env.Status != StatusOK {
		cause := env.Cause
		if cause == "" {
			cause = env.Message
		}
		return &Error{Action: action, Status: env.Status, Cause: cause}
	}
	if out != nil && len(env.Record) > 0 {
		if err := json.Unmarshal(env.Record, out); err != nil {
			return fmt.Errorf("provider %s: record: %w", action, err)
		}
	}
	return nil
}

// bucket is a token bucket refilled continuously at rps. The reservation
// is computed under the lock but the sleep happens outside it, so a slow
// caller never blocks the refill math for everyone else.
type bucket struct {
	mu     sync.Mutex
	rps    float64
	burst  float64
	tokens float64
	last   time.Time
}

func newBucket(rps float64, burst int) *bucket {
	return &bucket{rps: rps, burst: float64(burst), tokens: float64(burst), last: time.Now()}
}

func (b *bucket) wait(ctx context.Context) error {
	b.mu.Lock()
	now := time.Now()
	b.tokens += now.Sub(b.last).Seconds() * b.rps
	if b.tokens > b.burst {
		b.tokens = b.burst
	}
	b.last = now

	var delay time.Duration
	if b.tokens >= 1 {
		b.tokens--
	} else {
		deficit := 1 - b.tokens
		delay = time.Duration(deficit / b.rps * float64(time.Second))
		b.tokens--
	}
	b.mu.Unlock()

	if delay <= 0 {
		return nil
	}
	metricsx.IncProviderRateWait()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}
