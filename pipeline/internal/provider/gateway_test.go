package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"fleet-telemetry-pipeline/shared/config"
	"fleet-telemetry-pipeline/shared/logx"
)

func testGateway(t *testing.T, url string) *Gateway {
	t.Helper()
	cfg := config.Config{
		ProviderAPIURL:       url,
		ProviderTimeoutMS:    2000,
		ProviderRateRPS:      1000,
		ProviderBurst:        1000,
		ProviderRetryMax:     3,
		ProviderRetryDelayMS: 1,
	}
	g, err := NewGateway(cfg, logx.New("test", "test", "", "error"))
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	return g
}

func TestCallDecodesRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("action"); got != ActionLogin {
			t.Errorf("action = %q", got)
		}
		w.Write([]byte(`{"status":0,"record":{"access_token":"tok","server_id":"s1","expires_in":3600}}`))
	}))
	defer srv.Close()

	var rec LoginRecord
	if err := testGateway(t, srv.URL).Call(context.Background(), ActionLogin, nil, &rec); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if rec.AccessToken != "tok" || rec.ServerID != "s1" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestCallNonRetryableStatusFailsFast(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"status":10001,"cause":"token expired"}`))
	}))
	defer srv.Close()

	err := testGateway(t, srv.URL).Call(context.Background(), ActionQueryTrips, nil, nil)
	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if perr.Status != StatusInvalidToken {
		t.Fatalf("status = %d", perr.Status)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("expected 1 call, got %d", n)
	}
}

func TestCallRetriesRateLimit(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.Write([]byte(`{"status":10023,"cause":"too many requests"}`))
			return
		}
		w.Write([]byte(`{"status":0}`))
	}))
	defer srv.Close()

	if err := testGateway(t, srv.URL).Call(context.Background(), ActionLastPosition, nil, nil); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if n := calls.Load(); n != 3 {
		t.Fatalf("expected 3 calls, got %d", n)
	}
}

func TestCallExhaustsRetries(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := testGateway(t, srv.URL).Call(context.Background(), ActionQueryTrack, nil, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if n := calls.Load(); n != 4 {
		t.Fatalf("expected 4 calls, got %d", n)
	}
}

func TestBucketDelaysPastBurst(t *testing.T) {
	b := newBucket(100, 2)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 2; i++ {
		if err := b.wait(ctx); err != nil {
			t.Fatalf("wait: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 5*time.Millisecond {
		t.Fatalf("burst should be immediate, took %v", elapsed)
	}

	if err := b.wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 5*time.Millisecond {
		t.Fatalf("third call should wait for refill, took %v", elapsed)
	}
}

func TestBucketHonorsContext(t *testing.T) {
	b := newBucket(0.001, 1)
	ctx := context.Background()
	if err := b.wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	if err := b.wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
