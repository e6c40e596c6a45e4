package adapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/social-monitor/internal/monitor"
)

type stubThrottle struct {
	err   error
	calls int
}

func (s *stubThrottle) Wait(_ context.Context, key string) error {
	s.calls++
	if s.err != nil {
		return fmt.Errorf("%s: %w", key, s.err)
	}
	return nil
}

func TestClientGetJSONStatusMapping(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "test-agent" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		switch r.URL.Path {
		case "/ok":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"name":"ok"}`))
		case "/throttled":
			w.Header().Set("Retry-After", "30")
			w.WriteHeader(http.StatusTooManyRequests)
		case "/down":
			w.WriteHeader(http.StatusBadGateway)
		case "/forbidden":
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":"bad token"}`))
		case "/garbage":
			_, _ = w.Write([]byte(`{not json`))
		}
	}))
	t.Cleanup(srv.Close)

	throttle := &stubThrottle{}
	c := NewClient(monitor.PlatformReddit, srv.Client(), throttle, "test-agent")
	ctx := context.Background()

	var out struct {
		Name string `json:"name"`
	}
	require.NoError(t, c.GetJSON(ctx, srv.URL+"/ok", nil, &out))
	require.Equal(t, "ok", out.Name)

	tests := []struct {
		path   string
		kind   monitor.FetchErrorKind
		status int
	}{
		{path: "/throttled", kind: monitor.FetchRateLimited, status: http.StatusTooManyRequests},
		{path: "/down", kind: monitor.FetchTransient, status: http.StatusBadGateway},
		{path: "/forbidden", kind: monitor.FetchPermanent, status: http.StatusForbidden},
		{path: "/garbage", kind: monitor.FetchTransient},
	}
	for _, tt := range tests {
		err := c.GetJSON(ctx, srv.URL+tt.path, nil, &out)
		require.Error(t, err, tt.path)
		var fe *monitor.FetchError
		require.True(t, errors.As(err, &fe), tt.path)
		require.Equal(t, tt.kind, fe.Kind, tt.path)
		require.Equal(t, tt.status, fe.StatusCode, tt.path)
		require.Equal(t, monitor.PlatformReddit, fe.Platform)
	}
	require.Equal(t, 5, throttle.calls)
}

func TestClientThrottleRefusal(t *testing.T) {
	t.Parallel()

	c := NewClient(monitor.PlatformTwitter, nil, &stubThrottle{err: monitor.ErrRateLimited}, "")
	_, err := c.Get(context.Background(), "http://127.0.0.1:1/never", nil)
	require.ErrorIs(t, err, monitor.ErrRateLimited)
	require.Equal(t, monitor.FetchRateLimited, monitor.ClassifyFetchError(err))
}

func TestClientCancelledContext(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewClient(monitor.PlatformRSS, srv.Client(), nil, "").Get(ctx, srv.URL, nil)
	require.Error(t, err)
	require.Equal(t, monitor.FetchCancelled, monitor.ClassifyFetchError(err))
}

func TestRetryAfter(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	require.Equal(t, 30*time.Second, RetryAfter("30", now))
	require.Zero(t, RetryAfter("", now))
	require.Zero(t, RetryAfter("-5", now))
	require.Zero(t, RetryAfter("soon", now))
	require.Equal(t, 90*time.Second, RetryAfter(now.Add(90*time.Second).Format(http.TimeFormat), now))
}
