package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"structlog/pkg/logctx"
)

func TestDoReturnsResponseBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := New(Config{}, nil)
	resp, err := c.Do(context.Background(), Request{URL: srv.URL, Method: http.MethodGet})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "ok", string(resp.Data))
}

func TestDoPropagatesCorrelationHeader(t *testing.T) {
	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get(CorrelationHeader)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(Config{}, nil)
	logctx.RunScoped(context.Background(), nil, func(ctx context.Context) {
		logctx.SetCorrelationID(ctx, "abc-123")
		_, err := c.Do(ctx, Request{URL: srv.URL})
		require.NoError(t, err)
	})
	assert.Equal(t, "abc-123", gotHeader)
}

func TestDoAppliesQueryParams(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("key")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(Config{}, nil)
	_, err := c.Do(context.Background(), Request{URL: srv.URL, QueryParams: map[string]string{"key": "value"}})
	require.NoError(t, err)
	assert.Equal(t, "value", gotQuery)
}

func TestRateLimitDelaysSecondRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(Config{RateLimit: 5, RateBurst: 1}, nil)
	start := time.Now()
	for i := 0; i < 2; i++ {
		_, err := c.Do(context.Background(), Request{URL: srv.URL})
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond, "second request should have waited for the rate limiter")
}

func TestDoReturnsErrorForUnreachableHost(t *testing.T) {
	c := New(Config{RequestTimeout: 200 * time.Millisecond}, nil)
	_, err := c.Do(context.Background(), Request{URL: "http://127.0.0.1:1"})
	assert.Error(t, err, "expected an error for an unreachable host")
}
