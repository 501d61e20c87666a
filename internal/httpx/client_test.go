package httpx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devtaskhq/devtask/internal/resilience"
)

func TestClientSetsCorrelationID(t *testing.T) {
	seen := make(chan string, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Header.Get("X-Request-ID")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL}, nil, nil)

	for i := 0; i < 2; i++ {
		req, err := client.R(context.Background())
		require.NoError(t, err)
		resp, err := req.Get("/")
		require.NoError(t, err)
		require.NoError(t, CheckStatus(resp))
	}

	first, second := <-seen, <-seen
	assert.NotEmpty(t, first)
	assert.NotEmpty(t, second)
	assert.NotEqual(t, first, second, "correlation IDs are per request")
}

func TestClientRetriesTransportErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL, RetryMax: 3}, nil, nil)

	req, err := client.R(context.Background())
	require.NoError(t, err)
	resp, err := req.Get("/")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Equal(t, int32(3), hits.Load(), "5xx responses are retried at the transport")
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL, RetryMax: 3}, nil, nil)

	req, err := client.R(context.Background())
	require.NoError(t, err)
	resp, err := req.Get("/missing")
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())

	err = CheckStatus(resp)
	var statusErr *resilience.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.Code)
}

func TestCheckStatusPassesSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL}, nil, nil)
	req, err := client.R(context.Background())
	require.NoError(t, err)
	resp, err := req.Post("/things")
	require.NoError(t, err)
	assert.NoError(t, CheckStatus(resp))
}

func TestClientRateLimiting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL, RequestsPerSecond: 20, Burst: 1}, nil, nil)

	start := time.Now()
	for i := 0; i < 3; i++ {
		req, err := client.R(context.Background())
		require.NoError(t, err)
		_, err = req.Get("/")
		require.NoError(t, err)
	}
	// Burst of 1 at 20 rps: the second and third calls wait ~50ms each.
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestClientRateLimiterHonorsContext(t *testing.T) {
	client := New(Config{RequestsPerSecond: 0.001, Burst: 1}, nil, nil)

	// Drain the single token.
	_, err := client.R(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = client.R(ctx)
	assert.Error(t, err, "a blocked limiter returns instead of hanging")
}

func TestClientBearerAuth(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL}, nil, nil)
	client.SetBearerAuth("sekrit")

	req, err := client.R(context.Background())
	require.NoError(t, err)
	_, err = req.Get("/")
	require.NoError(t, err)
	assert.Equal(t, "Bearer sekrit", got)
}
