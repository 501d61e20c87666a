package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devtaskhq/devtask/internal/httpx"
	"github.com/devtaskhq/devtask/internal/logging"
	"github.com/devtaskhq/devtask/internal/queue"
	"github.com/devtaskhq/devtask/internal/resilience"
	"github.com/devtaskhq/devtask/internal/shared/paths"
)

func newTestRes(t *testing.T) *resilience.Manager {
	t.Helper()
	dir := t.TempDir()
	q := queue.NewManager(
		queue.NewStore(filepath.Join(dir, "queue.json"), logging.NewNop()),
		filepath.Join(dir, "archive"),
		queue.Config{ReplayRate: 100},
		logging.NewNop(),
		nil,
	)
	mgr, err := resilience.NewManager(resilience.ManagerConfig{
		Features: map[resilience.Feature]resilience.FeatureConfig{
			resilience.FeatureRegistry: {FailureThreshold: 10, MaxAttempts: 1},
			resilience.FeatureSync:     {FailureThreshold: 10, MaxAttempts: 1},
		},
	}, q, logging.NewNop(), nil)
	require.NoError(t, err)
	return mgr
}

func newTestHTTP(t *testing.T) *httpx.Client {
	t.Helper()
	return httpx.New(httpx.Config{Timeout: 5 * time.Second}, logging.NewNop(), nil)
}

func newTestState(t *testing.T) paths.StateDir {
	t.Helper()
	state, err := paths.Resolve(t.TempDir())
	require.NoError(t, err)
	return state
}

// registryMux serves all four public registry shapes from one server.
func registryMux(t *testing.T, paths *[]string) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if paths != nil {
			*paths = append(*paths, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/left-pad":
			fmt.Fprint(w, `{"dist-tags":{"latest":"1.3.0"}}`)
		case "/@devtaskhq/ui":
			fmt.Fprint(w, `{"dist-tags":{"latest":"2.0.1"}}`)
		case "/api/v1/crates/serde":
			fmt.Fprint(w, `{"crate":{"max_stable_version":"1.0.210","max_version":"1.0.210"}}`)
		case "/pypi/requests/json":
			fmt.Fprint(w, `{"info":{"version":"2.32.3"}}`)
		case "/p2/monolog/monolog.json":
			fmt.Fprint(w, `{"packages":{"monolog/monolog":[{"version":"3.7.0"},{"version":"3.6.0"}]}}`)
		default:
			http.NotFound(w, r)
		}
	})
}

func newTestRegistry(t *testing.T, baseURL string, mgr *resilience.Manager, state paths.StateDir) *Registry {
	t.Helper()
	cfg := RegistryConfig{NPM: baseURL, Crates: baseURL, PyPI: baseURL, Packagist: baseURL}
	return NewRegistry(cfg, newTestHTTP(t), mgr, state, logging.NewNop())
}

func TestRegistryLatestPerEcosystem(t *testing.T) {
	var seen []string
	server := httptest.NewServer(registryMux(t, &seen))
	t.Cleanup(server.Close)

	reg := newTestRegistry(t, server.URL, newTestRes(t), newTestState(t))
	ctx := context.Background()

	cases := []struct {
		ecosystem string
		name      string
		want      string
	}{
		{"npm", "left-pad", "1.3.0"},
		{"npm", "@devtaskhq/ui", "2.0.1"},
		{"cargo", "serde", "1.0.210"},
		{"poetry", "requests", "2.32.3"},
		{"composer", "monolog/monolog", "3.7.0"},
	}
	for _, tc := range cases {
		t.Run(tc.ecosystem+"/"+tc.name, func(t *testing.T) {
			got, err := reg.Latest(ctx, tc.ecosystem, tc.name)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	assert.Contains(t, seen, "/left-pad")
	assert.Contains(t, seen, "/api/v1/crates/serde")
	assert.Contains(t, seen, "/pypi/requests/json")
	assert.Contains(t, seen, "/p2/monolog/monolog.json")
}

func TestRegistryNotFoundKeepsBreakerHealthy(t *testing.T) {
	server := httptest.NewServer(registryMux(t, nil))
	t.Cleanup(server.Close)

	mgr := newTestRes(t)
	reg := newTestRegistry(t, server.URL, mgr, newTestState(t))

	_, err := reg.Latest(context.Background(), "npm", "definitely-not-published")
	require.ErrorIs(t, err, ErrNotFound)
	assert.True(t, mgr.Healthy(resilience.FeatureRegistry),
		"an authoritative 404 is an answer, not a registry failure")
}

func TestRegistryUnsupportedEcosystem(t *testing.T) {
	reg := newTestRegistry(t, "http://unused.test", newTestRes(t), newTestState(t))

	_, err := reg.Latest(context.Background(), "maven", "org.apache.commons:commons-lang3")
	assert.ErrorIs(t, err, ErrUnsupportedEcosystem)
}

func TestRegistryFallsBackToCachedVersion(t *testing.T) {
	server := httptest.NewServer(registryMux(t, nil))
	state := newTestState(t)

	live := newTestRegistry(t, server.URL, newTestRes(t), state)
	version, err := live.Latest(context.Background(), "cargo", "serde")
	require.NoError(t, err)
	require.Equal(t, "1.0.210", version)

	// Same state dir, unreachable registry: the cached answer serves.
	deadURL := server.URL
	server.Close()
	offline := newTestRegistry(t, deadURL, newTestRes(t), state)

	version, err = offline.Latest(context.Background(), "cargo", "serde")
	require.NoError(t, err)
	assert.Equal(t, "1.0.210", version)
}

func TestRegistryNoCacheNoAnswerFails(t *testing.T) {
	server := httptest.NewServer(registryMux(t, nil))
	deadURL := server.URL
	server.Close()

	reg := newTestRegistry(t, deadURL, newTestRes(t), newTestState(t))

	_, err := reg.Latest(context.Background(), "npm", "left-pad")
	require.Error(t, err)
}

func TestVersionCacheRoundTrip(t *testing.T) {
	cache := newVersionCache(newTestState(t), logging.NewNop())

	_, ok := cache.Get("npm", "left-pad")
	assert.False(t, ok)

	cache.Put("npm", "left-pad", "1.3.0")

	version, ok := cache.Get("npm", "left-pad")
	require.True(t, ok)
	assert.Equal(t, "1.3.0", version)

	// A different package never collides.
	_, ok = cache.Get("npm", "right-pad")
	assert.False(t, ok)
}
