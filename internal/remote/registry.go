package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/devtaskhq/devtask/internal/httpx"
	"github.com/devtaskhq/devtask/internal/logging"
	"github.com/devtaskhq/devtask/internal/resilience"
	"github.com/devtaskhq/devtask/internal/shared/paths"
)

// Lookup errors. ErrNotFound is an authoritative registry answer, not a
// transport failure: it never counts against the circuit breaker.
var (
	ErrNotFound             = errors.New("package not found")
	ErrUnsupportedEcosystem = errors.New("no public registry for ecosystem")
)

// RegistryConfig overrides the public registry base URLs, mainly for tests.
type RegistryConfig struct {
	NPM       string
	Crates    string
	PyPI      string
	Packagist string
}

func (c RegistryConfig) withDefaults() RegistryConfig {
	if c.NPM == "" {
		c.NPM = "https://registry.npmjs.org"
	}
	if c.Crates == "" {
		c.Crates = "https://crates.io"
	}
	if c.PyPI == "" {
		c.PyPI = "https://pypi.org"
	}
	if c.Packagist == "" {
		c.Packagist = "https://repo.packagist.org"
	}
	return c
}

// Registry resolves the latest published version of packages against their
// ecosystem's public registry. Lookups go through the resilience layer and
// fall back to the version cache; they are never deferred, because stale
// metadata answered later helps nobody.
type Registry struct {
	http  *httpx.Client
	res   *resilience.Manager
	cache *versionCache
	cfg   RegistryConfig
	log   *logging.Logger
}

// NewRegistry creates the registry lookup client.
func NewRegistry(cfg RegistryConfig, http *httpx.Client, res *resilience.Manager, state paths.StateDir, log *logging.Logger) *Registry {
	if log == nil {
		log = logging.NewNop()
	}
	return &Registry{
		http:  http,
		res:   res,
		cache: newVersionCache(state, log),
		cfg:   cfg.withDefaults(),
		log:   log,
	}
}

// lookupOutcome separates "the registry answered" from how it answered, so a
// missing package records breaker success while still failing the lookup.
type lookupOutcome struct {
	version  string
	notFound bool
}

// Latest resolves the newest published version of a package. The signature
// matches scan.Lookup so the scan engine can use it directly.
func (r *Registry) Latest(ctx context.Context, ecosystem, name string) (string, error) {
	op, err := r.operation(ecosystem, name)
	if err != nil {
		return "", err
	}

	result := r.res.Perform(ctx, resilience.FeatureRegistry, op,
		resilience.WithFallback(r.cacheFallback(ecosystem, name)),
	)

	switch result.Kind() {
	case resilience.KindSuccess:
		outcome := result.Value().(lookupOutcome)
		if outcome.notFound {
			return "", fmt.Errorf("%s/%s: %w", ecosystem, name, ErrNotFound)
		}
		r.cache.Put(ecosystem, name, outcome.version)
		return outcome.version, nil

	case resilience.KindDegraded:
		outcome := result.Value().(lookupOutcome)
		r.log.Debug("registry lookup served from cache",
			zap.String("ecosystem", ecosystem),
			zap.String("package", name),
			zap.String("version", outcome.version),
			zap.String("reason", result.Reason().String()),
		)
		return outcome.version, nil

	default:
		return "", result.Err()
	}
}

// cacheFallback serves the last known good answer when the registry is
// unreachable. No cached entry means the fallback fails and the original
// error stands.
func (r *Registry) cacheFallback(ecosystem, name string) resilience.Fallback {
	return func(ctx context.Context) (interface{}, error) {
		version, ok := r.cache.Get(ecosystem, name)
		if !ok {
			return nil, fmt.Errorf("no cached version for %s/%s", ecosystem, name)
		}
		return lookupOutcome{version: version}, nil
	}
}

// operation builds the per-ecosystem lookup. A 404 is an authoritative "no
// such package" and comes back as a successful notFound outcome.
func (r *Registry) operation(ecosystem, name string) (resilience.Operation, error) {
	switch ecosystem {
	case "npm":
		// Scoped names keep the leading @ but escape the slash.
		endpoint := r.cfg.NPM + "/" + url.PathEscape(name)
		return r.jsonLookup(endpoint, func() (interface{}, func() (string, error)) {
			var out struct {
				DistTags map[string]string `json:"dist-tags"`
			}
			return &out, func() (string, error) {
				if v := out.DistTags["latest"]; v != "" {
					return v, nil
				}
				return "", fmt.Errorf("npm response for %s has no latest tag", name)
			}
		}), nil

	case "cargo":
		endpoint := r.cfg.Crates + "/api/v1/crates/" + url.PathEscape(name)
		return r.jsonLookup(endpoint, func() (interface{}, func() (string, error)) {
			var out struct {
				Crate struct {
					MaxStableVersion string `json:"max_stable_version"`
					MaxVersion       string `json:"max_version"`
				} `json:"crate"`
			}
			return &out, func() (string, error) {
				if v := out.Crate.MaxStableVersion; v != "" {
					return v, nil
				}
				if v := out.Crate.MaxVersion; v != "" {
					return v, nil
				}
				return "", fmt.Errorf("crates.io response for %s has no version", name)
			}
		}), nil

	case "poetry":
		endpoint := r.cfg.PyPI + "/pypi/" + url.PathEscape(name) + "/json"
		return r.jsonLookup(endpoint, func() (interface{}, func() (string, error)) {
			var out struct {
				Info struct {
					Version string `json:"version"`
				} `json:"info"`
			}
			return &out, func() (string, error) {
				if v := out.Info.Version; v != "" {
					return v, nil
				}
				return "", fmt.Errorf("pypi response for %s has no version", name)
			}
		}), nil

	case "composer":
		// Packagist vendor/package paths keep their literal slash.
		endpoint := r.cfg.Packagist + "/p2/" + name + ".json"
		return r.jsonLookup(endpoint, func() (interface{}, func() (string, error)) {
			var out struct {
				Packages map[string][]struct {
					Version string `json:"version"`
				} `json:"packages"`
			}
			return &out, func() (string, error) {
				releases := out.Packages[name]
				if len(releases) == 0 || releases[0].Version == "" {
					return "", fmt.Errorf("packagist response for %s has no releases", name)
				}
				// p2 metadata lists releases newest first.
				return strings.TrimPrefix(releases[0].Version, "v"), nil
			}
		}), nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEcosystem, ecosystem)
	}
}

// jsonLookup performs one GET, decoding into the target the shape func
// provides and extracting the version with its closure.
func (r *Registry) jsonLookup(endpoint string, shape func() (interface{}, func() (string, error))) resilience.Operation {
	return func(ctx context.Context) (interface{}, error) {
		req, err := r.http.R(ctx)
		if err != nil {
			return nil, err
		}

		target, extract := shape()
		resp, err := req.
			SetHeader("Accept", "application/json").
			SetResult(target).
			Get(endpoint)
		if err != nil {
			return nil, fmt.Errorf("registry request: %w", err)
		}
		if resp.StatusCode() == http.StatusNotFound {
			return lookupOutcome{notFound: true}, nil
		}
		if err := httpx.CheckStatus(resp); err != nil {
			return nil, err
		}

		version, err := extract()
		if err != nil {
			return nil, err
		}
		return lookupOutcome{version: version}, nil
	}
}
