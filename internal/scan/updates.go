package scan

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Lookup resolves the latest published version of a package in an
// ecosystem's public registry. Implementations live outside this package so
// discovery stays free of transport concerns.
type Lookup func(ctx context.Context, ecosystem, name string) (string, error)

// Update pairs a declared dependency with the latest version its registry
// reports. Err carries lookup failures so one unreachable registry does not
// hide results for the others.
type Update struct {
	Dependency Dependency
	Latest     string
	Outdated   bool
	Err        error
}

// CheckUpdates resolves the latest version for every dependency. Lookups
// run concurrently but bounded, since each one is a network round-trip.
// Results keep the input order.
func CheckUpdates(ctx context.Context, deps []Dependency, lookup Lookup) []Update {
	updates := make([]Update, len(deps))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, dep := range deps {
		g.Go(func() error {
			latest, err := lookup(ctx, dep.Ecosystem, dep.Name)
			updates[i] = Update{
				Dependency: dep,
				Latest:     latest,
				Outdated:   isOutdated(dep.Declared, latest),
				Err:        err,
			}
			return nil
		})
	}
	g.Wait() //nolint:errcheck // workers never return errors, failures ride in Update.Err

	return updates
}

// isOutdated compares the declared constraint's floor against the latest
// release. Wildcards and unpinned constraints cannot be compared.
func isOutdated(declared, latest string) bool {
	if latest == "" {
		return false
	}
	floor := constraintFloor(declared)
	if floor == "" {
		return false
	}
	return floor != latest
}

// constraintFloor strips range operators down to the lowest named version.
// It returns "" when the constraint names no concrete version.
func constraintFloor(declared string) string {
	s := strings.TrimSpace(declared)
	s = strings.TrimLeft(s, "^~=<>! v")
	if i := strings.IndexAny(s, " ,|&;"); i != -1 {
		s = s[:i]
	}
	if s == "" || s == "latest" || strings.ContainsAny(s, "*$") {
		return ""
	}
	for _, part := range strings.Split(s, ".") {
		if part == "x" || part == "X" {
			return ""
		}
	}
	return s
}
