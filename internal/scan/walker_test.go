package scan

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWalkerSkipsDependencyDirs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "package.json"), "{}")
	writeFile(t, filepath.Join(dir, "api", "package.json"), "{}")
	writeFile(t, filepath.Join(dir, "node_modules", "dep", "package.json"), "{}")
	writeFile(t, filepath.Join(dir, "dist", "package.json"), "{}")

	walker := NewWalker(WalkerConfig{Roots: []string{dir}}, nil)
	found, err := walker.FindManifests(context.Background(), []string{"package.json"})
	require.NoError(t, err)

	assert.Equal(t, []string{
		filepath.Join(dir, "api", "package.json"),
		filepath.Join(dir, "package.json"),
	}, found)
}

func TestWalkerHonorsIgnoreGlobs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "package.json"), "{}")
	writeFile(t, filepath.Join(dir, "legacy", "package.json"), "{}")
	writeFile(t, filepath.Join(dir, "legacy", "deep", "package.json"), "{}")

	walker := NewWalker(WalkerConfig{
		Roots:  []string{dir},
		Ignore: []string{"legacy/**"},
	}, nil)
	found, err := walker.FindManifests(context.Background(), []string{"package.json"})
	require.NoError(t, err)

	assert.Equal(t, []string{filepath.Join(dir, "package.json")}, found)
}

func TestWalkerBoundsDepth(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a", "package.json"), "{}")
	writeFile(t, filepath.Join(dir, "a", "b", "c", "package.json"), "{}")

	walker := NewWalker(WalkerConfig{Roots: []string{dir}, MaxDepth: 2}, nil)
	found, err := walker.FindManifests(context.Background(), []string{"package.json"})
	require.NoError(t, err)

	assert.Equal(t, []string{filepath.Join(dir, "a", "package.json")}, found)
}

func TestWalkerMergesMultipleRoots(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	writeFile(t, filepath.Join(first, "package.json"), "{}")
	writeFile(t, filepath.Join(second, "Cargo.toml"), "")

	walker := NewWalker(WalkerConfig{Roots: []string{first, second}}, nil)
	found, err := walker.FindManifests(context.Background(), []string{"package.json", "Cargo.toml"})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{
		filepath.Join(first, "package.json"),
		filepath.Join(second, "Cargo.toml"),
	}, found)
}
