package scan

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, root string) *Engine {
	t.Helper()
	walker := NewWalker(WalkerConfig{Roots: []string{root}}, nil)
	return NewEngine(Defaults(), walker, nil, nil)
}

func qualifiedNames(tasks []Task) []string {
	names := make([]string, len(tasks))
	for i, task := range tasks {
		names[i] = task.Ecosystem + ":" + task.Name
	}
	sort.Strings(names)
	return names
}

func TestEngineRunMergesEcosystems(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".git"), 0o755))
	writeFile(t, filepath.Join(dir, "package.json"),
		`{"name":"app","scripts":{"build":"tsc","start":"node server.js"}}`)
	writeFile(t, filepath.Join(dir, "svc", "Cargo.toml"),
		"[package]\nname = \"svc\"\nversion = \"0.1.0\"\n")
	writeFile(t, filepath.Join(dir, "svc", "src", "main.rs"), "fn main() {}")
	writeFile(t, filepath.Join(dir, "node_modules", "dep", "package.json"),
		`{"scripts":{"lint":"eslint ."}}`)

	tasks, err := newTestEngine(t, dir).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t,
		[]string{"cargo:bench", "cargo:build", "cargo:run", "cargo:test", "npm:build", "npm:start"},
		qualifiedNames(tasks))
	for _, task := range tasks {
		assert.NotContains(t, task.Source, "node_modules")
	}
}

func TestEngineRunSkipsMalformedManifests(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".git"), 0o755))
	writeFile(t, filepath.Join(dir, "package.json"), `{"scripts":{`)
	writeFile(t, filepath.Join(dir, "api", "package.json"), `{"scripts":{"serve":"node ."}}`)

	tasks, err := newTestEngine(t, dir).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"npm:serve"}, qualifiedNames(tasks))
}

func TestEngineDependenciesAcrossManifests(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".git"), 0o755))
	writeFile(t, filepath.Join(dir, "package.json"),
		`{"dependencies":{"react":"^18.2.0"}}`)
	writeFile(t, filepath.Join(dir, "svc", "Cargo.toml"),
		"[package]\nname = \"svc\"\n\n[dependencies]\nserde = \"1.0\"\n")

	deps, err := newTestEngine(t, dir).Dependencies(context.Background())
	require.NoError(t, err)

	require.Len(t, deps, 2)
	assert.Equal(t, "serde", deps[0].Name)
	assert.Equal(t, "cargo", deps[0].Ecosystem)
	assert.Equal(t, "react", deps[1].Name)
	assert.Equal(t, "^18.2.0", deps[1].Declared)
}

func TestFindResolvesNames(t *testing.T) {
	tasks := []Task{
		{Name: "build", Ecosystem: "npm", Dir: "/app"},
		{Name: "build", Ecosystem: "cargo", Dir: "/app/svc"},
		{Name: "deploy", Ecosystem: "npm", Dir: "/app"},
	}

	task, err := Find(tasks, "deploy")
	require.NoError(t, err)
	assert.Equal(t, "npm", task.Ecosystem)

	task, err = Find(tasks, "cargo:build")
	require.NoError(t, err)
	assert.Equal(t, "cargo", task.Ecosystem)
	assert.Equal(t, "build", task.Name)

	_, err = Find(tasks, "build")
	assert.ErrorIs(t, err, ErrTaskAmbiguous)
	assert.Contains(t, err.Error(), "npm:build")

	_, err = Find(tasks, "publish")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestRegistryRejectsDuplicateNames(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewNPM()))
	err := r.Register(NewNPM())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}
