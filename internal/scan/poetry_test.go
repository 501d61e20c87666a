package scan

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoetryParseScripts(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "pyproject.toml")
	data := `
[project]
name = "api"

[project.scripts]
serve = "api.main:run"

[tool.poetry]
name = "api"

[tool.poetry.scripts]
migrate = "api.db:migrate"

[tool.poe.tasks]
lint = "ruff check ."
`

	tasks, err := NewPoetry().Parse(context.Background(), manifest, []byte(data))
	require.NoError(t, err)

	assert.Equal(t, []string{"lint", "migrate", "serve"}, taskNames(tasks))
	assert.Equal(t, "poetry run serve", taskCommand(t, tasks, "serve"))
	assert.Equal(t, "poetry run migrate", taskCommand(t, tasks, "migrate"))
	assert.Equal(t, "poe lint", taskCommand(t, tasks, "lint"))
	for _, task := range tasks {
		assert.Equal(t, "poetry", task.Ecosystem)
		assert.Equal(t, dir, task.Dir)
	}
}

func TestPoetryUvProjectRunsUnderUv(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "uv.lock"), "")
	data := `
[project]
name = "api"

[project.scripts]
serve = "api.main:run"
`

	tasks, err := NewPoetry().Parse(context.Background(), filepath.Join(dir, "pyproject.toml"), []byte(data))
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "uv run serve", tasks[0].Command)
}

func TestPoetryLockfileWinsOverUv(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "poetry.lock"), "")
	writeFile(t, filepath.Join(dir, "uv.lock"), "")
	data := "[project]\nname = \"api\"\n\n[project.scripts]\nserve = \"api.main:run\"\n"

	tasks, err := NewPoetry().Parse(context.Background(), filepath.Join(dir, "pyproject.toml"), []byte(data))
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "poetry run serve", tasks[0].Command)
}

func TestPoetryDependencies(t *testing.T) {
	data := `
[project]
name = "api"
dependencies = [
    "fastapi>=0.110",
    "uvicorn[standard] >=0.29",
]

[tool.poetry.dependencies]
python = "^3.12"
httpx = { version = "^0.27", extras = ["http2"] }

[tool.poetry.group.dev.dependencies]
pytest = "^8.1"
`

	deps, err := NewPoetry().Dependencies(context.Background(), "pyproject.toml", []byte(data))
	require.NoError(t, err)

	require.Len(t, deps, 4, "the python pin names the interpreter, not a package")
	assert.Equal(t, "fastapi", deps[0].Name)
	assert.Equal(t, ">=0.110", deps[0].Declared)
	assert.Equal(t, "httpx", deps[1].Name)
	assert.Equal(t, "^0.27", deps[1].Declared)
	assert.Equal(t, "pytest", deps[2].Name)
	assert.Equal(t, "uvicorn", deps[3].Name)
	for _, dep := range deps {
		assert.Equal(t, "poetry", dep.Ecosystem)
	}
}

func TestPoetryMalformedManifest(t *testing.T) {
	_, err := NewPoetry().Parse(context.Background(), "pyproject.toml", []byte("[project\nname"))
	require.Error(t, err)
}
