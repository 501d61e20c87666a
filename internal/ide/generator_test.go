package ide

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devtaskhq/devtask/internal/scan"
)

func fixtureTasks(root string) []scan.Task {
	return []scan.Task{
		{
			Name:      "test",
			Ecosystem: "cargo",
			Command:   "cargo test",
			Dir:       filepath.Join(root, "svc"),
			Source:    filepath.Join(root, "svc", "Cargo.toml"),
		},
		{
			Name:      "build",
			Ecosystem: "npm",
			Command:   "npm run build",
			Dir:       root,
			Source:    filepath.Join(root, "package.json"),
		},
		{
			Name:        "lint",
			Ecosystem:   "npm",
			Command:     "npm run lint",
			Dir:         root,
			Source:      filepath.Join(root, "package.json"),
			Description: "eslint over src",
		},
	}
}

func TestRegistryDefaults(t *testing.T) {
	r := Defaults()
	assert.Equal(t, []string{"cursor", "jetbrains", "vscode", "zed"}, r.Targets())

	for _, target := range r.Targets() {
		g, ok := r.Get(target)
		require.True(t, ok)
		assert.Equal(t, target, g.Target())
	}

	_, ok := r.Get("emacs")
	assert.False(t, ok)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewZed()))
	assert.Error(t, r.Register(NewZed()))
}

func TestGeneratorsAreDeterministic(t *testing.T) {
	root := t.TempDir()
	tasks := fixtureTasks(root)

	// Same input in a different order must produce byte-identical output.
	shuffled := []scan.Task{tasks[2], tasks[0], tasks[1]}

	for _, g := range []Generator{NewVSCode(), NewJetBrains(), NewZed(), NewCursor()} {
		t.Run(g.Target(), func(t *testing.T) {
			first, err := g.Generate(root, tasks)
			require.NoError(t, err)
			second, err := g.Generate(root, shuffled)
			require.NoError(t, err)
			assert.Equal(t, first, second)
		})
	}
}

func TestVSCodeOutput(t *testing.T) {
	root := t.TempDir()
	files, err := NewVSCode().Generate(root, fixtureTasks(root))
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, ".vscode/tasks.json", files[0].Path)

	content := string(files[0].Content)
	assert.Contains(t, content, `"version": "2.0.0"`)
	assert.Contains(t, content, `"label": "cargo: test"`)
	assert.Contains(t, content, `"command": "cargo test"`)
	assert.Contains(t, content, `"cwd": "${workspaceFolder}/svc"`)
	assert.Contains(t, content, `"group": "test"`)
	assert.Contains(t, content, `"detail": "eslint over src"`)
	// Root-level tasks carry no cwd override.
	assert.Contains(t, content, `"label": "npm: build"`)
}

func TestJetBrainsOutput(t *testing.T) {
	root := t.TempDir()
	files, err := NewJetBrains().Generate(root, fixtureTasks(root))
	require.NoError(t, err)
	require.Len(t, files, 3)

	byPath := make(map[string]string, len(files))
	for _, f := range files {
		byPath[f.Path] = string(f.Content)
	}

	cargo, ok := byPath[".idea/runConfigurations/cargo_test_svc.xml"]
	require.True(t, ok, "got files: %v", byPath)
	assert.Contains(t, cargo, `name="cargo: test"`)
	assert.Contains(t, cargo, `type="ShConfigurationType"`)
	assert.Contains(t, cargo, `value="cargo test"`)
	assert.Contains(t, cargo, `value="$PROJECT_DIR$/svc"`)

	npm, ok := byPath[".idea/runConfigurations/npm_build.xml"]
	require.True(t, ok)
	assert.Contains(t, npm, `value="$PROJECT_DIR$"`)
}

func TestZedOutput(t *testing.T) {
	root := t.TempDir()
	files, err := NewZed().Generate(root, fixtureTasks(root))
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, ".zed/tasks.json", files[0].Path)

	content := string(files[0].Content)
	assert.Contains(t, content, `"label": "cargo: test"`)
	assert.Contains(t, content, `"cwd": "$ZED_WORKTREE_ROOT/svc"`)
}

func TestCursorOutput(t *testing.T) {
	root := t.TempDir()
	files, err := NewCursor().Generate(root, fixtureTasks(root))
	require.NoError(t, err)
	require.Len(t, files, 3)

	byPath := make(map[string]string, len(files))
	for _, f := range files {
		byPath[f.Path] = string(f.Content)
	}

	lint, ok := byPath[".cursor/commands/npm_lint.md"]
	require.True(t, ok, "got files: %v", byPath)
	assert.Contains(t, lint, "# npm: lint")
	assert.Contains(t, lint, "eslint over src")
	assert.Contains(t, lint, "npm run lint")

	cargo, ok := byPath[".cursor/commands/cargo_test_svc.md"]
	require.True(t, ok)
	assert.Contains(t, cargo, "cd svc && cargo test")
	assert.Contains(t, cargo, "Cargo.toml")
}

func TestWriteFiles(t *testing.T) {
	root := t.TempDir()
	files := []File{
		{Path: ".vscode/tasks.json", Content: []byte("{}\n")},
		{Path: ".idea/runConfigurations/a.xml", Content: []byte("<x/>\n")},
	}
	require.NoError(t, WriteFiles(root, files))

	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(root, f.Path))
		require.NoError(t, err)
		assert.Equal(t, f.Content, data)
	}
}
