package scan

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComposerParseScripts(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "composer.json")
	data := `{
		"name": "acme/app",
		"scripts": {
			"lint": ["phpcs", "phpstan analyse"],
			"serve": "php -S localhost:8080",
			"post-install-cmd": "php artisan optimize",
			"pre-update-cmd": "php artisan down"
		},
		"scripts-descriptions": {
			"lint": "run static analysis"
		}
	}`

	tasks, err := NewComposer().Parse(context.Background(), manifest, []byte(data))
	require.NoError(t, err)

	assert.Equal(t, []string{"lint", "serve"}, taskNames(tasks), "lifecycle hooks are not on-demand tasks")
	assert.Equal(t, "composer run-script lint", taskCommand(t, tasks, "lint"))
	assert.Equal(t, "run static analysis", tasks[0].Description)
	for _, task := range tasks {
		assert.Equal(t, "composer", task.Ecosystem)
		assert.Equal(t, dir, task.Dir)
	}
}

func TestComposerDependencies(t *testing.T) {
	data := `{
		"require": {
			"php": ">=8.2",
			"ext-json": "*",
			"guzzlehttp/guzzle": "^7.8",
			"monolog/monolog": "^3.5"
		},
		"require-dev": {
			"phpunit/phpunit": "^11.0"
		}
	}`

	deps, err := NewComposer().Dependencies(context.Background(), "composer.json", []byte(data))
	require.NoError(t, err)

	require.Len(t, deps, 3, "platform packages are not registry packages")
	assert.Equal(t, "guzzlehttp/guzzle", deps[0].Name)
	assert.Equal(t, "^7.8", deps[0].Declared)
	assert.Equal(t, "monolog/monolog", deps[1].Name)
	assert.Equal(t, "phpunit/phpunit", deps[2].Name)
	for _, dep := range deps {
		assert.Equal(t, "composer", dep.Ecosystem)
	}
}

func TestComposerMalformedManifest(t *testing.T) {
	_, err := NewComposer().Parse(context.Background(), "composer.json", []byte(`{"scripts": [}`))
	require.Error(t, err)
}
