package scan

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMavenParseGoalsAndProfiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".git"), 0o755))
	manifest := filepath.Join(dir, "pom.xml")
	data := `<?xml version="1.0" encoding="UTF-8"?>
<project>
  <artifactId>billing</artifactId>
  <profiles>
    <profile><id>release</id></profile>
    <profile><id></id></profile>
  </profiles>
</project>`

	tasks, err := NewMaven().Parse(context.Background(), manifest, []byte(data))
	require.NoError(t, err)

	assert.Equal(t,
		[]string{"clean", "compile", "install", "package", "profile:release", "test", "verify"},
		taskNames(tasks))
	assert.Equal(t, "mvn clean", taskCommand(t, tasks, "clean"))
	assert.Equal(t, "mvn verify -Prelease", taskCommand(t, tasks, "profile:release"))

	for _, task := range tasks {
		if task.Name == "profile:release" {
			assert.Equal(t, "build with the release profile", task.Description)
		}
	}
}

func TestMavenWrapperFoundUpward(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))
	writeFile(t, filepath.Join(root, "mvnw"), "#!/bin/sh")
	module := filepath.Join(root, "billing")
	manifest := filepath.Join(module, "pom.xml")
	writeFile(t, manifest, "<project><artifactId>billing</artifactId></project>")

	tasks, err := NewMaven().Parse(context.Background(), manifest, []byte("<project/>"))
	require.NoError(t, err)
	assert.Equal(t, "../mvnw clean", taskCommand(t, tasks, "clean"))
}

func TestMavenMalformedManifest(t *testing.T) {
	_, err := NewMaven().Parse(context.Background(), "pom.xml", []byte("<project><artifactId>"))
	assert.Error(t, err)
}
