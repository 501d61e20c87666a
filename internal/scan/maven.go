package scan

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/net/html/charset"

	"github.com/devtaskhq/devtask/internal/shared/utils"
)

// pomProject is the subset of pom.xml the scanner reads.
type pomProject struct {
	ArtifactID string `xml:"artifactId"`
	Profiles   struct {
		Profile []struct {
			ID string `xml:"id"`
		} `xml:"profile"`
	} `xml:"profiles"`
}

// mavenGoals are the lifecycle phases exposed as tasks for every module.
var mavenGoals = []string{"clean", "compile", "test", "package", "verify", "install"}

// Maven discovers lifecycle goals and build profiles from pom.xml.
type Maven struct{}

// NewMaven creates the maven scanner.
func NewMaven() *Maven { return &Maven{} }

func (s *Maven) Name() string { return "maven" }

func (s *Maven) Manifests() []string { return []string{"pom.xml"} }

func (s *Maven) Parse(ctx context.Context, path string, data []byte) ([]Task, error) {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	decoder.CharsetReader = charset.NewReaderLabel

	var project pomProject
	if err := decoder.Decode(&project); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	mvn := buildCommand(dir, "mvnw", "mvn")

	tasks := make([]Task, 0, len(mavenGoals)+len(project.Profiles.Profile))
	for _, goal := range mavenGoals {
		tasks = append(tasks, Task{
			Name:      goal,
			Ecosystem: s.Name(),
			Command:   mvn + " " + goal,
			Dir:       dir,
			Source:    path,
		})
	}
	for _, profile := range project.Profiles.Profile {
		if profile.ID == "" || utils.ValidateTaskName("profile:"+profile.ID) != nil {
			continue
		}
		tasks = append(tasks, Task{
			Name:        "profile:" + profile.ID,
			Ecosystem:   s.Name(),
			Command:     mvn + " verify -P" + profile.ID,
			Dir:         dir,
			Source:      path,
			Description: "build with the " + profile.ID + " profile",
		})
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Name < tasks[j].Name })
	return tasks, nil
}

// buildCommand prefers a wrapper script over the globally installed tool.
// Multi-module builds keep the wrapper at the repository root, so ancestors
// are searched and the command is written relative to the module directory.
func buildCommand(dir, wrapper, fallback string) string {
	found := findUp(dir, wrapper)
	if found == "" {
		return fallback
	}
	rel, err := filepath.Rel(dir, found)
	if err != nil {
		return fallback
	}
	rel = filepath.ToSlash(rel)
	if !strings.HasPrefix(rel, ".") {
		rel = "./" + rel
	}
	return rel
}

// findUp searches dir and its ancestors for name, stopping at the
// repository root.
func findUp(dir, name string) string {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return ""
	}
	current := abs
	for {
		candidate := filepath.Join(current, name)
		if fileExists(candidate) {
			return candidate
		}
		if fileExists(filepath.Join(current, ".git")) {
			return ""
		}
		parent := filepath.Dir(current)
		if parent == current {
			return ""
		}
		current = parent
	}
}
