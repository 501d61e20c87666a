package scan

import (
	"bufio"
	"bytes"
	"context"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/devtaskhq/devtask/internal/shared/utils"
)

// gradleTaskPatterns match the common declaration forms in both the Groovy
// and Kotlin DSLs. A full DSL evaluation is out of reach for a scanner, so
// registrations hidden behind loops or plugins are not discovered.
var gradleTaskPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\s*task\s+([A-Za-z][A-Za-z0-9_]*)`),
	regexp.MustCompile(`tasks\.register(?:<[^>]*>)?\s*\(\s*["']([^"']+)["']`),
	regexp.MustCompile(`tasks\.create\s*\(\s*["']([^"']+)["']`),
}

// gradleDefaults are lifecycle tasks contributed by the base plugin and
// present in effectively every build.
var gradleDefaults = []string{"assemble", "build", "check", "clean", "test"}

// Gradle discovers declared and lifecycle tasks from Gradle build scripts.
type Gradle struct{}

// NewGradle creates the gradle scanner.
func NewGradle() *Gradle { return &Gradle{} }

func (s *Gradle) Name() string { return "gradle" }

func (s *Gradle) Manifests() []string { return []string{"build.gradle", "build.gradle.kts"} }

func (s *Gradle) Parse(ctx context.Context, path string, data []byte) ([]Task, error) {
	names := make(map[string]bool, len(gradleDefaults))
	for _, name := range gradleDefaults {
		names[name] = true
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "//") {
			continue
		}
		for _, pattern := range gradleTaskPatterns {
			match := pattern.FindStringSubmatch(line)
			if match == nil {
				continue
			}
			if utils.ValidateTaskName(match[1]) == nil {
				names[match[1]] = true
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	gradle := buildCommand(dir, "gradlew", "gradle")

	tasks := make([]Task, 0, len(names))
	for name := range names {
		tasks = append(tasks, Task{
			Name:      name,
			Ecosystem: s.Name(),
			Command:   gradle + " " + name,
			Dir:       dir,
			Source:    path,
		})
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Name < tasks[j].Name })
	return tasks, nil
}
