package ide

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/devtaskhq/devtask/internal/scan"
)

// jetbrainsDir is where JetBrains IDEs pick up shared run configurations.
const jetbrainsDir = ".idea/runConfigurations"

// jbComponent is the root element of a run configuration file.
type jbComponent struct {
	XMLName       xml.Name        `xml:"component"`
	Name          string          `xml:"name,attr"`
	Configuration jbConfiguration `xml:"configuration"`
}

type jbConfiguration struct {
	Default string     `xml:"default,attr"`
	Name    string     `xml:"name,attr"`
	Type    string     `xml:"type,attr"`
	Options []jbOption `xml:"option"`
	Method  jbMethod   `xml:"method"`
}

type jbOption struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type jbMethod struct {
	V string `xml:"v,attr"`
}

// JetBrains generates one shell run configuration per task under
// .idea/runConfigurations.
type JetBrains struct{}

// NewJetBrains creates the JetBrains generator.
func NewJetBrains() *JetBrains { return &JetBrains{} }

func (g *JetBrains) Target() string { return "jetbrains" }

func (g *JetBrains) Generate(root string, tasks []scan.Task) ([]File, error) {
	var files []File
	for _, task := range sortedTasks(tasks) {
		name := taskLabel(task)
		rel := relDir(root, task)

		workDir := "$PROJECT_DIR$"
		if rel != "" {
			workDir += "/" + rel
		}

		component := jbComponent{
			Name: "ProjectRunConfigurationManager",
			Configuration: jbConfiguration{
				Default: "false",
				Name:    name,
				Type:    "ShConfigurationType",
				Options: []jbOption{
					{Name: "SCRIPT_TEXT", Value: task.Command},
					{Name: "INDEPENDENT_SCRIPT_PATH", Value: "true"},
					{Name: "SCRIPT_WORKING_DIRECTORY", Value: workDir},
					{Name: "INDEPENDENT_SCRIPT_WORKING_DIRECTORY", Value: "false"},
					{Name: "EXECUTE_IN_TERMINAL", Value: "true"},
					{Name: "EXECUTE_SCRIPT_FILE", Value: "false"},
				},
				Method: jbMethod{V: "2"},
			},
		}

		data, err := xml.MarshalIndent(component, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode run configuration %s: %w", name, err)
		}
		files = append(files, File{
			Path:    jetbrainsDir + "/" + configFileName(task.Ecosystem, task.Name, rel) + ".xml",
			Content: append(data, '\n'),
		})
	}
	return files, nil
}

// configFileName derives a filesystem-safe file name for a task's run
// configuration. The relative directory is folded in so the same task name
// in two workspace members does not collide.
func configFileName(ecosystem, name, rel string) string {
	base := ecosystem + "_" + name
	if rel != "" {
		base += "_" + rel
	}
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
