package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"

	"github.com/bytedance/sonic"

	"github.com/devtaskhq/devtask/internal/resilience"
	"github.com/devtaskhq/devtask/internal/scan"
)

// writeJSON emits indented JSON, the shape every --json flag produces.
func writeJSON(w io.Writer, v interface{}) error {
	data, err := sonic.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// newTable returns a tabwriter configured the way every table here prints.
func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
}

func printTasks(w io.Writer, workDir string, tasks []scan.Task) {
	if len(tasks) == 0 {
		fmt.Fprintln(w, "no tasks found")
		return
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "ECOSYSTEM\tTASK\tDIRECTORY\tCOMMAND")
	for _, task := range tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			task.Ecosystem, task.Name, displayDir(workDir, task.Dir), task.Command)
	}
	tw.Flush()
}

// displayDir shortens a task directory to its project-relative form.
func displayDir(workDir, dir string) string {
	if workDir == "" {
		return dir
	}
	rel, err := filepath.Rel(workDir, dir)
	if err != nil {
		return dir
	}
	return rel
}

// updateRow is the JSON and table shape of one dependency update check.
type updateRow struct {
	Ecosystem string `json:"ecosystem"`
	Name      string `json:"name"`
	Declared  string `json:"declared"`
	Latest    string `json:"latest,omitempty"`
	Outdated  bool   `json:"outdated"`
	Error     string `json:"error,omitempty"`
}

func updateRows(updates []scan.Update) []updateRow {
	rows := make([]updateRow, len(updates))
	for i, u := range updates {
		rows[i] = updateRow{
			Ecosystem: u.Dependency.Ecosystem,
			Name:      u.Dependency.Name,
			Declared:  u.Dependency.Declared,
			Latest:    u.Latest,
			Outdated:  u.Outdated,
		}
		if u.Err != nil {
			rows[i].Error = u.Err.Error()
		}
	}
	return rows
}

// describeResult renders a resilience outcome for table output.
func describeResult(r resilience.Result) string {
	switch r.Kind() {
	case resilience.KindSuccess:
		return "ok"
	case resilience.KindDegraded:
		return fmt.Sprintf("degraded (%s)", r.Reason())
	case resilience.KindQueued:
		return fmt.Sprintf("queued (%s)", r.OperationID())
	case resilience.KindFailed:
		return fmt.Sprintf("failed: %v", r.Err())
	default:
		return r.Kind().String()
	}
}

func printUpdates(w io.Writer, updates []scan.Update) {
	if len(updates) == 0 {
		fmt.Fprintln(w, "no dependencies declared")
		return
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "ECOSYSTEM\tDEPENDENCY\tDECLARED\tLATEST\tSTATUS")
	for _, row := range updateRows(updates) {
		status := "current"
		switch {
		case row.Error != "":
			status = "error: " + row.Error
		case row.Latest == "":
			status = "unknown"
		case row.Outdated:
			status = "outdated"
		}
		latest := row.Latest
		if latest == "" {
			latest = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			row.Ecosystem, row.Name, row.Declared, latest, status)
	}
	tw.Flush()
}
