package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devtaskhq/devtask/internal/assist"
	"github.com/devtaskhq/devtask/internal/scan"
)

// project is one temp project directory with its own state dir, so every
// invocation is hermetic and invocations within a test share durable state
// the way separate process runs would.
type project struct {
	dir   string
	state string
}

func newProject(t *testing.T) *project {
	t.Helper()
	return &project{dir: t.TempDir(), state: t.TempDir()}
}

// write creates a file under the project directory.
func (p *project) write(t *testing.T, rel, content string) {
	t.Helper()
	path := filepath.Join(p.dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// config writes devtask.yaml. Tests rewrite it between invocations to move
// endpoints around, the way an operator would edit the file.
func (p *project) config(t *testing.T, content string) {
	t.Helper()
	p.write(t, "devtask.yaml", content)
}

// run executes one CLI invocation against the project and returns combined
// output. The handle is closed after every run to mirror process exit.
func (p *project) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root, h := newRootCmd("test")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{
		"-C", p.dir,
		"--state-dir", p.state,
		"--no-color",
	}, args...))
	err := root.ExecuteContext(context.Background())
	h.close()
	return out.String(), err
}

// recorder collects request lines from a test server. Handlers run on server
// goroutines, so access is locked.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) record(req *http.Request) {
	r.mu.Lock()
	r.calls = append(r.calls, req.Method+" "+req.URL.Path)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// deadEndpoint returns a URL nothing listens on.
func deadEndpoint(t *testing.T) string {
	t.Helper()
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()
	return url
}

// syncTestConfig points sync at an endpoint without transport retries and
// with a breaker that will not trip, so every replay attempt really dials.
const syncTestConfig = `sync:
  endpoint: %q
http:
  retry_max: 0
features:
  sync:
    max_attempts: 1
    failure_threshold: 100
`

const assistTestConfig = `assist:
  endpoint: %q
http:
  retry_max: 0
features:
  assistant:
    max_attempts: 1
    failure_threshold: 100
`

const packageJSON = `{
  "name": "demo",
  "scripts": {
    "build": "echo building",
    "test": "echo testing"
  },
  "dependencies": {
    "left-pad": "^1.2.0"
  }
}`

// shellPlugin registers a scanner for Tasks.txt files holding name=command
// lines, so run tests execute plain shell commands instead of a package
// manager that may not be installed.
const shellPlugin = `
devtask.registerScanner({
  name: "shell",
  manifests: ["Tasks.txt"],
  parse: function(path, content) {
    var tasks = [];
    var lines = content.split("\n");
    for (var i = 0; i < lines.length; i++) {
      var line = lines[i].trim();
      if (!line || line.charAt(0) === "#") continue;
      var eq = line.indexOf("=");
      if (eq < 0) continue;
      tasks.push({
        name: line.slice(0, eq).trim(),
        command: line.slice(eq + 1).trim()
      });
    }
    return tasks;
  }
});
`

func (p *project) writeShellTasks(t *testing.T, tasks string) {
	t.Helper()
	p.write(t, filepath.Join(".devtask", "plugins", "shell.js"), shellPlugin)
	p.write(t, "Tasks.txt", tasks)
}

func TestScanPrintsTaskTable(t *testing.T) {
	p := newProject(t)
	p.write(t, "package.json", packageJSON)

	out, err := p.run(t, "scan")
	require.NoError(t, err)
	assert.Contains(t, out, "ECOSYSTEM")
	assert.Contains(t, out, "npm")
	assert.Contains(t, out, "build")
	assert.Contains(t, out, "npm run test")
}

func TestScanJSON(t *testing.T) {
	p := newProject(t)
	p.write(t, "package.json", packageJSON)
	p.write(t, filepath.Join("svc", "package.json"), `{"scripts":{"start":"node ."}}`)

	out, err := p.run(t, "scan", "--json")
	require.NoError(t, err)

	var tasks []scan.Task
	require.NoError(t, sonic.Unmarshal([]byte(out), &tasks))
	require.Len(t, tasks, 3)
	names := make([]string, len(tasks))
	for i, task := range tasks {
		names[i] = task.Name
		assert.Equal(t, "npm", task.Ecosystem)
	}
	assert.ElementsMatch(t, []string{"build", "test", "start"}, names)
}

func TestScanEmptyProject(t *testing.T) {
	p := newProject(t)

	out, err := p.run(t, "scan")
	require.NoError(t, err)
	assert.Contains(t, out, "no tasks found")
}

func TestScanCheckUpdates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/left-pad" {
			fmt.Fprint(w, `{"dist-tags":{"latest":"1.3.0"}}`)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(server.Close)

	p := newProject(t)
	p.write(t, "package.json", packageJSON)
	p.config(t, fmt.Sprintf("registry:\n  npm: %q\n", server.URL))

	out, err := p.run(t, "scan", "--check-updates")
	require.NoError(t, err)
	assert.Contains(t, out, "DEPENDENCY")
	assert.Contains(t, out, "left-pad")
	assert.Contains(t, out, "1.3.0")
	assert.Contains(t, out, "outdated")
}

func TestScanUsesPluginScanner(t *testing.T) {
	p := newProject(t)
	p.writeShellTasks(t, "# project helpers\ngreet=echo hi\nclean=rm -rf build\n")

	out, err := p.run(t, "scan")
	require.NoError(t, err)
	assert.Contains(t, out, "shell")
	assert.Contains(t, out, "greet")
	assert.Contains(t, out, "rm -rf build")

	// First sight pins the plugin in the state dir.
	assert.FileExists(t, filepath.Join(p.state, "plugins.lock"))
}

func TestRunExecutesTask(t *testing.T) {
	p := newProject(t)
	p.writeShellTasks(t, "greet=echo hello from devtask\n")

	out, err := p.run(t, "run", "greet")
	require.NoError(t, err)
	assert.Contains(t, out, "hello from devtask")
}

func TestRunPropagatesExitCode(t *testing.T) {
	p := newProject(t)
	p.writeShellTasks(t, "fail=exit 3\n")

	_, err := p.run(t, "run", "fail")
	require.Error(t, err)

	var exit *exitError
	require.ErrorAs(t, err, &exit)
	assert.Equal(t, 3, exit.code)
}

func TestRunUnknownTask(t *testing.T) {
	p := newProject(t)
	p.write(t, "package.json", `{"scripts":{"build":"true"}}`)

	_, err := p.run(t, "run", "deploy")
	require.ErrorIs(t, err, scan.ErrTaskNotFound)
}

func TestIDEGenerateWritesFiles(t *testing.T) {
	p := newProject(t)
	p.write(t, "package.json", packageJSON)

	out, err := p.run(t, "ide", "generate", "--target", "vscode")
	require.NoError(t, err)
	assert.Contains(t, out, ".vscode/tasks.json")

	data, err := os.ReadFile(filepath.Join(p.dir, ".vscode", "tasks.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "npm: build")
	assert.Contains(t, string(data), "npm run build")
}

func TestIDEGenerateRejectsUnknownTarget(t *testing.T) {
	p := newProject(t)

	_, err := p.run(t, "ide", "generate", "--target", "emacs")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown ide target")
	assert.Contains(t, err.Error(), "vscode")
}

func TestDocsInit(t *testing.T) {
	p := newProject(t)

	out, err := p.run(t, "docs", "init")
	require.NoError(t, err)
	for _, name := range []string{"project.md", "roadmap.md", "state.md", "plan.md"} {
		assert.Contains(t, out, name)
		assert.FileExists(t, filepath.Join(p.dir, ".devtask", name))
	}

	out, err = p.run(t, "docs", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "already exist")
}

func TestDocsSyncPushesDocuments(t *testing.T) {
	rec := &recorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		io.Copy(io.Discard, r.Body)
		fmt.Fprint(w, `{}`)
	}))
	t.Cleanup(server.Close)

	p := newProject(t)
	p.config(t, fmt.Sprintf("sync:\n  endpoint: %q\n", server.URL))
	_, err := p.run(t, "docs", "init")
	require.NoError(t, err)

	out, err := p.run(t, "docs", "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "DOCUMENT")
	calls := rec.snapshot()
	assert.Contains(t, calls, "PUT /v1/docs/project")
	assert.Contains(t, calls, "PUT /v1/docs/plan")
}

func TestDocsSyncPullWritesStore(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/docs/roadmap" {
			fmt.Fprint(w, `{"content":"# Remote Roadmap\n"}`)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(server.Close)

	p := newProject(t)
	p.config(t, fmt.Sprintf("sync:\n  endpoint: %q\n", server.URL))

	out, err := p.run(t, "docs", "sync", "--pull")
	require.NoError(t, err)
	assert.Contains(t, out, "pulled")
	assert.Contains(t, out, "not on remote")

	data, err := os.ReadFile(filepath.Join(p.dir, ".devtask", "roadmap.md"))
	require.NoError(t, err)
	assert.Equal(t, "# Remote Roadmap\n", string(data))
}

func TestStatusNominal(t *testing.T) {
	p := newProject(t)

	out, err := p.run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "severity: nominal")
	assert.Contains(t, out, "all features healthy")
}

func TestStatusJSON(t *testing.T) {
	p := newProject(t)

	out, err := p.run(t, "status", "--json")
	require.NoError(t, err)

	var status struct {
		Severity    string         `json:"severity"`
		Pending     map[string]int `json:"pending"`
		DeadLetters int            `json:"dead_letters"`
	}
	require.NoError(t, sonic.Unmarshal([]byte(out), &status))
	assert.Equal(t, "nominal", status.Severity)
	assert.Zero(t, status.DeadLetters)
}

func TestStatusMetricsDump(t *testing.T) {
	p := newProject(t)

	out, err := p.run(t, "status", "--metrics")
	require.NoError(t, err)
	assert.Contains(t, out, "devtask_")
}

func TestSyncLifecycleExitCodes(t *testing.T) {
	p := newProject(t)
	p.config(t, fmt.Sprintf(syncTestConfig, deadEndpoint(t)))
	p.write(t, filepath.Join(".devtask", "plan.md"), "# Plan\n")

	// Unreachable service: the push defers instead of failing.
	out, err := p.run(t, "docs", "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "queued")

	// Still unreachable: the record stays pending, exit code 1.
	out, err = p.run(t, "sync")
	require.Error(t, err)
	var exit *exitError
	require.ErrorAs(t, err, &exit)
	assert.Equal(t, 1, exit.code)
	assert.Contains(t, out, "1 pending")

	// Service comes back: replay drains the queue, exit code 0.
	rec := &recorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		io.Copy(io.Discard, r.Body)
		fmt.Fprint(w, `{}`)
	}))
	t.Cleanup(server.Close)
	p.config(t, fmt.Sprintf(syncTestConfig, server.URL))

	out, err = p.run(t, "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "replayed 1")
	assert.Contains(t, out, "0 pending")
	require.Equal(t, []string{"PUT /v1/docs/plan"}, rec.snapshot())
}

func TestSyncDeadLettersExitCode(t *testing.T) {
	p := newProject(t)
	p.config(t, fmt.Sprintf(syncTestConfig, deadEndpoint(t))+"queue:\n  max_attempts: 1\n")
	p.write(t, filepath.Join(".devtask", "plan.md"), "# Plan\n")

	out, err := p.run(t, "docs", "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "queued")

	// A single failed replay exhausts the budget and dead-letters the record.
	_, err = p.run(t, "sync")
	require.Error(t, err)
	var exit *exitError
	require.ErrorAs(t, err, &exit)
	assert.Equal(t, 2, exit.code)

	out, err = p.run(t, "queue", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "dead letters:")
	assert.Contains(t, out, "sync")

	out, err = p.run(t, "queue", "archive")
	require.NoError(t, err)
	assert.Contains(t, out, "archived 1 dead letters")

	out, err = p.run(t, "queue", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "queue is empty")

	// Archived records stay inspectable.
	out, err = p.run(t, "queue", "archive", "--list")
	require.NoError(t, err)
	assert.Contains(t, out, "deadletter-")
	assert.Contains(t, out, "(1 records)")
	assert.Contains(t, out, "sync")
}

func TestQueueListShowsPending(t *testing.T) {
	p := newProject(t)
	p.config(t, fmt.Sprintf(syncTestConfig, deadEndpoint(t)))
	p.write(t, filepath.Join(".devtask", "state.md"), "# State\n")

	_, err := p.run(t, "docs", "sync")
	require.NoError(t, err)

	out, err := p.run(t, "queue", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "FEATURE")
	assert.Contains(t, out, "sync")

	out, err = p.run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "PENDING")
	assert.Contains(t, out, "sync")

	out, err = p.run(t, "queue", "list", "--json")
	require.NoError(t, err)
	var listing queueListing
	require.NoError(t, sonic.Unmarshal([]byte(out), &listing))
	require.Len(t, listing.Pending, 1)
	assert.Equal(t, "sync", listing.Pending[0].Feature)
	assert.Empty(t, listing.DeadLetters)
}

func TestAssistRequiresAPIKey(t *testing.T) {
	t.Setenv("DEVTASK_ASSIST_API_KEY", "")
	p := newProject(t)

	_, err := p.run(t, "assist", "how", "do", "I", "build")
	require.ErrorIs(t, err, assist.ErrNoAPIKey)
}

func TestAssistPrintsAnswer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"Run devtask run build."}}]}`)
	}))
	t.Cleanup(server.Close)

	t.Setenv("DEVTASK_ASSIST_API_KEY", "sk-test")
	p := newProject(t)
	p.config(t, fmt.Sprintf("assist:\n  endpoint: %q\n", server.URL))

	out, err := p.run(t, "assist", "how do I build?")
	require.NoError(t, err)
	assert.Contains(t, out, "Run devtask run build.")
}

func TestAssistDraftWritesDocument(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"# Plan\n\n- ship it <script>alert(1)</script>"}}]}`)
	}))
	t.Cleanup(server.Close)

	t.Setenv("DEVTASK_ASSIST_API_KEY", "sk-test")
	p := newProject(t)
	p.config(t, fmt.Sprintf("assist:\n  endpoint: %q\n", server.URL))

	out, err := p.run(t, "assist", "--apply-to", "plan", "draft the plan")
	require.NoError(t, err)
	assert.Contains(t, out, "draft written")

	data, err := os.ReadFile(filepath.Join(p.dir, ".devtask", "plan.md"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "# Plan")
	assert.NotContains(t, string(data), "<script>")
}

func TestAssistDraftQueuesWhenUnreachable(t *testing.T) {
	t.Setenv("DEVTASK_ASSIST_API_KEY", "sk-test")
	p := newProject(t)
	p.config(t, fmt.Sprintf(assistTestConfig, deadEndpoint(t)))

	out, err := p.run(t, "assist", "--apply-to", "plan", "draft the plan")
	require.NoError(t, err)
	assert.Contains(t, out, "draft queued")

	out, err = p.run(t, "queue", "list", "--json")
	require.NoError(t, err)
	var listing queueListing
	require.NoError(t, sonic.Unmarshal([]byte(out), &listing))
	require.Len(t, listing.Pending, 1)
	assert.Equal(t, "assistant", listing.Pending[0].Feature)
}

func TestAssistDraftReplayLandsInDocument(t *testing.T) {
	t.Setenv("DEVTASK_ASSIST_API_KEY", "sk-test")
	p := newProject(t)
	p.config(t, fmt.Sprintf(assistTestConfig, deadEndpoint(t)))

	_, err := p.run(t, "assist", "--apply-to", "roadmap", "draft the roadmap")
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"# Roadmap\n\n- v1"}}]}`)
	}))
	t.Cleanup(server.Close)
	p.config(t, fmt.Sprintf(assistTestConfig, server.URL))

	out, err := p.run(t, "sync", "--feature", "assistant")
	require.NoError(t, err)
	assert.Contains(t, out, "replayed 1")

	data, err := os.ReadFile(filepath.Join(p.dir, ".devtask", "roadmap.md"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "# Roadmap")
}

func TestAssistRejectsUnknownDocument(t *testing.T) {
	t.Setenv("DEVTASK_ASSIST_API_KEY", "sk-test")
	p := newProject(t)

	_, err := p.run(t, "assist", "--apply-to", "diary", "draft it")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown workflow document")
}

func TestVersionCommand(t *testing.T) {
	p := newProject(t)

	out, err := p.run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "devtask test")
}

func TestErrorsDoNotPrintUsage(t *testing.T) {
	p := newProject(t)
	p.write(t, "package.json", `{"scripts":{"build":"true"}}`)

	out, err := p.run(t, "run", "nope")
	require.Error(t, err)
	assert.NotContains(t, out, "Usage:")
}

func TestExitErrorUnwraps(t *testing.T) {
	base := errors.New("boom")
	err := &exitError{code: 7, err: base}
	assert.Equal(t, "boom", err.Error())
	assert.ErrorIs(t, err, base)
}
