package docs

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/devtaskhq/devtask/internal/logging"
	"github.com/devtaskhq/devtask/internal/shared/fsio"
)

// Dir is the workflow document directory under the project root.
const Dir = ".devtask"

// Name identifies one workflow document. The set is closed.
type Name string

const (
	Project Name = "project"
	Roadmap Name = "roadmap"
	State   Name = "state"
	Plan    Name = "plan"
)

// ErrUnknownDocument is returned when a caller names a document outside the
// closed set.
var ErrUnknownDocument = fmt.Errorf("unknown workflow document")

// Known returns the closed document set in scaffold order.
func Known() []Name {
	return []Name{Project, Roadmap, State, Plan}
}

// Valid reports whether n is part of the closed set.
func (n Name) Valid() bool {
	switch n {
	case Project, Roadmap, State, Plan:
		return true
	default:
		return false
	}
}

// FileName returns the document's file name under the docs directory.
func (n Name) FileName() string { return string(n) + ".md" }

func (n Name) String() string { return string(n) }

//go:embed templates/*.md.tmpl
var templateFS embed.FS

// templateData fills the scaffold templates.
type templateData struct {
	Name string
	Date string
}

// Document is one workflow document with its content and metadata.
type Document struct {
	Name    Name      `json:"name"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Store reads and writes the workflow documents for one project. Writes go
// through temp-file-and-rename like every other persisted file, so a crash
// mid-write never leaves a half-document behind.
type Store struct {
	root      string
	dir       string
	sanitizer *bluemonday.Policy
	templates *template.Template
	log       *logging.Logger
}

// NewStore creates a store rooted at the project directory.
func NewStore(root string, log *logging.Logger) (*Store, error) {
	if log == nil {
		log = logging.NewNop()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}
	tmpl, err := template.ParseFS(templateFS, "templates/*.md.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse document templates: %w", err)
	}
	return &Store{
		root:      abs,
		dir:       filepath.Join(abs, Dir),
		sanitizer: bluemonday.UGCPolicy(),
		templates: tmpl,
		log:       log,
	}, nil
}

// Root returns the project root the store serves.
func (s *Store) Root() string { return s.root }

// Path returns the on-disk location of a document.
func (s *Store) Path(name Name) (string, error) {
	if !name.Valid() {
		return "", fmt.Errorf("%w: %s", ErrUnknownDocument, name)
	}
	return filepath.Join(s.dir, name.FileName()), nil
}

// Init scaffolds the document set from the embedded templates. Existing
// documents are left alone unless force is set; the return lists the
// documents actually written.
func (s *Store) Init(projectName string, force bool) ([]Name, error) {
	if projectName == "" {
		projectName = filepath.Base(s.root)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create docs dir: %w", err)
	}

	data := templateData{
		Name: projectName,
		Date: time.Now().Format("2006-01-02"),
	}

	var written []Name
	for _, name := range Known() {
		path := filepath.Join(s.dir, name.FileName())
		if !force {
			if _, err := os.Stat(path); err == nil {
				s.log.Debug("document exists, skipping", zap.String("document", name.String()))
				continue
			}
		}

		var buf bytes.Buffer
		if err := s.templates.ExecuteTemplate(&buf, name.FileName()+".tmpl", data); err != nil {
			return written, fmt.Errorf("render %s: %w", name, err)
		}
		if err := fsio.WriteAtomic(path, buf.Bytes(), 0o644); err != nil {
			return written, fmt.Errorf("write %s: %w", name, err)
		}
		written = append(written, name)
	}
	return written, nil
}

// Read returns a document's content.
func (s *Store) Read(name Name) ([]byte, error) {
	path, err := s.Path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read document %s: %w", name, err)
	}
	return data, nil
}

// Write replaces a document's content verbatim. Caller-authored content is
// trusted; AI-sourced content goes through WriteSanitized instead.
func (s *Store) Write(name Name, content []byte) error {
	path, err := s.Path(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create docs dir: %w", err)
	}
	if err := fsio.WriteAtomic(path, content, 0o644); err != nil {
		return fmt.Errorf("write document %s: %w", name, err)
	}
	return nil
}

// WriteSanitized strips unsafe HTML from the content before writing. Every
// assistant-drafted document passes through here; markdown text survives the
// policy untouched.
func (s *Store) WriteSanitized(name Name, content []byte) error {
	return s.Write(name, s.sanitizer.SanitizeBytes(content))
}

// Sanitize applies the store's content policy without writing.
func (s *Store) Sanitize(content []byte) []byte {
	return s.sanitizer.SanitizeBytes(content)
}

// List returns metadata for the documents that exist on disk, in scaffold
// order.
func (s *Store) List() ([]Document, error) {
	var out []Document
	for _, name := range Known() {
		path := filepath.Join(s.dir, name.FileName())
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("stat document %s: %w", name, err)
		}
		out = append(out, Document{
			Name:    name,
			Path:    path,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return out, nil
}
