// Package id provides centralized ID generation for the tool.
//
// This package offers type-safe ULID generation with:
//   - Lexicographic sortability: queued operations replay in enqueue order
//     by sorting their IDs, no separate sequence number needed
//   - Prefixed types: type-specific prefixes for debugging (op_*, run_*, scan_*)
//   - Type safety: separate types prevent ID misuse
//
// Design principles:
//   - ULIDs only: single ID format across the tool
//   - K-sortable: timeline ordering without extra timestamps
//   - Debuggable: prefixes make logs readable
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ============================================================================
// Type-Safe ID Wrappers
// ============================================================================

// OperationID identifies a queued offline operation
type OperationID string

// RunID identifies one execution of a discovered task
type RunID string

// ScanID identifies one discovery pass over a project tree
type ScanID string

// ============================================================================
// ID Prefixes (for debugging and type identification)
// ============================================================================

const (
	OperationPrefix = "op"
	RunPrefix       = "run"
	ScanPrefix      = "scan"
)

// ============================================================================
// ULID Generator
// ============================================================================

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex // Protects entropy reader
}

var (
	// Default generator with cryptographically secure entropy
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a new ULID generator
func NewGenerator() *Generator {
	return &Generator{
		entropy: rand.Reader,
	}
}

// NewGeneratorWithEntropy creates a generator with custom entropy source
// Useful for testing with deterministic entropy
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{
		entropy: entropy,
	}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateString creates a new ULID as a string
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

// NewOperationID generates a new queued operation ID
func (g *Generator) NewOperationID() OperationID {
	return OperationID(g.GenerateWithPrefix(OperationPrefix))
}

// NewRunID generates a new task run ID
func (g *Generator) NewRunID() RunID {
	return RunID(g.GenerateWithPrefix(RunPrefix))
}

// NewScanID generates a new scan pass ID
func (g *Generator) NewScanID() ScanID {
	return ScanID(g.GenerateWithPrefix(ScanPrefix))
}

// ============================================================================
// Type Conversion and Validation
// ============================================================================

func (id OperationID) String() string { return string(id) }
func (id RunID) String() string       { return string(id) }
func (id ScanID) String() string      { return string(id) }

// IsValid checks if an ID string is a valid ULID
func IsValid(id string) bool {
	_, err := ulid.Parse(id)
	return err == nil
}

// Parse parses a ULID string
func Parse(id string) (ulid.ULID, error) {
	return ulid.Parse(id)
}

// Timestamp extracts the timestamp from a ULID, accepting prefixed IDs
func Timestamp(id string) (time.Time, error) {
	if i := strings.LastIndexByte(id, '_'); i >= 0 {
		id = id[i+1:]
	}
	parsed, err := Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
