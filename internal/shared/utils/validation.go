package utils

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Size limits (in bytes)
const (
	// MaxPayloadSize caps a queued operation payload. Payloads above this are
	// rejected at enqueue time rather than bloating the queue file.
	MaxPayloadSize = 256 * 1024

	// MaxManifestSize caps how much of a manifest file a scanner will read.
	MaxManifestSize = 4 * 1024 * 1024

	// MaxPluginSize caps a plugin source file.
	MaxPluginSize = 1 * 1024 * 1024
)

// String length limits
const (
	MaxIDLength       = 128
	MaxTaskNameLength = 128
	MaxFeatureLength  = 64
)

var (
	// SafeIDPattern allows alphanumeric, hyphens, underscores
	SafeIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	// TaskNamePattern additionally allows dots and colons (ecosystem:task format)
	TaskNamePattern = regexp.MustCompile(`^[a-zA-Z0-9._:-]+$`)
)

// PayloadValidator validates queued operation payloads before they are
// persisted.
type PayloadValidator struct {
	maxSize int
}

// NewPayloadValidator creates a validator with the specified max size
func NewPayloadValidator(maxSize int) *PayloadValidator {
	return &PayloadValidator{maxSize: maxSize}
}

// DefaultPayloadValidator returns a validator with the default payload limit
func DefaultPayloadValidator() *PayloadValidator {
	return NewPayloadValidator(MaxPayloadSize)
}

// ValidateSize checks if the data size is within limits
func (v *PayloadValidator) ValidateSize(data []byte) error {
	if len(data) > v.maxSize {
		return fmt.Errorf("payload size %d bytes exceeds maximum %d bytes", len(data), v.maxSize)
	}
	return nil
}

// Validate checks both size and JSON structure
func (v *PayloadValidator) Validate(data []byte) error {
	// Check size first (faster than parsing)
	if err := v.ValidateSize(data); err != nil {
		return err
	}

	var js interface{}
	if err := json.Unmarshal(data, &js); err != nil {
		return fmt.Errorf("invalid JSON payload: %w", err)
	}

	return nil
}

// ValidateString validates a string field with length and content checks
func ValidateString(value, fieldName string, minLen, maxLen int, required bool) error {
	if required && value == "" {
		return fmt.Errorf("%s is required", fieldName)
	}

	if value == "" && !required {
		return nil
	}

	length := utf8.RuneCountInString(value)
	if length < minLen {
		return fmt.Errorf("%s must be at least %d characters", fieldName, minLen)
	}
	if length > maxLen {
		return fmt.Errorf("%s must not exceed %d characters", fieldName, maxLen)
	}

	if strings.Contains(value, "\x00") {
		return fmt.Errorf("%s contains invalid characters", fieldName)
	}

	return nil
}

// ValidateID validates an ID field
func ValidateID(id, fieldName string, required bool) error {
	if err := ValidateString(id, fieldName, 1, MaxIDLength, required); err != nil {
		return err
	}

	if id != "" && !SafeIDPattern.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters (only alphanumeric, hyphens, and underscores allowed)", fieldName)
	}

	return nil
}

// ValidateTaskName validates a discovered task name
func ValidateTaskName(name string) error {
	if err := ValidateString(name, "task name", 1, MaxTaskNameLength, true); err != nil {
		return err
	}

	if !TaskNamePattern.MatchString(name) {
		return fmt.Errorf("task name contains invalid characters (only alphanumeric, dots, colons, hyphens, and underscores allowed)")
	}

	return nil
}
