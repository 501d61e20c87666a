package resilience

import "fmt"

// Feature identifies one external dependency routed through the resilience
// layer. The set is closed: every feature is declared here and registered by
// the Manager at construction.
type Feature string

const (
	// FeatureAssistant is the AI provider used by assist commands.
	FeatureAssistant Feature = "assistant"
	// FeatureRegistry covers remote package registry lookups.
	FeatureRegistry Feature = "registry"
	// FeatureSync is the workflow document sync service.
	FeatureSync Feature = "sync"
	// FeatureExtension covers network calls originated by scanner plugins.
	FeatureExtension Feature = "extension"
)

// ErrUnknownFeature is returned when a caller names a feature outside the
// closed set.
var ErrUnknownFeature = fmt.Errorf("unknown feature")

// Known returns the closed feature set in stable order.
func Known() []Feature {
	return []Feature{FeatureAssistant, FeatureRegistry, FeatureSync, FeatureExtension}
}

// Valid reports whether f is part of the closed set.
func (f Feature) Valid() bool {
	switch f {
	case FeatureAssistant, FeatureRegistry, FeatureSync, FeatureExtension:
		return true
	default:
		return false
	}
}

// NetworkDependent reports whether the feature requires network access. All
// current features do; the distinction matters for overall severity, where
// "offline" means every network-dependent feature is degraded.
func (f Feature) NetworkDependent() bool {
	return f.Valid()
}

func (f Feature) String() string { return string(f) }
