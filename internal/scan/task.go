package scan

// Task is one runnable project command discovered from a manifest.
type Task struct {
	// Name is the invocation name, unique within its manifest.
	Name string `json:"name"`
	// Ecosystem names the scanner that produced the task (npm, cargo, ...).
	Ecosystem string `json:"ecosystem"`
	// Command is the full command line the runner executes.
	Command string `json:"command"`
	// Dir is the working directory for the command, the manifest's directory.
	Dir string `json:"dir"`
	// Source is the manifest file the task came from.
	Source string `json:"source"`
	// Description is optional human-readable context from the manifest.
	Description string `json:"description,omitempty"`
}

// Dependency is a direct project dependency declared in a manifest, kept for
// update checks against the ecosystem's public registry.
type Dependency struct {
	// Name is the package name as the registry knows it.
	Name string `json:"name"`
	// Ecosystem selects the registry to ask (npm, cargo, poetry, composer).
	Ecosystem string `json:"ecosystem"`
	// Declared is the version constraint verbatim from the manifest.
	Declared string `json:"declared"`
}
