// Package cli builds the cobra command tree. The tree is constructed per
// invocation around one app.App, which commands obtain lazily through a
// shared handle: parsing flags and printing help never pays for subsystem
// wiring, and nothing lives in package-level variables.
package cli
