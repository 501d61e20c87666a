// Package ide renders discovered tasks into editor integration files. Every
// generator is deterministic: the same task list produces byte-identical
// output, so generated files diff cleanly under version control. The target
// set is closed and registered at startup.
package ide
