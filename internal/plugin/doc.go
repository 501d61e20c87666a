// Package plugin loads JavaScript scanner extensions into sandboxed goja
// runtimes. Plugins come from the project's plugin directory, are pinned by
// content hash in plugins.lock, and register additional manifest scanners
// through a small host API. Network access from a plugin is routed through
// the resilience layer by the host process; plugins never open sockets
// themselves.
package plugin
