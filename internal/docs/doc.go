// Package docs owns the workflow documents under the project's .devtask
// directory: project, roadmap, state and plan. All I/O is local; remote sync
// of these documents lives in internal/remote and goes through the resilience
// layer. Content from the AI assistant is sanitized before it is written.
package docs
