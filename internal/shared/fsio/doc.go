// Package fsio provides crash-safe file primitives for the state directory.
package fsio
