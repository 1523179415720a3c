// Package memory provides in-process implementations of the source registry,
// opportunity table, run bookkeeping, and blob store for development and tests.
package memory
