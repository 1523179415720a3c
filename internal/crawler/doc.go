// Package crawler defines the types, ports, and sentinel errors shared by the
// funding-opportunity pipeline: sessions, extractors, formatters, stores, and
// the run orchestration built on top of them.
package crawler
