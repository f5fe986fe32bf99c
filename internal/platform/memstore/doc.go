// Package memstore provides in-process implementations of the store
// interfaces. They back the memory database driver and serve as fakes in
// tests. All state is lost when the process exits.
package memstore
