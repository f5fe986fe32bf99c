// Package store defines interfaces for data persistence operations.
// The ledger, the task registry and the compensation log depend on these
// interfaces only, so the same core runs against PostgreSQL in production
// and against in-memory stores in tests and local development.
package store
