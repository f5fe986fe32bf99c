// Package domain defines the core business entities of the metered task
// pipeline: money amounts, ledger transactions, tasks and their state machine,
// and the sentinel errors shared by every layer.
package domain
