// Package orchestrator runs the admission pipeline: charge the account,
// create the task, dispatch it, and settle the outcome. Every path that ends
// without a completed task refunds the charge. A refund that cannot be
// applied is recorded for manual reconciliation.
package orchestrator
