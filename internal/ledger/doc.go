// Package ledger owns account balances. Every balance change goes through
// Service, which serializes mutations per account and delegates persistence
// to a store.LedgerStore. A balance never becomes negative and every change
// is matched by exactly one completed transaction.
package ledger
