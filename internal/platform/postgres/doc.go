// Package postgres implements the store interfaces on PostgreSQL through the
// pgx database/sql driver. Ledger mutations run inside transactions that lock
// the account row with SELECT ... FOR UPDATE; task updates are conditional on
// the current status. Schema migrations are embedded and applied with goose.
package postgres
