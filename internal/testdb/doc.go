// Package testdb provides helpers for tests that talk to a real PostgreSQL
// database.
//
// Tests skip themselves unless DATABASE_URL or TOLLGATE_TEST_DB_URL is set.
// GetTestDBWithT opens a connection, applies the embedded migrations and
// registers cleanup. Stores that accept store.DBTX can run inside WithTx,
// which always rolls back; stores that open their own transactions (the
// ledger store) should call TruncateAll instead.
//
//	func TestTaskStoreIntegration(t *testing.T) {
//	    db := testdb.GetTestDBWithT(t)
//	    testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
//	        s := postgres.NewPostgresTaskStore(tx, nil)
//	        ...
//	    })
//	}
package testdb
