// Package testdb provides helpers for PostgreSQL integration tests.
//
// Each test runs in its own transaction, which is rolled back when the test
// completes, so tests may run in parallel against one database:
//
//	func TestSomething(t *testing.T) {
//	    db := testdb.GetTestDBWithT(t)
//	    testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
//	        exports := postgres.NewPostgresExportStore(tx, nil)
//	        // ...
//	    })
//	}
//
// Tests are skipped unless DATABASE_URL (or ION_TEST_DB_URL) is set. The
// schema is migrated once per test binary from the embedded migrations.
package testdb
