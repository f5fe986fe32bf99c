//go:build integration

package ledger_test

import (
	"testing"

	"github.com/phrazzld/tollgate/internal/ledger"
	"github.com/phrazzld/tollgate/internal/platform/postgres"
	"github.com/phrazzld/tollgate/internal/testdb"
	"github.com/stretchr/testify/require"
)

func TestConservationUnderMixedLoad_Postgres(t *testing.T) {
	db := testdb.GetTestDBWithT(t)
	testdb.TruncateAll(t, db)

	svc, err := ledger.NewService(postgres.NewPostgresLedgerStore(db, nil), nil)
	require.NoError(t, err)
	runRandomLoad(t, svc, "acct-load")
}
