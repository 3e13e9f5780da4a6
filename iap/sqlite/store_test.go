package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/code-payments/iap-coordinator/iap/tests"
)

func TestIap_SQLiteStore(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	defer db.Close()

	testStore, err := NewInSQLite(context.Background(), db)
	require.NoError(t, err)

	teardown := func() {
		testStore.(*store).reset()
	}
	tests.RunStoreTests(t, testStore, teardown)
}

func TestIap_SQLiteStore_SchemaIsIdempotent(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	defer db.Close()

	_, err = NewInSQLite(context.Background(), db)
	require.NoError(t, err)
	_, err = NewInSQLite(context.Background(), db)
	require.NoError(t, err)
}
