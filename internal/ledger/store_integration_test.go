//go:build integration

package ledger

import (
	"testing"

	"hookgate/internal/testinfra"
)

func TestPostgresStore_Contract(t *testing.T) {
	db := testinfra.Postgres(t)

	runEventStoreContract(t, func(t *testing.T) EventStore {
		testinfra.TruncatePostgres(t, db)
		return NewPostgresStore(db)
	})
}

func TestMongoStore_Contract(t *testing.T) {
	db := testinfra.Mongo(t)

	runEventStoreContract(t, func(t *testing.T) EventStore {
		testinfra.DropMongo(t, db)
		return NewMongoStore(db)
	})
}
