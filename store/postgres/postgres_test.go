package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"pdfconvapi/store/postgres"
	"pdfconvapi/store/storetest"

	"github.com/stretchr/testify/require"
)

// Integration suite; needs a disposable database.
func TestStoreContract(t *testing.T) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set, skipping postgres store tests")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := postgres.Connect(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, postgres.Migrate(ctx, pool))

	storetest.Run(t, postgres.New(pool))
}
