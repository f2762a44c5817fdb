package datastore

import (
	"context"
	"fmt"
	"testing"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcch "github.com/testcontainers/testcontainers-go/modules/clickhouse"

	"github.com/deepnoodle-ai/queryflow/schema"
)

func TestClickHouseStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := tcch.Run(ctx,
		"clickhouse/clickhouse-server:latest",
		tcch.WithDatabase("chinook"),
		tcch.WithUsername("default"),
		tcch.WithPassword("password"),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000/tcp")
	require.NoError(t, err)
	addr := fmt.Sprintf("%s:%s", host, port.Port())

	admin, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{Database: "chinook", Username: "default", Password: "password"},
	})
	require.NoError(t, err)
	defer admin.Close()
	require.NoError(t, admin.Exec(ctx, `CREATE TABLE artist (artist_id Int32, name String) ENGINE = MergeTree ORDER BY artist_id`))
	require.NoError(t, admin.Exec(ctx, `INSERT INTO artist VALUES (1, 'AC/DC'), (2, 'Accept')`))

	store, err := Open(ctx, Config{
		Driver:   "clickhouse",
		Addr:     addr,
		Database: "chinook",
		Username: "default",
		Password: "password",
	})
	require.NoError(t, err)
	defer store.Close()

	s, err := store.FetchSchema(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"artist"}, s.Tables)
	require.Equal(t, []schema.Column{{Name: "artist_id", Type: "Int32"}, {Name: "name", Type: "String"}}, s.Columns["artist"])

	result, err := store.Query(ctx, "SELECT name FROM artist ORDER BY artist_id LIMIT 10")
	require.NoError(t, err)
	require.Equal(t, 2, result.Count)
	require.Equal(t, "AC/DC", result.Rows[0]["name"])

	_, err = store.Query(ctx, "INSERT INTO artist VALUES (3, 'Aerosmith')")
	require.Error(t, err)
}
