package datastore

import (
	"context"
	"database/sql"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

const fixtureDDL = `
	CREATE TABLE artist (artist_id INTEGER PRIMARY KEY, name TEXT);
	CREATE TABLE album (
		album_id INTEGER PRIMARY KEY,
		title TEXT,
		artist_id INTEGER REFERENCES artist (artist_id)
	);
	INSERT INTO artist VALUES (1, 'AC/DC'), (2, 'Accept');
	INSERT INTO album VALUES (1, 'For Those About To Rock', 1), (2, 'Balls to the Wall', 2), (3, 'Let There Be Rock', 1);
`

func startPostgres(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("chinook"),
		tcpostgres.WithUsername("queryflow"),
		tcpostgres.WithPassword("password"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()
	_, err = pool.Exec(ctx, fixtureDDL)
	require.NoError(t, err)
	return dsn
}

func TestPostgresStores(t *testing.T) {
	dsn := startPostgres(t)
	ctx := context.Background()

	pgxStore, err := Open(ctx, Config{Driver: "postgres", DSN: dsn})
	require.NoError(t, err)
	defer pgxStore.Close()

	pqStore, err := Open(ctx, Config{Driver: "pq", DSN: dsn})
	require.NoError(t, err)
	defer pqStore.Close()

	for name, store := range map[string]Store{"pgx": pgxStore, "pq": pqStore} {
		t.Run(name, func(t *testing.T) {
			s, err := store.FetchSchema(ctx)
			require.NoError(t, err)
			require.Equal(t, []string{"album", "artist"}, s.Tables)
			require.True(t, s.Joinable("album", "artist"))
			require.Len(t, s.ForeignKeys, 1)
			require.Equal(t, "album.artist_id = artist.artist_id", s.ForeignKeys[0].String())

			result, err := store.Query(ctx, `
				SELECT artist.name, COUNT(*) AS albums
				FROM album JOIN artist ON album.artist_id = artist.artist_id
				GROUP BY artist.name ORDER BY albums DESC LIMIT 10`)
			require.NoError(t, err)
			require.Equal(t, []string{"name", "albums"}, result.Columns)
			require.Equal(t, 2, result.Count)
			require.Equal(t, "AC/DC", result.Rows[0]["name"])

			empty, err := store.Query(ctx, "SELECT * FROM album WHERE album_id > 100")
			require.NoError(t, err)
			require.Equal(t, 0, empty.Count)
			require.NotNil(t, empty.Rows)

			_, err = store.Query(ctx, "SELECT * FROM albums")
			require.Error(t, err)
			require.Contains(t, err.Error(), `"albums" does not exist`)

			// Statements run in read-only transactions.
			_, err = store.Query(ctx, "DELETE FROM album")
			require.Error(t, err)
		})
	}

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	defer db.Close()
	var count int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM album").Scan(&count))
	require.Equal(t, 3, count)
}

func TestPostgresMaxRows(t *testing.T) {
	dsn := startPostgres(t)
	ctx := context.Background()

	store, err := Open(ctx, Config{Driver: "postgres", DSN: dsn, MaxRows: 2})
	require.NoError(t, err)
	defer store.Close()

	result, err := store.Query(ctx, "SELECT * FROM album")
	require.NoError(t, err)
	require.Equal(t, 2, result.Count)
}
