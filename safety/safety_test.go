package safety

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheck(t *testing.T) {
	tests := []struct {
		name   string
		sql    string
		want   string
		reject bool
	}{
		{name: "appends limit", sql: "SELECT * FROM track", want: "SELECT * FROM track LIMIT 10"},
		{name: "trailing separator replaced", sql: "SELECT * FROM track;", want: "SELECT * FROM track LIMIT 10"},
		{name: "existing limit kept", sql: "SELECT * FROM track LIMIT 5", want: "SELECT * FROM track LIMIT 5"},
		{name: "lowercase limit kept", sql: "select name from artist limit 3;", want: "select name from artist limit 3;"},
		{name: "stacked statements", sql: "SELECT * FROM track; DROP TABLE track;", reject: true},
		{name: "separator in the middle", sql: "SELECT 1; SELECT 2", reject: true},
		{name: "delete", sql: "DELETE FROM track", reject: true},
		{name: "mixed case update", sql: "UpDaTe track SET name = 'x'", reject: true},
		{name: "keyword inside identifier", sql: "SELECT created_at, updated_by FROM track", want: "SELECT created_at, updated_by FROM track LIMIT 10"},
		{name: "limit inside identifier", sql: "SELECT credit_limit FROM customer", want: "SELECT credit_limit FROM customer LIMIT 10"},
		{name: "limit on next line", sql: "SELECT * FROM track\nLIMIT\n20", want: "SELECT * FROM track\nLIMIT\n20"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Check(tt.sql)
			if tt.reject {
				require.Error(t, err)
				require.Equal(t, ErrUnsafe, err.Error())
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestGateKnownTables(t *testing.T) {
	g := Gate{Limit: 25, Known: func(table string) bool { return table == "track" }}

	got, err := g.Check("SELECT name FROM track", []string{"track"})
	require.NoError(t, err)
	require.Equal(t, "SELECT name FROM track LIMIT 25", got)

	_, err = g.Check("SELECT name FROM songs", []string{"songs"})
	require.Error(t, err)
	require.Equal(t, "songs Table does not exists", err.Error())
}
