package plan

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/deepnoodle-ai/queryflow/schema"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	s := schema.Chinook()

	tests := []struct {
		name string
		plan Plan
		err  string
	}{
		{
			name: "valid join",
			plan: Plan{
				Tables: []string{"album", "artist"},
				Joins:  []string{"album.artist_id = artist.artist_id"},
			},
		},
		{
			name: "join checked in reverse direction",
			plan: Plan{
				Tables: []string{"artist", "album"},
				Joins:  []string{"artist.artist_id = album.artist_id"},
			},
		},
		{
			name: "unknown table",
			plan: Plan{Tables: []string{"orders"}},
			err:  "Invalid table: orders",
		},
		{
			name: "duplicate table",
			plan: Plan{Tables: []string{"track", "track"}},
			err:  "Duplicate tables found in plan",
		},
		{
			name: "bad join format",
			plan: Plan{Tables: []string{"album", "artist"}, Joins: []string{"album JOIN artist"}},
			err:  "Bad join format: album JOIN artist",
		},
		{
			name: "join without foreign key",
			plan: Plan{Tables: []string{"artist", "genre"}, Joins: []string{"artist.artist_id = genre.genre_id"}},
			err:  "Invalid FK join: artist.artist_id = genre.genre_id",
		},
		{
			name: "filter on table outside plan",
			plan: Plan{Tables: []string{"customer"}, Filters: []string{"invoice.total > 10"}},
			err:  "Filter references unknown table: invoice.total > 10",
		},
		{
			name: "filter on plan table",
			plan: Plan{Tables: []string{"customer"}, Filters: []string{"customer.country = 'Brazil'"}},
		},
		{
			name: "aggregation without group by",
			plan: Plan{Tables: []string{"invoice"}, Aggregations: []string{"SUM(invoice.total)"}},
			err:  "Aggregation requires GROUP BY",
		},
		{
			name: "mixed aggregations without group by",
			plan: Plan{Tables: []string{"invoice"}, Aggregations: []string{"COUNT(*)", "SUM(invoice.total)"}},
			err:  "Aggregation requires GROUP BY",
		},
		{
			name: "bare count",
			plan: Plan{Tables: []string{"album"}, Aggregations: []string{"COUNT(*)"}},
		},
		{
			name: "aggregation with group by",
			plan: Plan{
				Tables:       []string{"invoice"},
				Aggregations: []string{"SUM(invoice.total)"},
				GroupBy:      []string{"invoice.billing_country"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.plan, s)
			if tt.err == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Equal(t, tt.err, err.Error())
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
		})
	}

	t.Run("nil inputs", func(t *testing.T) {
		require.Error(t, Validate(nil, s))
		require.Error(t, Validate(&Plan{}, nil))
	})
}

func TestApplyDefaults(t *testing.T) {
	p := ApplyDefaults(&Plan{
		Tables: []string{"album"},
		Joins:  []string{"album.artist_id = artist.artist_id"},
	})
	require.Equal(t, DefaultLimit, p.Limit)
	require.Empty(t, p.Joins)
	require.NotNil(t, p.Filters)
	require.NotNil(t, p.Aggregations)
	require.NotNil(t, p.GroupBy)
	require.Nil(t, p.OrderBy)

	kept := ApplyDefaults(&Plan{
		Tables: []string{"album", "artist"},
		Joins:  []string{"album.artist_id = artist.artist_id"},
		Limit:  5,
	})
	require.Equal(t, 5, kept.Limit)
	require.Len(t, kept.Joins, 1)
}

func TestDecodeOrderBy(t *testing.T) {
	var p Plan
	require.NoError(t, json.Unmarshal([]byte(`{"tables":["track"],"order_by":"track.milliseconds DESC"}`), &p))
	require.Equal(t, &OrderBy{Column: "track.milliseconds", Direction: "desc"}, p.OrderBy)

	p = Plan{}
	require.NoError(t, json.Unmarshal([]byte(`{"tables":["track"],"order_by":{"column":"name","direction":"asc"}}`), &p))
	require.Equal(t, &OrderBy{Column: "name", Direction: "asc"}, p.OrderBy)

	p = Plan{}
	require.NoError(t, json.Unmarshal([]byte(`{"tables":["track"],"order_by":null}`), &p))
	require.Nil(t, p.OrderBy)
}

func TestSummary(t *testing.T) {
	p := ApplyDefaults(&Plan{Tables: []string{"album"}, Aggregations: []string{"COUNT(*)"}})
	require.Equal(t, "tables: album | aggregations: COUNT(*) | limit: 50", p.Summary())
}
