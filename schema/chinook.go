package schema

// Chinook returns the schema of the Chinook sample music store database.
func Chinook() *Schema {
	col := func(name, typ string) Column { return Column{Name: name, Type: typ} }
	columns := map[string][]Column{
		"album":  {col("album_id", "integer"), col("title", "varchar"), col("artist_id", "integer")},
		"artist": {col("artist_id", "integer"), col("name", "varchar")},
		"customer": {
			col("customer_id", "integer"), col("first_name", "varchar"), col("last_name", "varchar"),
			col("company", "varchar"), col("address", "varchar"), col("city", "varchar"),
			col("state", "varchar"), col("country", "varchar"), col("postal_code", "varchar"),
			col("phone", "varchar"), col("fax", "varchar"), col("email", "varchar"),
			col("support_rep_id", "integer"),
		},
		"employee": {
			col("employee_id", "integer"), col("last_name", "varchar"), col("first_name", "varchar"),
			col("title", "varchar"), col("reports_to", "integer"), col("birth_date", "timestamp"),
			col("hire_date", "timestamp"), col("address", "varchar"), col("city", "varchar"),
			col("state", "varchar"), col("country", "varchar"), col("postal_code", "varchar"),
			col("phone", "varchar"), col("fax", "varchar"), col("email", "varchar"),
		},
		"genre": {col("genre_id", "integer"), col("name", "varchar")},
		"invoice": {
			col("invoice_id", "integer"), col("customer_id", "integer"), col("invoice_date", "timestamp"),
			col("billing_address", "varchar"), col("billing_city", "varchar"), col("billing_state", "varchar"),
			col("billing_country", "varchar"), col("billing_postal_code", "varchar"), col("total", "numeric"),
		},
		"invoice_line": {
			col("invoice_line_id", "integer"), col("invoice_id", "integer"), col("track_id", "integer"),
			col("unit_price", "numeric"), col("quantity", "integer"),
		},
		"media_type":     {col("media_type_id", "integer"), col("name", "varchar")},
		"playlist":       {col("playlist_id", "integer"), col("name", "varchar")},
		"playlist_track": {col("playlist_id", "integer"), col("track_id", "integer")},
		"track": {
			col("track_id", "integer"), col("name", "varchar"), col("album_id", "integer"),
			col("media_type_id", "integer"), col("genre_id", "integer"), col("composer", "varchar"),
			col("milliseconds", "integer"), col("bytes", "integer"), col("unit_price", "numeric"),
		},
	}

	// The referenced column is always the primary key, which is listed first.
	refs := []struct{ from, to, column string }{
		{"album", "artist", "artist_id"},
		{"customer", "employee", "support_rep_id"},
		{"invoice", "customer", "customer_id"},
		{"invoice_line", "invoice", "invoice_id"},
		{"invoice_line", "track", "track_id"},
		{"playlist_track", "playlist", "playlist_id"},
		{"playlist_track", "track", "track_id"},
		{"track", "album", "album_id"},
		{"track", "media_type", "media_type_id"},
		{"track", "genre", "genre_id"},
	}
	fks := make([]ForeignKey, 0, len(refs))
	for _, r := range refs {
		fks = append(fks, ForeignKey{
			FromTable:  r.from,
			FromColumn: r.column,
			ToTable:    r.to,
			ToColumn:   columns[r.to][0].Name,
		})
	}
	return New(columns, fks)
}
