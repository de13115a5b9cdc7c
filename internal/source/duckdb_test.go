package source

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDB answers every query with rows, or blocks until the context ends
// when block is set. It records the last statement and arguments.
type fakeDB struct {
	block   bool
	columns []string
	rows    [][]driver.Value

	mu    sync.Mutex
	query string
	args  []any
}

func (d *fakeDB) Connect(context.Context) (driver.Conn, error) { return &fakeConn{db: d}, nil }
func (d *fakeDB) Driver() driver.Driver                         { return d }
func (d *fakeDB) Open(string) (driver.Conn, error)              { return &fakeConn{db: d}, nil }

func (d *fakeDB) last() (string, []any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.query, d.args
}

type fakeConn struct{ db *fakeDB }

func (c *fakeConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not supported") }
func (c *fakeConn) Close() error                        { return nil }
func (c *fakeConn) Begin() (driver.Tx, error)           { return nil, errors.New("not supported") }

func (c *fakeConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.db.mu.Lock()
	c.db.query = query
	c.db.args = nil
	for _, a := range args {
		c.db.args = append(c.db.args, a.Value)
	}
	c.db.mu.Unlock()

	if c.db.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return &fakeRows{columns: c.db.columns, rows: c.db.rows}, nil
}

type fakeRows struct {
	columns []string
	rows    [][]driver.Value
}

func (r *fakeRows) Columns() []string { return r.columns }
func (r *fakeRows) Close() error      { return nil }

func (r *fakeRows) Next(dest []driver.Value) error {
	if len(r.rows) == 0 {
		return io.EOF
	}
	copy(dest, r.rows[0])
	r.rows = r.rows[1:]
	return nil
}

func TestDuckDBQuery_SQL(t *testing.T) {
	bound := &orb.Bound{Min: orb.Point{-2.2, 53.3}, Max: orb.Point{-2.0, 53.5}}
	tests := []struct {
		name  string
		query DuckDBQuery
		stmt  string
		args  []any
	}{
		{
			name:  "geojson file",
			query: DuckDBQuery{Path: "data/boundary.geojson", Geom: "geom"},
			stmt:  "SELECT ST_AsGeoJSON(geom) AS __geometry, * EXCLUDE (geom) FROM ST_Read('data/boundary.geojson')",
		},
		{
			name:  "parquet with bbox",
			query: DuckDBQuery{Path: "/data/assets.parquet", Geom: "geometry", Bounds: bound},
			stmt:  "SELECT ST_AsGeoJSON(geometry) AS __geometry, * EXCLUDE (geometry) FROM read_parquet('/data/assets.parquet') WHERE ST_Intersects(geometry, ST_MakeEnvelope(?, ?, ?, ?))",
			args:  []any{-2.2, 53.3, -2.0, 53.5},
		},
		{
			name:  "geoparquet extension",
			query: DuckDBQuery{Path: "trees.GeoParquet", Geom: "geometry"},
			stmt:  "SELECT ST_AsGeoJSON(geometry) AS __geometry, * EXCLUDE (geometry) FROM read_parquet('trees.GeoParquet')",
		},
		{
			name:  "quoted path",
			query: DuckDBQuery{Path: "o'brien.shp", Geom: "wkb_geometry"},
			stmt:  "SELECT ST_AsGeoJSON(wkb_geometry) AS __geometry, * EXCLUDE (wkb_geometry) FROM ST_Read('o''brien.shp')",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stmt, args := tt.query.SQL()
			assert.Equal(t, tt.stmt, stmt)
			assert.Equal(t, tt.args, args)
		})
	}
}

func TestDuckDBSource_Fetch(t *testing.T) {
	fake := &fakeDB{
		columns: []string{geometryAlias, "asset_id"},
		rows: [][]driver.Value{
			{`{"type":"Point","coordinates":[-2.1,53.4]}`, "G-1"},
			{nil, "no geometry"},
		},
	}
	db := sql.OpenDB(fake)
	t.Cleanup(func() { db.Close() })

	fc, err := NewDuckDBSource(db, time.Second).Fetch(context.Background(),
		"duckdb:///data/gullies.parquet?bbox=-2.2,53.3,-2.0,53.5")
	require.NoError(t, err)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, orb.Point{-2.1, 53.4}, fc.Features[0].Geometry)
	assert.Equal(t, "G-1", fc.Features[0].Properties["asset_id"])

	query, args := fake.last()
	assert.Contains(t, query, "read_parquet('/data/gullies.parquet')")
	assert.Equal(t, []any{-2.2, 53.3, -2.0, 53.5}, args)
}

func TestDuckDBSource_Fetch_timeout(t *testing.T) {
	db := sql.OpenDB(&fakeDB{block: true})
	t.Cleanup(func() { db.Close() })

	start := time.Now()
	_, err := NewDuckDBSource(db, 20*time.Millisecond).Fetch(context.Background(), "duckdb:///data/gullies.parquet")
	require.ErrorIs(t, err, ErrFetchTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestDuckDBSource_Fetch_badURL(t *testing.T) {
	_, err := NewDuckDBSource(nil, time.Second).Fetch(context.Background(), "duckdb:///a.parquet?bbox=1,2")
	require.ErrorIs(t, err, ErrFetchParse)
}
