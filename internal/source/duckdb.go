package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// DuckDBScheme is the URL scheme served by DuckDBSource.
const DuckDBScheme = "duckdb"

const geometryAlias = "__geometry"

// DuckDBSource reads features from local GeoJSON, GeoPackage, Shapefile or
// GeoParquet files through DuckDB's spatial extension.
//
// URLs look like duckdb:///data/assets.parquet?bbox=minLon,minLat,maxLon,maxLat&geom=geometry
// The bbox parameter is optional; geom names the geometry column.
type DuckDBSource struct {
	db      *sql.DB
	timeout time.Duration
}

// NewDuckDBSource creates a source over an open DuckDB connection with a
// per-query timeout. A zero timeout leaves the caller's context alone.
func NewDuckDBSource(db *sql.DB, timeout time.Duration) *DuckDBSource {
	return &DuckDBSource{db: db, timeout: timeout}
}

// DuckDBQuery is a parsed duckdb: URL.
type DuckDBQuery struct {
	Path   string
	Geom   string
	Bounds *orb.Bound
}

// ParseDuckDBURL parses a duckdb: URL.
func ParseDuckDBURL(rawURL string) (DuckDBQuery, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return DuckDBQuery{}, err
	}
	if u.Scheme != DuckDBScheme {
		return DuckDBQuery{}, fmt.Errorf("not a duckdb url: %q", rawURL)
	}
	path := u.Path
	if u.Opaque != "" {
		path = u.Opaque
	}
	if path == "" {
		return DuckDBQuery{}, errors.New("duckdb url has no file path")
	}

	q := DuckDBQuery{Path: path, Geom: u.Query().Get("geom")}
	if q.Geom == "" {
		q.Geom = defaultGeomColumn(path)
	}
	if !isIdentifier(q.Geom) {
		return DuckDBQuery{}, fmt.Errorf("invalid geometry column %q", q.Geom)
	}

	if raw := u.Query().Get("bbox"); raw != "" {
		// WFS style "…,EPSG:4326" suffixes are tolerated
		parts := strings.Split(raw, ",")
		if len(parts) < 4 {
			return DuckDBQuery{}, fmt.Errorf("invalid bbox %q", raw)
		}
		var v [4]float64
		for i := 0; i < 4; i++ {
			f, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 64)
			if err != nil {
				return DuckDBQuery{}, fmt.Errorf("invalid bbox %q: %w", raw, err)
			}
			v[i] = f
		}
		q.Bounds = &orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}
	}
	return q, nil
}

// SQL returns the statement and arguments for the query.
func (q DuckDBQuery) SQL() (string, []any) {
	reader := fmt.Sprintf("ST_Read('%s')", escapeLiteral(q.Path))
	switch strings.ToLower(filepath.Ext(q.Path)) {
	case ".parquet", ".geoparquet":
		reader = fmt.Sprintf("read_parquet('%s')", escapeLiteral(q.Path))
	}

	stmt := fmt.Sprintf("SELECT ST_AsGeoJSON(%[1]s) AS %[2]s, * EXCLUDE (%[1]s) FROM %[3]s",
		q.Geom, geometryAlias, reader)
	if q.Bounds == nil {
		return stmt, nil
	}
	stmt += fmt.Sprintf(" WHERE ST_Intersects(%s, ST_MakeEnvelope(?, ?, ?, ?))", q.Geom)
	b := q.Bounds
	return stmt, []any{b.Min.Lon(), b.Min.Lat(), b.Max.Lon(), b.Max.Lat()}
}

// Fetch implements Source.
func (s *DuckDBSource) Fetch(ctx context.Context, rawURL string) (*geojson.FeatureCollection, error) {
	q, err := ParseDuckDBURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchParse, err)
	}
	stmt, args := q.SQL()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, classify(fmt.Errorf("querying %s: %w", q.Path, err))
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	fc := geojson.NewFeatureCollection()
	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFetchParse, err)
		}
		f, err := rowFeature(columns, values)
		if err != nil {
			return nil, err
		}
		if f != nil {
			fc.Append(f)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return fc, nil
}

func rowFeature(columns []string, values []any) (*geojson.Feature, error) {
	var f *geojson.Feature
	props := geojson.Properties{}
	for i, col := range columns {
		if col != geometryAlias {
			props[col] = values[i]
			continue
		}
		var raw []byte
		switch v := values[i].(type) {
		case string:
			raw = []byte(v)
		case []byte:
			raw = v
		case nil:
			return nil, nil
		default:
			return nil, fmt.Errorf("%w: unexpected geometry value %T", ErrFetchParse, v)
		}
		g, err := geojson.UnmarshalGeometry(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFetchParse, err)
		}
		f = geojson.NewFeature(g.Geometry())
	}
	if f == nil {
		return nil, fmt.Errorf("%w: row has no geometry", ErrFetchParse)
	}
	f.Properties = props
	return f, nil
}

func defaultGeomColumn(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet", ".geoparquet":
		return "geometry"
	}
	return "geom"
}

func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
