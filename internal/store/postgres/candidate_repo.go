package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/dpup/impact.ersn.net/server/internal/lib/geo"
	"github.com/dpup/impact.ersn.net/server/internal/lib/proximity"
)

const schemaTemplate = `
CREATE EXTENSION IF NOT EXISTS postgis;

CREATE TABLE IF NOT EXISTS {{table}} (
	id          TEXT PRIMARY KEY,
	title       TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT '',
	kind        TEXT NOT NULL DEFAULT '',
	progress    DOUBLE PRECISION,
	properties  JSONB NOT NULL DEFAULT '{}',
	geometry    geometry(Geometry, 4326),
	centroid    geometry(Point, 4326),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS {{index}}_geometry_idx ON {{table}} USING GIST (geometry);
CREATE INDEX IF NOT EXISTS {{index}}_centroid_idx ON {{table}} USING GIST (centroid);
`

// CandidateRepo reads and writes candidates in a PostGIS table.
type CandidateRepo struct {
	db    *DB
	table string
	index string
}

// NewCandidateRepo creates a repository over table.
func NewCandidateRepo(db *DB, table string) *CandidateRepo {
	return &CandidateRepo{
		db:    db,
		table: pgx.Identifier{table}.Sanitize(),
		index: strings.NewReplacer(".", "_", `"`, "").Replace(table),
	}
}

// Name identifies the repository in logs.
func (r *CandidateRepo) Name() string {
	return "postgres:" + r.table
}

// EnsureSchema creates the PostGIS extension, table and indexes if missing.
func (r *CandidateRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Pool.Exec(ctx, r.schema()); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (r *CandidateRepo) schema() string {
	return strings.NewReplacer("{{table}}", r.table, "{{index}}", r.index).Replace(schemaTemplate)
}

// Candidates returns every row whose geometry or centroid intersects bound,
// plus rows with neither, which the engine counts and skips.
func (r *CandidateRepo) Candidates(ctx context.Context, bound orb.Bound) ([]proximity.Candidate, error) {
	rows, err := r.db.Pool.Query(ctx, fmt.Sprintf(`
		SELECT id, title, status, kind, progress, properties,
		       ST_AsGeoJSON(geometry), ST_X(centroid), ST_Y(centroid)
		FROM %s
		WHERE geometry && ST_MakeEnvelope($1, $2, $3, $4, 4326)
		   OR centroid && ST_MakeEnvelope($1, $2, $3, $4, 4326)
		   OR (geometry IS NULL AND centroid IS NULL)
		ORDER BY id
	`, r.table), bound.Min.Lon(), bound.Min.Lat(), bound.Max.Lon(), bound.Max.Lat())
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	var out []proximity.Candidate
	for rows.Next() {
		var row candidateRow
		if err := rows.Scan(
			&row.ID, &row.Title, &row.Status, &row.Kind, &row.Progress, &row.Properties,
			&row.GeoJSON, &row.CentroidX, &row.CentroidY,
		); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		if c, ok := row.candidate(); ok {
			out = append(out, c)
		}
	}
	return out, rows.Err()
}

// UpsertBatch inserts or updates candidates using pgx.Batch.
func (r *CandidateRepo) UpsertBatch(ctx context.Context, candidates []proximity.Candidate) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, title, status, kind, progress, properties, geometry, centroid, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6,
		        ST_SetSRID(ST_GeomFromGeoJSON($7), 4326),
		        CASE WHEN $8::float8 IS NULL THEN NULL ELSE ST_SetSRID(ST_MakePoint($8, $9), 4326) END,
		        now())
		ON CONFLICT (id) DO UPDATE
		SET title = EXCLUDED.title, status = EXCLUDED.status, kind = EXCLUDED.kind,
		    progress = EXCLUDED.progress, properties = EXCLUDED.properties,
		    geometry = EXCLUDED.geometry, centroid = EXCLUDED.centroid,
		    updated_at = EXCLUDED.updated_at
	`, r.table)

	batch := &pgx.Batch{}
	for _, c := range candidates {
		args, err := upsertArgs(c)
		if err != nil {
			return fmt.Errorf("candidate %s: %w", c.ID, err)
		}
		batch.Queue(query, args...)
	}

	br := r.db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for range candidates {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch exec: %w", err)
		}
	}
	return nil
}

// upsertArgs returns the query arguments for one candidate. Geometry is
// validated before it is written.
func upsertArgs(c proximity.Candidate) ([]any, error) {
	var geometryJSON *string
	if c.Geometry != nil {
		if err := geo.ValidateGeometry(c.Geometry); err != nil {
			return nil, err
		}
		data, err := json.Marshal(geojson.NewGeometry(c.Geometry))
		if err != nil {
			return nil, fmt.Errorf("marshal geometry: %w", err)
		}
		s := string(data)
		geometryJSON = &s
	}

	var lon, lat *float64
	if c.Location != nil {
		if !geo.IsValidPoint(*c.Location) {
			return nil, geo.ErrInvalidCoordinate
		}
		x, y := c.Location.Lon(), c.Location.Lat()
		lon, lat = &x, &y
	}

	properties := c.Properties
	if properties == nil {
		properties = map[string]any{}
	}

	return []any{c.ID, c.Title, c.Status, c.Kind, c.Progress, properties, geometryJSON, lon, lat}, nil
}

// candidateRow is one scanned row
type candidateRow struct {
	ID         string
	Title      string
	Status     string
	Kind       string
	Progress   *float64
	Properties map[string]any
	GeoJSON    *string
	CentroidX  *float64
	CentroidY  *float64
}

// candidate converts the row. Malformed GeoJSON keeps only the centroid; a
// row with neither is dropped.
func (row candidateRow) candidate() (proximity.Candidate, bool) {
	c := proximity.Candidate{
		ID:       row.ID,
		Title:    row.Title,
		Status:   row.Status,
		Kind:     row.Kind,
		Progress: row.Progress,
	}
	if len(row.Properties) > 0 {
		c.Properties = row.Properties
	}

	if row.GeoJSON != nil {
		if g, err := geojson.UnmarshalGeometry([]byte(*row.GeoJSON)); err == nil && geo.ValidateGeometry(g.Geometry()) == nil {
			c.Geometry = g.Geometry()
		}
	}
	if row.CentroidX != nil && row.CentroidY != nil {
		p := orb.Point{*row.CentroidX, *row.CentroidY}
		if geo.IsValidPoint(p) {
			c.Location = &p
		}
	}

	return c, c.Geometry != nil || c.Location != nil
}
