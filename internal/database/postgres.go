package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/FairForge/samplehub/internal/samples"
)

// Postgres error codes
const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// Postgres is a samples.Store backed by PostgreSQL. Sample metadata lives
// in a JSONB column so the filter keys can be queried in place.
type Postgres struct {
	db *sql.DB
}

var _ samples.Store = (*Postgres)(nil)

// NewPostgres opens a connection pool for dsn
func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Postgres{db: db}, nil
}

// NewPostgresWithDB wraps an existing handle
func NewPostgresWithDB(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Close closes the database connection
func (p *Postgres) Close() error {
	return p.db.Close()
}

// Ping verifies the database connection
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// CreateTables creates the necessary database tables
func (p *Postgres) CreateTables(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS datasets (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			info JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS samples (
			id BIGSERIAL PRIMARY KEY,
			dataset_id BIGINT NOT NULL REFERENCES datasets(id),
			name TEXT NOT NULL,
			info JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_updated TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE(dataset_id, name)
		)`,
		`CREATE INDEX IF NOT EXISTS samples_dataset_id_idx ON samples(dataset_id)`,
	}

	for _, query := range queries {
		if _, err := p.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	return nil
}

func (p *Postgres) CreateDataset(ctx context.Context, name string, info map[string]any) (int64, error) {
	if info == nil {
		info = map[string]any{}
	}
	raw, err := json.Marshal(info)
	if err != nil {
		return 0, fmt.Errorf("encode dataset info: %w", err)
	}

	var id int64
	err = p.db.QueryRowContext(ctx,
		`INSERT INTO datasets (name, info) VALUES ($1, $2) RETURNING id`,
		name, string(raw)).Scan(&id)
	if hasCode(err, uniqueViolation) {
		return 0, samples.ErrConflict.New("dataset %q already exists", name)
	}
	if err != nil {
		return 0, fmt.Errorf("insert dataset: %w", err)
	}
	return id, nil
}

func (p *Postgres) ListDatasets(ctx context.Context) ([]samples.Dataset, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, name, info, created_at FROM datasets ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query datasets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []samples.Dataset{}
	for rows.Next() {
		var (
			d   samples.Dataset
			raw []byte
		)
		if err := rows.Scan(&d.ID, &d.Name, &raw, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan dataset: %w", err)
		}
		if err := json.Unmarshal(raw, &d.Info); err != nil {
			return nil, fmt.Errorf("decode dataset %q info: %w", d.Name, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeleteDataset removes an empty dataset. The samples foreign key rejects
// the delete while samples remain.
func (p *Postgres) DeleteDataset(ctx context.Context, name string) (int64, error) {
	var id int64
	err := p.db.QueryRowContext(ctx,
		`DELETE FROM datasets WHERE name = $1 RETURNING id`, name).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, samples.ErrNotFound.New("dataset %q was not found", name)
	case hasCode(err, foreignKeyViolation):
		return 0, samples.ErrConflict.New("samples in %q must be deleted first", name)
	case err != nil:
		return 0, fmt.Errorf("delete dataset: %w", err)
	}
	return id, nil
}

func (p *Postgres) DatasetID(ctx context.Context, name string) (int64, error) {
	var id int64
	err := p.db.QueryRowContext(ctx,
		`SELECT id FROM datasets WHERE name = $1`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, samples.ErrNotFound.New("dataset %q was not found", name)
	}
	if err != nil {
		return 0, fmt.Errorf("query dataset: %w", err)
	}
	return id, nil
}

func (p *Postgres) InsertSample(ctx context.Context, datasetID int64, name string, info samples.Info) (int64, error) {
	raw, err := json.Marshal(info)
	if err != nil {
		return 0, fmt.Errorf("encode sample info: %w", err)
	}

	var id int64
	err = p.db.QueryRowContext(ctx,
		`INSERT INTO samples (dataset_id, name, info) VALUES ($1, $2, $3) RETURNING id`,
		datasetID, name, string(raw)).Scan(&id)
	switch {
	case hasCode(err, uniqueViolation):
		return 0, samples.ErrConflict.New("sample %q already exists", name)
	case hasCode(err, foreignKeyViolation):
		return 0, samples.ErrNotFound.New("dataset %d was not found", datasetID)
	case err != nil:
		return 0, fmt.Errorf("insert sample: %w", err)
	}
	return id, nil
}

func (p *Postgres) UpdateSampleInfo(ctx context.Context, id int64, info samples.Info) error {
	raw, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encode sample info: %w", err)
	}

	res, err := p.db.ExecContext(ctx,
		`UPDATE samples SET info = $2, last_updated = NOW() WHERE id = $1`,
		id, string(raw))
	if err != nil {
		return fmt.Errorf("update sample: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update sample: %w", err)
	}
	if n == 0 {
		return samples.ErrNotFound.New("sample %d was not found", id)
	}
	return nil
}

const sampleColumns = `id, dataset_id, name, info, created_at, last_updated`

func (p *Postgres) FetchSample(ctx context.Context, id int64) (*samples.Sample, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+sampleColumns+` FROM samples WHERE id = $1`, id)
	s, err := scanSample(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, samples.ErrNotFound.New("sample %d was not found", id)
	}
	return s, err
}

func (p *Postgres) FindSample(ctx context.Context, datasetID int64, name string) (*samples.Sample, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+sampleColumns+` FROM samples WHERE dataset_id = $1 AND name = $2`,
		datasetID, name)
	s, err := scanSample(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, samples.ErrNotFound.New("could not find sample %q", name)
	}
	return s, err
}

// ListSamples filters by case-insensitive name prefix and the label and
// split keys of info, ordered by id. A NULL limit returns every row.
func (p *Postgres) ListSamples(ctx context.Context, datasetID int64, f samples.Filter) ([]samples.Sample, error) {
	var limit any
	if f.Limit != nil {
		limit = int64(max(*f.Limit, 0))
	}

	rows, err := p.db.QueryContext(ctx,
		`SELECT `+sampleColumns+` FROM samples
		WHERE dataset_id = $1
			AND name ILIKE $2
			AND ($3::text = '' OR info->>'label' = $3::text)
			AND ($4::text = '' OR info->>'split' = $4::text)
		ORDER BY id
		LIMIT $5 OFFSET $6`,
		datasetID, likePrefix(f.Prefix), f.Label, f.Split, limit, int64(max(f.Offset, 0)))
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []samples.Sample{}
	for rows.Next() {
		s, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (p *Postgres) CountSamples(ctx context.Context, datasetID int64) (int64, error) {
	var n int64
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM samples WHERE dataset_id = $1`, datasetID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count samples: %w", err)
	}
	return n, nil
}

func (p *Postgres) DeleteSample(ctx context.Context, datasetID int64, name string) (int64, error) {
	var id int64
	err := p.db.QueryRowContext(ctx,
		`DELETE FROM samples WHERE dataset_id = $1 AND name = $2 RETURNING id`,
		datasetID, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, samples.ErrNotFound.New("sample %q was not found", name)
	}
	if err != nil {
		return 0, fmt.Errorf("delete sample: %w", err)
	}
	return id, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSample(row scanner) (*samples.Sample, error) {
	var (
		s   samples.Sample
		raw []byte
	)
	if err := row.Scan(&s.ID, &s.DatasetID, &s.Name, &raw, &s.CreatedAt, &s.LastUpdated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan sample: %w", err)
	}
	if err := json.Unmarshal(raw, &s.Info); err != nil {
		return nil, fmt.Errorf("decode sample %d info: %w", s.ID, err)
	}
	return &s, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePrefix builds an ILIKE pattern matching names starting with prefix.
func likePrefix(prefix string) string {
	return likeEscaper.Replace(prefix) + "%"
}

func hasCode(err error, code pq.ErrorCode) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == code
}
