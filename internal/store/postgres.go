package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/marketscope/vacancy-crawler/internal/scrape"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool.
type Config struct {
	DSN      string
	Table    string
	MaxConns int32
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Postgres persists vacancies, search history and saved searches.
type Postgres struct {
	pool   querier
	table  string
	logger *zap.Logger
}

// NewPostgres connects to Postgres, verifies the connection and ensures the
// schema exists.
func NewPostgres(ctx context.Context, cfg Config, logger *zap.Logger) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "vacancies"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &Postgres{pool: pool, table: table, logger: logger}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresWithPool constructs a store from an existing pool (primarily for
// testing). It does not ping or create the schema.
func NewPostgresWithPool(pool querier, table string, logger *zap.Logger) (*Postgres, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "vacancies"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Postgres{pool: pool, table: table, logger: logger}, nil
}

// Ping verifies database connectivity.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the underlying pool resources.
func (s *Postgres) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the tables and indexes if they are missing.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	link TEXT NOT NULL UNIQUE,
	title TEXT NOT NULL,
	company TEXT NOT NULL DEFAULT '',
	location TEXT NOT NULL DEFAULT '',
	experience TEXT NOT NULL DEFAULT '',
	remote BOOLEAN NOT NULL DEFAULT FALSE,
	key_skills JSONB NOT NULL DEFAULT '[]',
	salary_min BIGINT,
	salary_max BIGINT,
	currency TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_location_idx ON %s (location)`, s.table, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_experience_idx ON %s (experience)`, s.table, s.table),
		`
CREATE TABLE IF NOT EXISTS search_history (
	id BIGSERIAL PRIMARY KEY,
	keyword TEXT NOT NULL,
	location TEXT NOT NULL DEFAULT '',
	experience TEXT NOT NULL DEFAULT '',
	pages INT NOT NULL DEFAULT 0,
	inserted INT NOT NULL DEFAULT 0,
	skipped INT NOT NULL DEFAULT 0,
	failed INT NOT NULL DEFAULT 0,
	ran_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
		`
CREATE TABLE IF NOT EXISTS saved_searches (
	id BIGSERIAL PRIMARY KEY,
	keyword TEXT NOT NULL,
	location TEXT NOT NULL DEFAULT '',
	experience TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (keyword, location, experience)
)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Upsert stores one vacancy keyed by its link. With overwrite false an
// existing link is left untouched and OutcomeSkipped is returned; with
// overwrite true the row is replaced and OutcomeUpdated is returned.
func (s *Postgres) Upsert(ctx context.Context, v scrape.Vacancy, overwrite bool) (UpsertOutcome, error) {
	if v.Link == "" {
		return 0, fmt.Errorf("vacancy link is required")
	}
	skills, err := json.Marshal(v.KeySkills)
	if err != nil {
		return 0, fmt.Errorf("marshal key skills: %w", err)
	}
	args := []any{
		v.Link,
		v.Title,
		v.Company,
		v.Location,
		string(v.Experience),
		v.Remote,
		skills,
		v.SalaryMin,
		v.SalaryMax,
		v.Currency,
		v.CreatedAt,
	}
	if !overwrite {
		query := fmt.Sprintf(`
INSERT INTO %s (link, title, company, location, experience, remote, key_skills, salary_min, salary_max, currency, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (link) DO NOTHING`, s.table)
		tag, err := s.pool.Exec(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("insert vacancy: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return OutcomeSkipped, nil
		}
		return OutcomeInserted, nil
	}
	query := fmt.Sprintf(`
INSERT INTO %s (link, title, company, location, experience, remote, key_skills, salary_min, salary_max, currency, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (link) DO UPDATE SET
	title = EXCLUDED.title,
	company = EXCLUDED.company,
	location = EXCLUDED.location,
	experience = EXCLUDED.experience,
	remote = EXCLUDED.remote,
	key_skills = EXCLUDED.key_skills,
	salary_min = EXCLUDED.salary_min,
	salary_max = EXCLUDED.salary_max,
	currency = EXCLUDED.currency
RETURNING (xmax = 0)`, s.table)
	var inserted bool
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&inserted); err != nil {
		return 0, fmt.Errorf("upsert vacancy: %w", err)
	}
	if inserted {
		return OutcomeInserted, nil
	}
	return OutcomeUpdated, nil
}

// buildWhere renders the filter as a WHERE clause with positional args.
func buildWhere(f Filter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.Keyword != "" {
		add("title ILIKE '%%' || $%d || '%%'", f.Keyword)
	}
	if f.Location != "" {
		add("location ILIKE '%%' || $%d || '%%'", f.Location)
	}
	if f.Experience != "" {
		add("experience = $%d", string(f.Experience))
	}
	if f.RemoteOnly {
		clauses = append(clauses, "remote")
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// Query returns stored vacancies matching the filter, newest first.
func (s *Postgres) Query(ctx context.Context, f Filter) ([]scrape.Vacancy, error) {
	where, args := buildWhere(f)
	query := fmt.Sprintf(`
SELECT link, title, company, location, experience, remote, key_skills, salary_min, salary_max, currency, created_at
FROM %s%s
ORDER BY created_at DESC, id DESC`, s.table, where)
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query vacancies: %w", err)
	}
	defer rows.Close()

	out := make([]scrape.Vacancy, 0)
	for rows.Next() {
		var (
			v          scrape.Vacancy
			experience string
			skills     []byte
		)
		if err := rows.Scan(
			&v.Link,
			&v.Title,
			&v.Company,
			&v.Location,
			&experience,
			&v.Remote,
			&skills,
			&v.SalaryMin,
			&v.SalaryMax,
			&v.Currency,
			&v.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan vacancy: %w", err)
		}
		v.Experience = scrape.Experience(experience)
		if len(skills) > 0 {
			if err := json.Unmarshal(skills, &v.KeySkills); err != nil {
				return nil, fmt.Errorf("unmarshal key skills: %w", err)
			}
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vacancies: %w", err)
	}
	return out, nil
}

// Statistics aggregates the vacancies matching the filter.
func (s *Postgres) Statistics(ctx context.Context, f Filter) (Statistics, error) {
	where, args := buildWhere(f)
	stats := Statistics{
		Locations:  make(map[string]int),
		Experience: make(map[string]int),
	}

	// Salary aggregates run over whichever bound each row carries.
	query := fmt.Sprintf(`
SELECT
	COUNT(*),
	COUNT(COALESCE(salary_min, salary_max)),
	MIN(COALESCE(salary_min, salary_max)),
	MAX(COALESCE(salary_max, salary_min)),
	AVG(COALESCE(salary_min, salary_max)),
	PERCENTILE_CONT(0.5) WITHIN GROUP (ORDER BY COALESCE(salary_min, salary_max)),
	COALESCE(AVG(CASE WHEN remote THEN 1.0 ELSE 0.0 END), 0)
FROM %s%s`, s.table, where)
	if err := s.pool.QueryRow(ctx, query, args...).Scan(
		&stats.Count,
		&stats.Salary.Samples,
		&stats.Salary.Min,
		&stats.Salary.Max,
		&stats.Salary.Avg,
		&stats.Salary.Median,
		&stats.RemoteFraction,
	); err != nil {
		return Statistics{}, fmt.Errorf("query statistics: %w", err)
	}

	for _, group := range []struct {
		column string
		dest   map[string]int
	}{
		{"location", stats.Locations},
		{"experience", stats.Experience},
	} {
		query := fmt.Sprintf(`SELECT %s, COUNT(*) FROM %s%s GROUP BY %s`, group.column, s.table, where, group.column)
		rows, err := s.pool.Query(ctx, query, args...)
		if err != nil {
			return Statistics{}, fmt.Errorf("query %s breakdown: %w", group.column, err)
		}
		for rows.Next() {
			var (
				key   string
				count int
			)
			if err := rows.Scan(&key, &count); err != nil {
				rows.Close()
				return Statistics{}, fmt.Errorf("scan %s breakdown: %w", group.column, err)
			}
			group.dest[key] = count
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return Statistics{}, fmt.Errorf("iterate %s breakdown: %w", group.column, err)
		}
	}
	return stats, nil
}

// RecordSearch appends one row to the search history.
func (s *Postgres) RecordSearch(ctx context.Context, rec SearchRecord) error {
	query := `
INSERT INTO search_history (keyword, location, experience, pages, inserted, skipped, failed, ran_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := s.pool.Exec(ctx, query,
		rec.Keyword,
		rec.Location,
		string(rec.Experience),
		rec.Pages,
		rec.Inserted,
		rec.Skipped,
		rec.Failed,
		rec.RanAt,
	)
	if err != nil {
		return fmt.Errorf("record search: %w", err)
	}
	return nil
}

// SearchHistory returns the most recent searches, newest first.
func (s *Postgres) SearchHistory(ctx context.Context, limit int) ([]SearchRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
SELECT id, keyword, location, experience, pages, inserted, skipped, failed, ran_at
FROM search_history
ORDER BY ran_at DESC, id DESC
LIMIT $1`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query search history: %w", err)
	}
	defer rows.Close()

	out := make([]SearchRecord, 0, limit)
	for rows.Next() {
		var (
			rec        SearchRecord
			experience string
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.Keyword,
			&rec.Location,
			&experience,
			&rec.Pages,
			&rec.Inserted,
			&rec.Skipped,
			&rec.Failed,
			&rec.RanAt,
		); err != nil {
			return nil, fmt.Errorf("scan search history: %w", err)
		}
		rec.Experience = scrape.Experience(experience)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search history: %w", err)
	}
	return out, nil
}

// SaveSearch stores a query for scheduled re-runs. Saving the same query
// twice is a no-op.
func (s *Postgres) SaveSearch(ctx context.Context, search SavedSearch) error {
	if search.Keyword == "" {
		return fmt.Errorf("keyword is required")
	}
	query := `
INSERT INTO saved_searches (keyword, location, experience, created_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (keyword, location, experience) DO NOTHING`
	createdAt := search.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, query, search.Keyword, search.Location, string(search.Experience), createdAt)
	if err != nil {
		return fmt.Errorf("save search: %w", err)
	}
	return nil
}

// SavedSearches lists the stored queries, oldest first.
func (s *Postgres) SavedSearches(ctx context.Context) ([]SavedSearch, error) {
	query := `
SELECT id, keyword, location, experience, created_at
FROM saved_searches
ORDER BY id`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query saved searches: %w", err)
	}
	defer rows.Close()

	out := make([]SavedSearch, 0)
	for rows.Next() {
		var (
			search     SavedSearch
			experience string
		)
		if err := rows.Scan(&search.ID, &search.Keyword, &search.Location, &experience, &search.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan saved search: %w", err)
		}
		search.Experience = scrape.Experience(experience)
		out = append(out, search)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate saved searches: %w", err)
	}
	return out, nil
}

// DeleteSavedSearch removes one saved search by id.
func (s *Postgres) DeleteSavedSearch(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM saved_searches WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete saved search: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteVacancy removes one vacancy by link.
func (s *Postgres) DeleteVacancy(ctx context.Context, link string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE link = $1`, s.table)
	tag, err := s.pool.Exec(ctx, query, link)
	if err != nil {
		return fmt.Errorf("delete vacancy: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Clear removes every stored vacancy.
func (s *Postgres) Clear(ctx context.Context) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s`, s.table)
	tag, err := s.pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("clear vacancies: %w", err)
	}
	return tag.RowsAffected(), nil
}
