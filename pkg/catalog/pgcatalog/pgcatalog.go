// Package pgcatalog serves the product catalog from Postgres.
package pgcatalog

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/vango-go/vai-catalog/pkg/catalog"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	termKindCategory = "category"
	termKindColor    = "color"
)

type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger

	mu    sync.RWMutex
	terms catalog.Terms
}

// Open connects, applies migrations and loads the term tables. The returned
// store owns the pool.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("pgcatalog: database url is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgcatalog: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgcatalog: ping: %w", err)
	}
	s := &Store{pool: pool, logger: logger, terms: catalog.DefaultTerms()}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.RefreshTerms(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("pgcatalog: migrations fs: %w", err)
	}
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, sub)
	if err != nil {
		return fmt.Errorf("pgcatalog: migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("pgcatalog: migrate: %w", err)
	}
	for _, r := range results {
		if r == nil || r.Source == nil {
			continue
		}
		s.logger.Info("catalog migration applied", "version", r.Source.Version, "duration", r.Duration)
	}
	return nil
}

// Seed upserts the document's products and terms in one transaction.
func (s *Store) Seed(ctx context.Context, doc catalog.Document) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, p := range doc.Products {
			if _, err := tx.Exec(ctx, upsertProductSQL, p.ID, p.Name, p.Category, p.Color, p.Price, p.ImageURL); err != nil {
				return fmt.Errorf("upsert product %d: %w", p.ID, err)
			}
		}
		for kind, table := range map[string]map[string]string{
			termKindCategory: doc.Terms.Categories,
			termKindColor:    doc.Terms.Colors,
		} {
			for term, canonical := range table {
				if _, err := tx.Exec(ctx, upsertTermSQL, kind, strings.ToLower(term), strings.ToLower(canonical)); err != nil {
					return fmt.Errorf("upsert %s term %q: %w", kind, term, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("pgcatalog: seed: %w", err)
	}
	return s.RefreshTerms(ctx)
}

const upsertProductSQL = `INSERT INTO products (id, name, category, color, price, image_url)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	category = EXCLUDED.category,
	color = EXCLUDED.color,
	price = EXCLUDED.price,
	image_url = EXCLUDED.image_url,
	updated_at = now()`

const upsertTermSQL = `INSERT INTO catalog_terms (kind, term, canonical)
VALUES ($1, $2, $3)
ON CONFLICT (kind, term) DO UPDATE SET canonical = EXCLUDED.canonical`

// RefreshTerms reloads the term tables. An empty table set keeps the
// defaults.
func (s *Store) RefreshTerms(ctx context.Context) error {
	rows, err := s.pool.Query(ctx, `SELECT kind, term, canonical FROM catalog_terms`)
	if err != nil {
		return fmt.Errorf("pgcatalog: load terms: %w", err)
	}
	type termRow struct {
		Kind      string
		Term      string
		Canonical string
	}
	loaded, err := pgx.CollectRows(rows, pgx.RowToStructByPos[termRow])
	if err != nil {
		return fmt.Errorf("pgcatalog: scan terms: %w", err)
	}
	if len(loaded) == 0 {
		return nil
	}
	categories := make(map[string]string)
	colors := make(map[string]string)
	for _, r := range loaded {
		switch r.Kind {
		case termKindCategory:
			categories[r.Term] = r.Canonical
		case termKindColor:
			colors[r.Term] = r.Canonical
		}
	}
	s.mu.Lock()
	s.terms = catalog.NewTerms(categories, colors)
	s.mu.Unlock()
	return nil
}

func (s *Store) Terms() catalog.Terms {
	if s == nil {
		return catalog.DefaultTerms()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.terms
}

func (s *Store) FilterCatalog(ctx context.Context, c catalog.Criteria) ([]catalog.Product, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("pgcatalog: store is closed")
	}
	query, args := buildFilterQuery(c)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pgcatalog: filter: %w", err)
	}
	products, err := pgx.CollectRows(rows, pgx.RowToStructByPos[catalog.Product])
	if err != nil {
		return nil, fmt.Errorf("pgcatalog: scan products: %w", err)
	}
	return products, nil
}

func buildFilterQuery(c catalog.Criteria) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, strings.ReplaceAll(clause, "?", "$"+strconv.Itoa(len(args))))
	}
	if c.Category != "" {
		add("lower(category) = ?", strings.ToLower(c.Category))
	}
	if c.Color != "" {
		add("lower(color) = ?", strings.ToLower(c.Color))
	}
	if c.MaxPrice != nil {
		add("price <= ?", *c.MaxPrice)
	}

	var b strings.Builder
	b.WriteString("SELECT id, name, category, color, price::float8, image_url FROM products")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY id")
	return b.String(), args
}
