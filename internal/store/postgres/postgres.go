// Package postgres implements the DocumentStore contract on PostgreSQL.
// Documents live in a single table keyed by (collection, id) with a JSONB
// payload; RunTransaction maps onto a database transaction.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/ridelines/draftsync/internal/common"
	"github.com/ridelines/draftsync/internal/dbx"
	"github.com/ridelines/draftsync/internal/store"
	"github.com/ridelines/draftsync/internal/store/postgres/migrations"
)

type Store struct {
	db *sql.DB
}

// New opens a connection pool for dsn and applies embedded migrations.
func New(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	s := &Store{db: db}
	if err := s.runMigrations(ctx); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}
	return s, nil
}

// NewWithDB wraps an existing pool without running migrations. Used by tests.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) runMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, s.db, ".")
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", common.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (*store.Document, error) {
	return getDocument(ctx, s.db, collection, id)
}

func (s *Store) Set(ctx context.Context, collection string, doc *store.Document, opts store.SetOptions) error {
	return setDocument(ctx, s.db, collection, doc, opts)
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection=$1 AND id=$2`, collection, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, collection string, q store.Query) ([]*store.Document, error) {
	query := `SELECT id, data, version, updated_at FROM documents WHERE collection=$1`
	args := []any{collection}

	for field, value := range q.Filters {
		args = append(args, field, value)
		query += fmt.Sprintf(" AND data->>$%d = $%d", len(args)-1, len(args))
	}
	if q.OrderByUpdatedDesc {
		query += ` ORDER BY updated_at DESC, id`
	} else {
		query += ` ORDER BY id`
	}
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var result []*store.Document
	for rows.Next() {
		var item store.Document
		if err := rows.Scan(&item.ID, &item.Data, &item.Version, &item.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// tx adapts a transactional DBTX to the store.Tx contract.
type tx struct {
	q dbx.DBTX
}

func (t tx) Get(ctx context.Context, collection, id string) (*store.Document, error) {
	return getDocument(ctx, t.q, collection, id)
}

func (t tx) Set(ctx context.Context, collection string, doc *store.Document, opts store.SetOptions) error {
	return setDocument(ctx, t.q, collection, doc, opts)
}

func (t tx) Delete(ctx context.Context, collection, id string) error {
	_, err := t.q.ExecContext(ctx,
		`DELETE FROM documents WHERE collection=$1 AND id=$2`, collection, id)
	return err
}

func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, q dbx.DBTX) error {
		return fn(ctx, tx{q: q})
	})
}

func getDocument(ctx context.Context, q dbx.DBTX, collection, id string) (*store.Document, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, data, version, updated_at FROM documents WHERE collection=$1 AND id=$2`,
		collection, id)

	doc := &store.Document{}
	if err := row.Scan(&doc.ID, &doc.Data, &doc.Version, &doc.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("document %s/%s: %w", collection, id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("query row scan failed: %w", err)
	}
	return doc, nil
}

func setDocument(ctx context.Context, q dbx.DBTX, collection string, doc *store.Document, opts store.SetOptions) error {
	if doc == nil || doc.ID == "" {
		return fmt.Errorf("document id missing: %w", common.ErrValidation)
	}
	if len(doc.Data) > 0 && !json.Valid(doc.Data) {
		return fmt.Errorf("document payload is not valid JSON: %w", common.ErrValidation)
	}

	dataExpr := "EXCLUDED.data"
	if opts.Merge {
		dataExpr = "documents.data || EXCLUDED.data"
	}

	query := fmt.Sprintf(`
		INSERT INTO documents (collection, id, data, version, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (collection, id)
		DO UPDATE SET data = %s, version = EXCLUDED.version, updated_at = now()`, dataExpr)

	if _, err := q.ExecContext(ctx, query, collection, doc.ID, doc.Data, doc.Version); err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}
	return nil
}
