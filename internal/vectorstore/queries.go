package vectorstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pgvector/pgvector-go"
)

// DB is the subset of pgx operations shared by *pgxpool.Pool and pgx.Tx.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// docCols is the standard SELECT column list for scanDocumentRows.
const docCols = "id, content, source, metadata, created_at"

// upsertDocumentSQL keeps created_at from the first insert and refreshes
// everything else on conflict.
const upsertDocumentSQL = `INSERT INTO documents (id, content, source, embedding, metadata, created_at)
	VALUES ($1, $2, $3, $4, $5, COALESCE($6, now()))
	ON CONFLICT (id) DO UPDATE SET
		content = EXCLUDED.content,
		source = EXCLUDED.source,
		embedding = EXCLUDED.embedding,
		metadata = EXCLUDED.metadata,
		updated_at = now()`

// UpsertDocumentParams holds one row for UpsertDocument.
type UpsertDocumentParams struct {
	ID        string
	Content   string
	Source    string
	Embedding pgvector.Vector
	Metadata  []byte
	CreatedAt pgtype.Timestamptz
}

// SearchDocumentsParams holds the inputs for a vector similarity query.
// Source and FilterMetadata are optional; empty values skip the clause.
type SearchDocumentsParams struct {
	Embedding      pgvector.Vector
	Source         string
	FilterMetadata []byte
	Limit          int32
}

// SearchRow is a raw search result before metadata decoding.
type SearchRow struct {
	ID         string
	Content    string
	Source     string
	Metadata   []byte
	CreatedAt  time.Time
	Similarity float64
}

// DocumentRow is a raw document row before metadata decoding.
type DocumentRow struct {
	ID        string
	Content   string
	Source    string
	Metadata  []byte
	CreatedAt time.Time
}

// Querier defines the database operations Store depends on. Interfaces are
// defined by the consumer so tests can substitute a recording fake.
type Querier interface {
	UpsertDocument(ctx context.Context, arg UpsertDocumentParams) error
	SearchDocuments(ctx context.Context, arg SearchDocumentsParams) ([]SearchRow, error)
	CountDocuments(ctx context.Context, source string) (int64, error)
	DeleteDocument(ctx context.Context, id string) (int64, error)
	DeleteDocumentsBySource(ctx context.Context, source string) (int64, error)
	ListDocumentsBySource(ctx context.Context, source string, limit int32) ([]DocumentRow, error)
}

// Queries implements Querier with hand-written SQL against the documents
// table. It works with either a pool or a transaction.
type Queries struct {
	db DB
}

// NewQueries wraps db for use by Store.
func NewQueries(db DB) *Queries {
	return &Queries{db: db}
}

// UpsertDocument inserts or updates a single document row.
func (q *Queries) UpsertDocument(ctx context.Context, arg UpsertDocumentParams) error {
	_, err := q.db.Exec(ctx, upsertDocumentSQL,
		arg.ID, arg.Content, arg.Source, arg.Embedding, arg.Metadata, arg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting document %q: %w", arg.ID, err)
	}
	return nil
}

// SearchDocuments runs a cosine similarity query ordered by distance.
// The embedding parameter stays $1 so the ORDER BY can reuse it.
func (q *Queries) SearchDocuments(ctx context.Context, arg SearchDocumentsParams) ([]SearchRow, error) {
	sql := `SELECT ` + docCols + `, 1 - (embedding <=> $1) AS similarity
	 FROM documents`
	args := []any{arg.Embedding}

	var where []string
	if arg.Source != "" {
		args = append(args, arg.Source)
		where = append(where, fmt.Sprintf("source = $%d", len(args)))
	}
	if len(arg.FilterMetadata) > 0 {
		args = append(args, arg.FilterMetadata)
		where = append(where, fmt.Sprintf("metadata @> $%d", len(args)))
	}
	if len(where) > 0 {
		sql += "\n WHERE " + strings.Join(where, " AND ")
	}

	args = append(args, arg.Limit)
	sql += fmt.Sprintf("\n ORDER BY embedding <=> $1\n LIMIT $%d", len(args))

	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("searching documents: %w", err)
	}
	defer rows.Close()

	var results []SearchRow
	for rows.Next() {
		var r SearchRow
		if err := rows.Scan(&r.ID, &r.Content, &r.Source, &r.Metadata, &r.CreatedAt, &r.Similarity); err != nil {
			return nil, fmt.Errorf("scanning search row: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating search rows: %w", err)
	}
	return results, nil
}

// CountDocuments counts documents, optionally restricted to one source.
func (q *Queries) CountDocuments(ctx context.Context, source string) (int64, error) {
	var count int64
	var err error
	if source != "" {
		err = q.db.QueryRow(ctx,
			`SELECT COUNT(*) FROM documents WHERE source = $1`, source,
		).Scan(&count)
	} else {
		err = q.db.QueryRow(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return count, nil
}

// DeleteDocument removes a document by ID. Returns the number of rows removed.
func (q *Queries) DeleteDocument(ctx context.Context, id string) (int64, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return 0, fmt.Errorf("deleting document %q: %w", id, err)
	}
	return tag.RowsAffected(), nil
}

// DeleteDocumentsBySource removes every document from one source. Used when
// re-indexing replaces a source wholesale.
func (q *Queries) DeleteDocumentsBySource(ctx context.Context, source string) (int64, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM documents WHERE source = $1`, source)
	if err != nil {
		return 0, fmt.Errorf("deleting documents for source %q: %w", source, err)
	}
	return tag.RowsAffected(), nil
}

// ListDocumentsBySource lists documents for one source, newest first, without
// touching embeddings.
func (q *Queries) ListDocumentsBySource(ctx context.Context, source string, limit int32) ([]DocumentRow, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+docCols+`
		 FROM documents
		 WHERE source = $1
		 ORDER BY created_at DESC, id ASC
		 LIMIT $2`,
		source, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []DocumentRow
	for rows.Next() {
		var r DocumentRow
		if err := rows.Scan(&r.ID, &r.Content, &r.Source, &r.Metadata, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning document row: %w", err)
		}
		docs = append(docs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating document rows: %w", err)
	}
	return docs, nil
}
