// Package postgres provides the PostgreSQL implementation of the record repository.
// Embeddings are stored in a pgvector column; similarity is still computed in Go.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pgvector/pgvector-go"

	"uplink/internal/domain/entity"
	"uplink/internal/repository"
)

// RecordRepo implements the RecordRepository interface for PostgreSQL.
type RecordRepo struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRecordRepo creates a new PostgreSQL-based RecordRepository.
func NewRecordRepo(db *sql.DB) repository.RecordRepository {
	return &RecordRepo{db: db, logger: slog.Default()}
}

// The vector is read back as text so that malformed rows degrade to an empty
// embedding instead of failing the whole scan.
const recordColumns = `id, title, url, content, embedding::text, source, bias`

// Upsert creates a record or replaces the one with the same URL.
// Uses INSERT ... ON CONFLICT DO UPDATE so the row id is preserved.
func (repo *RecordRepo) Upsert(ctx context.Context, rec *entity.Record) (int64, error) {
	if rec == nil {
		return 0, entity.NewStorageError("Upsert", errors.New("record is nil"))
	}

	const query = `
INSERT INTO records (title, url, content, embedding, source, bias, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
ON CONFLICT (url)
DO UPDATE SET
	title      = EXCLUDED.title,
	content    = EXCLUDED.content,
	embedding  = EXCLUDED.embedding,
	source     = EXCLUDED.source,
	bias       = EXCLUDED.bias,
	updated_at = NOW()
RETURNING id`

	tx, err := repo.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, entity.NewStorageError("Upsert: BeginTx", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	err = tx.QueryRowContext(ctx, query,
		rec.Title, rec.URL, rec.Content,
		vectorArg(rec.Embedding),
		rec.Source, rec.Bias.String(),
	).Scan(&id)
	if err != nil {
		return 0, entity.NewStorageError("Upsert: QueryRowContext", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, entity.NewStorageError("Upsert: Commit", err)
	}
	return id, nil
}

func (repo *RecordRepo) GetByURL(ctx context.Context, url string) (*entity.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE url = $1 LIMIT 1`
	rec, err := repo.scanRecord(repo.db.QueryRowContext(ctx, query, url))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, entity.ErrNotFound
		}
		return nil, entity.NewStorageError("GetByURL: QueryRowContext", err)
	}
	return rec, nil
}

func (repo *RecordRepo) GetByID(ctx context.Context, id int64) (*entity.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE id = $1 LIMIT 1`
	rec, err := repo.scanRecord(repo.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, entity.ErrNotFound
		}
		return nil, entity.NewStorageError("GetByID: QueryRowContext", err)
	}
	return rec, nil
}

// ListAll retrieves every record ordered by id.
func (repo *RecordRepo) ListAll(ctx context.Context) ([]*entity.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records ORDER BY id`
	rows, err := repo.db.QueryContext(ctx, query)
	if err != nil {
		return nil, entity.NewStorageError("ListAll: QueryContext", err)
	}
	defer func() { _ = rows.Close() }()

	records, err := repo.scanRecords(rows)
	if err != nil {
		return nil, entity.NewStorageError("ListAll", err)
	}
	return records, nil
}

func (repo *RecordRepo) Count(ctx context.Context, filter repository.CountFilter) (int64, error) {
	where, args := lengthWhere(filter)
	query := `SELECT COUNT(*) FROM records` + where

	var n int64
	if err := repo.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, entity.NewStorageError("Count: QueryRowContext", err)
	}
	return n, nil
}

// ListByContentLength retrieves records within the content length bounds,
// longest content first.
func (repo *RecordRepo) ListByContentLength(ctx context.Context, filter repository.CountFilter, limit int) ([]*entity.Record, error) {
	where, args := lengthWhere(filter)
	query := `SELECT ` + recordColumns + ` FROM records` + where + ` ORDER BY char_length(content) DESC, id`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := repo.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, entity.NewStorageError("ListByContentLength: QueryContext", err)
	}
	defer func() { _ = rows.Close() }()

	records, err := repo.scanRecords(rows)
	if err != nil {
		return nil, entity.NewStorageError("ListByContentLength", err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (repo *RecordRepo) scanRecord(row rowScanner) (*entity.Record, error) {
	var (
		rec       entity.Record
		embedding sql.NullString
		bias      sql.NullString
	)
	if err := row.Scan(&rec.ID, &rec.Title, &rec.URL, &rec.Content, &embedding, &rec.Source, &bias); err != nil {
		return nil, err
	}

	vec, err := entity.ParseEmbedding(embedding.String)
	if err != nil {
		repo.logger.Debug("skipping unparseable embedding",
			slog.Int64("record_id", rec.ID),
			slog.Any("error", err))
		vec = nil
	}
	rec.Embedding = vec

	rec.RawBias = bias.String
	rec.BiasStored = true
	if b, ok := entity.ParseBias(bias.String); ok {
		rec.Bias = b
	}
	return &rec, nil
}

func (repo *RecordRepo) scanRecords(rows *sql.Rows) ([]*entity.Record, error) {
	records := make([]*entity.Record, 0, 100)
	for rows.Next() {
		rec, err := repo.scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("Scan: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows.Err: %w", err)
	}
	return records, nil
}

// vectorArg converts an embedding to a pgvector value, or NULL when empty.
func vectorArg(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return pgvector.NewVector(v)
}

func lengthWhere(filter repository.CountFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if filter.MinContentLength != nil {
		args = append(args, *filter.MinContentLength)
		conds = append(conds, fmt.Sprintf(`char_length(content) >= $%d`, len(args)))
	}
	if filter.MaxContentLength != nil {
		args = append(args, *filter.MaxContentLength)
		conds = append(conds, fmt.Sprintf(`char_length(content) <= $%d`, len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return ` WHERE ` + strings.Join(conds, ` AND `), args
}
