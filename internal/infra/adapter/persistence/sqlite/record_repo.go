// Package sqlite provides the SQLite implementation of the record repository.
// Embeddings are stored as JSON array text and bias as text, so rows written by
// older tooling remain readable.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"uplink/internal/domain/entity"
	"uplink/internal/repository"
)

// RecordRepo implements the RecordRepository interface using SQLite.
type RecordRepo struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRecordRepo creates a new SQLite-backed record repository.
func NewRecordRepo(db *sql.DB) repository.RecordRepository {
	return &RecordRepo{db: db, logger: slog.Default()}
}

const recordColumns = `id, title, url, content, embedding, source, bias`

// Upsert inserts rec or replaces the row that has the same URL.
// The statement runs in its own transaction; the id of an existing row is kept.
func (repo *RecordRepo) Upsert(ctx context.Context, rec *entity.Record) (int64, error) {
	if rec == nil {
		return 0, entity.NewStorageError("Upsert", errors.New("record is nil"))
	}

	const query = `
INSERT INTO records (title, url, content, embedding, source, bias, updated_at)
VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(url) DO UPDATE SET
	title      = excluded.title,
	content    = excluded.content,
	embedding  = excluded.embedding,
	source     = excluded.source,
	bias       = excluded.bias,
	updated_at = CURRENT_TIMESTAMP
RETURNING id`

	tx, err := repo.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, entity.NewStorageError("Upsert: BeginTx", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	err = tx.QueryRowContext(ctx, query,
		rec.Title, rec.URL, rec.Content,
		embeddingArg(rec.Embedding),
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

// GetByURL retrieves the record stored under url.
func (repo *RecordRepo) GetByURL(ctx context.Context, url string) (*entity.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE url = ? LIMIT 1`
	rec, err := repo.scanRecord(repo.db.QueryRowContext(ctx, query, url))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, entity.ErrNotFound
		}
		return nil, entity.NewStorageError("GetByURL: QueryRowContext", err)
	}
	return rec, nil
}

// GetByID retrieves the record with the given id.
func (repo *RecordRepo) GetByID(ctx context.Context, id int64) (*entity.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE id = ? LIMIT 1`
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

// Count returns the number of records whose content length satisfies filter.
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
	query := `SELECT ` + recordColumns + ` FROM records` + where + ` ORDER BY length(content) DESC, id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
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

/* ───────────────────────── helpers ───────────────────────── */

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
		// 壊れたベクトルは空として扱い、類似検索の対象外にする
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
	// パフォーマンス最適化: メモリ再割り当てを削減するため事前割り当て
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

func embeddingArg(v []float32) sql.NullString {
	text := entity.FormatEmbedding(v)
	return sql.NullString{String: text, Valid: text != ""}
}

func lengthWhere(filter repository.CountFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if filter.MinContentLength != nil {
		conds = append(conds, `length(content) >= ?`)
		args = append(args, *filter.MinContentLength)
	}
	if filter.MaxContentLength != nil {
		conds = append(conds, `length(content) <= ?`)
		args = append(args, *filter.MaxContentLength)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return ` WHERE ` + strings.Join(conds, ` AND `), args
}
