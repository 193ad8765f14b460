package repository

import (
	"context"

	"uplink/internal/domain/entity"
)

// CountFilter restricts counts and listings by content length (in characters).
// A nil bound is open.
type CountFilter struct {
	MinContentLength *int // Optional: content length >= this value
	MaxContentLength *int // Optional: content length <= this value
}

// RecordRepository is the durable store of article records keyed by URL.
//
// Mutating methods are only invoked by the write serializer; every other caller
// reads through directly. Failures are returned as *entity.StorageError so that
// errors.Is(err, entity.ErrStorage) holds.
type RecordRepository interface {
	// Upsert inserts the record or replaces the row with the same URL in a single
	// atomic statement. The ID of an existing row is preserved.
	// Returns the ID of the stored row.
	Upsert(ctx context.Context, rec *entity.Record) (int64, error)

	// GetByURL returns entity.ErrNotFound when no row has the URL.
	GetByURL(ctx context.Context, url string) (*entity.Record, error)
	// GetByID returns entity.ErrNotFound when no row has the ID.
	GetByID(ctx context.Context, id int64) (*entity.Record, error)

	// ListAll returns every record ordered by ID.
	// Rows whose embedding cannot be decoded are returned with an empty embedding.
	ListAll(ctx context.Context) ([]*entity.Record, error)

	// Count returns the number of records matching the filter.
	Count(ctx context.Context, filter CountFilter) (int64, error)

	// ListByContentLength returns records within the content length bounds,
	// longest content first. limit <= 0 means no limit.
	ListByContentLength(ctx context.Context, filter CountFilter, limit int) ([]*entity.Record, error)
}
