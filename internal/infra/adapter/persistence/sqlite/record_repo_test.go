package sqlite_test

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"path/filepath"
	"regexp"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uplink/internal/domain/entity"
	"uplink/internal/infra/adapter/persistence/sqlite"
	"uplink/internal/infra/db"
	"uplink/internal/repository"
	"uplink/internal/usecase/search"
	"uplink/tests/fixtures"
)

/* ────────────────────────────  ヘルパ  ──────────────────────────── */

var recordCols = []string{"id", "title", "url", "content", "embedding", "source", "bias"}

func recRow(r *entity.Record) *sqlmock.Rows {
	return sqlmock.NewRows(recordCols).AddRow(
		r.ID, r.Title, r.URL, r.Content,
		entity.FormatEmbedding(r.Embedding), r.Source, r.Bias.String(),
	)
}

func intPtr(v int) *int { return &v }

func openStore(t *testing.T) (*sql.DB, repository.RecordRepository) {
	t.Helper()
	conn, err := db.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "records.db"), db.PoolConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, db.MigrateUp(conn, db.DriverSQLite))
	return conn, sqlite.NewRecordRepo(conn)
}

/* ──────────────────────────── 1. Upsert ──────────────────────────── */

func TestRecordRepo_Upsert(t *testing.T) {
	t.Parallel()

	conn, mock, _ := sqlmock.New()
	defer func() { _ = conn.Close() }()

	rec := fixtures.NewTestRecord(fixtures.WithEmbedding([]float32{1, 2}))

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO records")).
		WithArgs(rec.Title, rec.URL, rec.Content, "[1,2]", rec.Source, "0").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectCommit()

	id, err := sqlite.NewRecordRepo(conn).Upsert(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepo_Upsert_EmptyEmbeddingIsNull(t *testing.T) {
	t.Parallel()

	conn, mock, _ := sqlmock.New()
	defer func() { _ = conn.Close() }()

	rec := fixtures.NewTestRecord(fixtures.WithEmbedding(nil))

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO records")).
		WithArgs(rec.Title, rec.URL, rec.Content, nil, rec.Source, "0").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectCommit()

	_, err := sqlite.NewRecordRepo(conn).Upsert(context.Background(), rec)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepo_Upsert_Error(t *testing.T) {
	t.Parallel()

	conn, mock, _ := sqlmock.New()
	defer func() { _ = conn.Close() }()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO records").WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	_, err := sqlite.NewRecordRepo(conn).Upsert(context.Background(), fixtures.NewTestRecord())
	assert.True(t, errors.Is(err, entity.ErrStorage))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepo_Upsert_Nil(t *testing.T) {
	t.Parallel()

	conn, _, _ := sqlmock.New()
	defer func() { _ = conn.Close() }()

	_, err := sqlite.NewRecordRepo(conn).Upsert(context.Background(), nil)
	assert.True(t, errors.Is(err, entity.ErrStorage))
}

/* ──────────────────────────── 2. Get ──────────────────────────── */

func TestRecordRepo_GetByURL(t *testing.T) {
	t.Parallel()

	conn, mock, _ := sqlmock.New()
	defer func() { _ = conn.Close() }()

	want := fixtures.NewTestRecord(fixtures.WithBias(entity.BiasSlightlyLeft))
	want.RawBias = "-1"
	want.BiasStored = true

	mock.ExpectQuery(regexp.QuoteMeta("FROM records WHERE url = ?")).
		WithArgs(want.URL).
		WillReturnRows(recRow(want))

	got, err := sqlite.NewRecordRepo(conn).GetByURL(context.Background(), want.URL)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("GetByURL mismatch (-want +got):\n%s", diff)
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepo_GetByURL_NotFound(t *testing.T) {
	t.Parallel()

	conn, mock, _ := sqlmock.New()
	defer func() { _ = conn.Close() }()

	mock.ExpectQuery("FROM records").WillReturnRows(sqlmock.NewRows(recordCols))

	_, err := sqlite.NewRecordRepo(conn).GetByURL(context.Background(), "https://missing")
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

func TestRecordRepo_GetByID_QueryError(t *testing.T) {
	t.Parallel()

	conn, mock, _ := sqlmock.New()
	defer func() { _ = conn.Close() }()

	mock.ExpectQuery("FROM records WHERE id").WithArgs(int64(3)).WillReturnError(sql.ErrConnDone)

	_, err := sqlite.NewRecordRepo(conn).GetByID(context.Background(), 3)
	assert.ErrorIs(t, err, entity.ErrStorage)
	assert.ErrorIs(t, err, sql.ErrConnDone)
}

/* ──────────────────────────── 3. ListAll ──────────────────────────── */

func TestRecordRepo_ListAll_BadEmbeddingBecomesEmpty(t *testing.T) {
	t.Parallel()

	conn, mock, _ := sqlmock.New()
	defer func() { _ = conn.Close() }()

	rows := sqlmock.NewRows(recordCols).
		AddRow(int64(1), "a", "https://a", "c", "[0.1,0.2]", "s", "0").
		AddRow(int64(2), "b", "https://b", "c", "{broken", "s", "left").
		AddRow(int64(3), "c", "https://c", "c", nil, "s", nil)
	mock.ExpectQuery("SELECT .* FROM records ORDER BY id").WillReturnRows(rows)

	recs, err := sqlite.NewRecordRepo(conn).ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 3)

	assert.Equal(t, []float32{0.1, 0.2}, recs[0].Embedding)
	assert.Empty(t, recs[1].Embedding)
	assert.Equal(t, "left", recs[1].RawBias)
	_, ok := recs[1].BiasValue()
	assert.False(t, ok)
	assert.Empty(t, recs[2].Embedding)
	_, ok = recs[2].BiasValue()
	assert.False(t, ok, "NULL bias is not numeric")
	require.NoError(t, mock.ExpectationsWereMet())
}

/* ──────────────────────────── 4. Count ──────────────────────────── */

func TestRecordRepo_Count(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		filter repository.CountFilter
		query  string
		args   []driver.Value
	}{
		{
			name:  "total",
			query: "SELECT COUNT(*) FROM records",
		},
		{
			name:   "short content",
			filter: repository.CountFilter{MaxContentLength: intPtr(49)},
			query:  "SELECT COUNT(*) FROM records WHERE length(content) <= ?",
			args:   []driver.Value{49},
		},
		{
			name:   "range",
			filter: repository.CountFilter{MinContentLength: intPtr(10), MaxContentLength: intPtr(20)},
			query:  "SELECT COUNT(*) FROM records WHERE length(content) >= ? AND length(content) <= ?",
			args:   []driver.Value{10, 20},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, mock, _ := sqlmock.New()
			defer func() { _ = conn.Close() }()

			mock.ExpectQuery(regexp.QuoteMeta(tt.query)).
				WithArgs(tt.args...).
				WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(4)))

			n, err := sqlite.NewRecordRepo(conn).Count(context.Background(), tt.filter)
			require.NoError(t, err)
			assert.Equal(t, int64(4), n)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

/* ──────────────────────────── 5. ListByContentLength ──────────────────────────── */

func TestRecordRepo_ListByContentLength(t *testing.T) {
	t.Parallel()

	conn, mock, _ := sqlmock.New()
	defer func() { _ = conn.Close() }()

	mock.ExpectQuery(regexp.QuoteMeta(
		"FROM records WHERE length(content) >= ? ORDER BY length(content) DESC, id LIMIT ?")).
		WithArgs(100, 5).
		WillReturnRows(recRow(fixtures.NewTestRecord()))

	recs, err := sqlite.NewRecordRepo(conn).ListByContentLength(context.Background(),
		repository.CountFilter{MinContentLength: intPtr(100)}, 5)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

/* ──────────────────────────── 6. 実DB ──────────────────────────── */

func TestRecordRepo_SQLite_UpsertTwiceKeepsOneRow(t *testing.T) {
	t.Parallel()

	_, repo := openStore(t)
	ctx := context.Background()

	first := fixtures.NewTestRecord(fixtures.WithTitle("first"), fixtures.WithEmbedding([]float32{1, 0}))
	id1, err := repo.Upsert(ctx, first)
	require.NoError(t, err)

	second := fixtures.NewTestRecord(fixtures.WithTitle("second"),
		fixtures.WithEmbedding([]float32{0, 1}), fixtures.WithBias(entity.BiasRight))
	id2, err := repo.Upsert(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, id1, id2, "id is preserved for an existing URL")

	n, err := repo.Count(ctx, repository.CountFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := repo.GetByURL(ctx, first.URL)
	require.NoError(t, err)
	assert.Equal(t, "second", got.Title)
	assert.Equal(t, []float32{0, 1}, got.Embedding)
	assert.Equal(t, entity.BiasRight, got.Bias)

	byID, err := repo.GetByID(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, got, byID)
}

func TestRecordRepo_SQLite_IDsAreMonotonic(t *testing.T) {
	t.Parallel()

	_, repo := openStore(t)
	ctx := context.Background()

	var last int64
	for _, rec := range fixtures.GenerateRecords(5, 4) {
		id, err := repo.Upsert(ctx, rec)
		require.NoError(t, err)
		assert.Greater(t, id, last)
		last = id
	}

	all, err := repo.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].ID, all[i].ID)
	}
}

func TestRecordRepo_SQLite_ContentLength(t *testing.T) {
	t.Parallel()

	_, repo := openStore(t)
	ctx := context.Background()

	for i, n := range []int{10, 49, 50, 300} {
		_, err := repo.Upsert(ctx, fixtures.NewTestRecord(
			fixtures.WithURL("https://news.example.com/len/"+string(rune('a'+i))),
			fixtures.WithContent(fixtures.GenerateContent(n)),
		))
		require.NoError(t, err)
	}

	short, err := repo.Count(ctx, repository.CountFilter{MaxContentLength: intPtr(49)})
	require.NoError(t, err)
	assert.Equal(t, int64(2), short)

	long, err := repo.ListByContentLength(ctx, repository.CountFilter{MinContentLength: intPtr(50)}, 0)
	require.NoError(t, err)
	require.Len(t, long, 2)
	assert.Len(t, long[0].Content, 300)
	assert.Len(t, long[1].Content, 50)
}

func TestRecordRepo_SQLite_ConcurrentReadsDuringWrites(t *testing.T) {
	t.Parallel()

	_, repo := openStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for _, rec := range fixtures.GenerateRecords(20, 4) {
			_, err := repo.Upsert(ctx, rec)
			assert.NoError(t, err)
		}
	}()

	for i := 0; i < 10; i++ {
		recs, err := repo.ListAll(ctx)
		require.NoError(t, err)
		for _, r := range recs {
			assert.Len(t, r.Embedding, 4, "readers never observe partial rows")
		}
	}
	wg.Wait()
}

// fixedEmbedder は常に同じベクトルを返す
type fixedEmbedder struct{ vec []float32 }

func (f fixedEmbedder) Embed(context.Context, string) ([]float32, error) { return f.vec, nil }

func TestRecordRepo_SQLite_LegacyBiasExcludedFromRange(t *testing.T) {
	t.Parallel()

	conn, repo := openStore(t)
	ctx := context.Background()

	legacy := []struct{ url, bias string }{
		{"https://news.example.com/empty", ""},
		{"https://news.example.com/blank", "  "},
		{"https://news.example.com/label", "left"},
		{"https://news.example.com/numeric", "1"},
	}
	for _, row := range legacy {
		_, err := conn.ExecContext(ctx,
			`INSERT INTO records (title, url, content, embedding, source, bias) VALUES (?, ?, ?, ?, ?, ?)`,
			"legacy", row.url, "body", "[1,0]", "wire", row.bias)
		require.NoError(t, err)
	}

	all, err := repo.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 4)
	for _, rec := range all[:3] {
		_, ok := rec.BiasValue()
		assert.False(t, ok, "bias %q must not parse", rec.RawBias)
	}

	engine := search.NewEngine(repo, fixedEmbedder{vec: []float32{1, 0}}, search.DefaultConfig())
	results, err := engine.SearchWithFilters(ctx, "q", 10, search.Filters{
		BiasRange: &search.BiasRange{Min: -1, Max: 1},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "https://news.example.com/numeric", results[0].URL)

	// 範囲指定がなければ全件返る
	results, err = engine.SearchWithFilters(ctx, "q", 10, search.Filters{})
	require.NoError(t, err)
	assert.Len(t, results, 4)
}
