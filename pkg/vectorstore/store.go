// Package vectorstore persists audio embeddings in Postgres with pgvector
// ANN search, monthly partitioning, and metadata filtering.
package vectorstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/samplemind/samplemind-core/pkg/logging"
	"github.com/samplemind/samplemind-core/pkg/metrics"
	"github.com/samplemind/samplemind-core/pkg/smerrors"
)

// Record is one stored embedding with its provenance.
type Record struct {
	ID          string          `json:"id"`
	AudioPath   string          `json:"audio_path"`
	ContentHash string          `json:"content_hash"`
	SampleRate  int             `json:"sample_rate"`
	DurationS   float64         `json:"duration_s"`
	Features    json.RawMessage `json:"features,omitempty"`
	Embedding   []float32       `json:"embedding,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// SearchResult pairs a record with its L2 distance from the query.
type SearchResult struct {
	Record   Record  `json:"record"`
	Distance float64 `json:"distance"`
}

// Config tunes the store and its pool.
type Config struct {
	DSN                string        `json:"-"`
	MinConns           int           `json:"min_conns"`
	MaxConns           int           `json:"max_conns"`
	StatementTimeout   time.Duration `json:"statement_timeout"`
	EmbeddingDim       int           `json:"embedding_dim"`
	HNSWM              int           `json:"hnsw_m"`
	HNSWEfConstruction int           `json:"hnsw_ef_construction"`
	HNSWEfSearch       int           `json:"hnsw_ef_search"`
	MaxRetries         int           `json:"max_retries"`
	RetryBaseDelay     time.Duration `json:"retry_base_delay"`
	RetryMaxDelay      time.Duration `json:"retry_max_delay"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() *Config {
	return &Config{
		MinConns:           2,
		MaxConns:           10,
		StatementTimeout:   30 * time.Second,
		EmbeddingDim:       1536,
		HNSWM:              32,
		HNSWEfConstruction: 200,
		HNSWEfSearch:       64,
		MaxRetries:         3,
		RetryBaseDelay:     time.Second,
		RetryMaxDelay:      10 * time.Second,
	}
}

// Stats summarizes store contents and index activity.
type Stats struct {
	Records             int64            `json:"records"`
	UniqueContentHashes int64            `json:"unique_content_hashes"`
	IndexScans          map[string]int64 `json:"index_scans,omitempty"`
	SlowQueries         []SlowQuery      `json:"slow_queries,omitempty"`
}

// SlowQuery is one pg_stat_statements sample.
type SlowQuery struct {
	Query      string  `json:"query"`
	Calls      int64   `json:"calls"`
	MeanTimeMS float64 `json:"mean_time_ms"`
}

// BatchError reports which record aborted an upsert batch.
type BatchError struct {
	Index int
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("upsert aborted at batch index %d: %v", e.Index, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// Store owns the connection pool. Operations acquire and release
// connections internally; callers never hold one.
type Store struct {
	config  *Config
	db      *sql.DB
	logger  *logging.Logger
	metrics *metrics.Metrics
	sleep   func(ctx context.Context, d time.Duration) error
}

// New opens the pool and verifies connectivity.
func New(config *Config, logger *logging.Logger, m *metrics.Metrics) (*Store, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.DSN == "" {
		return nil, smerrors.New(smerrors.KindInvalidInput, "vectorstore", "database DSN not configured")
	}
	if logger == nil {
		logger = logging.NewLogger(nil, nil)
	}
	if m == nil {
		m = metrics.Nop()
	}

	db, err := sql.Open("postgres", applyStatementTimeout(config.DSN, config.StatementTimeout))
	if err != nil {
		return nil, smerrors.Wrap(err, smerrors.KindInvalidInput, "vectorstore", "invalid database DSN")
	}
	db.SetMaxOpenConns(config.MaxConns)
	db.SetMaxIdleConns(config.MinConns)
	db.SetConnMaxIdleTime(5 * time.Minute)

	s := &Store{
		config:  config,
		db:      db,
		logger:  logger.WithComponent("vectorstore"),
		metrics: m,
		sleep:   sleepCtx,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, smerrors.Wrap(err, smerrors.KindTransient, "vectorstore", "database unreachable")
	}
	s.logger.Info("vector store connected", "dsn", logging.RedactDSN(config.DSN), "max_conns", config.MaxConns)
	return s, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

const recordColumns = "id, audio_path, content_hash, sample_rate, duration_s, features, embedding::text, metadata, created_at, updated_at"

// UpsertMany writes records in batches, preserving submission order
// within each batch. The first failure aborts its batch and returns a
// *BatchError carrying the offending index; earlier batches stay
// committed. Returns the ids written.
func (s *Store) UpsertMany(ctx context.Context, records []Record, batchSize int) ([]string, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	for i := range records {
		if records[i].ID == "" {
			return nil, &BatchError{Index: i, Err: smerrors.New(smerrors.KindInvalidInput, "vectorstore", "record without id")}
		}
		if err := validateDim(records[i].Embedding, s.config.EmbeddingDim); err != nil {
			return nil, &BatchError{Index: i, Err: err}
		}
	}

	ids := make([]string, 0, len(records))
	for start := 0; start < len(records); start += batchSize {
		end := start + batchSize
		if end > len(records) {
			end = len(records)
		}
		if err := s.upsertBatch(ctx, records[start:end], start); err != nil {
			return ids, err
		}
		for _, r := range records[start:end] {
			ids = append(ids, r.ID)
		}
		s.metrics.VectorUpserts.Add(float64(end - start))
	}
	return ids, nil
}

const upsertSQL = `
INSERT INTO audio_vectors
    (id, audio_path, content_hash, sample_rate, duration_s, features, embedding, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7::vector, $8, $9)
ON CONFLICT (id, created_at) DO UPDATE SET
    audio_path   = EXCLUDED.audio_path,
    content_hash = EXCLUDED.content_hash,
    sample_rate  = EXCLUDED.sample_rate,
    duration_s   = EXCLUDED.duration_s,
    features     = EXCLUDED.features,
    embedding    = EXCLUDED.embedding,
    metadata     = EXCLUDED.metadata`

func (s *Store) upsertBatch(ctx context.Context, batch []Record, offset int) error {
	return s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return smerrors.Wrap(err, smerrors.KindTransient, "vectorstore", "begin failed")
		}
		defer tx.Rollback()

		stmt, err := tx.PrepareContext(ctx, upsertSQL)
		if err != nil {
			return smerrors.Wrap(err, smerrors.KindTransient, "vectorstore", "prepare failed")
		}
		defer stmt.Close()

		for i, r := range batch {
			createdAt := r.CreatedAt
			if createdAt.IsZero() {
				createdAt = time.Now().UTC()
			}
			features := r.Features
			if features == nil {
				features = json.RawMessage("{}")
			}
			metadata := r.Metadata
			if metadata == nil {
				metadata = json.RawMessage("{}")
			}
			_, err := stmt.ExecContext(ctx, r.ID, r.AudioPath, r.ContentHash, r.SampleRate,
				r.DurationS, []byte(features), encodeVector(r.Embedding), []byte(metadata), createdAt)
			if err != nil {
				return &BatchError{Index: offset + i, Err: classify(err)}
			}
		}
		if err := tx.Commit(); err != nil {
			return smerrors.Wrap(err, smerrors.KindTransient, "vectorstore", "commit failed")
		}
		return nil
	})
}

// Get returns the newest record with the given id, or a not-found error.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	var rec *Record
	err := s.withRetry(ctx, func() error {
		row := s.db.QueryRowContext(ctx,
			"SELECT "+recordColumns+" FROM audio_vectors WHERE id = $1 ORDER BY created_at DESC LIMIT 1", id)
		r, err := scanRecord(row)
		if errors.Is(err, sql.ErrNoRows) {
			return smerrors.Newf(smerrors.KindNotFound, "vectorstore", "record %s not found", id)
		}
		if err != nil {
			return classify(err)
		}
		rec = r
		return nil
	})
	return rec, err
}

// Delete removes every row with the given id. Reports whether anything
// was deleted.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	var deleted bool
	err := s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, "DELETE FROM audio_vectors WHERE id = $1", id)
		if err != nil {
			return classify(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return classify(err)
		}
		deleted = n > 0
		return nil
	})
	return deleted, err
}

// FindSimilar returns the k nearest records by L2 distance. threshold ≤ 0
// excludes nothing.
func (s *Store) FindSimilar(ctx context.Context, embedding []float32, k int, threshold float64) ([]SearchResult, error) {
	return s.FindSimilarFiltered(ctx, embedding, nil, nil, k, threshold)
}

// FindSimilarFiltered is FindSimilar with metadata and time predicates.
func (s *Store) FindSimilarFiltered(ctx context.Context, embedding []float32, filters []MetadataFilter, timeRange *TimeRange, k int, threshold float64) ([]SearchResult, error) {
	if err := validateDim(embedding, s.config.EmbeddingDim); err != nil {
		return nil, err
	}
	if k <= 0 {
		k = 10
	}

	args := []any{encodeVector(embedding)}
	where := ""
	if threshold > 0 {
		args = append(args, threshold)
		where = " AND embedding <-> $1::vector <= $2"
	}
	clauses, filterArgs, err := buildFilterClauses(filters, timeRange, len(args))
	if err != nil {
		return nil, err
	}
	args = append(args, filterArgs...)
	args = append(args, k)

	query := fmt.Sprintf(
		"SELECT %s, embedding <-> $1::vector AS distance FROM audio_vectors WHERE embedding IS NOT NULL%s%s ORDER BY distance LIMIT $%d",
		recordColumns, where, joinClauses(clauses), len(args))

	start := time.Now()
	var results []SearchResult
	err = s.withRetry(ctx, func() error {
		// ef_search is session state, so pin one pool connection for
		// the SET and the query together.
		conn, err := s.db.Conn(ctx)
		if err != nil {
			return smerrors.Wrap(err, smerrors.KindExhausted, "vectorstore", "connection acquisition failed")
		}
		defer conn.Close()

		if _, err := conn.ExecContext(ctx, fmt.Sprintf("SET hnsw.ef_search = %d", s.config.HNSWEfSearch)); err != nil {
			return classify(err)
		}
		rows, err := conn.QueryContext(ctx, query, args...)
		if err != nil {
			return classify(err)
		}
		defer rows.Close()

		results = results[:0]
		for rows.Next() {
			var r Record
			var embText string
			var dist float64
			err := rows.Scan(&r.ID, &r.AudioPath, &r.ContentHash, &r.SampleRate, &r.DurationS,
				&r.Features, &embText, &r.Metadata, &r.CreatedAt, &r.UpdatedAt, &dist)
			if err != nil {
				return classify(err)
			}
			if r.Embedding, err = decodeVector(embText); err != nil {
				return err
			}
			results = append(results, SearchResult{Record: r, Distance: dist})
		}
		return classifyNil(rows.Err())
	})
	if err != nil {
		return nil, err
	}
	s.metrics.VectorSearches.Observe(time.Since(start).Seconds())
	return results, nil
}

// Stats reports counts and index usage. Index and slow-query statistics
// are best-effort: permission failures degrade to counts only.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	out := &Stats{}
	err := s.withRetry(ctx, func() error {
		row := s.db.QueryRowContext(ctx,
			"SELECT count(*), count(DISTINCT content_hash) FROM audio_vectors")
		return classifyNil(row.Scan(&out.Records, &out.UniqueContentHashes))
	})
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT indexrelname, idx_scan FROM pg_stat_user_indexes WHERE relname LIKE 'audio_vectors%'")
	if err == nil {
		out.IndexScans = make(map[string]int64)
		for rows.Next() {
			var name string
			var scans int64
			if rows.Scan(&name, &scans) == nil {
				out.IndexScans[name] = scans
			}
		}
		rows.Close()
	}

	rows, err = s.db.QueryContext(ctx,
		"SELECT query, calls, mean_exec_time FROM pg_stat_statements WHERE query ILIKE '%audio_vectors%' ORDER BY mean_exec_time DESC LIMIT 5")
	if err == nil {
		for rows.Next() {
			var q SlowQuery
			if rows.Scan(&q.Query, &q.Calls, &q.MeanTimeMS) == nil {
				out.SlowQueries = append(out.SlowQueries, q)
			}
		}
		rows.Close()
	} else {
		s.logger.Debug("pg_stat_statements unavailable", "error", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var r Record
	var embText string
	err := row.Scan(&r.ID, &r.AudioPath, &r.ContentHash, &r.SampleRate, &r.DurationS,
		&r.Features, &embText, &r.Metadata, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if r.Embedding, err = decodeVector(embText); err != nil {
		return nil, err
	}
	return &r, nil
}

// withRetry runs op, retrying transient transport failures with
// exponential backoff. Deterministic errors return immediately.
func (s *Store) withRetry(ctx context.Context, op func() error) error {
	delay := s.config.RetryBaseDelay
	var err error
	for attempt := 0; ; attempt++ {
		err = op()
		if err == nil || !isRetryable(err) || attempt >= s.config.MaxRetries {
			return err
		}
		s.logger.Warn("retrying after transient database error",
			"attempt", attempt+1, "delay", delay.String(), "error", err)
		if sleepErr := s.sleep(ctx, delay); sleepErr != nil {
			return err
		}
		delay *= 2
		if delay > s.config.RetryMaxDelay {
			delay = s.config.RetryMaxDelay
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// classify maps a driver error to an error kind. Transport failures
// become transient; everything else is treated as deterministic.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if isTransport(err) {
		return smerrors.Wrap(err, smerrors.KindTransient, "vectorstore", "transient database error")
	}
	return smerrors.Wrap(err, smerrors.KindUpstream, "vectorstore", "database error")
}

func classifyNil(err error) error {
	if err == nil {
		return nil
	}
	return classify(err)
}

func isRetryable(err error) bool {
	var batchErr *BatchError
	if errors.As(err, &batchErr) {
		return isRetryable(batchErr.Err)
	}
	return smerrors.KindOf(err) == smerrors.KindTransient || isTransport(err)
}

// isTransport reports whether err looks like a connection-level failure
// rather than a deterministic query error.
func isTransport(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.EOF) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		code := string(pqErr.Code)
		switch {
		case strings.HasPrefix(code, "08"): // connection exceptions
			return true
		case code == "40001", code == "40P01": // serialization, deadlock
			return true
		case code == "57P01", code == "57014": // admin shutdown, cancel
			return true
		case code == "53300": // too many connections
			return true
		}
	}
	return false
}

// applyStatementTimeout injects the server-side statement timeout into
// the DSN so every pooled connection inherits it.
func applyStatementTimeout(dsn string, timeout time.Duration) string {
	if timeout <= 0 {
		return dsn
	}
	ms := fmt.Sprintf("%d", timeout.Milliseconds())
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return dsn
		}
		q := u.Query()
		if q.Get("statement_timeout") == "" {
			q.Set("statement_timeout", ms)
			u.RawQuery = q.Encode()
		}
		return u.String()
	}
	if !strings.Contains(dsn, "statement_timeout") {
		return dsn + " options='-c statement_timeout=" + ms + "'"
	}
	return dsn
}
