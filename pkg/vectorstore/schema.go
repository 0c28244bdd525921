package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/samplemind/samplemind-core/pkg/smerrors"
)

const schemaDDL = `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE EXTENSION IF NOT EXISTS pg_trgm;
CREATE EXTENSION IF NOT EXISTS btree_gin;

CREATE TABLE IF NOT EXISTS audio_vectors (
    id           UUID         NOT NULL,
    audio_path   TEXT         NOT NULL,
    content_hash TEXT         NOT NULL,
    sample_rate  INTEGER      NOT NULL DEFAULT 44100,
    duration_s   REAL         NOT NULL DEFAULT 0,
    features     JSONB        NOT NULL DEFAULT '{}',
    embedding    VECTOR(%d),
    metadata     JSONB        NOT NULL DEFAULT '{}',
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (id, created_at)
) PARTITION BY RANGE (created_at);

CREATE TABLE IF NOT EXISTS audio_vectors_default
    PARTITION OF audio_vectors DEFAULT;

CREATE OR REPLACE FUNCTION audio_vectors_touch_updated_at()
RETURNS TRIGGER AS $$
BEGIN
    NEW.updated_at = now();
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS trg_audio_vectors_updated_at ON audio_vectors;
CREATE TRIGGER trg_audio_vectors_updated_at
    BEFORE UPDATE ON audio_vectors
    FOR EACH ROW EXECUTE FUNCTION audio_vectors_touch_updated_at();

CREATE INDEX IF NOT EXISTS idx_audio_vectors_metadata
    ON audio_vectors USING GIN (metadata);
CREATE INDEX IF NOT EXISTS idx_audio_vectors_audio_path
    ON audio_vectors USING GIN (audio_path gin_trgm_ops);
CREATE INDEX IF NOT EXISTS idx_audio_vectors_content_hash
    ON audio_vectors USING GIN (content_hash gin_trgm_ops);
CREATE INDEX IF NOT EXISTS idx_audio_vectors_created_at
    ON audio_vectors (created_at);
`

// HNSW indexes cannot be created on the partitioned parent, so each
// monthly partition carries its own.
const partitionDDL = `
CREATE TABLE IF NOT EXISTS %s
    PARTITION OF audio_vectors
    FOR VALUES FROM ('%s') TO ('%s');

CREATE INDEX IF NOT EXISTS idx_%s_embedding
    ON %s USING hnsw (embedding vector_l2_ops)
    WITH (m = %d, ef_construction = %d);
`

// EnsureSchema creates the extensions, partitioned table, trigger, and
// ancillary indexes, plus monthly partitions for the current month and
// the next.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(schemaDDL, s.config.EmbeddingDim)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return smerrors.Wrap(err, smerrors.KindTransient, "vectorstore", "schema creation failed")
	}

	now := time.Now().UTC()
	for _, month := range []time.Time{now, now.AddDate(0, 1, 0)} {
		if err := s.EnsureMonthlyPartition(ctx, month.Year(), int(month.Month())); err != nil {
			return err
		}
	}
	return nil
}

// EnsureMonthlyPartition creates the partition covering the given month
// along with its HNSW index.
func (s *Store) EnsureMonthlyPartition(ctx context.Context, year, month int) error {
	from := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	name := partitionName(year, month)

	ddl := fmt.Sprintf(partitionDDL,
		name, from.Format("2006-01-02"), to.Format("2006-01-02"),
		name, name, s.config.HNSWM, s.config.HNSWEfConstruction)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return smerrors.Wrap(err, smerrors.KindTransient, "vectorstore",
			fmt.Sprintf("partition %s creation failed", name))
	}
	return nil
}
