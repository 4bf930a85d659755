package store

import "context"

const migrationSQL = `
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    version TEXT NOT NULL,
    started_at TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL,
    total_tvl NUMERIC(78, 0) NOT NULL,
    success_rate DOUBLE PRECISION NOT NULL,
    attempted INT NOT NULL,
    succeeded INT NOT NULL,
    validation_passed BOOLEAN NOT NULL,
    warning_count INT NOT NULL DEFAULT 0,
    error_count INT NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_finished ON runs (finished_at DESC);

-- One row per worklist entry; each run overwrites the previous result.
CREATE TABLE IF NOT EXISTS latest_entries (
    protocol TEXT NOT NULL,
    chain TEXT NOT NULL,
    category TEXT NOT NULL DEFAULT '',
    extractor TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    tvl NUMERIC(78, 0),
    block_height BIGINT,
    source TEXT NOT NULL DEFAULT '',
    observed_at TIMESTAMPTZ,
    run_id TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (protocol, chain)
);
`

func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, migrationSQL)
	return err
}
