package store

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/web3-frozen/tvl-extractor/internal/orchestrator"
	"github.com/web3-frozen/tvl-extractor/internal/pipeline"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// --- Runs ---

type Run struct {
	RunID            string    `json:"run_id"`
	Version          string    `json:"version"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
	TotalTVL         string    `json:"total_tvl"`
	SuccessRate      float64   `json:"success_rate"`
	Attempted        int       `json:"attempted"`
	Succeeded        int       `json:"succeeded"`
	ValidationPassed bool      `json:"validation_passed"`
	WarningCount     int       `json:"warning_count"`
	ErrorCount       int       `json:"error_count"`
}

// --- Latest entries ---

type Entry struct {
	Protocol    string     `json:"protocol"`
	Chain       string     `json:"chain"`
	Category    string     `json:"category"`
	Extractor   string     `json:"extractor"`
	Status      string     `json:"status"`
	Reason      string     `json:"reason,omitempty"`
	TVL         *string    `json:"tvl"`
	BlockHeight *int64     `json:"block_height,omitempty"`
	Source      string     `json:"source,omitempty"`
	ObservedAt  *time.Time `json:"observed_at,omitempty"`
	RunID       string     `json:"run_id"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func numeric(v *big.Int) pgtype.Numeric {
	if v == nil {
		return pgtype.Numeric{}
	}
	return pgtype.Numeric{Int: new(big.Int).Set(v), Exp: 0, Valid: true}
}

// entryRow is the column values written for one outcome.
type entryRow struct {
	protocol, chain, category, extractor string
	status, reason, source               string
	tvl                                  pgtype.Numeric
	blockHeight                          *int64
	observedAt                           *time.Time
}

func rowFor(o orchestrator.Outcome) entryRow {
	r := entryRow{
		protocol:  o.Protocol,
		chain:     o.Chain,
		category:  o.Category,
		extractor: o.Extractor,
		status:    string(o.Status),
		reason:    o.Reason,
	}
	if m := o.Measurement; m != nil {
		r.tvl = numeric(m.Amount)
		r.source = string(m.Provenance.Source)
		at := m.ObservedAt
		r.observedAt = &at
		if m.BlockHeight != nil {
			h := int64(*m.BlockHeight)
			r.blockHeight = &h
		}
	}
	return r
}

// SaveRun records the run summary and overwrites the latest row of every
// entry it processed, in one transaction.
func (s *Store) SaveRun(ctx context.Context, out *pipeline.Output) error {
	rep, val, res := out.Report, out.Validation, out.Result

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO runs (run_id, version, started_at, finished_at, total_tvl, success_rate,
			attempted, succeeded, validation_passed, warning_count, error_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (run_id) DO NOTHING`,
		rep.Metadata.RunID, rep.Metadata.Version, res.StartedAt, res.FinishedAt,
		numeric(rep.Summary.TotalAmount), rep.Summary.SuccessRate,
		rep.Summary.Attempted, rep.Summary.Succeeded, val.Passed,
		val.Summary.WarningCount, val.Summary.ErrorCount)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, o := range res.Outcomes {
		r := rowFor(o)
		_, err := tx.Exec(ctx, `
			INSERT INTO latest_entries (protocol, chain, category, extractor, status, reason,
				tvl, block_height, source, observed_at, run_id, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
			ON CONFLICT (protocol, chain) DO UPDATE
				SET category = $3, extractor = $4, status = $5, reason = $6, tvl = $7,
					block_height = $8, source = $9, observed_at = $10, run_id = $11, updated_at = now()`,
			r.protocol, r.chain, r.category, r.extractor, r.status, r.reason,
			r.tvl, r.blockHeight, r.source, r.observedAt, rep.Metadata.RunID)
		if err != nil {
			return fmt.Errorf("upsert entry %s/%s: %w", o.Protocol, o.Chain, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) LatestEntries(ctx context.Context) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT protocol, chain, category, extractor, status, reason, tvl::text,
			block_height, source, observed_at, run_id, updated_at
		FROM latest_entries
		ORDER BY chain, protocol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Protocol, &e.Chain, &e.Category, &e.Extractor, &e.Status, &e.Reason, &e.TVL,
			&e.BlockHeight, &e.Source, &e.ObservedAt, &e.RunID, &e.UpdatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, version, started_at, finished_at, total_tvl::text, success_rate,
			attempted, succeeded, validation_passed, warning_count, error_count
		FROM runs
		ORDER BY finished_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.RunID, &r.Version, &r.StartedAt, &r.FinishedAt, &r.TotalTVL, &r.SuccessRate,
			&r.Attempted, &r.Succeeded, &r.ValidationPassed, &r.WarningCount, &r.ErrorCount); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// CleanupOldRuns deletes run summaries older than maxAge.
func (s *Store) CleanupOldRuns(ctx context.Context, maxAge time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM runs WHERE finished_at < $1`, time.Now().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
