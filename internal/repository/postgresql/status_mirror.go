package postgresql

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"transcription-service/internal/mirror"
)

// NewPool creates a pgx connection pool and verifies connectivity.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// StatusMirror records job status in Postgres. Each write is an upsert
// keyed by job id, so repeated identical syncs are idempotent.
type StatusMirror struct {
	pool *pgxpool.Pool
}

func NewStatusMirror(pool *pgxpool.Pool) *StatusMirror {
	return &StatusMirror{pool: pool}
}

func (m *StatusMirror) UpdateStatus(ctx context.Context, update mirror.StatusUpdate) error {
	var result []byte
	if update.Result != nil {
		b, err := json.Marshal(update.Result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		result = b
	}

	var errText *string
	if update.Error != "" {
		errText = &update.Error
	}

	const q = `
INSERT INTO transcription_jobs (job_id, status, progress, result, error, started_at, completed_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, now())
ON CONFLICT (job_id) DO UPDATE SET
	status       = EXCLUDED.status,
	progress     = EXCLUDED.progress,
	result       = EXCLUDED.result,
	error        = EXCLUDED.error,
	started_at   = EXCLUDED.started_at,
	completed_at = EXCLUDED.completed_at,
	updated_at   = now();
`
	_, err := m.pool.Exec(ctx, q,
		update.JobID,
		string(update.Status),
		update.Progress,
		result,
		errText,
		update.StartedAt,
		update.CompletedAt,
	)
	return err
}
