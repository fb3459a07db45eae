package redisrepo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"transcription-service/internal/mirror"
)

// StatusMirror records job status in a Redis hash per job. Writes are
// plain field sets, so repeated identical syncs are idempotent.
type StatusMirror struct {
	rdb       *redis.Client
	keyPrefix string
}

func NewStatusMirror(rdb *redis.Client, keyPrefix string) *StatusMirror {
	if keyPrefix == "" {
		keyPrefix = "transcription:job:"
	}
	return &StatusMirror{rdb: rdb, keyPrefix: keyPrefix}
}

func (m *StatusMirror) UpdateStatus(ctx context.Context, update mirror.StatusUpdate) error {
	fields := map[string]any{
		"status":   string(update.Status),
		"progress": update.Progress,
	}

	if update.Result != nil {
		b, err := json.Marshal(update.Result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		fields["result"] = string(b)
	}
	if update.Error != "" {
		fields["error"] = update.Error
	}
	if update.StartedAt != nil {
		fields["started_at"] = update.StartedAt.Format(time.RFC3339)
	}
	if update.CompletedAt != nil {
		fields["completed_at"] = update.CompletedAt.Format(time.RFC3339)
	}

	return m.rdb.HSet(ctx, m.keyPrefix+update.JobID, fields).Err()
}
