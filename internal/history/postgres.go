package history

import (
	"context"
	"encoding/json"
	"fmt"

	"horse.fit/secbrief/internal/db"
	"horse.fit/secbrief/internal/model"
)

// PostgresBackend keeps one row per date in secbrief.briefs.
type PostgresBackend struct {
	pool *db.Pool
}

func NewPostgresBackend(pool *db.Pool) (*PostgresBackend, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool is nil")
	}
	return &PostgresBackend{pool: pool}, nil
}

func (b *PostgresBackend) Put(ctx context.Context, brief *model.Brief) error {
	if brief == nil {
		return fmt.Errorf("brief is nil")
	}
	payload, err := json.Marshal(brief)
	if err != nil {
		return fmt.Errorf("marshal brief: %w", err)
	}

	tx, err := b.pool.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin brief tx: %w", err)
	}

	const q = `
INSERT INTO secbrief.briefs (brief_date, run_id, payload, story_count, saved_at)
VALUES ($1::date, $2::uuid, $3::jsonb, $4, $5)
ON CONFLICT (brief_date) DO UPDATE SET
	run_id = EXCLUDED.run_id,
	payload = EXCLUDED.payload,
	story_count = EXCLUDED.story_count,
	saved_at = EXCLUDED.saved_at
`
	if err := tx.Exec(ctx, q, brief.Date, brief.RunID, string(payload), brief.TotalStories, brief.SavedAt); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("upsert brief: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("commit brief tx: %w", err)
	}
	return nil
}

func (b *PostgresBackend) Get(ctx context.Context, date string) (*model.Brief, error) {
	const q = `
SELECT payload
FROM secbrief.briefs
WHERE brief_date = $1::date
`
	var payload []byte
	if err := b.pool.QueryRow(ctx, q, date).Scan(&payload); err != nil {
		if db.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query brief: %w", err)
	}

	var brief model.Brief
	if err := json.Unmarshal(payload, &brief); err != nil {
		return nil, fmt.Errorf("decode brief payload: %w", err)
	}
	if brief.Date == "" {
		brief.Date = date
	}
	return &brief, nil
}

// List returns the stored dates, most recent first. Every upsert assigns a
// new run id, so it serves as the revision.
func (b *PostgresBackend) List(ctx context.Context) ([]Entry, error) {
	const q = `
SELECT TO_CHAR(brief_date, 'YYYY-MM-DD'), run_id::text
FROM secbrief.briefs
ORDER BY brief_date DESC
`
	rows, err := b.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query brief dates: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, DefaultRetentionDays)
	for rows.Next() {
		var entry Entry
		if err := rows.Scan(&entry.Date, &entry.Revision); err != nil {
			return nil, fmt.Errorf("scan brief date: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate brief dates: %w", err)
	}
	return entries, nil
}

func (b *PostgresBackend) Delete(ctx context.Context, date string) error {
	if err := b.pool.Exec(ctx, `DELETE FROM secbrief.briefs WHERE brief_date = $1::date`, date); err != nil {
		return fmt.Errorf("delete brief: %w", err)
	}
	return nil
}
