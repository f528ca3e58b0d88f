package feedhealth

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"horse.fit/secbrief/internal/db"
)

// FileJournal appends one JSON object per line.
type FileJournal struct {
	path   string
	logger zerolog.Logger

	mu sync.Mutex
}

func NewFileJournal(path string, logger zerolog.Logger) (*FileJournal, error) {
	if path == "" {
		return nil, fmt.Errorf("feed health journal path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	return &FileJournal{path: path, logger: logger}, nil
}

func (j *FileJournal) Append(_ context.Context, record Record) error {
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	// Terminate a torn final line so this record starts on its own line.
	if info, err := f.Stat(); err == nil && info.Size() > 0 {
		last := make([]byte, 1)
		if _, err := f.ReadAt(last, info.Size()-1); err == nil && last[0] != '\n' {
			line = append([]byte{'\n'}, line...)
		}
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("write journal: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync journal: %w", err)
	}
	return f.Close()
}

// Load reads every record. Lines that do not decode, such as a torn final
// write, are skipped with a warning.
func (j *FileJournal) Load(_ context.Context) ([]Record, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.Open(j.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var record Record
		if err := json.Unmarshal(line, &record); err != nil || record.FeedID == "" {
			j.logger.Warn().Int("line", lineNo).Str("path", j.path).Msg("skipping unreadable feed health record")
			continue
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	return records, nil
}

// PostgresJournal stores records in secbrief.feed_health_records.
type PostgresJournal struct {
	pool  *db.Pool
	limit int
}

// NewPostgresJournal replays at most perFeed records per feed on Load.
func NewPostgresJournal(pool *db.Pool, perFeed int) (*PostgresJournal, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool is nil")
	}
	if perFeed <= 0 {
		perFeed = DefaultHistoryLimit
	}
	return &PostgresJournal{pool: pool, limit: perFeed}, nil
}

func (j *PostgresJournal) Append(ctx context.Context, record Record) error {
	const q = `
INSERT INTO secbrief.feed_health_records (feed_id, run_timestamp, item_count, stale)
VALUES ($1, $2, $3, $4)
`
	if err := j.pool.Exec(ctx, q, record.FeedID, record.RunTimestamp, record.ItemCount, record.Stale); err != nil {
		return fmt.Errorf("insert feed health record: %w", err)
	}
	return nil
}

func (j *PostgresJournal) Load(ctx context.Context) ([]Record, error) {
	const q = `
SELECT feed_id, run_timestamp, item_count, stale
FROM (
	SELECT
		feed_id,
		run_timestamp,
		item_count,
		stale,
		record_id,
		ROW_NUMBER() OVER (PARTITION BY feed_id ORDER BY run_timestamp DESC, record_id DESC) AS rn
	FROM secbrief.feed_health_records
) ranked
WHERE rn <= $1
ORDER BY run_timestamp ASC, record_id ASC
`
	rows, err := j.pool.Query(ctx, q, j.limit)
	if err != nil {
		return nil, fmt.Errorf("query feed health records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var record Record
		if err := rows.Scan(&record.FeedID, &record.RunTimestamp, &record.ItemCount, &record.Stale); err != nil {
			return nil, fmt.Errorf("scan feed health record: %w", err)
		}
		record.RunTimestamp = record.RunTimestamp.UTC()
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feed health records: %w", err)
	}
	return records, nil
}
