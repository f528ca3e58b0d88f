// Package feedhealth keeps a per-feed log of item counts and flags feeds that
// returned nothing for several consecutive runs. It is advisory: nothing here
// blocks or filters ingestion.
package feedhealth

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/secbrief/internal/globaltime"
	"horse.fit/secbrief/internal/metrics"
)

const (
	DefaultStaleRuns    = 3
	DefaultHistoryLimit = 30
)

// Record is one run of one feed. Stale is the flag as evaluated when the
// record was written; later runs never rewrite it.
type Record struct {
	FeedID       string    `json:"feed_id"`
	RunTimestamp time.Time `json:"run_timestamp"`
	ItemCount    int       `json:"item_count"`
	Stale        bool      `json:"stale"`
}

// Status summarizes a feed for the health endpoints.
type Status struct {
	FeedID           string  `json:"feed_id"`
	Name             string  `json:"name,omitempty"`
	Latest           *Record `json:"latest,omitempty"`
	Stale            bool    `json:"stale"`
	ConsecutiveEmpty int     `json:"consecutive_empty"`
	Registered       bool    `json:"registered"`
}

// Journal is the append-only record log.
type Journal interface {
	Append(ctx context.Context, record Record) error
	Load(ctx context.Context) ([]Record, error)
}

// Alert is raised when a feed becomes stale.
type Alert struct {
	FeedID     string    `json:"feed_id"`
	EmptyRuns  int       `json:"empty_runs"`
	LastRunAt  time.Time `json:"last_run_at"`
	RaisedAt   time.Time `json:"raised_at"`
	Registered bool      `json:"registered"`
}

type Alerter interface {
	StaleFeed(ctx context.Context, alert Alert) error
}

type Options struct {
	StaleRuns    int
	HistoryLimit int
	Registry     *Registry
	Logger       zerolog.Logger
	Metrics      *metrics.Metrics
}

type Tracker struct {
	journal   Journal
	alerter   Alerter
	registry  *Registry
	staleRuns int
	limit     int
	logger    zerolog.Logger
	metrics   *metrics.Metrics

	mu    sync.RWMutex
	feeds map[string][]Record
}

// New replays journal into memory. A nil alerter logs alerts only.
func New(ctx context.Context, journal Journal, alerter Alerter, opts Options) (*Tracker, error) {
	if journal == nil {
		return nil, fmt.Errorf("feed health journal is nil")
	}
	staleRuns := opts.StaleRuns
	if staleRuns <= 0 {
		staleRuns = DefaultStaleRuns
	}
	limit := opts.HistoryLimit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit < staleRuns {
		limit = staleRuns
	}
	if alerter == nil {
		alerter = NewLogAlerter(opts.Logger)
	}

	t := &Tracker{
		journal:   journal,
		alerter:   alerter,
		registry:  opts.Registry,
		staleRuns: staleRuns,
		limit:     limit,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		feeds:     make(map[string][]Record),
	}

	records, err := journal.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("replay feed health journal: %w", err)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].RunTimestamp.Before(records[j].RunTimestamp)
	})
	for _, record := range records {
		t.appendLocked(record)
	}

	t.logger.Info().
		Int("records", len(records)).
		Int("feeds", len(t.feeds)).
		Int("stale_runs", staleRuns).
		Msg("feed health tracker loaded")
	return t, nil
}

func (t *Tracker) StaleRuns() int {
	return t.staleRuns
}

// RecordRun appends one run for feedID. A zero timestamp means now.
func (t *Tracker) RecordRun(ctx context.Context, feedID string, itemCount int, ts time.Time) (Record, error) {
	feedID = strings.TrimSpace(feedID)
	if feedID == "" {
		return Record{}, fmt.Errorf("feed id is required")
	}
	if itemCount < 0 {
		return Record{}, fmt.Errorf("item count must be >= 0 (got %d)", itemCount)
	}
	if ts.IsZero() {
		ts = globaltime.UTC()
	}

	t.mu.Lock()
	previous := t.feeds[feedID]
	wasStale := staleAt(previous, t.staleRuns)
	record := Record{FeedID: feedID, RunTimestamp: ts.UTC(), ItemCount: itemCount}
	record.Stale = staleAt(append(append([]Record{}, previous...), record), t.staleRuns)

	if err := t.journal.Append(ctx, record); err != nil {
		t.mu.Unlock()
		return Record{}, fmt.Errorf("append feed health record: %w", err)
	}
	t.appendLocked(record)
	emptyRuns := consecutiveEmpty(t.feeds[feedID])
	t.mu.Unlock()

	t.metrics.FeedRun(feedID, itemCount, record.Stale)

	if record.Stale && !wasStale {
		t.raise(ctx, Alert{
			FeedID:     feedID,
			EmptyRuns:  emptyRuns,
			LastRunAt:  record.RunTimestamp,
			RaisedAt:   globaltime.UTC(),
			Registered: t.registry.Has(feedID),
		})
	} else if wasStale && !record.Stale {
		t.logger.Info().Str("feed_id", feedID).Int("item_count", itemCount).Msg("feed recovered")
	}
	return record, nil
}

// RecordSummary records one run for every feed in counts. Registered feeds
// missing from counts are recorded with zero items.
func (t *Tracker) RecordSummary(ctx context.Context, counts map[string]int, ts time.Time) ([]Record, error) {
	if ts.IsZero() {
		ts = globaltime.UTC()
	}

	merged := make(map[string]int, len(counts))
	for _, feed := range t.registry.Feeds() {
		merged[feed.ID] = 0
	}
	for feedID, count := range counts {
		merged[strings.TrimSpace(feedID)] = count
	}

	ids := make([]string, 0, len(merged))
	for id := range merged {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	records := make([]Record, 0, len(ids))
	for _, id := range ids {
		record, err := t.RecordRun(ctx, id, merged[id], ts)
		if err != nil {
			return records, fmt.Errorf("record run for %q: %w", id, err)
		}
		records = append(records, record)
	}
	return records, nil
}

func (t *Tracker) raise(ctx context.Context, alert Alert) {
	if err := t.alerter.StaleFeed(ctx, alert); err != nil {
		t.logger.Warn().Err(err).Str("feed_id", alert.FeedID).Msg("stale feed alert failed")
	}
}

// StaleFeed reports whether feedID's last StaleRuns runs all had zero items.
func (t *Tracker) StaleFeed(feedID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return staleAt(t.feeds[feedID], t.staleRuns)
}

// StaleFeeds returns the currently stale feed ids, sorted.
func (t *Tracker) StaleFeeds() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]string, 0)
	for feedID, records := range t.feeds {
		if staleAt(records, t.staleRuns) {
			out = append(out, feedID)
		}
	}
	sort.Strings(out)
	return out
}

// History returns the retained records for feedID, oldest first.
func (t *Tracker) History(feedID string) []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	records := t.feeds[feedID]
	out := make([]Record, len(records))
	copy(out, records)
	return out
}

// Statuses lists every known or registered feed, sorted by id.
func (t *Tracker) Statuses() []Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	byID := make(map[string]*Status, len(t.feeds))
	for _, feed := range t.registry.Feeds() {
		byID[feed.ID] = &Status{FeedID: feed.ID, Name: feed.Name, Registered: true}
	}
	for feedID, records := range t.feeds {
		status, ok := byID[feedID]
		if !ok {
			status = &Status{FeedID: feedID}
			byID[feedID] = status
		}
		if len(records) > 0 {
			latest := records[len(records)-1]
			status.Latest = &latest
		}
		status.Stale = staleAt(records, t.staleRuns)
		status.ConsecutiveEmpty = consecutiveEmpty(records)
	}

	out := make([]Status, 0, len(byID))
	for _, status := range byID {
		out = append(out, *status)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].FeedID < out[j].FeedID
	})
	return out
}

func (t *Tracker) appendLocked(record Record) {
	records := append(t.feeds[record.FeedID], record)
	if len(records) > t.limit {
		records = append([]Record(nil), records[len(records)-t.limit:]...)
	}
	t.feeds[record.FeedID] = records
}

func staleAt(records []Record, staleRuns int) bool {
	if staleRuns <= 0 || len(records) < staleRuns {
		return false
	}
	return consecutiveEmpty(records) >= staleRuns
}

func consecutiveEmpty(records []Record) int {
	n := 0
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].ItemCount != 0 {
			break
		}
		n++
	}
	return n
}
