// Package history is the rolling, day-partitioned record of published
// briefs. It keeps the most recent RetentionDays calendar days and derives
// the seen-key snapshot the dedup passes compare against.
package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"horse.fit/secbrief/internal/fingerprint"
	"horse.fit/secbrief/internal/globaltime"
	"horse.fit/secbrief/internal/metrics"
	"horse.fit/secbrief/internal/model"
)

const DefaultRetentionDays = 7

var ErrNotFound = errors.New("brief not found")

// StorageError wraps a read or write failure against the backend. Prior
// state is left intact whenever one is returned from a write.
type StorageError struct {
	Op   string
	Date string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Date == "" {
		return fmt.Sprintf("history %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("history %s %s: %v", e.Op, e.Date, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Entry is one stored brief as listed by a Backend. Revision changes
// whenever the brief for Date is rewritten, by this process or another.
type Entry struct {
	Date     string
	Revision string
}

// Backend persists one brief per date. Put must be all-or-nothing.
type Backend interface {
	Put(ctx context.Context, brief *model.Brief) error
	Get(ctx context.Context, date string) (*model.Brief, error)
	List(ctx context.Context) ([]Entry, error)
	Delete(ctx context.Context, date string) error
}

type Options struct {
	RetentionDays int
	Logger        zerolog.Logger
	Metrics       *metrics.Metrics
}

// BriefMeta carries optional fields supplied by the ingestion job.
type BriefMeta struct {
	GeneratedAt *time.Time
}

// BuildFunc produces the stories to persist from the current snapshot. It
// runs while the write lock is held, so it must not block on I/O.
type BuildFunc func(seen *SeenKeySet) ([]model.Story, model.DedupStats, error)

// Store serializes writes, evicts beyond the retention window and serves
// reads from an immutable snapshot that is swapped on every commit.
type Store struct {
	backend   Backend
	retention int
	logger    zerolog.Logger
	metrics   *metrics.Metrics

	// writeMu serializes commits and reloads. revisions is the backend
	// revision each snapshot day was built from; it is guarded by writeMu.
	writeMu   sync.Mutex
	revisions map[string]string

	mu   sync.RWMutex
	seen *SeenKeySet
}

// Open loads the retained briefs from backend and trims anything beyond the
// retention window.
func Open(ctx context.Context, backend Backend, opts Options) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("history backend is nil")
	}
	retention := opts.RetentionDays
	if retention <= 0 {
		retention = DefaultRetentionDays
	}

	s := &Store{
		backend:   backend,
		retention: retention,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		revisions: map[string]string{},
		seen:      NewSeenKeySet(nil),
	}

	s.writeMu.Lock()
	err := s.syncLocked(ctx)
	s.writeMu.Unlock()
	if err != nil {
		return nil, err
	}

	seen := s.SeenKeys()
	s.logger.Info().
		Int("retained_dates", len(seen.days)).
		Int("seen_urls", seen.URLCount()).
		Int("retention_days", retention).
		Msg("history store opened")
	return s, nil
}

func (s *Store) RetentionDays() int {
	return s.retention
}

// WriteBrief replaces the brief for date with stories.
func (s *Store) WriteBrief(ctx context.Context, date string, stories []model.Story, stats model.DedupStats) (*model.Brief, error) {
	return s.Commit(ctx, date, BriefMeta{}, func(*SeenKeySet) ([]model.Story, model.DedupStats, error) {
		return stories, stats, nil
	})
}

// Commit runs build against the current snapshot and persists its result as
// the brief for date, all under the write lock. Holding the lock across
// build keeps the snapshot build sees identical to the one the write
// replaces.
func (s *Store) Commit(ctx context.Context, date string, meta BriefMeta, build BuildFunc) (*model.Brief, error) {
	day, err := model.ParseDate(date)
	if err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	// Another process may have written since the last commit.
	if err := s.syncLocked(ctx); err != nil {
		return nil, err
	}
	current := s.SeenKeys()
	stories, stats, err := build(current)
	if err != nil {
		return nil, err
	}

	persisted := make([]model.Story, len(stories))
	for i, story := range stories {
		fp := fingerprint.Normalize(story.URL, story.Title)
		story.NormalizedURL = fp.URL
		story.TitleKey = fp.TitleKey
		persisted[i] = story
	}

	brief := &model.Brief{
		Date:         day,
		Stories:      persisted,
		Stats:        stats,
		TotalStories: len(persisted),
		Categories:   model.CategoriesOf(persisted),
		SavedAt:      globaltime.UTC(),
		GeneratedAt:  meta.GeneratedAt,
		RunID:        uuid.NewString(),
	}
	if len(persisted) == 0 {
		brief.Categories = []string{}
	}

	next, evicted := current.withDay(dayKeysOf(day, persisted), s.retention)

	start := time.Now()
	putErr := s.backend.Put(ctx, brief)
	s.metrics.HistoryWrite(putErr, time.Since(start))
	if putErr != nil {
		s.logger.Error().Err(putErr).Str("date", day).Msg("brief write failed")
		return nil, &StorageError{Op: "write", Date: day, Err: putErr}
	}

	s.swap(next)
	// The new revision is unknown until the next listing; the day is
	// reloaded once then.
	delete(s.revisions, day)
	for _, date := range evicted {
		delete(s.revisions, date)
	}

	s.logger.Info().
		Str("date", day).
		Str("run_id", brief.RunID).
		Int("stories", brief.TotalStories).
		Int("duplicates", stats.DuplicateCount).
		Msg("brief written")

	s.evict(ctx, evicted)
	return brief, nil
}

// evict is best effort: failures are logged and the date is already gone
// from the snapshot.
func (s *Store) evict(ctx context.Context, dates []string) {
	removed := 0
	for _, date := range dates {
		if err := s.backend.Delete(ctx, date); err != nil {
			s.logger.Warn().Err(err).Str("date", date).Msg("evict brief failed")
			continue
		}
		removed++
		s.logger.Info().Str("date", date).Msg("evicted brief outside retention window")
	}
	s.metrics.Evicted(removed)
}

func (s *Store) ReadBrief(ctx context.Context, date string) (*model.Brief, error) {
	day, err := model.ParseDate(date)
	if err != nil {
		return nil, err
	}
	if err := s.Refresh(ctx); err != nil {
		return nil, err
	}
	return s.readRetained(ctx, day)
}

func (s *Store) readRetained(ctx context.Context, day string) (*model.Brief, error) {
	if !s.SeenKeys().HasDate(day) {
		return nil, ErrNotFound
	}

	brief, err := s.backend.Get(ctx, day)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, &StorageError{Op: "read", Date: day, Err: err}
	}
	return brief, nil
}

// ListDates returns the retained date keys, most recent first.
func (s *Store) ListDates(ctx context.Context) ([]string, error) {
	if err := s.Refresh(ctx); err != nil {
		return nil, err
	}
	return s.SeenKeys().Dates(), nil
}

// Latest returns the most recent retained brief.
func (s *Store) Latest(ctx context.Context) (*model.Brief, error) {
	if err := s.Refresh(ctx); err != nil {
		return nil, err
	}
	dates := s.SeenKeys().Dates()
	if len(dates) == 0 {
		return nil, ErrNotFound
	}
	return s.readRetained(ctx, dates[0])
}

// Refresh reloads the snapshot when the backend holds briefs this store did
// not write, such as a publish run from another process. Only days whose
// revision changed are read again.
func (s *Store) Refresh(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.syncLocked(ctx)
}

func (s *Store) syncLocked(ctx context.Context) error {
	entries, err := s.backend.List(ctx)
	if err != nil {
		return &StorageError{Op: "list", Err: err}
	}
	if s.inSync(entries) {
		return nil
	}

	current := s.SeenKeys()
	known := make(map[string]DayKeys, len(current.days))
	for _, day := range current.days {
		known[day.Date] = day
	}

	days := make([]DayKeys, 0, len(entries))
	revisions := make(map[string]string, len(entries))
	reloaded := 0
	for _, entry := range entries {
		if day, ok := known[entry.Date]; ok && s.revisions[entry.Date] == entry.Revision {
			days = append(days, day)
			revisions[entry.Date] = entry.Revision
			continue
		}
		brief, err := s.backend.Get(ctx, entry.Date)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// Deleted between List and Get.
				continue
			}
			return &StorageError{Op: "load", Date: entry.Date, Err: err}
		}
		days = append(days, dayKeysOf(entry.Date, brief.Stories))
		revisions[entry.Date] = entry.Revision
		reloaded++
	}

	next, evicted := NewSeenKeySet(days).trim(s.retention)
	for _, date := range evicted {
		delete(revisions, date)
	}
	s.revisions = revisions
	s.swap(next)

	if reloaded > 0 {
		s.logger.Debug().
			Int("reloaded_dates", reloaded).
			Int("retained_dates", len(next.days)).
			Msg("history snapshot reloaded from backend")
	}
	s.evict(ctx, evicted)
	return nil
}

func (s *Store) inSync(entries []Entry) bool {
	if len(entries) != len(s.revisions) {
		return false
	}
	for _, entry := range entries {
		revision, ok := s.revisions[entry.Date]
		if !ok || revision != entry.Revision {
			return false
		}
	}
	return true
}

func (s *Store) swap(next *SeenKeySet) {
	s.mu.Lock()
	s.seen = next
	s.mu.Unlock()
	s.metrics.RetainedDates(len(next.days))
}

// SeenKeys returns the current snapshot. It never changes after return.
func (s *Store) SeenKeys() *SeenKeySet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.seen == nil {
		return NewSeenKeySet(nil)
	}
	return s.seen
}
