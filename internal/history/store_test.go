package history

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"horse.fit/secbrief/internal/model"
)

func openFileStore(t *testing.T, dir string) *Store {
	t.Helper()
	backend, err := NewFileBackend(dir)
	if err != nil {
		t.Fatalf("NewFileBackend failed: %v", err)
	}
	store, err := Open(context.Background(), backend, Options{Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return store
}

func story(url, title string) model.Story {
	return model.Story{URL: url, Title: title}
}

func dateN(n int) string {
	return fmt.Sprintf("2026-10-%02d", n)
}

func TestWriteBrief_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openFileStore(t, t.TempDir())

	stats := model.DedupStats{OriginalCount: 3, DuplicateCount: 1, NewStoriesCount: 2}
	written, err := store.WriteBrief(ctx, "2026-10-01", []model.Story{
		{URL: "https://b.com/y?utm_source=rss", Title: "Acme VPN flaw exploited", Category: "Vulnerabilities"},
		{URL: "https://c.com/z", Title: "Ransomware hits hospital chain"},
	}, stats)
	if err != nil {
		t.Fatalf("WriteBrief failed: %v", err)
	}
	if written.RunID == "" {
		t.Fatalf("expected run id to be assigned")
	}

	brief, err := store.ReadBrief(ctx, "2026-10-01")
	if err != nil {
		t.Fatalf("ReadBrief failed: %v", err)
	}
	if brief.TotalStories != 2 || len(brief.Stories) != 2 {
		t.Fatalf("unexpected story count: %d", brief.TotalStories)
	}
	if brief.Stories[0].NormalizedURL != "https://b.com/y" {
		t.Fatalf("expected normalized url to be derived, got %q", brief.Stories[0].NormalizedURL)
	}
	if brief.Stats != stats {
		t.Fatalf("unexpected stats: %+v", brief.Stats)
	}
	if len(brief.Categories) != 2 || brief.Categories[0] != "Uncategorized" || brief.Categories[1] != "Vulnerabilities" {
		t.Fatalf("unexpected categories: %v", brief.Categories)
	}
}

func TestWriteBrief_ReplacesSameDate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openFileStore(t, t.TempDir())

	if _, err := store.WriteBrief(ctx, "2026-10-01", []model.Story{story("https://a.com/1", "first run story")}, model.DedupStats{}); err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	if _, err := store.WriteBrief(ctx, "2026-10-01", []model.Story{story("https://a.com/2", "second run story")}, model.DedupStats{}); err != nil {
		t.Fatalf("second write failed: %v", err)
	}

	brief, err := store.ReadBrief(ctx, "2026-10-01")
	if err != nil {
		t.Fatalf("ReadBrief failed: %v", err)
	}
	if len(brief.Stories) != 1 || brief.Stories[0].URL != "https://a.com/2" {
		t.Fatalf("expected brief to be replaced, got %+v", brief.Stories)
	}
	if store.SeenKeys().HasURL("https://a.com/1") {
		t.Fatalf("expected replaced story to leave the seen set")
	}
	dates, _ := store.ListDates(ctx)
	if len(dates) != 1 {
		t.Fatalf("expected one retained date, got %v", dates)
	}
}

func TestWriteBrief_EvictsBeyondRetention(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	store := openFileStore(t, dir)

	for day := 1; day <= 8; day++ {
		url := fmt.Sprintf("https://a.com/%d", day)
		if _, err := store.WriteBrief(ctx, dateN(day), []model.Story{story(url, "story")}, model.DedupStats{}); err != nil {
			t.Fatalf("write day %d failed: %v", day, err)
		}
	}

	dates, err := store.ListDates(ctx)
	if err != nil {
		t.Fatalf("ListDates failed: %v", err)
	}
	if len(dates) != 7 {
		t.Fatalf("expected 7 retained dates, got %d (%v)", len(dates), dates)
	}
	if dates[0] != dateN(8) || dates[6] != dateN(2) {
		t.Fatalf("unexpected retained dates: %v", dates)
	}
	if _, err := store.ReadBrief(ctx, dateN(1)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected evicted date to be not found, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "tech_brief_"+dateN(1)+".json")); !os.IsNotExist(err) {
		t.Fatalf("expected evicted file to be removed, stat err=%v", err)
	}
	if store.SeenKeys().HasURL("https://a.com/1") {
		t.Fatalf("expected evicted url to leave the seen set")
	}
}

func TestWriteBrief_OutOfOrderDatesKeepMostRecent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openFileStore(t, t.TempDir())

	for _, day := range []int{9, 3, 12, 1, 15, 7, 20, 4, 18} {
		if _, err := store.WriteBrief(ctx, dateN(day), nil, model.DedupStats{}); err != nil {
			t.Fatalf("write day %d failed: %v", day, err)
		}
	}

	dates, _ := store.ListDates(ctx)
	want := []string{dateN(20), dateN(18), dateN(15), dateN(12), dateN(9), dateN(7), dateN(4)}
	if len(dates) != len(want) {
		t.Fatalf("unexpected dates: %v", dates)
	}
	for i := range want {
		if dates[i] != want[i] {
			t.Fatalf("unexpected dates: got %v want %v", dates, want)
		}
	}
}

func TestReadBrief_NotFoundAndInvalidDate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openFileStore(t, t.TempDir())

	if _, err := store.ReadBrief(ctx, "2026-10-05"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	var validationErr *model.ValidationError
	if _, err := store.ReadBrief(ctx, "10/05/2026"); !errors.As(err, &validationErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := store.Latest(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from empty store, got %v", err)
	}
}

func TestOpen_ReloadsAndTrims(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	backend, err := NewFileBackend(dir)
	if err != nil {
		t.Fatalf("NewFileBackend failed: %v", err)
	}
	for day := 1; day <= 9; day++ {
		brief := &model.Brief{Date: dateN(day), Stories: []model.Story{story(fmt.Sprintf("https://x.com/%d", day), "t")}}
		if err := backend.Put(ctx, brief); err != nil {
			t.Fatalf("seed put failed: %v", err)
		}
	}
	mustWriteFile(t, filepath.Join(dir, ".tech_brief_2026-10-10-123.tmp"), "{partial")
	mustWriteFile(t, filepath.Join(dir, "notes.txt"), "ignored")

	store, err := Open(ctx, backend, Options{Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	dates, _ := store.ListDates(ctx)
	if len(dates) != 7 || dates[0] != dateN(9) {
		t.Fatalf("unexpected dates after reload: %v", dates)
	}
	if !store.SeenKeys().HasURL("https://x.com/9") || store.SeenKeys().HasURL("https://x.com/1") {
		t.Fatalf("unexpected seen set after reload: %v", store.SeenKeys().URLs())
	}
	onDisk, _ := backend.Dates(ctx)
	if len(onDisk) != 7 {
		t.Fatalf("expected trimmed files on disk, got %v", onDisk)
	}

	latest, err := store.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if latest.Date != dateN(9) {
		t.Fatalf("unexpected latest date: %s", latest.Date)
	}
}

type failingBackend struct {
	*FileBackend
	failPut bool
}

func (b *failingBackend) Put(ctx context.Context, brief *model.Brief) error {
	if b.failPut {
		return errors.New("disk full")
	}
	return b.FileBackend.Put(ctx, brief)
}

func TestWriteBrief_FailureLeavesPriorState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fileBackend, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBackend failed: %v", err)
	}
	backend := &failingBackend{FileBackend: fileBackend}
	store, err := Open(ctx, backend, Options{Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if _, err := store.WriteBrief(ctx, "2026-10-01", []model.Story{story("https://a.com/ok", "kept story")}, model.DedupStats{}); err != nil {
		t.Fatalf("initial write failed: %v", err)
	}

	backend.failPut = true
	_, err = store.WriteBrief(ctx, "2026-10-01", []model.Story{story("https://a.com/new", "replacement")}, model.DedupStats{})
	var storageErr *StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("expected StorageError, got %v", err)
	}
	if storageErr.Op != "write" || storageErr.Date != "2026-10-01" {
		t.Fatalf("unexpected storage error: %+v", storageErr)
	}

	brief, err := store.ReadBrief(ctx, "2026-10-01")
	if err != nil {
		t.Fatalf("ReadBrief failed: %v", err)
	}
	if brief.Stories[0].URL != "https://a.com/ok" {
		t.Fatalf("expected prior brief to survive failed write, got %+v", brief.Stories)
	}
	if !store.SeenKeys().HasURL("https://a.com/ok") || store.SeenKeys().HasURL("https://a.com/new") {
		t.Fatalf("expected snapshot to be unchanged after failed write")
	}
}

func TestCommit_BuildErrorWritesNothing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openFileStore(t, t.TempDir())

	buildErr := errors.New("rejected")
	_, err := store.Commit(ctx, "2026-10-01", BriefMeta{}, func(*SeenKeySet) ([]model.Story, model.DedupStats, error) {
		return nil, model.DedupStats{}, buildErr
	})
	if !errors.Is(err, buildErr) {
		t.Fatalf("expected build error, got %v", err)
	}
	if dates, _ := store.ListDates(ctx); len(dates) != 0 {
		t.Fatalf("expected no dates after failed build, got %v", dates)
	}
}

func TestStore_ConcurrentReadersAndWriters(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openFileStore(t, t.TempDir())

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for day := 1; day <= 10; day++ {
				url := fmt.Sprintf("https://w%d.com/%d", w, day)
				if _, err := store.WriteBrief(ctx, dateN(day), []model.Story{story(url, "concurrent story")}, model.DedupStats{}); err != nil {
					t.Errorf("write failed: %v", err)
					return
				}
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				dates, _ := store.ListDates(ctx)
				if len(dates) > 7 {
					t.Errorf("retention exceeded: %v", dates)
					return
				}
				for _, date := range dates {
					brief, err := store.ReadBrief(ctx, date)
					if err != nil && !errors.Is(err, ErrNotFound) {
						t.Errorf("read %s failed: %v", date, err)
						return
					}
					if err == nil && len(brief.Stories) != 1 {
						t.Errorf("read partial brief for %s: %+v", date, brief)
						return
					}
				}
				_ = store.SeenKeys().URLs()
			}
		}()
	}
	wg.Wait()

	dates, _ := store.ListDates(ctx)
	if len(dates) != 7 || dates[0] != dateN(10) || dates[6] != dateN(4) {
		t.Fatalf("unexpected final dates: %v", dates)
	}
}

func TestSeenKeySet_Without(t *testing.T) {
	t.Parallel()

	set := NewSeenKeySet([]DayKeys{
		{Date: "2026-10-01", URLs: []string{"https://a.com/1"}, TitleKeys: []string{"acme flaw vpn"}},
		{Date: "2026-10-02", URLs: []string{"https://a.com/2"}, TitleKeys: []string{"hospital ransomware"}},
	})
	if got := set.Dates(); got[0] != "2026-10-02" {
		t.Fatalf("expected most recent date first, got %v", got)
	}

	without := set.Without("2026-10-02")
	if without.HasURL("https://a.com/2") || !without.HasURL("https://a.com/1") {
		t.Fatalf("unexpected urls after Without: %v", without.URLs())
	}
	if len(without.TitleKeys()) != 1 {
		t.Fatalf("unexpected title keys after Without: %v", without.TitleKeys())
	}
	if !set.HasURL("https://a.com/2") {
		t.Fatalf("expected original snapshot to be unchanged")
	}

	var nilSet *SeenKeySet
	if nilSet.HasURL("x") || nilSet.URLCount() != 0 || len(nilSet.URLs()) != 0 {
		t.Fatalf("expected nil snapshot to be empty")
	}
}

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func TestStore_SeesBriefsWrittenByAnotherStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	server := openFileStore(t, dir)
	cli := openFileStore(t, dir)

	if _, err := cli.WriteBrief(ctx, "2026-10-02", []model.Story{story("https://a.com/first", "Router botnet grows")}, model.DedupStats{}); err != nil {
		t.Fatalf("WriteBrief failed: %v", err)
	}

	dates, err := server.ListDates(ctx)
	if err != nil {
		t.Fatalf("ListDates failed: %v", err)
	}
	if len(dates) != 1 || dates[0] != "2026-10-02" {
		t.Fatalf("expected the other store's date, got %v", dates)
	}
	brief, err := server.ReadBrief(ctx, "2026-10-02")
	if err != nil {
		t.Fatalf("ReadBrief failed: %v", err)
	}
	if brief.Stories[0].URL != "https://a.com/first" {
		t.Fatalf("unexpected brief: %+v", brief.Stories)
	}
	if !server.SeenKeys().HasURL("https://a.com/first") {
		t.Fatalf("expected snapshot to include the other store's url")
	}

	// A same-day rewrite elsewhere replaces the day's keys.
	if _, err := cli.WriteBrief(ctx, "2026-10-02", []model.Story{story("https://a.com/second-story", "Printer driver flaw patched")}, model.DedupStats{}); err != nil {
		t.Fatalf("rewrite failed: %v", err)
	}
	if err := server.Refresh(ctx); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	seen := server.SeenKeys()
	if seen.HasURL("https://a.com/first") || !seen.HasURL("https://a.com/second-story") {
		t.Fatalf("expected rewritten day to replace keys, got %v", seen.URLs())
	}

	// Commit builds against the reloaded snapshot.
	_, err = server.Commit(ctx, "2026-10-03", BriefMeta{}, func(current *SeenKeySet) ([]model.Story, model.DedupStats, error) {
		if !current.HasURL("https://a.com/second-story") {
			t.Errorf("expected commit snapshot to include the other store's url")
		}
		return []model.Story{story("https://a.com/third", "Cloud outage root cause")}, model.DedupStats{}, nil
	})
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	latest, err := cli.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if latest.Date != "2026-10-03" {
		t.Fatalf("expected other store to see 2026-10-03, got %s", latest.Date)
	}
}

func TestStore_RefreshDropsDatesRemovedElsewhere(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	store := openFileStore(t, dir)
	if _, err := store.WriteBrief(ctx, "2026-10-01", []model.Story{story("https://a.com/1", "Old story")}, model.DedupStats{}); err != nil {
		t.Fatalf("WriteBrief failed: %v", err)
	}

	if err := os.Remove(filepath.Join(dir, "tech_brief_2026-10-01.json")); err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	if _, err := store.ReadBrief(ctx, "2026-10-01"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if store.SeenKeys().HasURL("https://a.com/1") {
		t.Fatalf("expected removed day to leave the snapshot")
	}
}
