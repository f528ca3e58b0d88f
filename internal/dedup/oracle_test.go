package dedup

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"horse.fit/secbrief/internal/fingerprint"
	"horse.fit/secbrief/internal/history"
	"horse.fit/secbrief/internal/model"
)

func newTestOracle(t *testing.T, opts Options) (*Oracle, *history.Store) {
	t.Helper()
	backend, err := history.NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBackend failed: %v", err)
	}
	store, err := history.Open(context.Background(), backend, history.Options{Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	opts.Logger = zerolog.Nop()
	oracle, err := New(store, opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return oracle, store
}

func s(url, title string) model.Story {
	return model.Story{URL: url, Title: title, SourceFeed: "test"}
}

func TestFilterCandidates_BatchURLDedupWinsFirst(t *testing.T) {
	t.Parallel()

	oracle, _ := newTestOracle(t, Options{})
	result, err := oracle.FilterCandidates(context.Background(), "2026-10-02", []model.Story{
		s("https://a.com/x?utm_source=rss", "Zero-Day in Widget"),
		s("https://a.com/x", "Zero-Day Found in Widget!"),
	})
	if err != nil {
		t.Fatalf("FilterCandidates failed: %v", err)
	}
	if len(result.Kept) != 1 || result.Kept[0].URL != "https://a.com/x?utm_source=rss" {
		t.Fatalf("expected only the first candidate to survive, got %+v", result.Kept)
	}
	if result.Stats.DuplicateCount != 1 || result.Dropped != 1 {
		t.Fatalf("unexpected stats: %+v dropped=%d", result.Stats, result.Dropped)
	}
	if result.Rejections[0].Reason != ReasonBatchURL || result.Rejections[0].Index != 1 {
		t.Fatalf("expected URL dedup to fire, got %+v", result.Rejections[0])
	}
	if result.Kept[0].NormalizedURL != "https://a.com/x" {
		t.Fatalf("expected normalized url on kept story, got %q", result.Kept[0].NormalizedURL)
	}
}

func TestFilterCandidates_DropsURLSeenOnEarlierDay(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	oracle, store := newTestOracle(t, Options{})
	if _, err := store.WriteBrief(ctx, "2026-10-01", []model.Story{
		s("https://b.com/y", "Acme patches router flaw"),
		s("https://b.com/z", "Botnet targets cameras"),
	}, model.DedupStats{}); err != nil {
		t.Fatalf("WriteBrief failed: %v", err)
	}

	result, err := oracle.FilterCandidates(ctx, "2026-10-02", []model.Story{
		s("https://b.com/y/", "Completely different headline text"),
		s("https://c.com/new", "Fresh story about ransomware"),
	})
	if err != nil {
		t.Fatalf("FilterCandidates failed: %v", err)
	}
	if len(result.Kept) != 1 || result.Kept[0].URL != "https://c.com/new" {
		t.Fatalf("unexpected kept stories: %+v", result.Kept)
	}
	if result.Rejections[0].Reason != ReasonSeenURL {
		t.Fatalf("expected seen_url rejection, got %+v", result.Rejections[0])
	}
	if result.Stats.PreviouslySeenURLs != 2 || result.Stats.DuplicateCount != 1 {
		t.Fatalf("unexpected stats: %+v", result.Stats)
	}
}

func TestFilterCandidates_SameDayRunIgnoresOwnBrief(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	oracle, store := newTestOracle(t, Options{})
	if _, err := store.WriteBrief(ctx, "2026-10-02", []model.Story{s("https://a.com/morning", "Morning story")}, model.DedupStats{}); err != nil {
		t.Fatalf("WriteBrief failed: %v", err)
	}

	result, err := oracle.FilterCandidates(ctx, "2026-10-02", []model.Story{s("https://a.com/morning", "Morning story")})
	if err != nil {
		t.Fatalf("FilterCandidates failed: %v", err)
	}
	if len(result.Kept) != 1 {
		t.Fatalf("expected the morning story to be re-admitted for the evening run, got %+v", result.Rejections)
	}
}

func TestFilterCandidates_TitleHistoryIsOptIn(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	candidates := []model.Story{s("https://other.com/story", "State hackers exploit Acme VPN zero-day flaw")}
	existing := []model.Story{s("https://b.com/acme", "Acme VPN zero-day exploited by state hackers")}

	plain, plainStore := newTestOracle(t, Options{})
	if _, err := plainStore.WriteBrief(ctx, "2026-10-01", existing, model.DedupStats{}); err != nil {
		t.Fatalf("WriteBrief failed: %v", err)
	}
	result, err := plain.FilterCandidates(ctx, "2026-10-02", candidates)
	if err != nil {
		t.Fatalf("FilterCandidates failed: %v", err)
	}
	if len(result.Kept) != 1 {
		t.Fatalf("expected URL-only pre-pass to keep the story, got %+v", result.Rejections)
	}

	strict, strictStore := newTestOracle(t, Options{PrePassTitleHistory: true})
	if _, err := strictStore.WriteBrief(ctx, "2026-10-01", existing, model.DedupStats{}); err != nil {
		t.Fatalf("WriteBrief failed: %v", err)
	}
	result, err = strict.FilterCandidates(ctx, "2026-10-02", candidates)
	if err != nil {
		t.Fatalf("FilterCandidates failed: %v", err)
	}
	if len(result.Kept) != 0 || result.Rejections[0].Reason != ReasonSeenTitle {
		t.Fatalf("expected title history check to drop the story, got %+v", result)
	}
}

func TestFilterCandidates_BatchTitleSimilarity(t *testing.T) {
	t.Parallel()

	oracle, _ := newTestOracle(t, Options{})
	result, err := oracle.FilterCandidates(context.Background(), "2026-10-02", []model.Story{
		s("https://one.com/a", "Microsoft patches exchange server zero-day"),
		s("https://two.com/b", "Microsoft patches Exchange Server zero-day flaw"),
		s("https://three.com/c", "Police arrest ransomware affiliate in Spain"),
	})
	if err != nil {
		t.Fatalf("FilterCandidates failed: %v", err)
	}
	if len(result.Kept) != 2 {
		t.Fatalf("expected two stories to survive, got %+v", result.Kept)
	}
	if result.Rejections[0].Reason != ReasonBatchTitle || result.Rejections[0].Index != 1 {
		t.Fatalf("expected title dedup on the second candidate, got %+v", result.Rejections[0])
	}
}

func TestFilterCandidates_InvalidAndNonEnglish(t *testing.T) {
	t.Parallel()

	oracle, _ := newTestOracle(t, Options{})
	result, err := oracle.FilterCandidates(context.Background(), "2026-10-02", []model.Story{
		s("", "No url"),
		s("not a url", "Relative url"),
		s("https://a.com/empty", "   "),
		s("https://a.com/jp", "ランサムウェア攻撃で病院が停止"),
		s("https://a.com/en", "Ransomware attack halts hospital"),
	})
	if err != nil {
		t.Fatalf("FilterCandidates failed: %v", err)
	}
	if result.Stats.InvalidCount != 3 || result.Stats.NonEnglishCount != 1 {
		t.Fatalf("unexpected stats: %+v", result.Stats)
	}
	if len(result.Kept) != 1 || result.Kept[0].URL != "https://a.com/en" {
		t.Fatalf("unexpected kept stories: %+v", result.Kept)
	}
	if result.Stats.OriginalCount != 5 || result.Stats.NewStoriesCount != 1 || result.Dropped != 4 {
		t.Fatalf("unexpected totals: %+v dropped=%d", result.Stats, result.Dropped)
	}
	if result.Rejections[0].Detail != "url is required" {
		t.Fatalf("unexpected validation detail: %q", result.Rejections[0].Detail)
	}
}

func TestFilterCandidates_Idempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	oracle, store := newTestOracle(t, Options{})
	if _, err := store.WriteBrief(ctx, "2026-10-01", []model.Story{s("https://b.com/y", "Old story")}, model.DedupStats{}); err != nil {
		t.Fatalf("WriteBrief failed: %v", err)
	}

	candidates := []model.Story{
		s("https://b.com/y", "Old story again"),
		s("https://c.com/1", "Supply chain attack hits npm packages"),
		s("https://c.com/2", "Supply chain attack hits npm packages again"),
		s("https://c.com/3", "New phishing kit bypasses MFA"),
	}
	first, err := oracle.FilterCandidates(ctx, "2026-10-02", candidates)
	if err != nil {
		t.Fatalf("first pass failed: %v", err)
	}
	second, err := oracle.FilterCandidates(ctx, "2026-10-02", candidates)
	if err != nil {
		t.Fatalf("second pass failed: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical results, got %+v and %+v", first, second)
	}
}

func TestFilterCandidates_InvalidDate(t *testing.T) {
	t.Parallel()

	oracle, _ := newTestOracle(t, Options{})
	_, err := oracle.FilterCandidates(context.Background(), "2026-13-01", nil)
	var validationErr *model.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestReconcile_DropsRewrittenTitleSeenOnEarlierDay(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	oracle, store := newTestOracle(t, Options{})
	if _, err := store.WriteBrief(ctx, "2026-10-01", []model.Story{
		s("https://b.com/acme", "Acme VPN zero-day exploited by state hackers"),
	}, model.DedupStats{}); err != nil {
		t.Fatalf("WriteBrief failed: %v", err)
	}

	raw := []model.Story{s("https://other.com/story", "Acme VPN bug under attack")}
	pre, err := oracle.FilterCandidates(ctx, "2026-10-02", raw)
	if err != nil || len(pre.Kept) != 1 {
		t.Fatalf("expected pre-pass to keep the story, got %+v err=%v", pre, err)
	}

	rewritten := pre.Kept[0]
	rewritten.Title = "State hackers exploit Acme VPN zero-day flaw"
	rewritten.Severity = 4
	left := fingerprint.TitleKey(rewritten.Title)
	right := fingerprint.TitleKey("Acme VPN zero-day exploited by state hackers")
	if score := oracle.matcher.Score(left, right); score < 0.6 || score > 0.7 {
		t.Fatalf("expected similarity near 0.65, got %.3f", score)
	}

	post, err := oracle.Reconcile(ctx, "2026-10-02", []model.Story{rewritten})
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if len(post.Stories) != 0 || post.Rejections[0].Reason != ReasonSeenTitle {
		t.Fatalf("expected rewritten title to be dropped, got %+v", post)
	}
	if post.Stats.DuplicateCount != 1 {
		t.Fatalf("unexpected stats: %+v", post.Stats)
	}
}

func TestReconcile_CoercesSeverity(t *testing.T) {
	t.Parallel()

	oracle, _ := newTestOracle(t, Options{})
	stories := []model.Story{
		{URL: "https://a.com/1", Title: "Critical bug in hypervisor", Severity: 5},
		{URL: "https://a.com/2", Title: "Minor patch for printer driver", Severity: 0},
		{URL: "https://a.com/3", Title: "Researchers publish exploit chain", Severity: 9},
		{URL: "https://a.com/4", Title: "Data broker exposes records", Severity: -1, SeverityCoerced: true},
	}

	post, err := oracle.Reconcile(context.Background(), "2026-10-02", stories)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if len(post.Stories) != 4 {
		t.Fatalf("expected severity never to drop a story, got %d", len(post.Stories))
	}
	want := []model.Severity{5, 3, 3, 3}
	for i, story := range post.Stories {
		if story.Severity != want[i] {
			t.Fatalf("story %d severity = %d, want %d", i, story.Severity, want[i])
		}
		if story.SeverityCoerced != (i != 0) {
			t.Fatalf("story %d coerced flag = %v", i, story.SeverityCoerced)
		}
	}
	if post.Stats.SeverityCoerced != 3 {
		t.Fatalf("unexpected coerced count: %d", post.Stats.SeverityCoerced)
	}
}

func TestNew_CustomDefaultSeverity(t *testing.T) {
	t.Parallel()

	oracle, _ := newTestOracle(t, Options{DefaultSeverity: 2})
	post, err := oracle.Reconcile(context.Background(), "2026-10-02", []model.Story{s("https://a.com/1", "Story without rating")})
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if post.Stories[0].Severity != 2 {
		t.Fatalf("expected configured default severity, got %d", post.Stories[0].Severity)
	}

	if _, err := New(&history.Store{}, Options{DefaultSeverity: 7}); err == nil {
		t.Fatalf("expected out-of-range default severity to be rejected")
	}
}

func TestPublish_WritesReconciledBrief(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	oracle, store := newTestOracle(t, Options{})
	if _, err := store.WriteBrief(ctx, "2026-10-01", []model.Story{s("https://b.com/y", "Yesterday story")}, model.DedupStats{}); err != nil {
		t.Fatalf("WriteBrief failed: %v", err)
	}

	result, err := oracle.Publish(ctx, "2026-10-02", []model.Story{
		{URL: "https://b.com/y?utm_medium=email", Title: "Yesterday story", Category: "Breaches", Severity: 3},
		{URL: "https://c.com/z", Title: "Law enforcement seizes leak site", Category: "Cybercrime", Severity: 4},
	}, history.BriefMeta{})
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if result.Brief.TotalStories != 1 || result.Brief.Stories[0].URL != "https://c.com/z" {
		t.Fatalf("unexpected published brief: %+v", result.Brief)
	}
	if result.Brief.Stats.DuplicateCount != 1 || result.Brief.Stats.OriginalCount != 2 {
		t.Fatalf("unexpected persisted stats: %+v", result.Brief.Stats)
	}

	stored, err := store.ReadBrief(ctx, "2026-10-02")
	if err != nil {
		t.Fatalf("ReadBrief failed: %v", err)
	}
	if !reflect.DeepEqual(stored.Stories, result.Brief.Stories) {
		t.Fatalf("expected persisted stories to match the post-pass output")
	}
}

func TestPublish_ConcurrentRunsNeverRepeatURLsAcrossDays(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	oracle, store := newTestOracle(t, Options{})

	shared := []model.Story{
		s("https://shared.com/1", "Shared story one about botnets"),
		s("https://shared.com/2", "Shared story two about phishing"),
	}

	var wg sync.WaitGroup
	for day := 1; day <= 6; day++ {
		wg.Add(1)
		go func(day int) {
			defer wg.Done()
			stories := append([]model.Story{}, shared...)
			stories = append(stories, s(fmt.Sprintf("https://unique.com/%d", day), fmt.Sprintf("Unique story number %d", day)))
			if _, err := oracle.Publish(ctx, fmt.Sprintf("2026-10-%02d", day), stories, history.BriefMeta{}); err != nil {
				t.Errorf("Publish failed: %v", err)
			}
		}(day)
	}
	wg.Wait()

	owners := make(map[string]string)
	dates, _ := store.ListDates(ctx)
	for _, date := range dates {
		brief, err := store.ReadBrief(ctx, date)
		if err != nil {
			t.Fatalf("ReadBrief failed: %v", err)
		}
		for _, story := range brief.Stories {
			if other, ok := owners[story.NormalizedURL]; ok {
				t.Fatalf("url %s retained on both %s and %s", story.NormalizedURL, other, date)
			}
			owners[story.NormalizedURL] = date
		}
	}
	if len(owners) != 8 {
		t.Fatalf("expected 2 shared and 6 unique urls, got %d", len(owners))
	}
}

type brokenStore struct {
	seen *history.SeenKeySet
}

func (b *brokenStore) Refresh(context.Context) error { return nil }

func (b *brokenStore) SeenKeys() *history.SeenKeySet { return b.seen }

func (b *brokenStore) Commit(context.Context, string, history.BriefMeta, history.BuildFunc) (*model.Brief, error) {
	return nil, &history.StorageError{Op: "write", Date: "2026-10-02", Err: errors.New("read-only file system")}
}

func TestPublish_SurfacesStorageError(t *testing.T) {
	t.Parallel()

	oracle, err := New(&brokenStore{seen: history.NewSeenKeySet(nil)}, Options{Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	_, err = oracle.Publish(context.Background(), "2026-10-02", []model.Story{s("https://a.com/1", "Story")}, history.BriefMeta{})
	var storageErr *history.StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("expected StorageError, got %v", err)
	}
}

func TestFilterCandidates_SeesBriefPublishedByAnotherProcess(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	openStore := func() *history.Store {
		backend, err := history.NewFileBackend(dir)
		if err != nil {
			t.Fatalf("NewFileBackend failed: %v", err)
		}
		store, err := history.Open(ctx, backend, history.Options{Logger: zerolog.Nop()})
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		return store
	}

	oracle, err := New(openStore(), Options{Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	publisher := openStore()
	if _, err := publisher.WriteBrief(ctx, "2026-10-01", []model.Story{
		s("https://a.com/published", "Mail server zero-day exploited in the wild"),
	}, model.DedupStats{}); err != nil {
		t.Fatalf("WriteBrief failed: %v", err)
	}

	result, err := oracle.FilterCandidates(ctx, "2026-10-02", []model.Story{
		s("https://a.com/published?utm_medium=email", "Mail server zero-day exploited"),
	})
	if err != nil {
		t.Fatalf("FilterCandidates failed: %v", err)
	}
	if len(result.Kept) != 0 || result.Rejections[0].Reason != ReasonSeenURL {
		t.Fatalf("expected the other process's url to be seen, got %+v", result)
	}
}
