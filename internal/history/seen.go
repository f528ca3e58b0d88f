package history

import (
	"sort"

	"horse.fit/secbrief/internal/fingerprint"
	"horse.fit/secbrief/internal/model"
)

// DayKeys are the fingerprints of one retained brief.
type DayKeys struct {
	Date      string
	URLs      []string
	TitleKeys []string
}

// SeenKeySet is an immutable snapshot of the fingerprints of every retained
// brief. A new set is built whenever the retained briefs change; callers can
// hold on to one without locking.
type SeenKeySet struct {
	days      []DayKeys
	urls      map[string]struct{}
	titleKeys []string
}

// NewSeenKeySet builds a snapshot from per-day keys. Days are ordered most
// recent first.
func NewSeenKeySet(days []DayKeys) *SeenKeySet {
	ordered := make([]DayKeys, len(days))
	copy(ordered, days)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Date > ordered[j].Date
	})

	set := &SeenKeySet{
		days: ordered,
		urls: make(map[string]struct{}),
	}
	for _, day := range ordered {
		for _, u := range day.URLs {
			set.urls[u] = struct{}{}
		}
		set.titleKeys = append(set.titleKeys, day.TitleKeys...)
	}
	return set
}

func (s *SeenKeySet) HasURL(normalizedURL string) bool {
	if s == nil || normalizedURL == "" {
		return false
	}
	_, ok := s.urls[normalizedURL]
	return ok
}

func (s *SeenKeySet) HasDate(date string) bool {
	if s == nil {
		return false
	}
	for _, day := range s.days {
		if day.Date == date {
			return true
		}
	}
	return false
}

// URLs returns the distinct normalized URLs, sorted.
func (s *SeenKeySet) URLs() []string {
	if s == nil {
		return []string{}
	}
	out := make([]string, 0, len(s.urls))
	for u := range s.urls {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// TitleKeys returns every retained title key, most recent day first.
func (s *SeenKeySet) TitleKeys() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.titleKeys))
	copy(out, s.titleKeys)
	return out
}

// Dates returns the retained date keys, most recent first.
func (s *SeenKeySet) Dates() []string {
	if s == nil {
		return []string{}
	}
	out := make([]string, 0, len(s.days))
	for _, day := range s.days {
		out = append(out, day.Date)
	}
	return out
}

// URLCount is the number of distinct normalized URLs in the snapshot.
func (s *SeenKeySet) URLCount() int {
	if s == nil {
		return 0
	}
	return len(s.urls)
}

// Without returns a snapshot that ignores date. Dedup passes use it so a
// second run on the same day is not compared against the brief it replaces.
func (s *SeenKeySet) Without(date string) *SeenKeySet {
	if s == nil {
		return NewSeenKeySet(nil)
	}
	days := make([]DayKeys, 0, len(s.days))
	for _, day := range s.days {
		if day.Date == date {
			continue
		}
		days = append(days, day)
	}
	return NewSeenKeySet(days)
}

// withDay replaces or adds day and trims the set to retention days. It
// returns the new set and the dates that fell out of the window.
func (s *SeenKeySet) withDay(day DayKeys, retention int) (*SeenKeySet, []string) {
	var days []DayKeys
	if s != nil {
		days = make([]DayKeys, 0, len(s.days)+1)
		for _, existing := range s.days {
			if existing.Date == day.Date {
				continue
			}
			days = append(days, existing)
		}
	}
	days = append(days, day)
	return NewSeenKeySet(days).trim(retention)
}

// trim keeps the retention most recent days and returns the dates it
// dropped.
func (s *SeenKeySet) trim(retention int) (*SeenKeySet, []string) {
	if retention <= 0 || len(s.days) <= retention {
		return s, nil
	}

	evicted := make([]string, 0, len(s.days)-retention)
	for _, dropped := range s.days[retention:] {
		evicted = append(evicted, dropped.Date)
	}
	return NewSeenKeySet(s.days[:retention]), evicted
}

func dayKeysOf(date string, stories []model.Story) DayKeys {
	day := DayKeys{Date: date}
	for _, story := range stories {
		fp := fingerprint.Normalize(story.URL, story.Title)
		if fp.URL != "" {
			day.URLs = append(day.URLs, fp.URL)
		}
		if fp.TitleKey != "" {
			day.TitleKeys = append(day.TitleKeys, fp.TitleKey)
		}
	}
	return day
}
