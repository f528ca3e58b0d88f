package model

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	MinSeverity     = 1
	MaxSeverity     = 5
	DefaultSeverity = 3
)

// Story is one news item. NormalizedURL and TitleKey are derived by the
// fingerprint package and are recomputed on every dedup pass.
type Story struct {
	URL             string     `json:"url"`
	Title           string     `json:"title"`
	NormalizedURL   string     `json:"normalized_url,omitempty"`
	TitleKey        string     `json:"title_key,omitempty"`
	PublishedAt     *time.Time `json:"published_at,omitempty"`
	SourceFeed      string     `json:"source_feed,omitempty"`
	Category        string     `json:"category,omitempty"`
	Severity        Severity   `json:"severity,omitempty"`
	SeverityCoerced bool       `json:"severity_coerced,omitempty"`
	Summary         string     `json:"summary,omitempty"`
	WhyMatters      string     `json:"why_matters,omitempty"`
	Companies       []string   `json:"companies,omitempty"`
}

// UnmarshalJSON accepts the ingestion job's legacy field names (headline,
// published_date) next to the canonical ones. Publication times are parsed
// loosely; one that matches no known layout is left nil.
func (s *Story) UnmarshalJSON(data []byte) error {
	type plain Story
	var aux struct {
		plain
		PublishedAt   *string `json:"published_at"`
		Headline      string  `json:"headline"`
		PublishedDate *string `json:"published_date"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*s = Story(aux.plain)
	s.PublishedAt = nil
	if strings.TrimSpace(s.Title) == "" {
		s.Title = aux.Headline
	}
	for _, raw := range []*string{aux.PublishedAt, aux.PublishedDate} {
		if raw == nil {
			continue
		}
		if ts, ok := parseLooseTime(*raw); ok {
			s.PublishedAt = &ts
			break
		}
	}
	return nil
}

var looseTimeLayouts = []string{
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	"2006-01-02 15:04:05",
	dateLayout,
}

func parseLooseTime(raw string) (time.Time, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, false
	}
	for _, layout := range looseTimeLayouts {
		if ts, err := time.Parse(layout, trimmed); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

// Severity is a 1..5 rating assigned by categorization. Zero means missing
// or unparseable; the post-pass coerces it to DefaultSeverity.
type Severity int

func (s *Severity) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*s = 0
		return nil
	}

	raw := string(trimmed)
	if trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			*s = 0
			return nil
		}
		raw = strings.TrimSpace(text)
	}

	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) || value != math.Trunc(value) {
		*s = 0
		return nil
	}
	if value > math.MaxInt32 || value < math.MinInt32 {
		*s = 0
		return nil
	}
	*s = Severity(int(value))
	return nil
}

func (s Severity) Valid() bool {
	return s >= MinSeverity && s <= MaxSeverity
}

// DedupStats are the counters recorded with every brief.
type DedupStats struct {
	OriginalCount      int `json:"original_count"`
	DuplicateCount     int `json:"duplicate_count"`
	NewStoriesCount    int `json:"new_stories_count"`
	PreviouslySeenURLs int `json:"previously_seen_urls"`
	NonEnglishCount    int `json:"non_english_count"`
	InvalidCount       int `json:"invalid_count"`
	SeverityCoerced    int `json:"severity_coerced"`
}

// Brief is the set of stories persisted for one calendar day.
type Brief struct {
	Date         string     `json:"date"`
	Stories      []Story    `json:"stories"`
	Stats        DedupStats `json:"dedup_stats"`
	TotalStories int        `json:"total_stories"`
	Categories   []string   `json:"categories"`
	SavedAt      time.Time  `json:"saved_at"`
	GeneratedAt  *time.Time `json:"generated_at,omitempty"`
	RunID        string     `json:"run_id,omitempty"`
}

// CategoriesOf returns the sorted unique category labels of stories.
// Stories without a category count as "Uncategorized".
func CategoriesOf(stories []Story) []string {
	seen := make(map[string]struct{}, len(stories))
	out := make([]string, 0, len(stories))
	for _, story := range stories {
		category := strings.TrimSpace(story.Category)
		if category == "" {
			category = "Uncategorized"
		}
		if _, ok := seen[category]; ok {
			continue
		}
		seen[category] = struct{}{}
		out = append(out, category)
	}
	sort.Strings(out)
	return out
}
