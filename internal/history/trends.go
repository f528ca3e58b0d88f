package history

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"

	"horse.fit/secbrief/internal/model"
)

// DayTrend is the per-day breakdown shown on the dashboard charts.
type DayTrend struct {
	Date            string         `json:"date"`
	TotalStories    int            `json:"total_stories"`
	DuplicateCount  int            `json:"duplicate_count"`
	NonEnglishCount int            `json:"non_english_count"`
	Categories      map[string]int `json:"categories"`
	Severities      map[string]int `json:"severities"`
}

type Trends struct {
	Days           []DayTrend     `json:"days"`
	TotalStories   int            `json:"total_stories"`
	CategoryTotals map[string]int `json:"category_totals"`
	SeverityTotals map[string]int `json:"severity_totals"`
	TopCompanies   []CompanyCount `json:"top_companies"`
}

type CompanyCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

const maxTopCompanies = 10

// Trends summarizes every retained brief, oldest day first.
func (s *Store) Trends(ctx context.Context) (*Trends, error) {
	if err := s.Refresh(ctx); err != nil {
		return nil, err
	}
	dates := s.SeenKeys().Dates()
	briefs := make([]*model.Brief, 0, len(dates))
	for i := len(dates) - 1; i >= 0; i-- {
		brief, err := s.readRetained(ctx, dates[i])
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// Evicted between the snapshot and the read.
				continue
			}
			return nil, err
		}
		briefs = append(briefs, brief)
	}
	return Summarize(briefs), nil
}

// Summarize aggregates briefs in the order given.
func Summarize(briefs []*model.Brief) *Trends {
	out := &Trends{
		Days:           make([]DayTrend, 0, len(briefs)),
		CategoryTotals: make(map[string]int),
		SeverityTotals: make(map[string]int),
		TopCompanies:   []CompanyCount{},
	}
	companies := make(map[string]*CompanyCount)

	for _, brief := range briefs {
		if brief == nil {
			continue
		}
		day := DayTrend{
			Date:            brief.Date,
			TotalStories:    len(brief.Stories),
			DuplicateCount:  brief.Stats.DuplicateCount,
			NonEnglishCount: brief.Stats.NonEnglishCount,
			Categories:      make(map[string]int),
			Severities:      make(map[string]int),
		}
		for _, story := range brief.Stories {
			category := strings.TrimSpace(story.Category)
			if category == "" {
				category = "Uncategorized"
			}
			severity := "unrated"
			if story.Severity.Valid() {
				severity = strconv.Itoa(int(story.Severity))
			}
			day.Categories[category]++
			day.Severities[severity]++
			out.CategoryTotals[category]++
			out.SeverityTotals[severity]++

			for _, company := range story.Companies {
				name := strings.TrimSpace(company)
				if name == "" {
					continue
				}
				key := strings.ToLower(name)
				if existing, ok := companies[key]; ok {
					existing.Count++
					continue
				}
				companies[key] = &CompanyCount{Name: name, Count: 1}
			}
		}
		out.TotalStories += day.TotalStories
		out.Days = append(out.Days, day)
	}

	for _, company := range companies {
		out.TopCompanies = append(out.TopCompanies, *company)
	}
	sort.Slice(out.TopCompanies, func(i, j int) bool {
		if out.TopCompanies[i].Count != out.TopCompanies[j].Count {
			return out.TopCompanies[i].Count > out.TopCompanies[j].Count
		}
		return out.TopCompanies[i].Name < out.TopCompanies[j].Name
	})
	if len(out.TopCompanies) > maxTopCompanies {
		out.TopCompanies = out.TopCompanies[:maxTopCompanies]
	}
	return out
}
