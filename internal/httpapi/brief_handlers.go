package httpapi

import (
	"io"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"horse.fit/secbrief/internal/dedup"
	"horse.fit/secbrief/internal/history"
	"horse.fit/secbrief/internal/model"
	payloadschema "horse.fit/secbrief/schema"
)

func readBody(c echo.Context) ([]byte, error) {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (s *Server) handleSeenURLs(c echo.Context) error {
	if err := s.store.Refresh(c.Request().Context()); err != nil {
		return s.respondError(c, err, "load seen urls")
	}
	seen := s.store.SeenKeys()
	if raw := strings.TrimSpace(c.QueryParam("exclude_date")); raw != "" {
		date, err := model.ParseDate(raw)
		if err != nil {
			return s.respondError(c, err, "load seen urls")
		}
		seen = seen.Without(date)
	}

	urls := seen.URLs()
	return success(c, map[string]any{
		"urls":  urls,
		"count": len(urls),
		"dates": seen.Dates(),
	})
}

func (s *Server) handleFilterCandidates(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return failBody(c, "could not be read")
	}
	req, err := payloadschema.DecodeCandidates(body)
	if err != nil {
		return failBody(c, err.Error())
	}

	result, err := s.oracle.FilterCandidates(c.Request().Context(), req.Date, req.Candidates)
	if err != nil {
		return s.respondError(c, err, "filter candidates")
	}
	return success(c, result)
}

type publishResponse struct {
	Date         string            `json:"date"`
	RunID        string            `json:"run_id"`
	TotalStories int               `json:"total_stories"`
	Categories   []string          `json:"categories"`
	Stats        model.DedupStats  `json:"dedup_stats"`
	SavedAt      time.Time         `json:"saved_at"`
	Rejections   []dedup.Rejection `json:"rejections"`
}

func (s *Server) handlePublishBrief(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return failBody(c, "could not be read")
	}
	req, err := payloadschema.DecodeBrief(body)
	if err != nil {
		return failBody(c, err.Error())
	}

	result, err := s.oracle.Publish(c.Request().Context(), req.BriefDate(), req.Stories, history.BriefMeta{
		GeneratedAt: req.GeneratedAt,
	})
	if err != nil {
		return s.respondError(c, err, "save brief")
	}

	brief := result.Brief
	return created(c, publishResponse{
		Date:         brief.Date,
		RunID:        brief.RunID,
		TotalStories: brief.TotalStories,
		Categories:   brief.Categories,
		Stats:        brief.Stats,
		SavedAt:      brief.SavedAt,
		Rejections:   result.Rejections,
	})
}

func (s *Server) handleLatestBrief(c echo.Context) error {
	brief, err := s.store.Latest(c.Request().Context())
	if err != nil {
		return s.respondError(c, err, "load latest brief")
	}
	return success(c, brief)
}

func (s *Server) handleHistory(c echo.Context) error {
	dates, err := s.store.ListDates(c.Request().Context())
	if err != nil {
		return s.respondError(c, err, "list history")
	}
	return success(c, map[string]any{
		"available_dates":  dates,
		"total_days":       len(dates),
		"max_history_days": s.store.RetentionDays(),
	})
}

func (s *Server) handleHistoryDate(c echo.Context) error {
	brief, err := s.store.ReadBrief(c.Request().Context(), c.Param("date"))
	if err != nil {
		return s.respondError(c, err, "load brief")
	}
	return success(c, brief)
}

func (s *Server) handleTrends(c echo.Context) error {
	trends, err := s.store.Trends(c.Request().Context())
	if err != nil {
		return s.respondError(c, err, "load trends")
	}
	return success(c, trends)
}
