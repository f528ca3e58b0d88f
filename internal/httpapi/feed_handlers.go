package httpapi

import (
	"time"

	"github.com/labstack/echo/v4"

	"horse.fit/secbrief/internal/globaltime"
	payloadschema "horse.fit/secbrief/schema"
)

func (s *Server) handleRecordFeedRun(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return failBody(c, "could not be read")
	}
	req, err := payloadschema.DecodeFeedRun(body)
	if err != nil {
		return failBody(c, err.Error())
	}

	runAt := globaltime.UTC()
	if req.RunAt != nil {
		runAt = req.RunAt.UTC()
	}

	records, err := s.tracker.RecordSummary(c.Request().Context(), req.Counts, runAt)
	if err != nil {
		return s.respondError(c, err, "record feed run")
	}
	return success(c, map[string]any{
		"run_at":      runAt.Format(time.RFC3339),
		"records":     records,
		"stale_feeds": s.tracker.StaleFeeds(),
	})
}

func (s *Server) handleFeeds(c echo.Context) error {
	statuses := s.tracker.Statuses()
	return success(c, map[string]any{
		"items":       statuses,
		"stale_feeds": s.tracker.StaleFeeds(),
		"stale_runs":  s.tracker.StaleRuns(),
	})
}
