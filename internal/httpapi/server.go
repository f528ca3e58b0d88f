package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"horse.fit/secbrief/internal/dedup"
	"horse.fit/secbrief/internal/feedhealth"
	"horse.fit/secbrief/internal/globaltime"
	"horse.fit/secbrief/internal/history"
	"horse.fit/secbrief/internal/model"
)

const defaultMaxBodyBytes = 10 << 20

// HistoryStore is the read side of the rolling history.
type HistoryStore interface {
	ReadBrief(ctx context.Context, date string) (*model.Brief, error)
	ListDates(ctx context.Context) ([]string, error)
	Latest(ctx context.Context) (*model.Brief, error)
	Trends(ctx context.Context) (*history.Trends, error)
	Refresh(ctx context.Context) error
	SeenKeys() *history.SeenKeySet
	RetentionDays() int
}

type DedupOracle interface {
	ResolveDate(date string) (string, error)
	FilterCandidates(ctx context.Context, date string, raw []model.Story) (*dedup.PrePassResult, error)
	Publish(ctx context.Context, date string, categorized []model.Story, meta history.BriefMeta) (*dedup.PublishResult, error)
}

type FeedTracker interface {
	RecordSummary(ctx context.Context, counts map[string]int, ts time.Time) ([]feedhealth.Record, error)
	StaleFeeds() []string
	Statuses() []feedhealth.Status
	StaleRuns() int
}

type Deps struct {
	Store    HistoryStore
	Oracle   DedupOracle
	Tracker  FeedTracker
	Gatherer prometheus.Gatherer
}

type Options struct {
	Host               string
	Port               int
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	ShutdownTimeout    time.Duration
	CORSAllowedOrigins []string
	MaxBodyBytes       int64
}

type Server struct {
	store    HistoryStore
	oracle   DedupOracle
	tracker  FeedTracker
	gatherer prometheus.Gatherer
	logger   zerolog.Logger
	opts     Options
}

func NewServer(deps Deps, logger zerolog.Logger, opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	port := opts.Port
	if port <= 0 {
		port = 8080
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	origins := opts.CORSAllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	return &Server{
		store:    deps.Store,
		oracle:   deps.Oracle,
		tracker:  deps.Tracker,
		gatherer: gatherer,
		logger:   logger,
		opts: Options{
			Host:               host,
			Port:               port,
			ReadTimeout:        readTimeout,
			WriteTimeout:       writeTimeout,
			ShutdownTimeout:    shutdownTimeout,
			CORSAllowedOrigins: origins,
			MaxBodyBytes:       maxBody,
		},
	}
}

// Handler builds the Echo instance with every route registered.
func (s *Server) Handler() (*echo.Echo, error) {
	if s == nil || s.store == nil || s.oracle == nil || s.tracker == nil {
		return nil, fmt.Errorf("server is not initialized")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit(fmt.Sprintf("%dB", s.opts.MaxBodyBytes)))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: s.opts.CORSAllowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       3600,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Err(v.Error).
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Str("remote_ip", v.RemoteIP).
					Str("request_id", v.RequestID).
					Msg("http request failed")
				return nil
			}

			s.logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	e.GET("/health", s.handleHealth)
	// Path used by the ingestion workflow.
	e.POST("/webhook/tech-brief", s.handlePublishBrief)

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.GET("/seen-urls", s.handleSeenURLs)
	api.POST("/candidates/filter", s.handleFilterCandidates)
	api.POST("/briefs", s.handlePublishBrief)
	api.POST("/webhook/tech-brief", s.handlePublishBrief)
	api.GET("/briefs/latest", s.handleLatestBrief)
	api.GET("/history", s.handleHistory)
	api.GET("/history/trends", s.handleTrends)
	api.GET("/history/:date", s.handleHistoryDate)
	api.POST("/feed-runs", s.handleRecordFeedRun)
	api.GET("/feeds", s.handleFeeds)

	return e, nil
}

func (s *Server) Start(ctx context.Context) error {
	e, err := s.Handler()
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("secbrief server started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("secbrief server stopped")
	return nil
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		switch v := he.Message.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				message = v
			}
		default:
			if text := strings.TrimSpace(http.StatusText(status)); text != "" {
				message = text
			}
		}
	} else if err != nil {
		message = err.Error()
	}

	if status >= 500 {
		_ = serverError(c, "Internal server error")
		return
	}
	_ = fail(c, status, message, nil)
}

// respondError maps domain errors onto JSend responses.
func (s *Server) respondError(c echo.Context, err error, action string) error {
	var validationErr *model.ValidationError
	var storageErr *history.StorageError
	switch {
	case errors.As(err, &validationErr):
		field := validationErr.Field
		if field == "" {
			field = "body"
		}
		return failValidation(c, map[string]string{field: validationErr.Reason})
	case errors.Is(err, history.ErrNotFound):
		return failNotFound(c, "Brief not found")
	case errors.As(err, &storageErr):
		s.logger.Error().Err(err).Str("op", storageErr.Op).Str("date", storageErr.Date).Msg(action + " failed")
		return serverError(c, "Failed to "+action)
	case errors.Is(err, context.Canceled):
		return fail(c, http.StatusServiceUnavailable, "Request cancelled", nil)
	default:
		s.logger.Error().Err(err).Msg(action + " failed")
		return serverError(c, "Failed to "+action)
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	if err := s.store.Refresh(c.Request().Context()); err != nil {
		return s.respondError(c, err, "check history")
	}
	dates := s.store.SeenKeys().Dates()
	data := map[string]any{
		"status":           "healthy",
		"service":          "secbrief",
		"time":             globaltime.UTC(),
		"max_history_days": s.store.RetentionDays(),
		"available_dates":  len(dates),
		"stale_feeds":      s.tracker.StaleFeeds(),
	}
	if len(dates) > 0 {
		data["latest_date"] = dates[0]
	}
	return success(c, data)
}
