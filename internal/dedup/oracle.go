// Package dedup runs the two dedup passes around the external categorization
// step. The pre-pass trims raw candidates before they are sent for
// categorization; the post-pass re-checks the categorized output against a
// fresh history snapshot and produces the exact list that is persisted.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/secbrief/internal/globaltime"
	"horse.fit/secbrief/internal/history"
	"horse.fit/secbrief/internal/langdetect"
	"horse.fit/secbrief/internal/metrics"
	"horse.fit/secbrief/internal/model"
	"horse.fit/secbrief/internal/similarity"
)

const (
	passPre  = "pre"
	passPost = "post"
)

// Drop reasons recorded on rejections and metrics.
const (
	ReasonInvalid    = "invalid"
	ReasonSeenURL    = "seen_url"
	ReasonSeenTitle  = "seen_title"
	ReasonBatchURL   = "batch_url"
	ReasonBatchTitle = "batch_title"
	ReasonNonEnglish = "non_english"
)

// Store is the part of the history store the oracle needs.
type Store interface {
	Refresh(ctx context.Context) error
	SeenKeys() *history.SeenKeySet
	Commit(ctx context.Context, date string, meta history.BriefMeta, build history.BuildFunc) (*model.Brief, error)
}

type Options struct {
	Matcher         *similarity.Matcher
	Language        *langdetect.Classifier
	DefaultSeverity int
	// PrePassTitleHistory adds the cross-day title check to the pre-pass.
	// The post-pass always runs it.
	PrePassTitleHistory bool
	Location            *time.Location
	Logger              zerolog.Logger
	Metrics             *metrics.Metrics
}

// Rejection explains why one input story was dropped.
type Rejection struct {
	Index   int    `json:"index"`
	URL     string `json:"url,omitempty"`
	Title   string `json:"title,omitempty"`
	Reason  string `json:"reason"`
	Detail  string `json:"detail,omitempty"`
	Matched string `json:"matched,omitempty"`
}

type PrePassResult struct {
	Date       string           `json:"date"`
	Kept       []model.Story    `json:"kept"`
	Dropped    int              `json:"dropped"`
	Stats      model.DedupStats `json:"dedup_stats"`
	Rejections []Rejection      `json:"rejections"`
}

type PostPassResult struct {
	Date       string           `json:"date"`
	Stories    []model.Story    `json:"stories"`
	Stats      model.DedupStats `json:"dedup_stats"`
	Rejections []Rejection      `json:"rejections"`
}

type PublishResult struct {
	Brief      *model.Brief `json:"brief"`
	Rejections []Rejection  `json:"rejections"`
}

type Oracle struct {
	store               Store
	matcher             *similarity.Matcher
	language            *langdetect.Classifier
	defaultSeverity     model.Severity
	prePassTitleHistory bool
	location            *time.Location
	logger              zerolog.Logger
	metrics             *metrics.Metrics
}

func New(store Store, opts Options) (*Oracle, error) {
	if store == nil {
		return nil, fmt.Errorf("history store is nil")
	}

	severity := model.Severity(opts.DefaultSeverity)
	if opts.DefaultSeverity == 0 {
		severity = model.DefaultSeverity
	}
	if !severity.Valid() {
		return nil, fmt.Errorf("default severity must be between %d and %d (got %d)", model.MinSeverity, model.MaxSeverity, opts.DefaultSeverity)
	}

	matcher := opts.Matcher
	if matcher == nil {
		matcher = similarity.Default()
	}
	language := opts.Language
	if language == nil {
		language = langdetect.NewClassifier(langdetect.DefaultNonLatinRatio, false)
	}
	location := opts.Location
	if location == nil {
		// The default zone always resolves.
		location, _ = globaltime.LoadZone(globaltime.DefaultZone)
	}

	return &Oracle{
		store:               store,
		matcher:             matcher,
		language:            language,
		defaultSeverity:     severity,
		prePassTitleHistory: opts.PrePassTitleHistory,
		location:            location,
		logger:              opts.Logger,
		metrics:             opts.Metrics,
	}, nil
}

// ResolveDate validates date, or returns today in the brief time zone when
// date is empty.
func (o *Oracle) ResolveDate(date string) (string, error) {
	if date == "" {
		return globaltime.Today(o.location), nil
	}
	return model.ParseDate(date)
}

// FilterCandidates is the pre-pass. It compares raw candidates against the
// current snapshot, excluding date's own brief, and against each other.
func (o *Oracle) FilterCandidates(ctx context.Context, date string, raw []model.Story) (*PrePassResult, error) {
	day, err := o.ResolveDate(date)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := o.store.Refresh(ctx); err != nil {
		return nil, err
	}

	seen := o.store.SeenKeys().Without(day)
	result := o.prePass(day, seen, raw)

	o.record(passPre, result.Rejections, len(result.Kept))
	o.logger.Info().
		Str("date", day).
		Int("candidates", len(raw)).
		Int("kept", len(result.Kept)).
		Int("duplicates", result.Stats.DuplicateCount).
		Int("non_english", result.Stats.NonEnglishCount).
		Int("invalid", result.Stats.InvalidCount).
		Msg("pre-pass complete")
	return result, nil
}

// Reconcile is the post-pass against a fresh snapshot. It does not write.
func (o *Oracle) Reconcile(ctx context.Context, date string, categorized []model.Story) (*PostPassResult, error) {
	day, err := o.ResolveDate(date)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := o.store.Refresh(ctx); err != nil {
		return nil, err
	}

	result := o.postPass(day, o.store.SeenKeys().Without(day), categorized)
	o.logPostPass(result, len(categorized))
	return result, nil
}

// Publish runs the post-pass and writes its output as the brief for date.
// The post-pass runs under the store's write lock so two publishes cannot
// both admit the same story.
func (o *Oracle) Publish(ctx context.Context, date string, categorized []model.Story, meta history.BriefMeta) (*PublishResult, error) {
	day, err := o.ResolveDate(date)
	if err != nil {
		return nil, err
	}

	var result *PostPassResult
	brief, err := o.store.Commit(ctx, day, meta, func(seen *history.SeenKeySet) ([]model.Story, model.DedupStats, error) {
		result = o.postPass(day, seen.Without(day), categorized)
		return result.Stories, result.Stats, nil
	})
	if err != nil {
		return nil, err
	}

	o.logPostPass(result, len(categorized))
	return &PublishResult{Brief: brief, Rejections: result.Rejections}, nil
}

func (o *Oracle) logPostPass(result *PostPassResult, received int) {
	o.record(passPost, result.Rejections, len(result.Stories))
	o.logger.Info().
		Str("date", result.Date).
		Int("received", received).
		Int("kept", len(result.Stories)).
		Int("duplicates", result.Stats.DuplicateCount).
		Int("severity_coerced", result.Stats.SeverityCoerced).
		Int("invalid", result.Stats.InvalidCount).
		Msg("post-pass complete")
}

func (o *Oracle) record(pass string, rejections []Rejection, kept int) {
	byReason := make(map[string]int, 6)
	for _, rejection := range rejections {
		byReason[rejection.Reason]++
		o.logger.Debug().
			Str("pass", pass).
			Int("index", rejection.Index).
			Str("url", rejection.URL).
			Str("reason", rejection.Reason).
			Str("detail", rejection.Detail).
			Msg("story dropped")
	}
	for reason, n := range byReason {
		o.metrics.DedupDropped(pass, reason, n)
	}
	o.metrics.DedupKept(pass, kept)
}
