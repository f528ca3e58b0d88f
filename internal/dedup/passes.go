package dedup

import (
	"strings"

	"horse.fit/secbrief/internal/fingerprint"
	"horse.fit/secbrief/internal/history"
	"horse.fit/secbrief/internal/model"
)

// batch tracks the fingerprints admitted so far in one pass. First
// occurrence in input order wins.
type batch struct {
	urls map[string]struct{}
	keys []string
}

func newBatch(size int) *batch {
	return &batch{urls: make(map[string]struct{}, size)}
}

func (b *batch) add(fp fingerprint.Fingerprint) {
	b.urls[fp.URL] = struct{}{}
	b.keys = append(b.keys, fp.TitleKey)
}

type candidate struct {
	index int
	story model.Story
	fp    fingerprint.Fingerprint
}

// validate normalizes story and rejects it when it cannot be fingerprinted.
func validate(index int, story model.Story) (candidate, *model.ValidationError) {
	fp := fingerprint.Normalize(story.URL, story.Title)
	if strings.TrimSpace(story.URL) == "" {
		return candidate{}, &model.ValidationError{Field: "url", Reason: "is required"}
	}
	if fp.URL == "" {
		return candidate{}, &model.ValidationError{Field: "url", Reason: "must be an absolute URL"}
	}
	if strings.TrimSpace(story.Title) == "" {
		return candidate{}, &model.ValidationError{Field: "title", Reason: "is required"}
	}

	story.NormalizedURL = fp.URL
	story.TitleKey = fp.TitleKey
	return candidate{index: index, story: story, fp: fp}, nil
}

func rejection(c candidate, story model.Story, reason, detail, matched string) Rejection {
	return Rejection{
		Index:   c.index,
		URL:     story.URL,
		Title:   story.Title,
		Reason:  reason,
		Detail:  detail,
		Matched: matched,
	}
}

// seenTitle returns the first retained title key that is a duplicate of key.
func (o *Oracle) seenTitle(seen *history.SeenKeySet, key string) (string, bool) {
	for _, existing := range seen.TitleKeys() {
		if o.matcher.IsDuplicateTitle(key, existing) {
			return existing, true
		}
	}
	return "", false
}

// batchDuplicate checks c against the stories already admitted in b.
func (o *Oracle) batchDuplicate(b *batch, c candidate) (reason, detail string, dup bool) {
	if _, ok := b.urls[c.fp.URL]; ok {
		return ReasonBatchURL, c.fp.URL, true
	}
	for _, key := range b.keys {
		if o.matcher.IsDuplicateTitle(c.fp.TitleKey, key) {
			return ReasonBatchTitle, key, true
		}
	}
	return "", "", false
}

func (o *Oracle) prePass(day string, seen *history.SeenKeySet, raw []model.Story) *PrePassResult {
	result := &PrePassResult{
		Date:       day,
		Kept:       make([]model.Story, 0, len(raw)),
		Rejections: []Rejection{},
		Stats: model.DedupStats{
			OriginalCount:      len(raw),
			PreviouslySeenURLs: seen.URLCount(),
		},
	}

	admitted := newBatch(len(raw))
	for i, story := range raw {
		c, verr := validate(i, story)
		if verr != nil {
			result.Stats.InvalidCount++
			result.Rejections = append(result.Rejections, Rejection{
				Index: i, URL: story.URL, Title: story.Title, Reason: ReasonInvalid, Detail: verr.Error(),
			})
			continue
		}

		if seen.HasURL(c.fp.URL) {
			result.Stats.DuplicateCount++
			result.Rejections = append(result.Rejections, rejection(c, story, ReasonSeenURL, "", c.fp.URL))
			continue
		}
		if o.prePassTitleHistory {
			if matched, ok := o.seenTitle(seen, c.fp.TitleKey); ok {
				result.Stats.DuplicateCount++
				result.Rejections = append(result.Rejections, rejection(c, story, ReasonSeenTitle, "", matched))
				continue
			}
		}

		if reason, matched, dup := o.batchDuplicate(admitted, c); dup {
			result.Stats.DuplicateCount++
			result.Rejections = append(result.Rejections, rejection(c, story, reason, "", matched))
			continue
		}
		// Non-English stories still shadow later copies within the batch.
		admitted.add(c.fp)

		if nonEnglish, why := o.language.IsNonEnglish(story.Title); nonEnglish {
			result.Stats.NonEnglishCount++
			result.Rejections = append(result.Rejections, rejection(c, story, ReasonNonEnglish, why, ""))
			continue
		}

		result.Kept = append(result.Kept, c.story)
	}

	result.Stats.NewStoriesCount = len(result.Kept)
	result.Dropped = len(raw) - len(result.Kept)
	return result
}

func (o *Oracle) postPass(day string, seen *history.SeenKeySet, categorized []model.Story) *PostPassResult {
	result := &PostPassResult{
		Date:       day,
		Stories:    make([]model.Story, 0, len(categorized)),
		Rejections: []Rejection{},
		Stats: model.DedupStats{
			OriginalCount:      len(categorized),
			PreviouslySeenURLs: seen.URLCount(),
		},
	}

	admitted := newBatch(len(categorized))
	for i, story := range categorized {
		c, verr := validate(i, story)
		if verr != nil {
			result.Stats.InvalidCount++
			result.Rejections = append(result.Rejections, Rejection{
				Index: i, URL: story.URL, Title: story.Title, Reason: ReasonInvalid, Detail: verr.Error(),
			})
			continue
		}

		if seen.HasURL(c.fp.URL) {
			result.Stats.DuplicateCount++
			result.Rejections = append(result.Rejections, rejection(c, story, ReasonSeenURL, "", c.fp.URL))
			continue
		}
		if matched, ok := o.seenTitle(seen, c.fp.TitleKey); ok {
			result.Stats.DuplicateCount++
			result.Rejections = append(result.Rejections, rejection(c, story, ReasonSeenTitle, "", matched))
			continue
		}
		if reason, matched, dup := o.batchDuplicate(admitted, c); dup {
			result.Stats.DuplicateCount++
			result.Rejections = append(result.Rejections, rejection(c, story, reason, "", matched))
			continue
		}
		admitted.add(c.fp)

		out := c.story
		out.SeverityCoerced = false
		if !out.Severity.Valid() {
			out.Severity = o.defaultSeverity
			out.SeverityCoerced = true
			result.Stats.SeverityCoerced++
		}
		result.Stories = append(result.Stories, out)
	}

	result.Stats.NewStoriesCount = len(result.Stories)
	return result
}
