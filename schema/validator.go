package payloadschema

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"horse.fit/secbrief/internal/model"
)

//go:embed *.schema.json
var schemaFS embed.FS

// Kind names one of the embedded request schemas.
type Kind string

const (
	KindCandidates Kind = "candidates"
	KindBrief      Kind = "brief"
	KindFeedRun    Kind = "feed_run"
)

var kinds = []Kind{KindCandidates, KindBrief, KindFeedRun}

func Kinds() []Kind {
	out := make([]Kind, len(kinds))
	copy(out, kinds)
	return out
}

func ParseKind(raw string) (Kind, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "-", "_")
	for _, kind := range kinds {
		if string(kind) == normalized {
			return kind, nil
		}
	}
	return "", fmt.Errorf("unknown payload kind %q", raw)
}

func (k Kind) file() string {
	return string(k) + ".schema.json"
}

// CandidatesRequest is the pre-pass request body.
type CandidatesRequest struct {
	Date       string        `json:"date"`
	Candidates []model.Story `json:"candidates"`
}

// BriefRequest is the publish request body. FileDate is the ingestion job's
// older name for Date.
type BriefRequest struct {
	Date         string        `json:"date"`
	FileDate     string        `json:"file_date"`
	GeneratedAt  *time.Time    `json:"generated_at"`
	TotalStories *int          `json:"total_stories"`
	Stories      []model.Story `json:"stories"`
}

func (r *BriefRequest) BriefDate() string {
	if strings.TrimSpace(r.Date) != "" {
		return strings.TrimSpace(r.Date)
	}
	return strings.TrimSpace(r.FileDate)
}

// FeedRunRequest records one ingestion run's per-feed item counts.
type FeedRunRequest struct {
	RunAt  *time.Time     `json:"run_at"`
	Counts map[string]int `json:"counts"`
}

var (
	compileOnce     sync.Once
	compiledSchemas map[Kind]*jsonschema.Schema
	compiledErr     error
)

// Validate checks payload against the schema for kind and returns the
// decoded JSON value.
func Validate(kind Kind, payload []byte) (any, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload JSON: %w", err)
	}

	schema, err := loadSchema(kind)
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}
	return value, nil
}

func DecodeCandidates(payload []byte) (*CandidatesRequest, error) {
	var req CandidatesRequest
	if err := validateInto(KindCandidates, payload, &req); err != nil {
		return nil, err
	}
	if req.Candidates == nil {
		req.Candidates = []model.Story{}
	}
	return &req, nil
}

func DecodeBrief(payload []byte) (*BriefRequest, error) {
	var req BriefRequest
	if err := validateInto(KindBrief, payload, &req); err != nil {
		return nil, err
	}
	if req.Stories == nil {
		req.Stories = []model.Story{}
	}
	return &req, nil
}

func DecodeFeedRun(payload []byte) (*FeedRunRequest, error) {
	var req FeedRunRequest
	if err := validateInto(KindFeedRun, payload, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

func validateInto(kind Kind, payload []byte, dest any) error {
	if _, err := Validate(kind, payload); err != nil {
		return err
	}
	if err := json.Unmarshal(bytes.TrimSpace(payload), dest); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return nil
}

func loadSchema(kind Kind) (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		entries, err := schemaFS.ReadDir(".")
		if err != nil {
			compiledErr = fmt.Errorf("list schema resources: %w", err)
			return
		}
		for _, entry := range entries {
			data, err := schemaFS.ReadFile(entry.Name())
			if err != nil {
				compiledErr = fmt.Errorf("read schema %s: %w", entry.Name(), err)
				return
			}
			if err := compiler.AddResource(entry.Name(), bytes.NewReader(data)); err != nil {
				compiledErr = fmt.Errorf("add schema resource %s: %w", entry.Name(), err)
				return
			}
		}

		compiled := make(map[Kind]*jsonschema.Schema, len(kinds))
		for _, k := range kinds {
			schema, err := compiler.Compile(k.file())
			if err != nil {
				compiledErr = fmt.Errorf("compile schema %s: %w", k.file(), err)
				return
			}
			compiled[k] = schema
		}
		compiledSchemas = compiled
	})

	if compiledErr != nil {
		return nil, compiledErr
	}
	schema, ok := compiledSchemas[kind]
	if !ok {
		return nil, fmt.Errorf("no schema for payload kind %q", kind)
	}
	return schema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}

	return value, nil
}
