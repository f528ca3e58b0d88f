package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"horse.fit/secbrief/internal/model"
)

const (
	briefFilePrefix = "tech_brief_"
	briefFileSuffix = ".json"
)

// FileBackend stores one JSON file per date in a directory. Writes go to a
// temp file in the same directory and are renamed into place.
type FileBackend struct {
	dir string
}

func NewFileBackend(dir string) (*FileBackend, error) {
	cleanDir := strings.TrimSpace(dir)
	if cleanDir == "" {
		return nil, fmt.Errorf("history directory is empty")
	}
	if err := os.MkdirAll(cleanDir, 0o755); err != nil {
		return nil, fmt.Errorf("create history directory %s: %w", cleanDir, err)
	}
	return &FileBackend{dir: cleanDir}, nil
}

func (b *FileBackend) Dir() string {
	return b.dir
}

func (b *FileBackend) path(date string) string {
	return filepath.Join(b.dir, briefFilePrefix+date+briefFileSuffix)
}

func (b *FileBackend) Put(_ context.Context, brief *model.Brief) error {
	if brief == nil {
		return fmt.Errorf("brief is nil")
	}

	payload, err := json.MarshalIndent(brief, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal brief: %w", err)
	}

	tmp, err := os.CreateTemp(b.dir, "."+briefFilePrefix+brief.Date+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, b.path(brief.Date)); err != nil {
		return fmt.Errorf("rename brief into place: %w", err)
	}
	committed = true

	syncDir(b.dir)
	return nil
}

func (b *FileBackend) Get(_ context.Context, date string) (*model.Brief, error) {
	raw, err := os.ReadFile(b.path(date))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read brief file: %w", err)
	}

	var brief model.Brief
	if err := json.Unmarshal(raw, &brief); err != nil {
		return nil, fmt.Errorf("decode brief file: %w", err)
	}
	if brief.Date == "" {
		brief.Date = date
	}
	return &brief, nil
}

// List returns the stored dates, most recent first. The revision is the
// file's modification time and size, which change on every rename.
func (b *FileBackend) List(context.Context) ([]Entry, error) {
	dirEntries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, fmt.Errorf("read history directory %s: %w", b.dir, err)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, dirEntry := range dirEntries {
		if dirEntry.IsDir() {
			continue
		}
		name := dirEntry.Name()
		if !strings.HasPrefix(name, briefFilePrefix) || !strings.HasSuffix(name, briefFileSuffix) {
			continue
		}
		raw := strings.TrimSuffix(strings.TrimPrefix(name, briefFilePrefix), briefFileSuffix)
		date, err := model.ParseDate(raw)
		if err != nil || date != raw {
			continue
		}
		info, err := dirEntry.Info()
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("stat brief file %s: %w", name, err)
		}
		entries = append(entries, Entry{
			Date:     date,
			Revision: fmt.Sprintf("%d-%d", info.ModTime().UnixNano(), info.Size()),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Date > entries[j].Date
	})
	return entries, nil
}

// Dates returns the stored dates, most recent first.
func (b *FileBackend) Dates(ctx context.Context) ([]string, error) {
	entries, err := b.List(ctx)
	if err != nil {
		return nil, err
	}
	dates := make([]string, 0, len(entries))
	for _, entry := range entries {
		dates = append(dates, entry.Date)
	}
	return dates, nil
}

func (b *FileBackend) Delete(_ context.Context, date string) error {
	if err := os.Remove(b.path(date)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove brief file: %w", err)
	}
	return nil
}

// syncDir flushes the rename to disk where the platform supports it.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
