package feedhealth

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Feed is one expected source in the registry file.
type Feed struct {
	ID       string `yaml:"id" json:"id"`
	Name     string `yaml:"name,omitempty" json:"name,omitempty"`
	URL      string `yaml:"url,omitempty" json:"url,omitempty"`
	Category string `yaml:"category,omitempty" json:"category,omitempty"`
}

type registryFile struct {
	Feeds []Feed `yaml:"feeds"`
}

// Registry is the set of feeds the ingestion job is expected to report on.
// A nil Registry is empty.
type Registry struct {
	feeds []Feed
	ids   map[string]struct{}
}

// LoadRegistry reads a YAML feed list:
//
//	feeds:
//	  - id: krebs
//	    name: Krebs on Security
//	    url: https://krebsonsecurity.com/feed/
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read feed registry: %w", err)
	}
	return ParseRegistry(data)
}

func ParseRegistry(data []byte) (*Registry, error) {
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode feed registry: %w", err)
	}

	r := &Registry{ids: make(map[string]struct{}, len(file.Feeds))}
	for i, feed := range file.Feeds {
		feed.ID = strings.TrimSpace(feed.ID)
		if feed.ID == "" {
			return nil, fmt.Errorf("feed registry entry %d has no id", i)
		}
		if _, dup := r.ids[feed.ID]; dup {
			return nil, fmt.Errorf("feed registry has duplicate id %q", feed.ID)
		}
		r.ids[feed.ID] = struct{}{}
		r.feeds = append(r.feeds, feed)
	}
	sort.Slice(r.feeds, func(i, j int) bool {
		return r.feeds[i].ID < r.feeds[j].ID
	})
	return r, nil
}

func (r *Registry) Feeds() []Feed {
	if r == nil {
		return nil
	}
	out := make([]Feed, len(r.feeds))
	copy(out, r.feeds)
	return out
}

func (r *Registry) Has(feedID string) bool {
	if r == nil {
		return false
	}
	_, ok := r.ids[feedID]
	return ok
}
