// Package export periodically writes the content table and its full version
// history as JSONL to backup destinations (S3, git).
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/alfredjeanlab/livesite/internal/model"
)

// Source is the read side of the store that an export needs.
type Source interface {
	ListItems(ctx context.Context, category string) ([]*model.ContentItem, error)
	ListVersions(ctx context.Context, key string) ([]*model.VersionEntry, error)
}

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version      string    `json:"version"`
	Type         string    `json:"type"`
	Timestamp    time.Time `json:"timestamp"`
	ItemCount    int       `json:"item_count"`
	VersionCount int       `json:"version_count"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ExportJSONL writes every content item followed by every version entry to w.
// Items are ordered by category then key; versions by key then sequence.
func ExportJSONL(ctx context.Context, s Source, w io.Writer) error {
	items, err := s.ListItems(ctx, "")
	if err != nil {
		return fmt.Errorf("list content: %w", err)
	}

	history := make([][]*model.VersionEntry, len(items))
	versions := 0
	for i, it := range items {
		entries, err := s.ListVersions(ctx, it.Key)
		if err != nil {
			return fmt.Errorf("list versions for %s: %w", it.Key, err)
		}
		history[i] = entries
		versions += len(entries)
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:      "1",
		Type:         "header",
		Timestamp:    time.Now().UTC(),
		ItemCount:    len(items),
		VersionCount: versions,
	}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	for _, it := range items {
		if err := enc.Encode(record{Type: "content", Data: it}); err != nil {
			return fmt.Errorf("encode content %s: %w", it.Key, err)
		}
	}
	for _, entries := range history {
		for _, e := range entries {
			if err := enc.Encode(record{Type: "version", Data: e}); err != nil {
				return fmt.Errorf("encode version %s#%d: %w", e.Key, e.Sequence, err)
			}
		}
	}
	return nil
}
