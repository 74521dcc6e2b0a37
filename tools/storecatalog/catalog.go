// Package storecatalog walks a directory tree for sequencer store
// directories and summarizes each one, the operator-facing counterpart
// to opening every store by hand.
package storecatalog

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/ledgerfabric/sequencer/internal/model"
)

const watermarksFileName = "watermarks.json"

// Entry summarizes one discovered store directory.
type Entry struct {
	Dir         string                  `json:"dir"`
	MemberCount int                     `json:"member_count"`
	Watermarks  map[int]model.Watermark `json:"watermarks"`
	EventBytes  int64                   `json:"event_bytes"`
	PayloadSize int64                   `json:"payload_bytes"`
}

// List finds every store directory under root, identified by the
// presence of a watermarks.json side file, and summarizes each.
func List(root string) ([]Entry, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storecatalog: %s is not a directory", root)
	}

	var entries []Entry
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != watermarksFileName {
			return nil
		}
		dir := filepath.Dir(path)
		entry, err := summarize(dir)
		if err != nil {
			return fmt.Errorf("storecatalog: %s: %w", dir, err)
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Dir < entries[j].Dir })
	return entries, nil
}

func summarize(dir string) (Entry, error) {
	entry := Entry{Dir: dir, Watermarks: make(map[int]model.Watermark)}

	members := make(map[string]model.MemberID)
	if err := loadJSON(filepath.Join(dir, "members.json"), &members); err != nil {
		return Entry{}, err
	}
	entry.MemberCount = len(members)

	if err := loadJSON(filepath.Join(dir, watermarksFileName), &entry.Watermarks); err != nil {
		return Entry{}, err
	}

	if size, err := fileSize(filepath.Join(dir, "events.jsonl.sz")); err == nil {
		entry.EventBytes = size
	}
	if size, err := fileSize(filepath.Join(dir, "payloads.bin.zst")); err == nil {
		entry.PayloadSize = size
	}

	return entry, nil
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func loadJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// MarshalEntries renders entries as indented JSON for machine consumption.
func MarshalEntries(entries []Entry) ([]byte, error) {
	return json.MarshalIndent(entries, "", "  ")
}
