// File: internal/respcache/snapshot.go
package respcache

import (
	"fmt"
	"os"
	"sort"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/chisel-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// snapshot is the on-disk representation of the cache: entries sorted by
// key so consecutive runs produce byte-identical files.
type snapshot struct {
	Version int             `json:"version"`
	Entries []snapshotEntry `json:"entries"`
}

type snapshotEntry struct {
	Key      string                 `json:"key"`
	Response *schemas.ModelResponse `json:"response"`
}

const snapshotVersion = 1

// SaveSnapshot writes the cache to path atomically via a temp file rename.
func (c *Cache) SaveSnapshot(path string) error {
	c.mu.RLock()
	snap := snapshot{Version: snapshotVersion, Entries: make([]snapshotEntry, 0, len(c.entries))}
	for key, resp := range c.entries {
		snap.Entries = append(snap.Entries, snapshotEntry{Key: key, Response: resp})
	}
	c.mu.RUnlock()

	sort.Slice(snap.Entries, func(i, j int) bool { return snap.Entries[i].Key < snap.Entries[j].Key })

	data, err := json.MarshalIndent(&snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding cache snapshot: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing cache snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing cache snapshot: %w", err)
	}
	c.logger.Info("cache snapshot saved", zap.String("path", path), zap.Int("entries", len(snap.Entries)))
	return nil
}

// LoadSnapshot merges a snapshot file into the cache. A missing file is not
// an error; a conflicting entry is.
func (c *Cache) LoadSnapshot(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		c.logger.Debug("no cache snapshot to preload", zap.String("path", path))
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading cache snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decoding cache snapshot %q: %w", path, err)
	}
	if snap.Version != snapshotVersion {
		return fmt.Errorf("unsupported cache snapshot version %d in %q", snap.Version, path)
	}

	for _, entry := range snap.Entries {
		if err := c.Put(entry.Key, entry.Response); err != nil {
			return fmt.Errorf("preloading cache entry: %w", err)
		}
	}
	c.logger.Info("cache snapshot loaded", zap.String("path", path), zap.Int("entries", len(snap.Entries)))
	return nil
}
