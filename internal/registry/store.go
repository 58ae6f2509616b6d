package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Store persists the whole registry as one document.
//
// Load never fails on a missing or corrupt document: it logs a warning and
// returns an empty registry. Update holds an exclusive lock across
// load, fn and save so concurrent invocations cannot lose each other's
// mutations; when fn returns an error nothing is written.
type Store interface {
	Load(ctx context.Context) (Registry, error)
	Save(ctx context.Context, reg Registry) error
	Update(ctx context.Context, fn func(Registry) error) error
	Close() error
}

// Config selects and parameterizes a store backend.
type Config struct {
	Type string `mapstructure:"type"` // "file" (default) or "sqlite"
	Path string `mapstructure:"path"` // document or database path
}

// Builder creates a store from config.
type Builder func(cfg Config) (Store, error)

var (
	buildersMu sync.RWMutex
	builders   = map[string]Builder{}
)

func init() {
	RegisterStoreType("file", func(cfg Config) (Store, error) { return NewFileStore(cfg.Path) })
	RegisterStoreType("json", func(cfg Config) (Store, error) { return NewFileStore(cfg.Path) })
	RegisterStoreType("sqlite", func(cfg Config) (Store, error) { return NewSQLiteStore(cfg.Path) })
}

// RegisterStoreType registers a backend under storeType.
func RegisterStoreType(storeType string, b Builder) {
	buildersMu.Lock()
	builders[storeType] = b
	buildersMu.Unlock()
}

// SupportedTypes lists registered backend names, sorted.
func SupportedTypes() []string {
	buildersMu.RLock()
	defer buildersMu.RUnlock()
	out := make([]string, 0, len(builders))
	for k := range builders {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Open creates the store selected by cfg.Type. An empty type means "file".
func Open(cfg Config) (Store, error) {
	typ := cfg.Type
	if typ == "" {
		typ = "file"
	}
	buildersMu.RLock()
	b, ok := builders[typ]
	buildersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported store type: %s (supported: %v)", typ, SupportedTypes())
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("store %s: empty path", typ)
	}
	return b(cfg)
}

// Encode serializes reg as an indented JSON document.
func Encode(reg Registry) ([]byte, error) {
	if reg == nil {
		reg = Registry{}
	}
	b, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// Decode parses a registry document. Entries without a body are dropped. The
// map key is the record's name; a differing name field is overwritten.
func Decode(b []byte) (Registry, error) {
	raw := map[string]*Record{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, err
	}
	reg := make(Registry, len(raw))
	for key, rec := range raw {
		if rec == nil || key == "" {
			continue
		}
		if rec.Name != "" && rec.Name != key {
			slog.Warn("Registry entry name does not match its key", "key", key, "name", rec.Name)
		}
		rec.Name = key
		if rec.Status == "" {
			rec.Status = StatusStopped
		}
		reg[key] = rec
	}
	return reg, nil
}

const lockPollInterval = 20 * time.Millisecond
