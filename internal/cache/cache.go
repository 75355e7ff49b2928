// Package cache stores reconstructed dataset versions so repeated reads skip
// replay. Values are JSON encoded then snappy compressed.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang/snappy"

	"github.com/arkilian/versionstore/internal/replay"
	"github.com/arkilian/versionstore/pkg/types"
)

// DefaultTTL is how long a cached version lives unless Put overrides it.
const DefaultTTL = time.Hour

// Cache is a materialization cache keyed by dataset and version number.
// Implementations must be safe for concurrent use. Concurrent puts for the
// same key are last-write-wins.
type Cache interface {
	// Get returns the cached materialization and whether it was found.
	Get(ctx context.Context, datasetID string, number types.VersionNumber) (*replay.Materialization, bool, error)

	// Put stores m under the key. ttl <= 0 uses DefaultTTL.
	Put(ctx context.Context, datasetID string, number types.VersionNumber, m *replay.Materialization, ttl time.Duration) error

	// InvalidateDataset drops every cached version of the dataset.
	InvalidateDataset(ctx context.Context, datasetID string) error

	Close() error
}

// Key returns the cache key of a dataset version.
func Key(datasetID string, number types.VersionNumber) string {
	return fmt.Sprintf("version:%s:%s", datasetID, number)
}

func encode(m *replay.Materialization) ([]byte, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("cache: failed to encode materialization: %w", err)
	}
	return snappy.Encode(nil, raw), nil
}

func decode(data []byte) (*replay.Materialization, error) {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("cache: failed to decompress value: %w", err)
	}
	var m replay.Materialization
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("cache: failed to decode value: %w", err)
	}
	if m.Records == nil {
		m.Records = []types.Record{}
	}
	return &m, nil
}

func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}
