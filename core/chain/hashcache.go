// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

package chain

import (
	lru "github.com/hashicorp/golang-lru"

	"github.com/obolnetwork/lockreward/app/errors"
	"github.com/obolnetwork/lockreward/core"
)

// NewHashCache returns a block hash cache holding the most recently recorded size heights.
func NewHashCache(size int) (*HashCache, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, errors.Wrap(err, "new hash cache")
	}

	return &HashCache{cache: cache}, nil
}

// HashCache caches block hashes by height. It seeds quorum scores.
type HashCache struct {
	cache *lru.Cache
}

// Record stores the block hash of the height, replacing any hash of a reorged block.
func (c *HashCache) Record(height int64, hash core.Hash) {
	c.cache.Add(height, hash)
}

// BlockHash returns the block hash of the height.
func (c *HashCache) BlockHash(height int64) (core.Hash, bool) {
	v, ok := c.cache.Get(height)
	if !ok {
		return core.Hash{}, false
	}

	return v.(core.Hash), true
}
