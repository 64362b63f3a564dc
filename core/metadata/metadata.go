// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

// Package metadata provides an in-memory node metadata directory with key history.
package metadata

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"os"
	"strings"
	"sync"

	k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"
	lru "github.com/hashicorp/golang-lru"

	"github.com/obolnetwork/lockreward/app/errors"
	"github.com/obolnetwork/lockreward/app/k1util"
	"github.com/obolnetwork/lockreward/app/z"
	"github.com/obolnetwork/lockreward/core"
)

const keyCacheSize = 1024

var _ core.MetadataDirectory = (*Directory)(nil)

// NewDirectory returns an empty metadata directory.
func NewDirectory() *Directory {
	cache, err := lru.New(keyCacheSize)
	if err != nil {
		panic(err) // Only errors for non-positive sizes.
	}

	return &Directory{
		entries: make(map[string]core.Meta),
		keys:    cache,
	}
}

// Directory is an in-memory metadata directory.
type Directory struct {
	mu      sync.RWMutex
	entries map[string]core.Meta
	keys    *lru.Cache
}

// Update sets the node's metadata at height, appending the key to its history if it changed.
func (d *Directory) Update(id string, pubkey []byte, addr string, height int64) error {
	if _, err := d.PubKey(pubkey); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	meta := d.entries[id]
	if meta.Height > height {
		return errors.New("stale metadata update", z.Str("id", id),
			z.I64("height", height), z.I64("current", meta.Height))
	}

	if !bytes.Equal(meta.PubKey, pubkey) {
		meta.History = append(meta.History, core.MetaKey{PubKey: bytes.Clone(pubkey), Height: height})
	}
	meta.PubKey = bytes.Clone(pubkey)
	meta.Addr = addr
	meta.Height = height
	d.entries[id] = meta

	return nil
}

// Lookup returns the metadata of the id or core.ErrNotFound.
func (d *Directory) Lookup(id string) (core.Meta, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	meta, ok := d.entries[id]
	if !ok {
		return core.Meta{}, errors.Wrap(core.ErrNotFound, "lookup metadata", z.Str("id", id))
	}

	meta.History = append([]core.MetaKey(nil), meta.History...)

	return meta, nil
}

// PubKey returns the parsed public key, cached by its serialisation.
func (d *Directory) PubKey(pubkey []byte) (*k1.PublicKey, error) {
	if v, ok := d.keys.Get(string(pubkey)); ok {
		return v.(*k1.PublicKey), nil
	}

	key, err := k1util.ParsePubKey(pubkey)
	if err != nil {
		return nil, err
	}
	d.keys.Add(string(pubkey), key)

	return key, nil
}

// MaturedKey returns the node's public key usable at height: the current key if matured,
// else the most recent matured historical key.
func MaturedKey(params core.Params, meta core.Meta, height int64) ([]byte, bool) {
	if len(meta.PubKey) > 0 && params.MetaMatured(meta.Height, height) {
		return meta.PubKey, true
	}

	for i := len(meta.History) - 1; i >= 0; i-- {
		if params.MetaMatured(meta.History[i].Height, height) {
			return meta.History[i].PubKey, true
		}
	}

	return nil, false
}

// Keys returns the node's current key followed by its other historical keys, most recent first.
func Keys(meta core.Meta) [][]byte {
	keys := [][]byte{meta.PubKey}
	for i := len(meta.History) - 1; i >= 0; i-- {
		if !bytes.Equal(meta.History[i].PubKey, meta.PubKey) {
			keys = append(keys, meta.History[i].PubKey)
		}
	}

	return keys
}

// HasKey returns true if the public key is the current or a historical key of the node.
func HasKey(meta core.Meta, pubkey []byte) bool {
	for _, key := range Keys(meta) {
		if bytes.Equal(key, pubkey) {
			return true
		}
	}

	return false
}

// entryJSON is the json encoding of a metadata file entry.
type entryJSON struct {
	ID     string `json:"id"`
	PubKey string `json:"pubkey"`
	Addr   string `json:"addr"`
	Height int64  `json:"height"`
}

// LoadFile loads metadata updates from a json file, applied in file order.
func (d *Directory) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read metadata file", z.Str("path", path))
	}

	var entries []entryJSON
	if err := json.Unmarshal(b, &entries); err != nil {
		return errors.Wrap(err, "unmarshal metadata file", z.Str("path", path))
	}

	for _, e := range entries {
		pubkey, err := hex.DecodeString(strings.TrimPrefix(e.PubKey, "0x"))
		if err != nil {
			return errors.Wrap(err, "decode metadata pubkey", z.Str("id", e.ID))
		}

		if err := d.Update(e.ID, pubkey, e.Addr, e.Height); err != nil {
			return err
		}
	}

	return nil
}
