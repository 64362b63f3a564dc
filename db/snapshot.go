// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

package db

import (
	"context"
	"encoding/json"

	"github.com/golang/snappy"
	bolt "go.etcd.io/bbolt"

	"github.com/obolnetwork/lockreward/app/errors"
	"github.com/obolnetwork/lockreward/app/log"
	"github.com/obolnetwork/lockreward/app/z"
	"github.com/obolnetwork/lockreward/core"
)

var keyLatest = []byte("latest")

// Snapshot is the persisted registry and statement state at a processed height.
type Snapshot struct {
	Height     int64                       `json:"height"`
	Records    []core.NodeRecord           `json:"records"`
	Staged     []core.NodeRecord           `json:"staged"`
	Windows    map[core.Tier][]core.Window `json:"windows"`
	Statements map[core.Tier]int64         `json:"statement_tips"`
}

// SaveSnapshot replaces the stored snapshot.
func (d *DB) SaveSnapshot(ctx context.Context, snapshot Snapshot) error {
	b, err := json.Marshal(snapshot)
	if err != nil {
		return errors.Wrap(err, "marshal snapshot")
	}

	compressed := snappy.Encode(nil, b)

	err = d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshot).Put(keyLatest, compressed)
	})
	if err != nil {
		return errors.Wrap(err, "store snapshot")
	}

	log.Debug(ctx, "Stored registry snapshot", z.I64("height", snapshot.Height),
		z.Int("records", len(snapshot.Records)), z.Int("bytes", len(compressed)))

	return nil
}

// LoadSnapshot returns the stored snapshot or false if none was stored.
func (d *DB) LoadSnapshot() (Snapshot, bool, error) {
	var compressed []byte
	err := d.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketSnapshot).Get(keyLatest); v != nil {
			compressed = append([]byte(nil), v...)
		}

		return nil
	})
	if err != nil {
		return Snapshot{}, false, errors.Wrap(err, "read snapshot")
	} else if compressed == nil {
		return Snapshot{}, false, nil
	}

	b, err := snappy.Decode(nil, compressed)
	if err != nil {
		return Snapshot{}, false, errors.Wrap(err, "decompress snapshot")
	}

	var resp Snapshot
	if err := json.Unmarshal(b, &resp); err != nil {
		return Snapshot{}, false, errors.Wrap(err, "unmarshal snapshot")
	}

	return resp, true, nil
}
