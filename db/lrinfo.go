// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

package db

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"

	"github.com/golang/snappy"
	bolt "go.etcd.io/bbolt"

	"github.com/obolnetwork/lockreward/app/errors"
	"github.com/obolnetwork/lockreward/app/z"
	"github.com/obolnetwork/lockreward/core/chain"
)

// markerKey returns the key height || tx hash || index ordering markers by height.
func markerKey(m chain.Marker, index int) []byte {
	key := binary.BigEndian.AppendUint64(nil, uint64(m.Height))
	key = append(key, m.TxHash[:]...)

	return binary.BigEndian.AppendUint16(key, uint16(index))
}

func heightPrefix(height int64) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(height))
}

// PutMarkers stores the markers. Storing a block's markers again is idempotent.
func (d *DB) PutMarkers(_ context.Context, markers []chain.Marker) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMarkers)

		indexes := make(map[string]int)
		for _, m := range markers {
			b, err := json.Marshal(m)
			if err != nil {
				return errors.Wrap(err, "marshal marker")
			}

			id := string(heightPrefix(m.Height)) + string(m.TxHash[:])
			if err := bucket.Put(markerKey(m, indexes[id]), snappy.Encode(nil, b)); err != nil {
				return errors.Wrap(err, "put marker", z.I64("height", m.Height))
			}
			indexes[id]++
		}

		return nil
	})
}

// MarkersInRange returns the stored markers of the heights from and to inclusive, ordered by height.
func (d *DB) MarkersInRange(_ context.Context, from, to int64) ([]chain.Marker, error) {
	if from < 0 {
		from = 0
	}

	var resp []chain.Marker
	err := d.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketMarkers).Cursor()
		end := heightPrefix(to + 1)

		for k, v := c.Seek(heightPrefix(from)); k != nil && bytes.Compare(k, end) < 0; k, v = c.Next() {
			b, err := snappy.Decode(nil, v)
			if err != nil {
				return errors.Wrap(err, "decompress marker")
			}

			var m chain.Marker
			if err := json.Unmarshal(b, &m); err != nil {
				return errors.Wrap(err, "unmarshal marker")
			}
			resp = append(resp, m)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return resp, nil
}

// PruneMarkers deletes markers below the height and returns the number deleted.
func (d *DB) PruneMarkers(height int64) (int, error) {
	var count int
	err := d.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMarkers)
		c := bucket.Cursor()
		end := heightPrefix(height)

		var keys [][]byte
		for k, _ := c.First(); k != nil && bytes.Compare(k, end) < 0; k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}

		for _, k := range keys {
			if err := bucket.Delete(k); err != nil {
				return errors.Wrap(err, "delete marker")
			}
		}
		count = len(keys)

		return nil
	})
	if err != nil {
		return 0, err
	}

	return count, nil
}
