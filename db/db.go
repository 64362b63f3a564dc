// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

// Package db persists registry snapshots and extracted lock-reward markers in a bbolt database.
package db

import (
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/obolnetwork/lockreward/app/errors"
	"github.com/obolnetwork/lockreward/app/z"
)

var (
	bucketSnapshot = []byte("snapshot")
	bucketMarkers  = []byte("markers_by_height")
)

// Open opens or creates the database in the data directory.
func Open(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create data dir")
	}

	path := filepath.Join(dataDir, "lockreward.db")
	bdb, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "open bbolt", z.Str("path", path))
	}

	err = bdb.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketSnapshot, bucketMarkers} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return errors.Wrap(err, "create bucket", z.Str("bucket", string(b)))
			}
		}

		return nil
	})
	if err != nil {
		_ = bdb.Close()
		return nil, err
	}

	return &DB{db: bdb}, nil
}

// DB is the bbolt backed node database.
type DB struct {
	db *bolt.DB
}

// Close closes the database.
func (d *DB) Close() error {
	if err := d.db.Close(); err != nil {
		return errors.Wrap(err, "close bbolt")
	}

	return nil
}
