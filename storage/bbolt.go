// Package storage implements BitStable's persistence layer (§6.C): an
// ordered key-value store with named "trees" backed by bbolt, plus a
// queryable audit mirror (storage/audit.go) and historical commitment
// export (storage/export.go).
package storage

import (
	"encoding/json"
	"errors"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Tree names per §6.C.
var (
	TreeVaults       = []byte("vaults")
	TreeLiquidations = []byte("liquidations")
	TreeSettlements  = []byte("settlements")
	TreeOraclePrices = []byte("oracle_prices")
	TreeConfig       = []byte("config")

	allTrees = [][]byte{TreeVaults, TreeLiquidations, TreeSettlements, TreeOraclePrices, TreeConfig}
)

// ErrNotFound is returned when a key has no value in the requested tree.
var ErrNotFound = errors.New("storage: key not found")

// Store is the bbolt-backed ordered KV store, keyed by textual entity id
// with canonical JSON values, per §6.C.
type Store struct {
	db *bolt.DB
}

// Open initializes (and migrates) the BoltDB-backed store at path,
// creating every named tree if absent.
func Open(path string, options *bolt.Options) (*Store, error) {
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	} else if options.Timeout == 0 {
		options.Timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, options)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, tree := range allTrees {
			if _, err := tx.CreateBucketIfNotExists(tree); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put writes value, marshaled as canonical JSON, under key in tree.
func (s *Store) Put(tree []byte, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(tree).Put([]byte(key), data)
	})
}

// Get reads the value under key in tree into out, a pointer.
func (s *Store) Get(tree []byte, key string, out interface{}) error {
	return s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(tree).Get([]byte(key))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, out)
	})
}

// Delete removes key from tree.
func (s *Store) Delete(tree []byte, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(tree).Delete([]byte(key))
	})
}

// ForEach iterates every key/value in tree in key order, stopping early if
// fn returns an error.
func (s *Store) ForEach(tree []byte, fn func(key string, value []byte) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(tree).ForEach(func(k, v []byte) error {
			return fn(string(k), v)
		})
	})
}

// Backup is a single JSON document containing every collection plus a
// timestamp, per §6.C.
type Backup struct {
	Timestamp     time.Time                  `json:"timestamp"`
	Vaults        map[string]json.RawMessage `json:"vaults"`
	Liquidations  map[string]json.RawMessage `json:"liquidations"`
	Settlements   map[string]json.RawMessage `json:"settlements"`
	OraclePrices  map[string]json.RawMessage `json:"oracle_prices"`
}

// Snapshot builds a Backup document covering every tree the spec names for
// backup purposes.
func (s *Store) Snapshot(now time.Time) (*Backup, error) {
	backup := &Backup{
		Timestamp:    now,
		Vaults:       map[string]json.RawMessage{},
		Liquidations: map[string]json.RawMessage{},
		Settlements:  map[string]json.RawMessage{},
		OraclePrices: map[string]json.RawMessage{},
	}
	err := s.db.View(func(tx *bolt.Tx) error {
		collect := func(tree []byte, dst map[string]json.RawMessage) error {
			return tx.Bucket(tree).ForEach(func(k, v []byte) error {
				cp := make(json.RawMessage, len(v))
				copy(cp, v)
				dst[string(k)] = cp
				return nil
			})
		}
		if err := collect(TreeVaults, backup.Vaults); err != nil {
			return err
		}
		if err := collect(TreeLiquidations, backup.Liquidations); err != nil {
			return err
		}
		if err := collect(TreeSettlements, backup.Settlements); err != nil {
			return err
		}
		return collect(TreeOraclePrices, backup.OraclePrices)
	})
	if err != nil {
		return nil, err
	}
	return backup, nil
}
