package store

import (
	"encoding/json"
	"log"

	"github.com/dgraph-io/badger/v4"
)

const (
	keyOptions    = "opts/engine"
	tbCachePrefix = "tbcache/"
)

// EngineOptions is the persisted subset of UCI setoption values. A
// supervising process that restarts the engine between games can reapply
// these without the operator re-sending every setoption.
type EngineOptions struct {
	HashMB        int    `json:"hash_mb"`
	Threads       int    `json:"threads"`
	MultiPV       int    `json:"multi_pv"`
	UseNNUE       bool   `json:"use_nnue"`
	EvalFile      string `json:"eval_file"`
	BookFile      string `json:"book_file"`
	SyzygyPath    string `json:"syzygy_path"`
	ProbeDepth    int    `json:"probe_depth"`
}

// DefaultEngineOptions returns the engine's built-in defaults.
func DefaultEngineOptions() EngineOptions {
	return EngineOptions{
		HashMB:     128,
		Threads:    1,
		MultiPV:    1,
		ProbeDepth: 1,
	}
}

// Store wraps an embedded BadgerDB instance used for engine configuration
// persistence and a tablebase probe-result cache.
type Store struct {
	db *badger.DB
}

// Open opens (creating if absent) the BadgerDB instance rooted at dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil // engine owns logging; badger must never write to stdout

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveOptions persists engine options for the next process start.
func (s *Store) SaveOptions(opts EngineOptions) error {
	data, err := json.Marshal(opts)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyOptions), data)
	})
}

// LoadOptions loads previously persisted options, falling back to defaults
// when nothing has been saved yet.
func (s *Store) LoadOptions() (EngineOptions, error) {
	opts := DefaultEngineOptions()

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyOptions))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &opts)
		})
	})
	if err != nil {
		log.Printf("store: failed to load engine options, using defaults: %v", err)
		return DefaultEngineOptions(), nil
	}
	return opts, nil
}

// tbCacheEntry mirrors tablebase.ProbeResult without importing the
// tablebase package, keeping store a leaf dependency.
type tbCacheEntry struct {
	Found bool `json:"found"`
	WDL   int  `json:"wdl"`
	DTZ   int  `json:"dtz"`
}

// SaveProbe persists a tablebase probe result keyed by Zobrist hash.
func (s *Store) SaveProbe(hash uint64, found bool, wdl, dtz int) error {
	data, err := json.Marshal(tbCacheEntry{Found: found, WDL: wdl, DTZ: dtz})
	if err != nil {
		return err
	}
	key := tbCacheKey(hash)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// LoadProbe returns a previously cached probe result, if any.
func (s *Store) LoadProbe(hash uint64) (found, ok bool, wdl, dtz int) {
	key := tbCacheKey(hash)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var e tbCacheEntry
			if err := json.Unmarshal(val, &e); err != nil {
				return err
			}
			found, ok, wdl, dtz = e.Found, true, e.WDL, e.DTZ
			return nil
		})
	})
	if err != nil {
		return false, false, 0, 0
	}
	return found, ok, wdl, dtz
}

func tbCacheKey(hash uint64) []byte {
	key := make([]byte, len(tbCachePrefix)+8)
	copy(key, tbCachePrefix)
	for i := 0; i < 8; i++ {
		key[len(tbCachePrefix)+i] = byte(hash >> (8 * (7 - i)))
	}
	return key
}
