// Package store implements C1, the KV Registry Store: an embedded, ordered
// key-value store fronted by an in-process LRU, holding one
// npmdoc.MinimalPackageData record per package name plus a single reserved
// key for the replication cursor.
//
// Grounded on original_source/src/npm_replicator/registry.rs (NpmRocksDB),
// translated from rocksdb+lru+rmp_serde to bbolt+golang-lru/v2+msgpack/v5 —
// all three chosen as the closest embedded-KV/LRU/binary-codec equivalents
// available in the retrieval pack (see DESIGN.md).
package store

import (
	"encoding/binary"
	"fmt"
	"log"
	"os"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"

	"github.com/sandboxcdn/pkgcdn/internal/npmdoc"
)

const (
	bucketName = "packages"
	// lastSyncKey is reserved: it can never collide with an npm package
	// name, which cannot start with '#'.
	lastSyncKey = "#CDN_LAST_SYNC"
	// lruCapacity mirrors the Rust implementation's lru::LruCache(500).
	lruCapacity = 500
)

// Store is the KV Registry Store (C1). Safe for concurrent use; all writes
// go through bolt's single writer transaction, and the LRU is invalidated
// before a write transaction commits returns (I4: happens-before write
// returns to the caller).
type Store struct {
	db  *bolt.DB
	lru *lru.Cache[string, *npmdoc.MinimalPackageData]
	log *log.Logger
}

// Open opens (creating if necessary) the bbolt file at path and ensures the
// package bucket exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}

	cache, err := lru.New[string, *npmdoc.MinimalPackageData](lruCapacity)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db:  db,
		lru: cache,
		log: log.New(os.Stdout, "STORE: ", log.Ldate|log.Ltime|log.Lshortfile),
	}, nil
}

// Close releases the underlying bbolt file handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetPackage returns the stored record for name, or (nil, nil) if absent.
func (s *Store) GetPackage(name string) (*npmdoc.MinimalPackageData, error) {
	if cached, ok := s.lru.Get(name); ok {
		return cached, nil
	}

	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		v := b.Get([]byte(name))
		if v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}

	var data npmdoc.MinimalPackageData
	if err := msgpack.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode package %s: %w", name, err)
	}

	s.lru.Add(name, &data)
	return &data, nil
}

// WritePackage persists data under its own name, invalidating the LRU entry
// before the call returns (O4/I4).
func (s *Store) WritePackage(data *npmdoc.MinimalPackageData) error {
	raw, err := msgpack.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode package %s: %w", data.Name, err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		return b.Put([]byte(data.Name), raw)
	})
	if err != nil {
		return err
	}

	// Invalidate rather than update-in-place: the next GetPackage call
	// re-reads from bolt and repopulates, guaranteeing readers never
	// observe a stale cached value once this call returns (I4).
	s.lru.Remove(data.Name)
	return nil
}

// DeletePackage removes name's record entirely (tombstone handling — a
// _deleted registry document has no versions left to serve).
func (s *Store) DeletePackage(name string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		return b.Delete([]byte(name))
	})
	if err != nil {
		return err
	}
	s.lru.Remove(name)
	return nil
}

// LastSyncSeq returns the persisted replication cursor, or 0 if none has
// been recorded yet.
func (s *Store) LastSyncSeq() (int64, error) {
	var seq int64
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		v := b.Get([]byte(lastSyncKey))
		if len(v) == 8 {
			seq = int64(binary.LittleEndian.Uint64(v))
		}
		return nil
	})
	return seq, err
}

// UpdateLastSyncSeq persists the replication cursor as 8 bytes,
// little-endian, matching the Rust implementation's on-disk encoding so the
// reserved key's format is a stable, documented contract rather than an
// implementation detail.
func (s *Store) UpdateLastSyncSeq(seq int64) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(seq))
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		return b.Put([]byte(lastSyncKey), buf)
	})
}

// ListPackages returns every stored package name, excluding the reserved
// cursor key. Count is built on it.
func (s *Store) ListPackages() ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		return b.ForEach(func(k, _ []byte) error {
			key := string(k)
			if key != lastSyncKey {
				names = append(names, key)
			}
			return nil
		})
	})
	return names, err
}

// Count returns the number of stored packages (excluding the cursor key).
func (s *Store) Count() (int, error) {
	names, err := s.ListPackages()
	if err != nil {
		return 0, err
	}
	return len(names), nil
}
