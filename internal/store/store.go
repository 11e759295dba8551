// Package store implements the ordered byte-keyed persistence layer every
// other component reads and writes through. It wraps a single bbolt
// database file; each logical tree (auth, chat, profile, emote, sync,
// version) is one top-level bucket, opened eagerly so callers never race
// bucket creation.
package store

import (
	"bytes"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Tree names. These map 1:1 onto bbolt buckets.
const (
	TreeAuth    = "auth"
	TreeChat    = "chat"
	TreeProfile = "profile"
	TreeEmote   = "emote"
	TreeSync    = "sync"
	TreeVersion = "version"
)

var allTrees = []string{TreeAuth, TreeChat, TreeProfile, TreeEmote, TreeSync, TreeVersion}

// schemaVersion is the compiled-in expected schema version. Bump it and add
// a case to migrate whenever a key layout changes.
const schemaVersion = 1

var schemaVersionKey = []byte("schema_version")

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("store: key not found")

// DBError wraps any underlying storage failure, matching the fatal-at-the-
// handler DbError kind.
type DBError struct{ Err error }

func (e *DBError) Error() string { return fmt.Sprintf("store: db error: %v", e.Err) }
func (e *DBError) Unwrap() error { return e.Err }

// Store is the embedded database handle. All access goes through Tree.
type Store struct {
	db     *bolt.DB
	path   string
	logger *slog.Logger

	verifierDone chan struct{}
}

// Open opens (creating if absent) the bbolt file at path, ensures every
// logical tree bucket exists, and runs the schema-version check: on
// mismatch the existing file is copied to a sibling "<db>_backup_ver_<N>"
// file before migration runs.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, &DBError{err}
	}
	s := &Store{db: db, path: path, logger: logger}

	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range allTrees {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, &DBError{err}
	}

	if err := s.checkSchemaVersion(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) checkSchemaVersion() error {
	var current uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(TreeVersion)).Get(schemaVersionKey)
		if b != nil {
			current = bytesToU64(b)
		}
		return nil
	})
	if err != nil {
		return &DBError{err}
	}
	if current == schemaVersion {
		return nil
	}
	if current != 0 {
		backupPath := fmt.Sprintf("%s_backup_ver_%d", s.path, current)
		if err := s.db.View(func(tx *bolt.Tx) error {
			f, err := os.Create(backupPath)
			if err != nil {
				return err
			}
			defer f.Close()
			_, err = tx.WriteTo(f)
			return err
		}); err != nil {
			return &DBError{fmt.Errorf("backing up schema version %d: %w", current, err)}
		}
		s.logger.Info("schema version mismatch, backed up before migrating", "from", current, "to", schemaVersion, "backup", backupPath)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(TreeVersion)).Put(schemaVersionKey, u64ToBytes(schemaVersion))
	})
}

// StartIntegrityVerifier runs tx.Check() on the configured period. On
// failure it logs at error level and stops itself; it does not take the
// server down (documented degraded mode).
func (s *Store) StartIntegrityVerifier(period time.Duration) {
	s.verifierDone = make(chan struct{})
	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.db.View(func(tx *bolt.Tx) error {
					for err := range tx.Check() {
						return err
					}
					return nil
				}); err != nil {
					s.logger.Error("integrity verification failed, stopping verifier", "error", err)
					return
				}
			case <-s.verifierDone:
				return
			}
		}
	}()
}

// StopIntegrityVerifier signals the background verifier to exit at its next
// iteration boundary.
func (s *Store) StopIntegrityVerifier() {
	if s.verifierDone != nil {
		close(s.verifierDone)
	}
}

// Close closes the underlying database file.
func (s *Store) Close() error {
	s.StopIntegrityVerifier()
	return s.db.Close()
}

// Tree returns a handle bound to one bucket.
func (s *Store) Tree(name string) *Tree {
	return &Tree{db: s.db, bucket: []byte(name)}
}

// Batch is the mutation set applied atomically by Tree.ApplyBatch.
type Batch interface {
	Insert(key, value []byte) error
	Remove(key []byte) error
}

// Tree is a single logical bucket, exposing the contract every other
// component programs against.
type Tree struct {
	db     *bolt.DB
	bucket []byte
}

// Get returns the value for key, or ErrNotFound if absent.
func (t *Tree) Get(key []byte) ([]byte, error) {
	var out []byte
	err := t.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(t.bucket).Get(key)
		if v == nil {
			return ErrNotFound
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, &DBError{err}
	}
	return out, nil
}

// Insert writes key -> value, overwriting any existing value.
func (t *Tree) Insert(key, value []byte) error {
	if err := t.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(t.bucket).Put(key, value)
	}); err != nil {
		return &DBError{err}
	}
	return nil
}

// Remove deletes key. Removing an absent key is not an error.
func (t *Tree) Remove(key []byte) error {
	if err := t.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(t.bucket).Delete(key)
	}); err != nil {
		return &DBError{err}
	}
	return nil
}

// ContainsKey reports whether key is present.
func (t *Tree) ContainsKey(key []byte) (bool, error) {
	var ok bool
	err := t.db.View(func(tx *bolt.Tx) error {
		ok = tx.Bucket(t.bucket).Get(key) != nil
		return nil
	})
	if err != nil {
		return false, &DBError{err}
	}
	return ok, nil
}

// ScanPrefix returns every (key, value) pair whose key starts with prefix,
// in ascending lexicographic order, snapshotted at call time.
func (t *Tree) ScanPrefix(prefix []byte) (iter.Seq2[[]byte, []byte], error) {
	type kv struct{ k, v []byte }
	var entries []kv
	err := t.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(t.bucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			entries = append(entries, kv{append([]byte(nil), k...), append([]byte(nil), v...)})
		}
		return nil
	})
	if err != nil {
		return nil, &DBError{err}
	}
	return func(yield func([]byte, []byte) bool) {
		for _, e := range entries {
			if !yield(e.k, e.v) {
				return
			}
		}
	}, nil
}

type batch struct{ bucket *bolt.Bucket }

func (b *batch) Insert(key, value []byte) error { return b.bucket.Put(key, value) }
func (b *batch) Remove(key []byte) error        { return b.bucket.Delete(key) }

// ApplyBatch runs fn inside a single bbolt write transaction, so every
// mutation performed on the Batch commits atomically together or not at
// all. This is the only multi-key atomicity guarantee the Tree contract
// makes.
func (t *Tree) ApplyBatch(fn func(b Batch) error) error {
	if err := t.db.Update(func(tx *bolt.Tx) error {
		return fn(&batch{bucket: tx.Bucket(t.bucket)})
	}); err != nil {
		return &DBError{err}
	}
	return nil
}

func u64ToBytes(v uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

func bytesToU64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}
