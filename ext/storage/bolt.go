package storage

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/wippyai/op-runtime/errors"
)

// DatabaseFile is the file name used inside the data directory.
const DatabaseFile = "storage.db"

var bucket = []byte("local")

// BoltStore is a Store persisted in a bbolt database.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens or creates the database in dir.
func OpenBolt(dir string) (*BoltStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Underlying(errors.PhaseHost, err)
	}
	db, err := bolt.Open(filepath.Join(dir, DatabaseFile), 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrap(errors.PhaseHost, errors.KindUnderlying, err, "open storage database")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Underlying(errors.PhaseHost, err)
	}
	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) view(fn func(b *bolt.Bucket) error) error {
	if err := s.db.View(func(tx *bolt.Tx) error { return fn(tx.Bucket(bucket)) }); err != nil {
		if _, ok := errors.KindOf(err); ok {
			return err
		}
		return errors.Underlying(errors.PhaseHost, err)
	}
	return nil
}

func (s *BoltStore) update(fn func(b *bolt.Bucket) error) error {
	if err := s.db.Update(func(tx *bolt.Tx) error { return fn(tx.Bucket(bucket)) }); err != nil {
		return errors.Underlying(errors.PhaseHost, err)
	}
	return nil
}

func (s *BoltStore) Len() (int, error) {
	var n int
	err := s.view(func(b *bolt.Bucket) error {
		n = b.Stats().KeyN
		return nil
	})
	return n, err
}

func (s *BoltStore) Key(index int) (string, bool, error) {
	if index < 0 {
		return "", false, nil
	}
	var (
		key   string
		found bool
	)
	err := s.view(func(b *bolt.Bucket) error {
		c := b.Cursor()
		i := 0
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if i == index {
				key, found = string(k), true
				return nil
			}
			i++
		}
		return nil
	})
	return key, found, err
}

func (s *BoltStore) Get(key string) (string, bool, error) {
	var (
		v     string
		found bool
	)
	err := s.view(func(b *bolt.Bucket) error {
		if raw := b.Get([]byte(key)); raw != nil {
			v, found = string(raw), true
		}
		return nil
	})
	return v, found, err
}

func (s *BoltStore) Set(key, value string) error {
	return s.update(func(b *bolt.Bucket) error {
		return b.Put([]byte(key), []byte(value))
	})
}

func (s *BoltStore) Remove(key string) error {
	return s.update(func(b *bolt.Bucket) error {
		return b.Delete([]byte(key))
	})
}

func (s *BoltStore) Clear() error {
	if err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucket); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		_, err := tx.CreateBucket(bucket)
		return err
	}); err != nil {
		return errors.Underlying(errors.PhaseHost, err)
	}
	return nil
}

func (s *BoltStore) Size() (int, error) {
	n := 0
	err := s.view(func(b *bolt.Bucket) error {
		return b.ForEach(func(k, v []byte) error {
			n += len(k) + len(v)
			return nil
		})
	})
	return n, err
}

// shared opens the database on first use and closes it when the last
// user lets go. bbolt locks the file, so a session opens it once.
type shared struct {
	store *BoltStore
	dir   string
	refs  int
	mu    sync.Mutex
}

func (s *shared) acquire() (*BoltStore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store == nil {
		st, err := OpenBolt(s.dir)
		if err != nil {
			return nil, err
		}
		s.store = st
	}
	s.refs++
	return s.store, nil
}

func (s *shared) release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs--
	if s.refs > 0 || s.store == nil {
		return nil
	}
	err := s.store.Close()
	s.store = nil
	return err
}
