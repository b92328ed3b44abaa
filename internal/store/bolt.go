package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/btree"
	"go.etcd.io/bbolt"
	berrors "go.etcd.io/bbolt/errors"

	"github.com/yairfalse/stackforge/pkg/account"
)

// Bucket names in bbolt
var (
	bucketAccounts = []byte("accounts")
	bucketMeta     = []byte("meta")
	keySchema      = []byte("schema_version")
)

const schemaVersion = "1"

// BoltStore keeps accounts in a bbolt file. Every Save is one bbolt
// transaction, so a crash mid-write leaves the previous record intact.
type BoltStore struct {
	mu sync.RWMutex

	// In-memory copy of every record, ordered by identity key
	index *btree.BTreeG[*account.Account]

	db   *bbolt.DB
	path string
	now  func() time.Time
}

// OpenBolt opens or creates the store at path.
func OpenBolt(path string) (*BoltStore, error) {
	existing, err := hasContent(path)
	if err != nil {
		return nil, &StoreIOError{Op: "stat", Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, &StoreIOError{Op: "mkdir", Err: err}
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		if existing && !errors.Is(err, berrors.ErrTimeout) && !errors.Is(err, fs.ErrPermission) {
			return nil, &StoreCorruptionError{Path: path, Err: err}
		}
		return nil, &StoreIOError{Op: "open", Err: err}
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketAccounts, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		meta := tx.Bucket(bucketMeta)
		if v := meta.Get(keySchema); v != nil && string(v) != schemaVersion {
			return fmt.Errorf("unsupported schema version %q", v)
		}
		return meta.Put(keySchema, []byte(schemaVersion))
	})
	if err != nil {
		_ = db.Close()
		return nil, &StoreCorruptionError{Path: path, Err: err}
	}

	s := &BoltStore{
		index: btree.NewG[*account.Account](32, func(a, b *account.Account) bool {
			return a.Key < b.Key
		}),
		db:   db,
		path: path,
		now:  time.Now,
	}

	if err := s.rebuildIndex(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

func hasContent(path string) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.Size() > 0, nil
}

// rebuildIndex loads every record from disk.
func (s *BoltStore) rebuildIndex() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketAccounts).ForEach(func(k, v []byte) error {
			var acc account.Account
			if err := json.Unmarshal(v, &acc); err != nil {
				return &StoreCorruptionError{Path: s.path, Err: fmt.Errorf("record %q: %w", k, err)}
			}
			acc.Key = account.Key(k)
			s.index.ReplaceOrInsert(&acc)
			return nil
		})
	})
}

// GetOrCreate implements Store.
func (s *BoltStore) GetOrCreate(_ context.Context, id Identity) (*account.Account, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if existing, found := s.index.Get(&account.Account{Key: id.Key()}); found {
		return existing.Clone(), false, nil
	}
	return newShell(id, s.now()), true, nil
}

// Save implements Store.
func (s *BoltStore) Save(_ context.Context, acc *account.Account) error {
	if err := checkSavable(acc); err != nil {
		return &StoreIOError{Op: "save", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record := acc.Clone()
	record.UpdatedAt = s.now()

	value, err := json.Marshal(record)
	if err != nil {
		return &StoreIOError{Op: "encode", Err: err}
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketAccounts).Put([]byte(record.Key), value)
	})
	if err != nil {
		return &StoreIOError{Op: "save", Err: err}
	}

	s.index.ReplaceOrInsert(record)
	acc.UpdatedAt = record.UpdatedAt
	return nil
}

// Get implements Store.
func (s *BoltStore) Get(_ context.Context, key account.Key) (*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	existing, found := s.index.Get(&account.Account{Key: key})
	if !found {
		return nil, ErrNotFound
	}
	return existing.Clone(), nil
}

// List implements Store.
func (s *BoltStore) List(_ context.Context) ([]*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*account.Account, 0, s.index.Len())
	s.index.Ascend(func(acc *account.Account) bool {
		out = append(out, acc.Clone())
		return true
	})
	return out, nil
}

// Stats returns the number of accounts and the database file size.
func (s *BoltStore) Stats() (accounts int, sizeBytes int64) {
	s.mu.RLock()
	accounts = s.index.Len()
	s.mu.RUnlock()

	_ = s.db.View(func(tx *bbolt.Tx) error {
		sizeBytes = tx.Size()
		return nil
	})
	return accounts, sizeBytes
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
