package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/yairfalse/stackforge/pkg/account"
)

// fileDocument is the on-disk layout of FileStore.
type fileDocument struct {
	Accounts    map[account.Key]*account.Account `json:"accounts"`
	LastUpdated int64                            `json:"last_updated"`
}

// lockRetry is how often a blocked Save retries the file lock.
const lockRetry = 10 * time.Millisecond

// FileStore keeps every account in one JSON document. The document is
// re-read on each call, so edits by other processes are picked up, and
// rewritten through a temp file and rename so readers never see a torn write.
// Save holds an advisory lock on "<path>.lock" from load to rename, so
// processes sharing the file never overwrite each other's records.
type FileStore struct {
	mu    sync.Mutex
	path  string
	flock *flock.Flock
	now   func() time.Time
}

// OpenFile prepares a JSON file store at path. A missing file is an empty
// store; an unparseable one fails here rather than on first use.
func OpenFile(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, &StoreIOError{Op: "mkdir", Err: err}
	}
	s := &FileStore{path: path, flock: flock.New(path + ".lock"), now: time.Now}
	if _, err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) load() (*fileDocument, error) {
	doc := &fileDocument{Accounts: map[account.Key]*account.Account{}}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return nil, &StoreIOError{Op: "read", Err: err}
	}
	if len(data) == 0 {
		return doc, nil
	}

	if err := json.Unmarshal(data, doc); err != nil {
		return nil, &StoreCorruptionError{Path: s.path, Err: err}
	}
	if doc.Accounts == nil {
		doc.Accounts = map[account.Key]*account.Account{}
	}
	for key, acc := range doc.Accounts {
		if acc == nil {
			return nil, &StoreCorruptionError{Path: s.path, Err: fmt.Errorf("record %q is null", key)}
		}
		acc.Key = key
	}
	return doc, nil
}

func (s *FileStore) write(doc *fileDocument) error {
	doc.LastUpdated = s.now().Unix()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return &StoreIOError{Op: "encode", Err: err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".accounts-*.tmp")
	if err != nil {
		return &StoreIOError{Op: "create temp", Err: err}
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return &StoreIOError{Op: "write", Err: err}
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return &StoreIOError{Op: "sync", Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &StoreIOError{Op: "close", Err: err}
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return &StoreIOError{Op: "rename", Err: err}
	}
	return nil
}

// GetOrCreate implements Store.
func (s *FileStore) GetOrCreate(_ context.Context, id Identity) (*account.Account, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, false, err
	}
	if existing, ok := doc.Accounts[id.Key()]; ok {
		return existing.Clone(), false, nil
	}
	return newShell(id, s.now()), true, nil
}

// Save implements Store.
func (s *FileStore) Save(ctx context.Context, acc *account.Account) error {
	if err := checkSavable(acc); err != nil {
		return &StoreIOError{Op: "save", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	locked, err := s.flock.TryLockContext(ctx, lockRetry)
	if err != nil {
		return &StoreIOError{Op: "lock", Err: err}
	}
	if !locked {
		return &StoreIOError{Op: "lock", Err: errors.New("file lock not acquired")}
	}
	defer func() { _ = s.flock.Unlock() }()

	doc, err := s.load()
	if err != nil {
		return err
	}

	record := acc.Clone()
	record.UpdatedAt = s.now()
	doc.Accounts[record.Key] = record

	if err := s.write(doc); err != nil {
		return err
	}
	acc.UpdatedAt = record.UpdatedAt
	return nil
}

// Get implements Store.
func (s *FileStore) Get(_ context.Context, key account.Key) (*account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	existing, ok := doc.Accounts[key]
	if !ok {
		return nil, ErrNotFound
	}
	return existing.Clone(), nil
}

// List implements Store.
func (s *FileStore) List(_ context.Context) ([]*account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]*account.Account, 0, len(doc.Accounts))
	for _, acc := range doc.Accounts {
		out = append(out, acc.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Close releases the lock file handle.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flock.Close()
}
