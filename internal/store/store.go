// Package store persists Account records keyed by identity.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yairfalse/stackforge/pkg/account"
)

// ErrNotFound is returned when no account exists for an identity key.
var ErrNotFound = errors.New("account not found")

// StoreCorruptionError reports a backing file that exists but cannot be parsed.
type StoreCorruptionError struct {
	Path string
	Err  error
}

func (e *StoreCorruptionError) Error() string {
	return fmt.Sprintf("account store %s is corrupt: %v", e.Path, e.Err)
}

func (e *StoreCorruptionError) Unwrap() error { return e.Err }

// StoreIOError reports a failed read or write of the backing file.
type StoreIOError struct {
	Op  string
	Err error
}

func (e *StoreIOError) Error() string {
	return fmt.Sprintf("account store %s: %v", e.Op, e.Err)
}

func (e *StoreIOError) Unwrap() error { return e.Err }

// Identity is the data needed to look up or allocate an account.
type Identity struct {
	StartupName  string
	FounderName  string
	FounderEmail string
}

// Key returns the normalised identity key.
func (i Identity) Key() account.Key {
	return account.NewKey(i.StartupName, i.FounderEmail)
}

// Store is the account persistence contract. Implementations hand out
// copies; callers mutate the copy and Save the whole record back.
type Store interface {
	// GetOrCreate returns the stored account for the identity, or a new
	// pending shell (not yet persisted) with created=true.
	GetOrCreate(ctx context.Context, id Identity) (acc *account.Account, created bool, err error)

	// Save upserts the whole record, replacing its resource list.
	Save(ctx context.Context, acc *account.Account) error

	// Get returns the account for a key or ErrNotFound.
	Get(ctx context.Context, key account.Key) (*account.Account, error)

	// List returns every account ordered by identity key.
	List(ctx context.Context) ([]*account.Account, error)

	Close() error
}

// newShell allocates a pending account for an identity.
func newShell(id Identity, now time.Time) *account.Account {
	return &account.Account{
		Key:          id.Key(),
		StartupName:  strings.TrimSpace(id.StartupName),
		FounderName:  strings.TrimSpace(id.FounderName),
		FounderEmail: strings.ToLower(strings.TrimSpace(id.FounderEmail)),
		Status:       account.StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
		Resources:    []account.Resource{},
	}
}

func checkSavable(acc *account.Account) error {
	if acc == nil {
		return errors.New("nil account")
	}
	if acc.Key == "" {
		return errors.New("account has no identity key")
	}
	return nil
}

// Driver names accepted by Open.
const (
	DriverBolt = "bolt"
	DriverFile = "file"
)

// Open returns the backend named by driver.
func Open(driver, path string) (Store, error) {
	switch driver {
	case DriverBolt, "":
		return OpenBolt(path)
	case DriverFile:
		return OpenFile(path)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
