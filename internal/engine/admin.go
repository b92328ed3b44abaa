package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/yairfalse/stackforge/internal/catalog"
	"github.com/yairfalse/stackforge/internal/provider"
	"github.com/yairfalse/stackforge/pkg/account"
)

// ErrAccountActive is returned when resetting an account the provider has
// already confirmed.
var ErrAccountActive = errors.New("account is already active")

// Accounts lists every stored account.
func (e *Engine) Accounts(ctx context.Context) ([]*account.Account, error) {
	return e.store.List(ctx)
}

// Account returns one stored account or store.ErrNotFound.
func (e *Engine) Account(ctx context.Context, key account.Key) (*account.Account, error) {
	return e.store.Get(ctx, key)
}

// ResetAccount clears a failed creation so the next request retries it.
func (e *Engine) ResetAccount(ctx context.Context, key account.Key) (*account.Account, error) {
	release, err := e.locker.Acquire(ctx, key.String())
	if err != nil {
		return nil, fmt.Errorf("acquire identity lock: %w", err)
	}
	defer func() { _ = release() }()

	acc, err := e.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if acc.HasAccountID() {
		return nil, ErrAccountActive
	}

	acc.Status = account.StatusPending
	acc.FailureReason = ""
	if err := e.store.Save(ctx, acc); err != nil {
		return nil, fmt.Errorf("save reset account: %w", err)
	}
	e.log.Info().Str("key", key.String()).Msg("account reset")
	return acc, nil
}

// Refresh describes every resource still being created once and persists
// any change.
func (e *Engine) Refresh(ctx context.Context, key account.Key) (*account.Account, error) {
	ctx, span := e.tracer.Start(ctx, "engine.refresh")
	defer span.End()

	release, err := e.locker.Acquire(ctx, key.String())
	if err != nil {
		return nil, fmt.Errorf("acquire identity lock: %w", err)
	}
	defer func() { _ = release() }()

	acc, err := e.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	changed := 0
	for _, res := range acc.Resources {
		if res.Status != account.ResourceCreating {
			continue
		}
		adapter, ok := e.registry.ForService(e.definitionFor(res))
		if !ok {
			continue
		}
		if provider.Inspect(ctx, adapter, *acc, res).Apply(&res) {
			res.UpdatedAt = e.now()
			acc.UpsertResource(res)
			changed++
		}
	}

	if changed == 0 {
		return acc, nil
	}
	if err := e.store.Save(ctx, acc); err != nil {
		return nil, fmt.Errorf("save refreshed account: %w", err)
	}
	e.log.Info().Str("key", key.String()).Int("changed", changed).Msg("account refreshed")
	return acc, nil
}

// definitionFor returns the catalog entry for a stored resource, or a
// minimal definition built from the record when the catalog dropped it.
func (e *Engine) definitionFor(res account.Resource) catalog.ServiceDefinition {
	if def, ok := e.catalog.Lookup(res.Service); ok {
		return def
	}
	return catalog.ServiceDefinition{
		ID:       res.Service,
		Name:     res.DisplayName,
		Category: catalog.Category(res.Category),
		Provider: res.Provider,
	}
}
