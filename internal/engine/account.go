package engine

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/yairfalse/stackforge/internal/catalog"
	"github.com/yairfalse/stackforge/internal/journal"
	"github.com/yairfalse/stackforge/internal/provider"
	"github.com/yairfalse/stackforge/pkg/account"
)

// accountProvider picks the cloud hosting a new account: an explicit
// aws or gcp preference, else the first cloud-native target service,
// else aws.
func accountProvider(pref catalog.Preference, services []catalog.ServiceDefinition) account.Provider {
	switch pref {
	case catalog.PreferenceAWS:
		return account.ProviderAWS
	case catalog.PreferenceGCP:
		return account.ProviderGCP
	}
	for _, def := range services {
		if def.Provider.IsCloud() {
			return def.Provider
		}
	}
	return account.ProviderAWS
}

// ensureAccount creates the sub-account for acc and persists the result
// either way. It must be called with the identity lock held.
func (e *Engine) ensureAccount(ctx context.Context, acc *account.Account, t target) error {
	ctx, span := e.tracer.Start(ctx, "engine.create_account")
	defer span.End()

	log := e.log.With().Str("key", acc.Key.String()).Logger()

	if acc.Status == account.StatusFailed && !e.retryFailed {
		log.Warn().Str("reason", acc.FailureReason).Msg("account creation previously failed, reset required")
		return &provider.AccountCreationError{
			Provider: string(acc.Provider),
			Reason:   "previous attempt failed and retries are disabled; reset the account to retry: " + acc.FailureReason,
		}
	}

	p := accountProvider(t.pref, t.services)
	span.SetAttributes(attribute.String("cloud.provider", string(p)))
	acc.Provider = p

	adapter, ok := e.registry.ForProvider(p)
	if !ok {
		return e.failAccount(ctx, acc, &provider.AccountCreationError{
			Provider: string(p),
			Reason:   "no adapter registered",
		})
	}

	e.record(journal.EntryAccountRequested, acc.Key, "", map[string]string{
		"provider": string(p),
		"adapter":  adapter.Name(),
	}, nil)
	log.Info().Str("provider", string(p)).Str("adapter", adapter.Name()).Msg("creating account")

	req := provider.AccountRequest{
		Provider:     p,
		StartupName:  acc.StartupName,
		FounderEmail: acc.FounderEmail,
		FounderName:  acc.FounderName,
	}
	info, err := adapter.CreateAccount(ctx, req)
	if err != nil {
		var aerr *provider.AccountCreationError
		if !errors.As(err, &aerr) {
			aerr = &provider.AccountCreationError{Provider: string(p), Reason: "provider error", Err: err}
		}
		span.RecordError(err)
		return e.failAccount(ctx, acc, aerr)
	}
	if info.AccountID == "" {
		return e.failAccount(ctx, acc, &provider.AccountCreationError{
			Provider: string(p),
			Reason:   "provider returned no account id",
		})
	}

	acc.AccountID = info.AccountID
	acc.AccountName = info.AccountName
	if acc.AccountName == "" {
		acc.AccountName = req.AccountName()
	}
	acc.ConsoleURL = info.ConsoleURL
	acc.Simulated = info.Simulated
	acc.Status = account.StatusActive
	acc.FailureReason = ""

	e.metrics.RecordAccount(ctx, string(p), "created")
	e.record(journal.EntryAccountCreated, acc.Key, "", map[string]string{
		"account_id":  acc.AccountID,
		"console_url": acc.ConsoleURL,
	}, nil)
	if err := e.store.Save(ctx, acc); err != nil {
		log.Error().Err(err).Str("account_id", acc.AccountID).Msg("failed to persist created account")
		span.RecordError(err)
		return fmt.Errorf("save created account: %w", err)
	}
	log.Info().Str("account_id", acc.AccountID).Msg("account created")
	return nil
}

func (e *Engine) failAccount(ctx context.Context, acc *account.Account, cause *provider.AccountCreationError) error {
	acc.Status = account.StatusFailed
	acc.FailureReason = cause.Error()

	e.metrics.RecordAccount(ctx, string(acc.Provider), "failed")
	e.record(journal.EntryAccountFailed, acc.Key, "", nil, cause)
	e.log.Error().Err(cause).Str("key", acc.Key.String()).Msg("account creation failed")

	if err := e.store.Save(ctx, acc); err != nil {
		return fmt.Errorf("save failed account: %w", err)
	}
	return cause
}
