// Package engine runs provisioning requests: it ensures one sub-account per
// startup identity, provisions each requested service at most once and
// persists the resulting account graph.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/stackforge/internal/catalog"
	"github.com/yairfalse/stackforge/internal/journal"
	"github.com/yairfalse/stackforge/internal/lock"
	"github.com/yairfalse/stackforge/internal/policy"
	"github.com/yairfalse/stackforge/internal/provider"
	"github.com/yairfalse/stackforge/internal/store"
	"github.com/yairfalse/stackforge/pkg/account"
)

// Guard vetoes resources before they are created.
type Guard interface {
	Check(ctx context.Context, def catalog.ServiceDefinition, acc account.Account, stage catalog.Stage, resourceCount int) (policy.Decision, error)
}

// Journal records provisioning steps.
type Journal interface {
	Append(typ journal.EntryType, key account.Key, service string, data interface{}) error
	AppendError(typ journal.EntryType, key account.Key, service string, data interface{}, cause error) error
}

// Options wires an Engine. Store and Registry are required.
type Options struct {
	Catalog  *catalog.Catalog
	Store    store.Store
	Registry *provider.Registry
	Locker   lock.Locker
	Guard    Guard
	Journal  Journal

	// RetryFailedAccounts lets a request retry an account whose previous
	// creation failed. When false an operator reset is required.
	RetryFailedAccounts bool

	Logger        zerolog.Logger
	MeterProvider metric.MeterProvider
}

// Engine is safe for concurrent use.
type Engine struct {
	catalog     *catalog.Catalog
	store       store.Store
	registry    *provider.Registry
	locker      lock.Locker
	guard       Guard
	journal     Journal
	retryFailed bool
	log         zerolog.Logger
	metrics     *Metrics
	tracer      trace.Tracer
	now         func() time.Time
}

// New builds an Engine from opts.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("engine requires a store")
	}
	if opts.Registry == nil {
		return nil, errors.New("engine requires a provider registry")
	}
	if opts.Catalog == nil {
		opts.Catalog = catalog.Default()
	}
	if opts.Locker == nil {
		opts.Locker = lock.NewKeyedMutex()
	}

	metrics, err := NewMetrics(opts.MeterProvider)
	if err != nil {
		return nil, fmt.Errorf("create engine metrics: %w", err)
	}

	return &Engine{
		catalog:     opts.Catalog,
		store:       opts.Store,
		registry:    opts.Registry,
		locker:      opts.Locker,
		guard:       opts.Guard,
		journal:     opts.Journal,
		retryFailed: opts.RetryFailedAccounts,
		log:         opts.Logger.With().Str("component", "engine").Logger(),
		metrics:     metrics,
		tracer:      otel.Tracer("stackforge/engine"),
		now:         time.Now,
	}, nil
}

// target is a resolved request.
type target struct {
	req      Request
	identity store.Identity
	stage    catalog.Stage
	pref     catalog.Preference
	services []catalog.ServiceDefinition
}

func (e *Engine) resolve(req Request) (target, error) {
	req = req.normalised()
	if err := validateRequest(req); err != nil {
		return target{}, err
	}

	t := target{
		req: req,
		identity: store.Identity{
			StartupName:  req.StartupName,
			FounderName:  req.FounderName,
			FounderEmail: req.FounderEmail,
		},
		stage: catalog.ParseStage(req.CompanyStage),
		pref:  catalog.ParsePreference(req.CloudPreference),
	}

	if len(req.Services) == 0 {
		set := e.catalog.Recommend(catalog.ParseUseCase(req.UseCase), t.stage, t.pref)
		t.services = set.Services
		return t, nil
	}
	for _, id := range req.Services {
		def, ok := e.catalog.Lookup(id)
		if !ok {
			return target{}, &ValidationError{Field: "services", Reason: fmt.Sprintf("unknown service %q", id)}
		}
		t.services = append(t.services, def)
	}
	return t, nil
}

// Provision ensures the startup's account exists and provisions every
// requested service. Per-service failures are reported in the Result;
// the returned error is reserved for validation, account creation and
// store failures. When a store write fails after the provider has
// already created something, the partial Result is returned alongside
// the error.
func (e *Engine) Provision(ctx context.Context, req Request) (*Result, error) {
	start := e.now()
	ctx, span := e.tracer.Start(ctx, "engine.provision")
	defer span.End()

	result, err := e.provision(ctx, req)
	status := "error"
	switch {
	case err == nil:
		status = string(result.Status)
		span.SetAttributes(attribute.String("provision.status", status))
	default:
		var verr *ValidationError
		var aerr *provider.AccountCreationError
		switch {
		case errors.As(err, &verr):
			status = "invalid"
		case errors.As(err, &aerr):
			status = string(StatusFailed)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	e.metrics.RecordRequest(ctx, status, e.now().Sub(start).Seconds())
	return result, err
}

func (e *Engine) provision(ctx context.Context, req Request) (*Result, error) {
	t, err := e.resolve(req)
	if err != nil {
		return nil, err
	}
	key := t.identity.Key()
	log := e.log.With().Str("key", key.String()).Logger()
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("account.key", key.String()),
		attribute.Int("services", len(t.services)),
	)

	release, err := e.locker.Acquire(ctx, key.String())
	if err != nil {
		return nil, fmt.Errorf("acquire identity lock: %w", err)
	}
	defer func() {
		if err := release(); err != nil {
			log.Warn().Err(err).Msg("failed to release identity lock")
		}
	}()

	acc, _, err := e.store.GetOrCreate(ctx, t.identity)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("account_status", string(acc.Status)).
		Strs("services", serviceIDs(t.services)).
		Msg("provisioning request")

	result := &Result{}
	if !acc.HasAccountID() {
		if err := e.ensureAccount(ctx, acc, t); err != nil {
			if acc.HasAccountID() {
				// The account exists at the provider even though the
				// record did not persist; hand its details back.
				result.Account = acc.Clone()
				result.AccountCreated = true
				result.Status = StatusFailed
				return result, err
			}
			return nil, err
		}
		result.AccountCreated = true
	}

	for _, def := range t.services {
		outcome := e.provisionResource(ctx, acc, def, t.stage)
		e.metrics.RecordResource(ctx, def.ID, string(def.Provider), outcome.Status)
		result.Outcomes = append(result.Outcomes, outcome)
	}

	result.Account = acc.Clone()
	result.Status = summarise(result.Outcomes)

	if err := e.store.Save(ctx, acc); err != nil {
		// Resources were created and carry credentials; return them with
		// the error so the caller can still hand them over.
		log.Error().Err(err).Int("resources", len(acc.Resources)).Msg("failed to persist account snapshot")
		return result, fmt.Errorf("save account snapshot: %w", err)
	}
	e.record(journal.EntrySnapshotSaved, acc.Key, "", map[string]int{
		"resources": len(acc.Resources),
		"ready":     acc.ReadyCount(),
	}, nil)

	log.Info().
		Str("status", string(result.Status)).
		Int("ready", acc.ReadyCount()).
		Int("resources", len(acc.Resources)).
		Msg("provisioning request complete")
	return result, nil
}

func (e *Engine) record(typ journal.EntryType, key account.Key, service string, data interface{}, cause error) {
	if e.journal == nil {
		return
	}
	var err error
	if cause != nil {
		err = e.journal.AppendError(typ, key, service, data, cause)
	} else {
		err = e.journal.Append(typ, key, service, data)
	}
	if err != nil {
		e.log.Warn().Err(err).Str("entry", string(typ)).Msg("failed to write journal entry")
	}
}

func serviceIDs(defs []catalog.ServiceDefinition) []string {
	ids := make([]string, len(defs))
	for i, d := range defs {
		ids[i] = d.ID
	}
	return ids
}

// Recommend returns the catalog recommendation for the given inputs.
func (e *Engine) Recommend(useCase, stage, preference string) catalog.RecommendationSet {
	return e.catalog.Recommend(catalog.ParseUseCase(useCase), catalog.ParseStage(stage), catalog.ParsePreference(preference))
}

// Catalog returns the catalog the engine resolves services from.
func (e *Engine) Catalog() *catalog.Catalog {
	return e.catalog
}
