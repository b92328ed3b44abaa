package engine

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/stackforge/internal/catalog"
	"github.com/yairfalse/stackforge/internal/journal"
	"github.com/yairfalse/stackforge/internal/provider"
	"github.com/yairfalse/stackforge/pkg/account"
)

// provisionResource ensures def exists in acc. Failures are recorded on the
// account and returned in the Outcome; they never abort the request.
func (e *Engine) provisionResource(ctx context.Context, acc *account.Account, def catalog.ServiceDefinition, stage catalog.Stage) Outcome {
	ctx, span := e.tracer.Start(ctx, "engine.provision_resource",
		trace.WithAttributes(
			attribute.String("service.id", def.ID),
			attribute.String("cloud.provider", string(def.Provider)),
		))
	defer span.End()

	log := e.log.With().Str("key", acc.Key.String()).Str("service", def.ID).Logger()
	existing, found := acc.Resource(def.ID)

	if found && existing.Status.Ready() {
		log.Debug().Str("status", string(existing.Status)).Msg("resource already provisioned")
		e.record(journal.EntryResourceSkipped, acc.Key, def.ID, map[string]string{"status": string(existing.Status)}, nil)
		return Outcome{Service: def.ID, Status: OutcomeSkipped, Resource: existing}
	}

	adapter, hasAdapter := e.registry.ForService(def)

	if found && existing.Status == account.ResourceCreating {
		return e.checkInFlight(ctx, acc, existing, adapter, hasAdapter)
	}

	if def.Provider.IsCloud() && def.Provider != acc.Provider {
		return e.failResource(ctx, acc, def, &provider.ResourceProvisioningError{
			Service:  def.ID,
			Provider: string(def.Provider),
			Reason:   fmt.Sprintf("account is hosted on %s", acc.Provider),
		})
	}
	if !hasAdapter {
		return e.failResource(ctx, acc, def, &provider.ResourceProvisioningError{
			Service:  def.ID,
			Provider: string(def.Provider),
			Reason:   "no adapter registered",
		})
	}

	if e.guard != nil {
		decision, err := e.guard.Check(ctx, def, *acc, stage, liveResources(acc, def.ID))
		if err != nil {
			return e.failResource(ctx, acc, def, &provider.ResourceProvisioningError{
				Service:  def.ID,
				Provider: string(def.Provider),
				Reason:   "admission policy error",
				Err:      err,
			})
		}
		if !decision.Allowed {
			return e.failResource(ctx, acc, def, &provider.ResourceProvisioningError{
				Service:  def.ID,
				Provider: string(def.Provider),
				Reason:   "denied by policy: " + decision.Reason(),
			})
		}
	}

	log.Info().Str("adapter", adapter.Name()).Msg("creating resource")
	details, err := adapter.CreateResource(ctx, *acc, def)
	if err != nil {
		span.RecordError(err)
		return e.failResource(ctx, acc, def, err)
	}

	res := details.ToResource(def, e.now())
	if provider.Inspect(ctx, adapter, *acc, res).Apply(&res) {
		res.UpdatedAt = e.now()
	}
	acc.UpsertResource(res)
	res, _ = acc.Resource(def.ID)

	span.SetAttributes(attribute.String("resource.status", string(res.Status)))
	e.record(journal.EntryResourceCreated, acc.Key, def.ID, map[string]string{
		"resource_id": res.ResourceID,
		"status":      string(res.Status),
	}, nil)
	log.Info().Str("resource_id", res.ResourceID).Str("status", string(res.Status)).Msg("resource created")
	return Outcome{Service: def.ID, Status: OutcomeCreated, Resource: res}
}

// checkInFlight describes a resource that is still being created instead of
// creating it again.
func (e *Engine) checkInFlight(ctx context.Context, acc *account.Account, res account.Resource, adapter provider.Adapter, ok bool) Outcome {
	if ok && provider.Inspect(ctx, adapter, *acc, res).Apply(&res) {
		res.UpdatedAt = e.now()
		acc.UpsertResource(res)
	}
	if res.Status.Ready() {
		e.record(journal.EntryResourceSkipped, acc.Key, res.Service, map[string]string{"status": string(res.Status)}, nil)
		return Outcome{Service: res.Service, Status: OutcomeSkipped, Resource: res}
	}
	if res.Status == account.ResourceFailed {
		cause := &provider.ResourceProvisioningError{
			Service:  res.Service,
			Provider: string(res.Provider),
			Reason:   "provider reported the resource as failed",
		}
		res.Error = cause.Error()
		acc.UpsertResource(res)
		e.record(journal.EntryResourceFailed, acc.Key, res.Service, nil, cause)
		return Outcome{Service: res.Service, Status: OutcomeFailed, Resource: res, Error: cause.Error(), Err: cause}
	}
	return Outcome{Service: res.Service, Status: OutcomePending, Resource: res}
}

func (e *Engine) failResource(ctx context.Context, acc *account.Account, def catalog.ServiceDefinition, cause error) Outcome {
	var perr *provider.ResourceProvisioningError
	if !errors.As(cause, &perr) {
		perr = &provider.ResourceProvisioningError{
			Service:  def.ID,
			Provider: string(def.Provider),
			Reason:   "provider error",
			Err:      cause,
		}
	}

	now := e.now()
	res := account.Resource{
		Service:     def.ID,
		DisplayName: def.Name,
		Category:    string(def.Category),
		Provider:    def.Provider,
		Status:      account.ResourceFailed,
		Error:       perr.Error(),
		UpdatedAt:   now,
	}
	if _, found := acc.Resource(def.ID); !found {
		res.CreatedAt = now
	}
	acc.UpsertResource(res)
	res, _ = acc.Resource(def.ID)

	trace.SpanFromContext(ctx).RecordError(perr)
	e.record(journal.EntryResourceFailed, acc.Key, def.ID, nil, perr)
	e.log.Warn().Err(perr).Str("key", acc.Key.String()).Str("service", def.ID).Msg("resource provisioning failed")
	return Outcome{Service: def.ID, Status: OutcomeFailed, Resource: res, Error: perr.Error(), Err: perr}
}

// liveResources counts resources that are not failed, excluding service.
func liveResources(acc *account.Account, service string) int {
	n := 0
	for _, r := range acc.Resources {
		if r.Service != service && r.Status != account.ResourceFailed {
			n++
		}
	}
	return n
}
