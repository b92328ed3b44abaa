// Package policy evaluates rego admission rules before a resource is
// created. Every rule under data.stackforge.guard.deny that produces a
// message vetoes the resource.
package policy

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/open-policy-agent/opa/v1/rego"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/stackforge/internal/catalog"
	"github.com/yairfalse/stackforge/pkg/account"
)

//go:embed guard.rego
var builtin string

const query = "data.stackforge.guard.deny"

// Limits are operator settings passed to the rules as input.limits.
type Limits struct {
	MaxResources     int      `json:"max_resources"`
	AllowedProviders []string `json:"allowed_providers"`
	DeniedServices   []string `json:"denied_services"`
}

// Input is the document the rules see as input.
type Input struct {
	Service ServiceInput `json:"service"`
	Account AccountInput `json:"account"`
	Stage   string       `json:"stage"`
	Limits  Limits       `json:"limits"`
}

// ServiceInput describes the service being admitted.
type ServiceInput struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`
	Category string `json:"category"`
}

// AccountInput describes the account the service would join.
type AccountInput struct {
	Provider      string `json:"provider"`
	ResourceCount int    `json:"resource_count"`
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed bool
	Reasons []string
}

// Reason joins the deny messages.
func (d Decision) Reason() string {
	return strings.Join(d.Reasons, "; ")
}

// Guard holds the compiled rules.
type Guard struct {
	prepared rego.PreparedEvalQuery
	limits   Limits
	modules  []string
	tracer   trace.Tracer
}

// Options configures a Guard.
type Options struct {
	Limits Limits

	// Dir holds extra .rego files loaded next to the built-in rules
	Dir string
}

// New compiles the built-in rules plus any files in opts.Dir.
func New(ctx context.Context, opts Options) (*Guard, error) {
	modules := map[string]string{"builtin/guard.rego": builtin}
	if opts.Dir != "" {
		extra, err := loadDir(opts.Dir)
		if err != nil {
			return nil, err
		}
		for name, src := range extra {
			modules[name] = src
		}
	}

	names := make([]string, 0, len(modules))
	args := []func(*rego.Rego){rego.Query(query)}
	for name, src := range modules {
		names = append(names, name)
		args = append(args, rego.Module(name, src))
	}
	sort.Strings(names)

	prepared, err := rego.New(args...).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile admission policy: %w", err)
	}

	return &Guard{
		prepared: prepared,
		limits:   opts.Limits,
		modules:  names,
		tracer:   otel.Tracer("stackforge/policy"),
	}, nil
}

func loadDir(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy dir %s: %w", dir, err)
	}
	out := make(map[string]string)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".rego") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return nil, fmt.Errorf("failed to read policy file %s: %w", path, err)
		}
		out[path] = string(data)
	}
	return out, nil
}

// Modules returns the names of the loaded rego modules.
func (g *Guard) Modules() []string {
	return append([]string(nil), g.modules...)
}

// Check evaluates the rules for def joining acc. resourceCount is the
// number of live resources the account would already hold.
func (g *Guard) Check(ctx context.Context, def catalog.ServiceDefinition, acc account.Account, stage catalog.Stage, resourceCount int) (Decision, error) {
	ctx, span := g.tracer.Start(ctx, "policy.check",
		trace.WithAttributes(attribute.String("service.id", def.ID)))
	defer span.End()

	in := Input{
		Service: ServiceInput{ID: def.ID, Provider: string(def.Provider), Category: string(def.Category)},
		Account: AccountInput{Provider: string(acc.Provider), ResourceCount: resourceCount},
		Stage:   string(stage),
		Limits:  g.limits,
	}
	if in.Limits.AllowedProviders == nil {
		in.Limits.AllowedProviders = []string{}
	}
	if in.Limits.DeniedServices == nil {
		in.Limits.DeniedServices = []string{}
	}

	results, err := g.prepared.Eval(ctx, rego.EvalInput(in))
	if err != nil {
		span.RecordError(err)
		return Decision{}, fmt.Errorf("evaluate admission policy: %w", err)
	}

	reasons := denyMessages(results)
	span.SetAttributes(attribute.Int("policy.denials", len(reasons)))
	return Decision{Allowed: len(reasons) == 0, Reasons: reasons}, nil
}

func denyMessages(results rego.ResultSet) []string {
	var out []string
	for _, r := range results {
		for _, expr := range r.Expressions {
			values, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, v := range values {
				if s, ok := v.(string); ok {
					out = append(out, s)
				}
			}
		}
	}
	sort.Strings(out)
	return out
}
