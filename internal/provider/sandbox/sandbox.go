// Package sandbox implements an offline provider adapter. Identifiers are
// derived from the startup identity so repeated runs produce the same
// accounts and resource ids; nothing leaves the process.
package sandbox

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/yairfalse/stackforge/internal/catalog"
	"github.com/yairfalse/stackforge/internal/provider"
	"github.com/yairfalse/stackforge/pkg/account"
)

// Options configures the sandbox.
type Options struct {
	Region string

	// FailServices makes CreateResource fail for these service ids
	FailServices []string

	// FailAccounts makes CreateAccount fail
	FailAccounts bool

	// ReadyAfter is how long a creating resource stays creating
	ReadyAfter time.Duration
}

// Adapter is the sandbox provider.
type Adapter struct {
	region string
	fail   map[string]bool

	failAccounts bool
	readyAfter   time.Duration
	now          func() time.Time

	mu    sync.Mutex
	calls map[string]int
}

// New creates a sandbox adapter.
func New(opts Options) *Adapter {
	region := opts.Region
	if region == "" {
		region = "sandbox-1"
	}
	fail := make(map[string]bool, len(opts.FailServices))
	for _, id := range opts.FailServices {
		fail[id] = true
	}
	readyAfter := opts.ReadyAfter
	if readyAfter <= 0 {
		readyAfter = 30 * time.Second
	}
	return &Adapter{
		region:       region,
		fail:         fail,
		failAccounts: opts.FailAccounts,
		readyAfter:   readyAfter,
		now:          time.Now,
		calls:        make(map[string]int),
	}
}

// Name returns the adapter identifier.
func (a *Adapter) Name() string { return "sandbox" }

// Calls returns how often an operation ran ("create_account",
// "create_resource:<service>", "describe:<service>").
func (a *Adapter) Calls(op string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[op]
}

func (a *Adapter) record(op string) {
	a.mu.Lock()
	a.calls[op]++
	a.mu.Unlock()
}

// CreateAccount returns a deterministic sub-account for the identity.
func (a *Adapter) CreateAccount(ctx context.Context, req provider.AccountRequest) (provider.AccountInfo, error) {
	a.record("create_account")

	if err := ctx.Err(); err != nil {
		return provider.AccountInfo{}, &provider.AccountCreationError{Provider: a.Name(), Reason: "cancelled", Err: err}
	}
	if a.failAccounts {
		return provider.AccountInfo{}, &provider.AccountCreationError{Provider: a.Name(), Reason: "account creation disabled in sandbox"}
	}

	key := account.NewKey(req.StartupName, req.FounderEmail)
	switch req.Provider {
	case account.ProviderGCP:
		projectID := "stackforge-" + account.Slug(req.StartupName) + "-" + fmt.Sprintf("%06d", digits(key, 1_000_000))
		return provider.AccountInfo{
			AccountID:   projectID,
			AccountName: req.AccountName(),
			ConsoleURL:  "https://console.cloud.google.com/home/dashboard?project=" + projectID,
			Simulated:   true,
		}, nil
	default:
		id := fmt.Sprintf("%012d", digits(key, 1_000_000_000_000))
		return provider.AccountInfo{
			AccountID:   id,
			AccountName: req.AccountName(),
			ConsoleURL:  "https://" + id + ".signin.aws.amazon.com/console",
			Simulated:   true,
		}, nil
	}
}

func digits(key account.Key, mod uint64) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return h.Sum64() % mod
}

// CreateResource returns plausible connection details for def. Databases
// and warehouses start out creating; everything else is ready at once.
func (a *Adapter) CreateResource(ctx context.Context, acc account.Account, def catalog.ServiceDefinition) (provider.ResourceDetails, error) {
	a.record("create_resource:" + def.ID)

	if err := ctx.Err(); err != nil {
		return provider.ResourceDetails{}, &provider.ResourceProvisioningError{Service: def.ID, Provider: a.Name(), Reason: "cancelled", Err: err}
	}
	if a.fail[def.ID] {
		return provider.ResourceDetails{}, &provider.ResourceProvisioningError{Service: def.ID, Provider: a.Name(), Reason: "failure injected by sandbox"}
	}

	shape, ok := shapes[def.ID]
	if !ok {
		shape = shapeFor(def.Category)
	}

	name := provider.ResourceName(acc, shape.suffix)
	d := provider.ResourceDetails{
		ResourceID: name,
		Status:     shape.initial,
		Region:     a.region,
		Port:       shape.port,
		Database:   shape.database,
		ConsoleURL: fmt.Sprintf("https://sandbox.stackforge.local/%s/%s/%s", acc.AccountID, def.ID, name),
		Simulated:  true,
	}
	if shape.port > 0 {
		d.Endpoint = fmt.Sprintf("%s.%s.sandbox.stackforge.local", name, a.region)
	}
	if shape.scheme != "" {
		password, err := provider.GeneratePassword(16)
		if err != nil {
			return provider.ResourceDetails{}, &provider.ResourceProvisioningError{Service: def.ID, Provider: a.Name(), Reason: "generate password", Err: err}
		}
		d.Username = "startupuser"
		d.Password = password
		d.ConnectionString = fmt.Sprintf("%s://%s:%s@%s:%d/%s", shape.scheme, d.Username, password, d.Endpoint, shape.port, shape.database)
	}
	return d, nil
}

// DescribeResource promotes creating resources to their ready state once
// ReadyAfter has passed since creation.
func (a *Adapter) DescribeResource(_ context.Context, _ account.Account, res account.Resource) account.ResourceStatus {
	a.record("describe:" + res.Service)

	if res.Status != account.ResourceCreating {
		return res.Status
	}
	if a.now().Sub(res.CreatedAt) < a.readyAfter {
		return account.ResourceCreating
	}
	if res.Category == string(catalog.CategoryCompute) {
		return account.ResourceRunning
	}
	return account.ResourceAvailable
}
