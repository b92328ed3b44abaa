// Package provider defines the cloud adapter contract used by the engine.
// Adapters create sub-accounts and resources and report resource status;
// they never persist anything.
package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/yairfalse/stackforge/internal/catalog"
	"github.com/yairfalse/stackforge/pkg/account"
)

// Adapter is implemented by every provider integration.
type Adapter interface {
	// Name returns the adapter identifier (e.g., "aws", "minio", "sandbox")
	Name() string

	// CreateAccount creates an isolated sub-account. Errors are *AccountCreationError.
	CreateAccount(ctx context.Context, req AccountRequest) (AccountInfo, error)

	// CreateResource provisions one service inside acc. Errors are
	// *ResourceProvisioningError.
	CreateResource(ctx context.Context, acc account.Account, def catalog.ServiceDefinition) (ResourceDetails, error)

	// DescribeResource reports the current status, or account.ResourceUnknown
	// when the provider cannot be queried.
	DescribeResource(ctx context.Context, acc account.Account, res account.Resource) account.ResourceStatus
}

// Observation is what a provider reports about an existing resource.
// Zero fields mean "not known yet".
type Observation struct {
	Status           account.ResourceStatus
	Endpoint         string
	Port             int
	ConnectionString string
}

// Observer is implemented by adapters that learn connection attributes
// after creation (database endpoints, instance DNS names).
type Observer interface {
	Observe(ctx context.Context, acc account.Account, res account.Resource) Observation
}

// Inspect asks the adapter about res, through Observe when available.
func Inspect(ctx context.Context, a Adapter, acc account.Account, res account.Resource) Observation {
	if o, ok := a.(Observer); ok {
		return o.Observe(ctx, acc, res)
	}
	return Observation{Status: a.DescribeResource(ctx, acc, res)}
}

// Apply merges known observation fields into res and reports whether
// anything changed. Unknown status leaves the stored status alone.
func (o Observation) Apply(res *account.Resource) bool {
	changed := false
	if o.Status != "" && o.Status != account.ResourceUnknown && o.Status != res.Status {
		res.Status = o.Status
		changed = true
	}
	if o.Endpoint != "" && o.Endpoint != res.Endpoint {
		res.Endpoint = o.Endpoint
		changed = true
	}
	if o.Port != 0 && o.Port != res.Port {
		res.Port = o.Port
		changed = true
	}
	if o.ConnectionString != "" && o.ConnectionString != res.ConnectionString {
		res.ConnectionString = o.ConnectionString
		changed = true
	}
	return changed
}

// AccountRequest carries the identity of the startup an account is created for.
type AccountRequest struct {
	Provider     account.Provider
	StartupName  string
	FounderEmail string
	FounderName  string
}

// AccountName is the provider-side display name for the sub-account.
func (r AccountRequest) AccountName() string {
	return "Stackforge-" + r.StartupName
}

// AccountInfo is what a provider returns for a created sub-account.
type AccountInfo struct {
	AccountID   string
	AccountName string
	ConsoleURL  string

	// Simulated marks an account that exists only in the sandbox.
	Simulated bool
}

// ResourceDetails are the attributes a provider returns for a created resource.
type ResourceDetails struct {
	ResourceID       string
	Status           account.ResourceStatus
	Region           string
	Endpoint         string
	Port             int
	Database         string
	Username         string
	Password         string
	ConnectionString string
	ConsoleURL       string

	// Simulated marks details invented by the sandbox; nothing was created.
	Simulated bool
}

// ToResource builds the stored record for def from the returned details.
func (d ResourceDetails) ToResource(def catalog.ServiceDefinition, now time.Time) account.Resource {
	status := d.Status
	if status == "" || status == account.ResourceUnknown {
		status = account.ResourceCreating
	}
	return account.Resource{
		Service:          def.ID,
		DisplayName:      def.Name,
		Category:         string(def.Category),
		Provider:         def.Provider,
		ResourceID:       d.ResourceID,
		Status:           status,
		Region:           d.Region,
		Endpoint:         d.Endpoint,
		Port:             d.Port,
		Database:         d.Database,
		Username:         d.Username,
		Password:         d.Password,
		ConnectionString: d.ConnectionString,
		ConsoleURL:       d.ConsoleURL,
		Simulated:        d.Simulated,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// AccountCreationError reports that a sub-account could not be created.
type AccountCreationError struct {
	Provider string
	Reason   string
	Err      error
}

func (e *AccountCreationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("create %s account: %s: %v", e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("create %s account: %s", e.Provider, e.Reason)
}

func (e *AccountCreationError) Unwrap() error { return e.Err }

// ResourceProvisioningError reports that one service could not be provisioned.
type ResourceProvisioningError struct {
	Service  string
	Provider string
	Reason   string
	Err      error
}

func (e *ResourceProvisioningError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provision %s on %s: %s: %v", e.Service, e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("provision %s on %s: %s", e.Service, e.Provider, e.Reason)
}

func (e *ResourceProvisioningError) Unwrap() error { return e.Err }

// Unsupported is returned by adapters for services they do not implement.
func Unsupported(adapter string, def catalog.ServiceDefinition) *ResourceProvisioningError {
	return &ResourceProvisioningError{
		Service:  def.ID,
		Provider: adapter,
		Reason:   "service not supported by adapter",
	}
}
