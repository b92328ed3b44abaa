// Package account defines the persisted account/resource model for stackforge.
package account

import (
	"strings"
	"time"
)

// Provider identifies where an account or resource lives.
type Provider string

const (
	ProviderAWS        Provider = "aws"
	ProviderGCP        Provider = "gcp"
	ProviderThirdParty Provider = "third_party"
)

// IsCloud reports whether the provider hosts sub-accounts.
func (p Provider) IsCloud() bool {
	return p == ProviderAWS || p == ProviderGCP
}

// Status is the lifecycle state of an Account.
type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusFailed  Status = "failed"
)

// ResourceStatus is the lifecycle state of a Resource.
type ResourceStatus string

const (
	ResourceCreating  ResourceStatus = "creating"
	ResourceAvailable ResourceStatus = "available"
	ResourceRunning   ResourceStatus = "running"
	ResourceFailed    ResourceStatus = "failed"

	// ResourceUnknown is only returned by status lookups; it is never stored.
	ResourceUnknown ResourceStatus = "unknown"
)

// Ready reports whether the resource can be used.
func (s ResourceStatus) Ready() bool {
	return s == ResourceAvailable || s == ResourceRunning
}

// Account is one cloud sub-account per startup.
type Account struct {
	Key           Key        `json:"key"`
	AccountID     string     `json:"account_id,omitempty"`
	AccountName   string     `json:"account_name"`
	Provider      Provider   `json:"provider,omitempty"`
	StartupName   string     `json:"startup_name"`
	FounderEmail  string     `json:"founder_email"`
	FounderName   string     `json:"founder_name"`
	ConsoleURL    string     `json:"console_url,omitempty"`
	Simulated     bool       `json:"simulated,omitempty"`
	Status        Status     `json:"status"`
	FailureReason string     `json:"failure_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	Resources     []Resource `json:"resources"`
}

// Resource is one provisioned service instance belonging to an Account.
type Resource struct {
	Service          string         `json:"service"`
	DisplayName      string         `json:"display_name,omitempty"`
	Category         string         `json:"category,omitempty"`
	Provider         Provider       `json:"provider,omitempty"`
	ResourceID       string         `json:"resource_id,omitempty"`
	Status           ResourceStatus `json:"status"`
	Region           string         `json:"region,omitempty"`
	Endpoint         string         `json:"endpoint,omitempty"`
	Port             int            `json:"port,omitempty"`
	Database         string         `json:"database,omitempty"`
	Username         string         `json:"username,omitempty"`
	Password         string         `json:"password,omitempty"`
	ConnectionString string         `json:"connection_string,omitempty"`
	ConsoleURL       string         `json:"console_url,omitempty"`
	Simulated        bool           `json:"simulated,omitempty"`
	Error            string         `json:"error,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// HasAccountID reports whether the provider has confirmed the account.
func (a *Account) HasAccountID() bool {
	return a.AccountID != ""
}

// Resource returns the resource for a service, if present.
func (a *Account) Resource(service string) (Resource, bool) {
	for _, r := range a.Resources {
		if r.Service == service {
			return r, true
		}
	}
	return Resource{}, false
}

// UpsertResource replaces the resource with the same service or appends it.
func (a *Account) UpsertResource(r Resource) {
	for i := range a.Resources {
		if a.Resources[i].Service == r.Service {
			if r.CreatedAt.IsZero() {
				r.CreatedAt = a.Resources[i].CreatedAt
			}
			a.Resources[i] = r
			return
		}
	}
	a.Resources = append(a.Resources, r)
}

// ReadyCount returns the number of available or running resources.
func (a *Account) ReadyCount() int {
	n := 0
	for _, r := range a.Resources {
		if r.Status.Ready() {
			n++
		}
	}
	return n
}

// Clone returns a deep copy.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	if a.Resources != nil {
		c.Resources = make([]Resource, len(a.Resources))
		copy(c.Resources, a.Resources)
	}
	return &c
}

// Key is the normalised identity key of a startup.
type Key string

// keyNameEscaper percent-escapes the separator (and the escape character
// itself) inside the name part, so the first "_" of a key always splits
// name from email.
var keyNameEscaper = strings.NewReplacer("%", "%25", "_", "%5f")

// NewKey builds the identity key from a startup name and founder email.
// Names compare case-insensitively with whitespace runs folded to "-";
// emails compare lowercased.
func NewKey(startupName, founderEmail string) Key {
	name := strings.Join(strings.Fields(strings.ToLower(startupName)), "-")
	email := strings.ToLower(strings.TrimSpace(founderEmail))
	return Key(keyNameEscaper.Replace(name) + "_" + email)
}

func (k Key) String() string {
	return string(k)
}

// Slug returns a lowercase name fragment usable in provider resource names.
func Slug(startupName string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(startupName) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
		}
	}
	s := strings.TrimSuffix(b.String(), "-")
	if len(s) > 40 {
		s = strings.TrimSuffix(s[:40], "-")
	}
	if s == "" {
		s = "startup"
	}
	return s
}
