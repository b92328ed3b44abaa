// Package filter selects stored accounts for listing.
package filter

import (
	"strings"

	"github.com/yairfalse/stackforge/pkg/account"
)

// Filter controls which accounts a listing includes. Each configured
// dimension must match; values within one dimension are alternatives.
type Filter struct {
	statuses  map[account.Status]bool
	providers map[account.Provider]bool
	services  map[string]bool
	creating  bool
}

// New creates a new Filter. Empty values are ignored and matching is case
// insensitive.
func New(statuses, providers, services []string, creatingOnly bool) *Filter {
	f := &Filter{
		statuses:  make(map[account.Status]bool),
		providers: make(map[account.Provider]bool),
		services:  make(map[string]bool),
		creating:  creatingOnly,
	}
	for _, s := range normalise(statuses) {
		f.statuses[account.Status(s)] = true
	}
	for _, p := range normalise(providers) {
		f.providers[account.Provider(p)] = true
	}
	for _, s := range normalise(services) {
		f.services[s] = true
	}
	return f
}

// normalise splits comma lists, lowercases and drops blanks.
func normalise(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Match returns true if the account passes every configured dimension.
func (f *Filter) Match(a *account.Account) bool {
	if len(f.statuses) > 0 && !f.statuses[a.Status] {
		return false
	}
	if len(f.providers) > 0 && !f.providers[a.Provider] {
		return false
	}
	if len(f.services) > 0 && !f.hasService(a) {
		return false
	}
	if f.creating && !hasCreating(a) {
		return false
	}
	return true
}

func (f *Filter) hasService(a *account.Account) bool {
	for _, r := range a.Resources {
		if f.services[r.Service] {
			return true
		}
	}
	return false
}

func hasCreating(a *account.Account) bool {
	for _, r := range a.Resources {
		if r.Status == account.ResourceCreating {
			return true
		}
	}
	return false
}

// Apply returns only accounts that pass the filter, in input order.
func (f *Filter) Apply(accounts []*account.Account) []*account.Account {
	if f.IsEmpty() {
		return accounts
	}

	filtered := make([]*account.Account, 0, len(accounts))
	for _, a := range accounts {
		if f.Match(a) {
			filtered = append(filtered, a)
		}
	}
	return filtered
}

// IsEmpty returns true if no filters are configured.
func (f *Filter) IsEmpty() bool {
	return len(f.statuses) == 0 && len(f.providers) == 0 && len(f.services) == 0 && !f.creating
}
