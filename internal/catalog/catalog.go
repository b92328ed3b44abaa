// Package catalog maps a startup's use case, stage and cloud preference to
// an ordered list of services to provision.
package catalog

import (
	_ "embed"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/yairfalse/stackforge/pkg/account"
)

//go:embed catalog.yaml
var embedded []byte

// Category groups services that fill the same role in a stack.
type Category string

const (
	CategoryDatabase      Category = "database"
	CategoryCompute       Category = "compute"
	CategoryStorage       Category = "storage"
	CategoryAnalytics     Category = "analytics"
	CategoryETL           Category = "etl"
	CategoryNoSQL         Category = "nosql"
	CategoryVisualization Category = "visualization"
)

var knownCategories = map[Category]bool{
	CategoryDatabase:      true,
	CategoryCompute:       true,
	CategoryStorage:       true,
	CategoryAnalytics:     true,
	CategoryETL:           true,
	CategoryNoSQL:         true,
	CategoryVisualization: true,
}

// ServiceDefinition is an immutable catalog entry.
type ServiceDefinition struct {
	ID          string           `yaml:"id" json:"id"`
	Name        string           `yaml:"name" json:"name"`
	Category    Category         `yaml:"category" json:"category"`
	Provider    account.Provider `yaml:"provider" json:"provider"`
	Description string           `yaml:"description" json:"description"`
	Packages    []string         `yaml:"packages" json:"packages"`
}

func (d ServiceDefinition) clone() ServiceDefinition {
	d.Packages = append([]string(nil), d.Packages...)
	return d
}

// RecommendationSet is the ordered result of one recommendation request.
type RecommendationSet struct {
	UseCase    UseCase             `json:"use_case"`
	Stage      Stage               `json:"company_stage"`
	Preference Preference          `json:"cloud_preference"`
	Services   []ServiceDefinition `json:"services"`
}

// IDs returns the service ids in order.
func (r RecommendationSet) IDs() []string {
	ids := make([]string, len(r.Services))
	for i, s := range r.Services {
		ids[i] = s.ID
	}
	return ids
}

type file struct {
	Services      []ServiceDefinition            `yaml:"services"`
	Bundles       map[string]map[string][]string `yaml:"bundles"`
	ObjectStorage map[string]string              `yaml:"object_storage"`
	SharedStorage string                         `yaml:"shared_storage"`
}

// Catalog is a parsed, validated service catalog. It is read-only after
// Parse and safe for concurrent use.
type Catalog struct {
	services      map[string]ServiceDefinition
	order         []string
	bundles       map[UseCase]map[account.Provider][]string
	objectStorage map[account.Provider]string
	sharedStorage string
}

var defaultCatalog = mustParse(embedded)

// Default returns the embedded catalog.
func Default() *Catalog {
	return defaultCatalog
}

func mustParse(data []byte) *Catalog {
	c, err := Parse(data)
	if err != nil {
		panic(fmt.Sprintf("catalog: embedded catalog invalid: %v", err))
	}
	return c
}

// Parse decodes and validates a YAML catalog document.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	c := &Catalog{
		services:      make(map[string]ServiceDefinition, len(f.Services)),
		bundles:       make(map[UseCase]map[account.Provider][]string, len(f.Bundles)),
		objectStorage: make(map[account.Provider]string),
		sharedStorage: f.SharedStorage,
	}

	for _, s := range f.Services {
		if s.ID == "" {
			return nil, fmt.Errorf("service without id")
		}
		if _, dup := c.services[s.ID]; dup {
			return nil, fmt.Errorf("duplicate service %q", s.ID)
		}
		if !knownCategories[s.Category] {
			return nil, fmt.Errorf("service %q: unknown category %q", s.ID, s.Category)
		}
		switch s.Provider {
		case account.ProviderAWS, account.ProviderGCP, account.ProviderThirdParty:
		default:
			return nil, fmt.Errorf("service %q: unknown provider %q", s.ID, s.Provider)
		}
		c.services[s.ID] = s
		c.order = append(c.order, s.ID)
	}
	sort.Strings(c.order)

	for name, byCloud := range f.Bundles {
		uc := UseCase(name)
		if !uc.Valid() {
			return nil, fmt.Errorf("bundle for unknown use case %q", name)
		}
		c.bundles[uc] = make(map[account.Provider][]string, len(byCloud))
		for cloud, ids := range byCloud {
			p := account.Provider(cloud)
			if !p.IsCloud() {
				return nil, fmt.Errorf("bundle %q: unknown cloud %q", name, cloud)
			}
			if len(ids) == 0 {
				return nil, fmt.Errorf("bundle %q/%s is empty", name, cloud)
			}
			for _, id := range ids {
				if err := c.checkBundleEntry(id, p); err != nil {
					return nil, fmt.Errorf("bundle %q/%s: %w", name, cloud, err)
				}
			}
			c.bundles[uc][p] = ids
		}
	}
	if _, ok := c.bundles[UseCaseStartupMVP]; !ok {
		return nil, fmt.Errorf("missing %s bundle", UseCaseStartupMVP)
	}

	for cloud, id := range f.ObjectStorage {
		p := account.Provider(cloud)
		if err := c.checkBundleEntry(id, p); err != nil {
			return nil, fmt.Errorf("object_storage/%s: %w", cloud, err)
		}
		c.objectStorage[p] = id
	}
	if c.sharedStorage != "" {
		if _, ok := c.services[c.sharedStorage]; !ok {
			return nil, fmt.Errorf("shared_storage: unknown service %q", c.sharedStorage)
		}
	}

	return c, nil
}

// checkBundleEntry rejects services that do not exist or belong to the
// other cloud.
func (c *Catalog) checkBundleEntry(id string, cloud account.Provider) error {
	s, ok := c.services[id]
	if !ok {
		return fmt.Errorf("unknown service %q", id)
	}
	if s.Provider.IsCloud() && s.Provider != cloud {
		return fmt.Errorf("service %q belongs to %s", id, s.Provider)
	}
	return nil
}

// Lookup returns the definition for a service id.
func (c *Catalog) Lookup(id string) (ServiceDefinition, bool) {
	s, ok := c.services[id]
	if !ok {
		return ServiceDefinition{}, false
	}
	return s.clone(), true
}

// Services returns every definition sorted by id.
func (c *Catalog) Services() []ServiceDefinition {
	out := make([]ServiceDefinition, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.services[id].clone())
	}
	return out
}

// Categories returns the categories used by at least one service, sorted.
func (c *Catalog) Categories() []Category {
	seen := make(map[Category]bool)
	out := make([]Category, 0, len(knownCategories))
	for _, id := range c.order {
		cat := c.services[id].Category
		if !seen[cat] {
			seen[cat] = true
			out = append(out, cat)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Recommend resolves the service list for a use case, stage and cloud
// preference. Unknown inputs fall back to startup_mvp, startup and any,
// so the result is never empty.
func (c *Catalog) Recommend(useCase UseCase, stage Stage, pref Preference) RecommendationSet {
	if _, ok := c.bundles[useCase]; !ok {
		useCase = UseCaseStartupMVP
	}
	if !stage.Valid() {
		stage = StageStartup
	}
	if !pref.Valid() {
		pref = PreferenceAny
	}

	cloud, ids := c.resolveBundle(useCase, pref)
	ids = c.applyStage(ids, stage, cloud)

	set := RecommendationSet{UseCase: useCase, Stage: stage, Preference: pref}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		set.Services = append(set.Services, c.services[id].clone())
	}
	return set
}

// resolveBundle picks the bundle for a preference and reports which cloud
// its native services belong to.
func (c *Catalog) resolveBundle(uc UseCase, pref Preference) (account.Provider, []string) {
	byCloud := c.bundles[uc]
	switch pref {
	case PreferenceAWS, PreferenceGCP:
		p := account.Provider(pref)
		if ids, ok := byCloud[p]; ok {
			return p, append([]string(nil), ids...)
		}
	}
	return c.merge(byCloud)
}

// merge combines the AWS and GCP bundles of a use case. The cloud with more
// native services wins (AWS on ties); categories it does not cover are only
// filled from the other bundle with third-party services so the result
// never spans two clouds.
func (c *Catalog) merge(byCloud map[account.Provider][]string) (account.Provider, []string) {
	primary, secondary := account.ProviderAWS, account.ProviderGCP
	if c.nativeCount(byCloud[secondary], secondary) > c.nativeCount(byCloud[primary], primary) {
		primary, secondary = secondary, primary
	}
	if len(byCloud[primary]) == 0 {
		primary, secondary = secondary, primary
	}

	out := append([]string(nil), byCloud[primary]...)
	covered := make(map[Category]bool, len(out))
	for _, id := range out {
		covered[c.services[id].Category] = true
	}
	for _, id := range byCloud[secondary] {
		s := c.services[id]
		if covered[s.Category] || s.Provider != account.ProviderThirdParty {
			continue
		}
		covered[s.Category] = true
		out = append(out, id)
	}
	return primary, out
}

func (c *Catalog) nativeCount(ids []string, cloud account.Provider) int {
	n := 0
	for _, id := range ids {
		if c.services[id].Provider == cloud {
			n++
		}
	}
	return n
}

// applyStage adjusts a bundle for the company stage.
func (c *Catalog) applyStage(ids []string, stage Stage, cloud account.Provider) []string {
	switch stage {
	case StageIdea:
		if c.sharedStorage == "" {
			return ids
		}
		for i, id := range ids {
			if c.services[id].Category == CategoryStorage {
				ids[i] = c.sharedStorage
			}
		}
	case StageGrowth, StageEnterprise:
		for _, id := range ids {
			if c.services[id].Category == CategoryStorage {
				return ids
			}
		}
		if id, ok := c.objectStorage[cloud]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}
