// Package gcp provisions startups inside one shared platform project.
// Each startup is a namespace in that project: a labelled BigQuery dataset
// and a labelled Cloud Storage bucket. Other GCP services are not
// provisioned live.
package gcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/yairfalse/stackforge/internal/catalog"
	"github.com/yairfalse/stackforge/internal/provider"
	"github.com/yairfalse/stackforge/pkg/account"
)

// namespaceLabel marks every resource created for a startup namespace.
const namespaceLabel = "stackforge-namespace"

var (
	// ErrAlreadyExists is returned by the client wrappers on a name conflict.
	ErrAlreadyExists = errors.New("already exists")

	// ErrNotFound is returned by the client wrappers for a missing resource.
	ErrNotFound = errors.New("not found")
)

// BucketAPI is the Cloud Storage surface used here.
type BucketAPI interface {
	ServiceAccount(ctx context.Context) (string, error)
	CreateBucket(ctx context.Context, name, location string, labels map[string]string) error
	BucketLabels(ctx context.Context, name string) (map[string]string, error)
}

// DatasetAPI is the BigQuery surface used here.
type DatasetAPI interface {
	CreateDataset(ctx context.Context, id, location, description string, labels map[string]string) error
	DatasetLabels(ctx context.Context, id string) (map[string]string, error)
}

// Config holds the shared project settings.
type Config struct {
	ProjectID       string
	Location        string
	CredentialsFile string
}

// Adapter implements provider.Adapter for gcp.
type Adapter struct {
	cfg      Config
	buckets  BucketAPI
	datasets DatasetAPI
	log      zerolog.Logger
	closers  []func() error
}

func newAdapter(cfg Config, buckets BucketAPI, datasets DatasetAPI, logger zerolog.Logger) *Adapter {
	if cfg.Location == "" {
		cfg.Location = "US"
	}
	return &Adapter{
		cfg:      cfg,
		buckets:  buckets,
		datasets: datasets,
		log:      logger.With().Str("adapter", "gcp").Str("project", cfg.ProjectID).Logger(),
	}
}

// Name returns the adapter identifier.
func (a *Adapter) Name() string { return "gcp" }

// Close releases the underlying clients.
func (a *Adapter) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Namespace returns the per-startup namespace inside the shared project.
// It is derived from the identity key, so two startups sharing a name
// never share a namespace.
func Namespace(startupName, founderEmail string) string {
	key := account.NewKey(startupName, founderEmail)
	sum := uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String()
	return account.Slug(startupName) + "-" + sum[:8]
}

// namespaceOf recovers the namespace from a stored account id
// ("<project>/<namespace>").
func namespaceOf(acc account.Account) string {
	if i := strings.LastIndex(acc.AccountID, "/"); i >= 0 {
		return acc.AccountID[i+1:]
	}
	return Namespace(acc.StartupName, acc.FounderEmail)
}

func bucketName(ns string) string { return "stackforge-" + ns }

func datasetID(ns string) string { return "stackforge_" + strings.ReplaceAll(ns, "-", "_") }

// CreateAccount allocates the startup namespace after checking the
// platform credentials can reach the project. Nothing is created yet.
func (a *Adapter) CreateAccount(ctx context.Context, req provider.AccountRequest) (provider.AccountInfo, error) {
	if _, err := a.buckets.ServiceAccount(ctx); err != nil {
		return provider.AccountInfo{}, &provider.AccountCreationError{
			Provider: a.Name(),
			Reason:   "project " + a.cfg.ProjectID + " is not reachable",
			Err:      err,
		}
	}

	ns := Namespace(req.StartupName, req.FounderEmail)
	a.log.Info().Str("namespace", ns).Msg("startup namespace allocated")
	return provider.AccountInfo{
		AccountID:   a.cfg.ProjectID + "/" + ns,
		AccountName: req.AccountName(),
		ConsoleURL:  "https://console.cloud.google.com/home/dashboard?project=" + a.cfg.ProjectID,
	}, nil
}

// CreateResource implements provider.Adapter.
func (a *Adapter) CreateResource(ctx context.Context, acc account.Account, def catalog.ServiceDefinition) (provider.ResourceDetails, error) {
	ns := namespaceOf(acc)
	switch def.ID {
	case "bigquery":
		return a.createDataset(ctx, acc, def, ns)
	case "cloud_storage":
		return a.createBucket(ctx, def, ns)
	default:
		return provider.ResourceDetails{}, provider.Unsupported(a.Name(), def)
	}
}

func (a *Adapter) resourceError(def catalog.ServiceDefinition, reason string, err error) *provider.ResourceProvisioningError {
	return &provider.ResourceProvisioningError{Service: def.ID, Provider: a.Name(), Reason: reason, Err: err}
}

// adopt decides whether an existing resource with our name belongs to ns.
func adopt(labels map[string]string, ns string) bool {
	return labels[namespaceLabel] == ns
}

func (a *Adapter) createDataset(ctx context.Context, acc account.Account, def catalog.ServiceDefinition, ns string) (provider.ResourceDetails, error) {
	id := datasetID(ns)
	labels := map[string]string{namespaceLabel: ns}
	desc := "Analytics dataset for " + acc.StartupName

	err := a.datasets.CreateDataset(ctx, id, a.cfg.Location, desc, labels)
	switch {
	case errors.Is(err, ErrAlreadyExists):
		existing, lerr := a.datasets.DatasetLabels(ctx, id)
		if lerr != nil {
			return provider.ResourceDetails{}, a.resourceError(def, "inspect existing dataset", lerr)
		}
		if !adopt(existing, ns) {
			return provider.ResourceDetails{}, a.resourceError(def, fmt.Sprintf("dataset %s belongs to another namespace", id), nil)
		}
		a.log.Info().Str("dataset", id).Msg("adopting existing dataset")
	case err != nil:
		return provider.ResourceDetails{}, a.resourceError(def, "create dataset", err)
	}

	p := a.cfg.ProjectID
	return provider.ResourceDetails{
		ResourceID:       id,
		Status:           account.ResourceAvailable,
		Region:           a.cfg.Location,
		Database:         id,
		ConnectionString: fmt.Sprintf("bigquery://%s/%s", p, id),
		ConsoleURL:       fmt.Sprintf("https://console.cloud.google.com/bigquery?project=%s&p=%s&d=%s&page=dataset", p, p, id),
	}, nil
}

func (a *Adapter) createBucket(ctx context.Context, def catalog.ServiceDefinition, ns string) (provider.ResourceDetails, error) {
	name := bucketName(ns)
	labels := map[string]string{namespaceLabel: ns}

	err := a.buckets.CreateBucket(ctx, name, a.cfg.Location, labels)
	switch {
	case errors.Is(err, ErrAlreadyExists):
		// bucket names are global: the conflict may be someone else's bucket
		existing, lerr := a.buckets.BucketLabels(ctx, name)
		if lerr != nil {
			return provider.ResourceDetails{}, a.resourceError(def, "bucket name "+name+" is taken", lerr)
		}
		if !adopt(existing, ns) {
			return provider.ResourceDetails{}, a.resourceError(def, fmt.Sprintf("bucket %s belongs to another namespace", name), nil)
		}
		a.log.Info().Str("bucket", name).Msg("adopting existing bucket")
	case err != nil:
		return provider.ResourceDetails{}, a.resourceError(def, "create bucket", err)
	}

	return provider.ResourceDetails{
		ResourceID:       name,
		Status:           account.ResourceAvailable,
		Region:           a.cfg.Location,
		ConnectionString: "gs://" + name,
		ConsoleURL:       fmt.Sprintf("https://console.cloud.google.com/storage/browser/%s?project=%s", name, a.cfg.ProjectID),
	}, nil
}

// DescribeResource implements provider.Adapter.
func (a *Adapter) DescribeResource(ctx context.Context, _ account.Account, res account.Resource) account.ResourceStatus {
	var err error
	switch res.Service {
	case "bigquery":
		_, err = a.datasets.DatasetLabels(ctx, res.ResourceID)
	case "cloud_storage":
		_, err = a.buckets.BucketLabels(ctx, res.ResourceID)
	default:
		return account.ResourceUnknown
	}

	switch {
	case err == nil:
		return account.ResourceAvailable
	case errors.Is(err, ErrNotFound):
		return account.ResourceFailed
	default:
		a.log.Warn().Err(err).Str("service", res.Service).Str("resource_id", res.ResourceID).Msg("describe failed")
		return account.ResourceUnknown
	}
}
