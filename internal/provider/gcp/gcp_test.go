package gcp

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/stackforge/internal/catalog"
	"github.com/yairfalse/stackforge/internal/provider"
	"github.com/yairfalse/stackforge/pkg/account"
)

type mockBuckets struct {
	ServiceAccountFunc func(ctx context.Context) (string, error)
	CreateBucketFunc   func(ctx context.Context, name, location string, labels map[string]string) error
	BucketLabelsFunc   func(ctx context.Context, name string) (map[string]string, error)
}

func (m *mockBuckets) ServiceAccount(ctx context.Context) (string, error) {
	if m.ServiceAccountFunc != nil {
		return m.ServiceAccountFunc(ctx)
	}
	return "service-1@gs-project-accounts.iam.gserviceaccount.com", nil
}

func (m *mockBuckets) CreateBucket(ctx context.Context, name, location string, labels map[string]string) error {
	if m.CreateBucketFunc != nil {
		return m.CreateBucketFunc(ctx, name, location, labels)
	}
	return nil
}

func (m *mockBuckets) BucketLabels(ctx context.Context, name string) (map[string]string, error) {
	if m.BucketLabelsFunc != nil {
		return m.BucketLabelsFunc(ctx, name)
	}
	return nil, ErrNotFound
}

type mockDatasets struct {
	CreateDatasetFunc func(ctx context.Context, id, location, description string, labels map[string]string) error
	DatasetLabelsFunc func(ctx context.Context, id string) (map[string]string, error)
}

func (m *mockDatasets) CreateDataset(ctx context.Context, id, location, description string, labels map[string]string) error {
	if m.CreateDatasetFunc != nil {
		return m.CreateDatasetFunc(ctx, id, location, description, labels)
	}
	return nil
}

func (m *mockDatasets) DatasetLabels(ctx context.Context, id string) (map[string]string, error) {
	if m.DatasetLabelsFunc != nil {
		return m.DatasetLabelsFunc(ctx, id)
	}
	return nil, ErrNotFound
}

func testAdapter(b *mockBuckets, d *mockDatasets) *Adapter {
	return newAdapter(Config{ProjectID: "platform-prod"}, b, d, zerolog.Nop())
}

func def(t *testing.T, id string) catalog.ServiceDefinition {
	t.Helper()
	d, ok := catalog.Default().Lookup(id)
	require.True(t, ok, id)
	return d
}

func acmeAccount() account.Account {
	ns := Namespace("Acme", "a@acme.io")
	return account.Account{
		StartupName:  "Acme",
		FounderEmail: "a@acme.io",
		AccountID:    "platform-prod/" + ns,
		Provider:     account.ProviderGCP,
	}
}

// ══════════════════════════════════════════════════════════════════════
// Namespaces and accounts
// ══════════════════════════════════════════════════════════════════════

func TestNamespace_StableAndDistinct(t *testing.T) {
	a := Namespace("Acme", "a@acme.io")

	assert.Equal(t, a, Namespace(" acme ", "A@ACME.IO"))
	assert.NotEqual(t, a, Namespace("Acme", "b@acme.io"))
	assert.True(t, strings.HasPrefix(a, "acme-"))
	assert.Len(t, a, len("acme-")+8)
	assert.LessOrEqual(t, len(bucketName(Namespace(strings.Repeat("x", 80), "a@b.io"))), 63)
}

func TestCreateAccount_AllocatesNamespace(t *testing.T) {
	a := testAdapter(&mockBuckets{}, &mockDatasets{})

	info, err := a.CreateAccount(context.Background(), provider.AccountRequest{
		Provider:     account.ProviderGCP,
		StartupName:  "Acme",
		FounderEmail: "a@acme.io",
	})
	require.NoError(t, err)

	assert.Equal(t, "platform-prod/"+Namespace("Acme", "a@acme.io"), info.AccountID)
	assert.Equal(t, "Stackforge-Acme", info.AccountName)
	assert.Contains(t, info.ConsoleURL, "project=platform-prod")
	assert.False(t, info.Simulated)
}

func TestCreateAccount_ProjectUnreachable(t *testing.T) {
	a := testAdapter(&mockBuckets{
		ServiceAccountFunc: func(context.Context) (string, error) {
			return "", errors.New("permission denied")
		},
	}, &mockDatasets{})

	_, err := a.CreateAccount(context.Background(), provider.AccountRequest{StartupName: "Acme", FounderEmail: "a@acme.io"})

	var accErr *provider.AccountCreationError
	require.ErrorAs(t, err, &accErr)
	assert.Equal(t, "gcp", accErr.Provider)
	assert.Contains(t, accErr.Reason, "platform-prod")
}

// ══════════════════════════════════════════════════════════════════════
// Resources
// ══════════════════════════════════════════════════════════════════════

func TestCreateResource_BigQueryDataset(t *testing.T) {
	var gotID string
	var gotLabels map[string]string
	a := testAdapter(&mockBuckets{}, &mockDatasets{
		CreateDatasetFunc: func(_ context.Context, id, location, _ string, labels map[string]string) error {
			gotID = id
			gotLabels = labels
			assert.Equal(t, "US", location)
			return nil
		},
	})
	acc := acmeAccount()

	d, err := a.CreateResource(context.Background(), acc, def(t, "bigquery"))
	require.NoError(t, err)

	ns := namespaceOf(acc)
	assert.Equal(t, datasetID(ns), gotID)
	assert.NotContains(t, gotID, "-")
	assert.Equal(t, ns, gotLabels[namespaceLabel])
	assert.Equal(t, account.ResourceAvailable, d.Status)
	assert.Equal(t, "bigquery://platform-prod/"+gotID, d.ConnectionString)
	assert.Equal(t, gotID, d.Database)
}

func TestCreateResource_BucketAdoptsOwnBucket(t *testing.T) {
	acc := acmeAccount()
	ns := namespaceOf(acc)
	a := testAdapter(&mockBuckets{
		CreateBucketFunc: func(context.Context, string, string, map[string]string) error {
			return ErrAlreadyExists
		},
		BucketLabelsFunc: func(context.Context, string) (map[string]string, error) {
			return map[string]string{namespaceLabel: ns}, nil
		},
	}, &mockDatasets{})

	d, err := a.CreateResource(context.Background(), acc, def(t, "cloud_storage"))
	require.NoError(t, err)

	assert.Equal(t, bucketName(ns), d.ResourceID)
	assert.Equal(t, "gs://"+bucketName(ns), d.ConnectionString)
	assert.Equal(t, account.ResourceAvailable, d.Status)
}

func TestCreateResource_BucketNameTakenElsewhere(t *testing.T) {
	a := testAdapter(&mockBuckets{
		CreateBucketFunc: func(context.Context, string, string, map[string]string) error {
			return ErrAlreadyExists
		},
		BucketLabelsFunc: func(context.Context, string) (map[string]string, error) {
			return map[string]string{namespaceLabel: "someone-else"}, nil
		},
	}, &mockDatasets{})

	_, err := a.CreateResource(context.Background(), acmeAccount(), def(t, "cloud_storage"))

	var resErr *provider.ResourceProvisioningError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, "cloud_storage", resErr.Service)
	assert.Contains(t, resErr.Reason, "another namespace")
}

func TestCreateResource_DatasetError(t *testing.T) {
	a := testAdapter(&mockBuckets{}, &mockDatasets{
		CreateDatasetFunc: func(context.Context, string, string, string, map[string]string) error {
			return errors.New("quota exceeded")
		},
	})

	_, err := a.CreateResource(context.Background(), acmeAccount(), def(t, "bigquery"))

	var resErr *provider.ResourceProvisioningError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, "create dataset", resErr.Reason)
}

func TestCreateResource_Unsupported(t *testing.T) {
	a := testAdapter(&mockBuckets{}, &mockDatasets{})

	_, err := a.CreateResource(context.Background(), acmeAccount(), def(t, "gcp_cloud_sql"))

	var resErr *provider.ResourceProvisioningError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, "service not supported by adapter", resErr.Reason)
}

func TestDescribeResource(t *testing.T) {
	tests := []struct {
		name string
		res  account.Resource
		err  error
		want account.ResourceStatus
	}{
		{"dataset present", account.Resource{Service: "bigquery", ResourceID: "ds"}, nil, account.ResourceAvailable},
		{"bucket missing", account.Resource{Service: "cloud_storage", ResourceID: "b"}, ErrNotFound, account.ResourceFailed},
		{"transient", account.Resource{Service: "bigquery", ResourceID: "ds"}, errors.New("503"), account.ResourceUnknown},
		{"unsupported", account.Resource{Service: "firestore"}, nil, account.ResourceUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lookup := func(context.Context, string) (map[string]string, error) {
				return map[string]string{}, tt.err
			}
			a := testAdapter(&mockBuckets{BucketLabelsFunc: lookup}, &mockDatasets{DatasetLabelsFunc: lookup})

			assert.Equal(t, tt.want, a.DescribeResource(context.Background(), acmeAccount(), tt.res))
		})
	}
}
