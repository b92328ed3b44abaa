package provider

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/stackforge/internal/catalog"
	"github.com/yairfalse/stackforge/pkg/account"
)

// namedAdapter implements Adapter with no behaviour.
type namedAdapter struct{ name string }

func (a *namedAdapter) Name() string { return a.name }

func (a *namedAdapter) CreateAccount(context.Context, AccountRequest) (AccountInfo, error) {
	return AccountInfo{}, nil
}

func (a *namedAdapter) CreateResource(context.Context, account.Account, catalog.ServiceDefinition) (ResourceDetails, error) {
	return ResourceDetails{}, nil
}

func (a *namedAdapter) DescribeResource(context.Context, account.Account, account.Resource) account.ResourceStatus {
	return account.ResourceUnknown
}

func TestRegistry_ServiceOverrideWins(t *testing.T) {
	r := NewRegistry()
	sandbox := &namedAdapter{name: "sandbox"}
	minio := &namedAdapter{name: "minio"}
	r.Register(account.ProviderThirdParty, sandbox)
	r.RegisterService("minio", minio)

	got, ok := r.ForService(catalog.ServiceDefinition{ID: "minio", Provider: account.ProviderThirdParty})
	require.True(t, ok)
	assert.Equal(t, "minio", got.Name())

	got, ok = r.ForService(catalog.ServiceDefinition{ID: "tableau", Provider: account.ProviderThirdParty})
	require.True(t, ok)
	assert.Equal(t, "sandbox", got.Name())
}

func TestRegistry_Missing(t *testing.T) {
	r := NewRegistry()
	_, ok := r.ForProvider(account.ProviderGCP)
	assert.False(t, ok)
	_, ok = r.ForService(catalog.ServiceDefinition{ID: "bigquery", Provider: account.ProviderGCP})
	assert.False(t, ok)
}

func TestRegistry_RegisterReplaces(t *testing.T) {
	r := NewRegistry()
	r.Register(account.ProviderAWS, &namedAdapter{name: "sandbox"})
	r.Register(account.ProviderAWS, &namedAdapter{name: "aws"})

	got, ok := r.ForProvider(account.ProviderAWS)
	require.True(t, ok)
	assert.Equal(t, "aws", got.Name())
	assert.Equal(t, []string{"aws=aws"}, r.Bindings())
}

func TestResourceDetails_ToResource(t *testing.T) {
	now := time.Now()
	def := catalog.ServiceDefinition{ID: "aws_rds", Name: "AWS RDS", Category: catalog.CategoryDatabase, Provider: account.ProviderAWS}

	r := ResourceDetails{ResourceID: "acme-db", Port: 5432}.ToResource(def, now)
	assert.Equal(t, "aws_rds", r.Service)
	assert.Equal(t, "AWS RDS", r.DisplayName)
	assert.Equal(t, "database", r.Category)
	assert.Equal(t, account.ResourceCreating, r.Status, "empty status defaults to creating")
	assert.Equal(t, 5432, r.Port)
	assert.Equal(t, now, r.CreatedAt)

	r = ResourceDetails{Status: account.ResourceAvailable}.ToResource(def, now)
	assert.Equal(t, account.ResourceAvailable, r.Status)
}

func TestErrors_Unwrap(t *testing.T) {
	cause := errors.New("throttled")

	accErr := &AccountCreationError{Provider: "aws", Reason: "create account", Err: cause}
	assert.ErrorIs(t, accErr, cause)
	assert.Contains(t, accErr.Error(), "throttled")

	resErr := &ResourceProvisioningError{Service: "s3", Provider: "aws", Reason: "create bucket", Err: cause}
	assert.ErrorIs(t, resErr, cause)
	assert.Contains(t, resErr.Error(), "s3")

	unsupported := Unsupported("sandbox", catalog.ServiceDefinition{ID: "x"})
	assert.Nil(t, unsupported.Unwrap())
	assert.Contains(t, unsupported.Error(), "not supported")
}

func TestNaming(t *testing.T) {
	acc := account.Account{StartupName: "Acme Robotics"}
	assert.Equal(t, "acme-robotics-db", ResourceName(acc, "db"))

	a, b := UniqueName(acc, "storage"), UniqueName(acc, "storage")
	assert.True(t, strings.HasPrefix(a, "acme-robotics-storage-"))
	assert.Len(t, a, len("acme-robotics-storage-")+8)
	assert.NotEqual(t, a, b)
}

func TestGeneratePassword(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		p, err := GeneratePassword(16)
		require.NoError(t, err)
		assert.Len(t, p, 16)
		assert.True(t, hasClasses(p))
		assert.NotContainsf(t, p, "/", "password %q", p)
		seen[p] = true
	}
	assert.Len(t, seen, 20)

	short, err := GeneratePassword(3)
	require.NoError(t, err)
	assert.Len(t, short, 8)
}

func TestAccountRequest_AccountName(t *testing.T) {
	assert.Equal(t, "Stackforge-Acme", AccountRequest{StartupName: "Acme"}.AccountName())
}

type observingAdapter struct {
	namedAdapter
	obs Observation
}

func (a *observingAdapter) Observe(context.Context, account.Account, account.Resource) Observation {
	return a.obs
}

func TestInspect(t *testing.T) {
	plain := &namedAdapter{name: "plain"}
	got := Inspect(context.Background(), plain, account.Account{}, account.Resource{})
	assert.Equal(t, Observation{Status: account.ResourceUnknown}, got)

	observing := &observingAdapter{obs: Observation{Status: account.ResourceAvailable, Endpoint: "db.example"}}
	got = Inspect(context.Background(), observing, account.Account{}, account.Resource{})
	assert.Equal(t, "db.example", got.Endpoint)
}

func TestObservation_Apply(t *testing.T) {
	res := account.Resource{Service: "aws_rds", Status: account.ResourceCreating, Port: 5432}

	assert.False(t, Observation{Status: account.ResourceUnknown}.Apply(&res))
	assert.Equal(t, account.ResourceCreating, res.Status)

	changed := Observation{Status: account.ResourceAvailable, Endpoint: "acme-db.abc.rds.amazonaws.com", Port: 5432}.Apply(&res)
	assert.True(t, changed)
	assert.Equal(t, account.ResourceAvailable, res.Status)
	assert.Equal(t, "acme-db.abc.rds.amazonaws.com", res.Endpoint)

	assert.False(t, Observation{Status: account.ResourceAvailable}.Apply(&res))
}
