package aws

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	orgtypes "github.com/aws/aws-sdk-go-v2/service/organizations/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/stackforge/internal/provider"
	"github.com/yairfalse/stackforge/pkg/account"
)

var acmeRequest = provider.AccountRequest{
	Provider:     account.ProviderAWS,
	StartupName:  "Acme",
	FounderEmail: " Ada@Acme.io ",
	FounderName:  "Ada",
}

func testAdapter(org OrganizationsAPI, clients ClientFactory) *Adapter {
	return newAdapter(Config{
		Region:       "us-east-1",
		PollInterval: time.Millisecond,
		PollTimeout:  200 * time.Millisecond,
	}, org, clients, zerolog.Nop())
}

func TestAdapterName(t *testing.T) {
	assert.Equal(t, "aws", testAdapter(nil, nil).Name())
}

func TestConfigDefaults(t *testing.T) {
	var c Config
	c.applyDefaults()
	assert.Equal(t, "us-east-1", c.Region)
	assert.Equal(t, "OrganizationAccountAccessRole", c.RoleName)
	assert.Equal(t, "db.t3.micro", c.RDSInstanceClass)
	assert.Equal(t, "t3.micro", c.EC2InstanceType)
	assert.Equal(t, 5*time.Minute, c.PollTimeout)
}

func TestCreateAccount_PollsUntilSucceeded(t *testing.T) {
	var created *organizations.CreateAccountInput
	polls := 0
	org := &mockOrgClient{
		CreateAccountFunc: func(_ context.Context, in *organizations.CreateAccountInput, _ ...func(*organizations.Options)) (*organizations.CreateAccountOutput, error) {
			created = in
			return &organizations.CreateAccountOutput{
				CreateAccountStatus: &orgtypes.CreateAccountStatus{Id: aws.String("car-1"), State: orgtypes.CreateAccountStateInProgress},
			}, nil
		},
		DescribeCreateAccountStatusFunc: func(_ context.Context, in *organizations.DescribeCreateAccountStatusInput, _ ...func(*organizations.Options)) (*organizations.DescribeCreateAccountStatusOutput, error) {
			assert.Equal(t, "car-1", aws.ToString(in.CreateAccountRequestId))
			polls++
			state := orgtypes.CreateAccountStateInProgress
			if polls == 3 {
				state = orgtypes.CreateAccountStateSucceeded
			}
			return &organizations.DescribeCreateAccountStatusOutput{
				CreateAccountStatus: &orgtypes.CreateAccountStatus{State: state, AccountId: aws.String("123456789012")},
			}, nil
		},
	}

	info, err := testAdapter(org, nil).CreateAccount(context.Background(), acmeRequest)
	require.NoError(t, err)

	assert.Equal(t, "123456789012", info.AccountID)
	assert.Equal(t, "Stackforge-Acme", info.AccountName)
	assert.Equal(t, "https://123456789012.signin.aws.amazon.com/console", info.ConsoleURL)
	assert.Equal(t, 3, polls)

	require.NotNil(t, created)
	assert.Equal(t, "ada@acme.io", aws.ToString(created.Email))
	assert.Equal(t, "OrganizationAccountAccessRole", aws.ToString(created.RoleName))
	assert.Equal(t, "Stackforge-Acme", aws.ToString(created.AccountName))
}

func TestCreateAccount_ReusesExistingByEmail(t *testing.T) {
	pages := 0
	org := &mockOrgClient{
		ListAccountsFunc: func(_ context.Context, in *organizations.ListAccountsInput, _ ...func(*organizations.Options)) (*organizations.ListAccountsOutput, error) {
			pages++
			if in.NextToken == nil {
				return &organizations.ListAccountsOutput{
					Accounts: []orgtypes.Account{
						{Id: aws.String("111111111111"), Email: aws.String("other@x.io"), Status: orgtypes.AccountStatusActive},
						{Id: aws.String("222222222222"), Email: aws.String("ada@acme.io"), Status: orgtypes.AccountStatusSuspended},
					},
					NextToken: aws.String("page-2"),
				}, nil
			}
			return &organizations.ListAccountsOutput{
				Accounts: []orgtypes.Account{
					{Id: aws.String("333333333333"), Name: aws.String("Stackforge-Acme"), Email: aws.String("ADA@acme.io"), Status: orgtypes.AccountStatusActive},
				},
			}, nil
		},
		CreateAccountFunc: func(context.Context, *organizations.CreateAccountInput, ...func(*organizations.Options)) (*organizations.CreateAccountOutput, error) {
			t.Fatal("CreateAccount must not be called when the email is already registered")
			return nil, nil
		},
	}

	info, err := testAdapter(org, nil).CreateAccount(context.Background(), acmeRequest)
	require.NoError(t, err)
	assert.Equal(t, "333333333333", info.AccountID)
	assert.Equal(t, 2, pages)
}

func TestCreateAccount_ReuseUnderDifferentNameWarns(t *testing.T) {
	org := &mockOrgClient{
		ListAccountsFunc: func(context.Context, *organizations.ListAccountsInput, ...func(*organizations.Options)) (*organizations.ListAccountsOutput, error) {
			return &organizations.ListAccountsOutput{
				Accounts: []orgtypes.Account{
					{Id: aws.String("333333333333"), Name: aws.String("Stackforge-Globex"), Email: aws.String("ada@acme.io"), Status: orgtypes.AccountStatusActive},
				},
			}, nil
		},
	}
	var buf bytes.Buffer
	a := newAdapter(Config{PollInterval: time.Millisecond, PollTimeout: time.Second}, org, nil, zerolog.New(&buf))

	info, err := a.CreateAccount(context.Background(), acmeRequest)
	require.NoError(t, err)
	assert.Equal(t, "333333333333", info.AccountID)
	assert.Equal(t, "Stackforge-Globex", info.AccountName)

	out := buf.String()
	assert.Contains(t, out, `"level":"warn"`)
	assert.Contains(t, out, `"account_name":"Stackforge-Globex"`)
	assert.Contains(t, out, `"requested_name":"Stackforge-Acme"`)
}

func TestCreateAccount_ReuseUnderSameNameDoesNotWarn(t *testing.T) {
	org := &mockOrgClient{
		ListAccountsFunc: func(context.Context, *organizations.ListAccountsInput, ...func(*organizations.Options)) (*organizations.ListAccountsOutput, error) {
			return &organizations.ListAccountsOutput{
				Accounts: []orgtypes.Account{
					{Id: aws.String("333333333333"), Name: aws.String("Stackforge-Acme"), Email: aws.String("ada@acme.io"), Status: orgtypes.AccountStatusActive},
				},
			}, nil
		},
	}
	var buf bytes.Buffer
	a := newAdapter(Config{PollInterval: time.Millisecond, PollTimeout: time.Second}, org, nil, zerolog.New(&buf))

	_, err := a.CreateAccount(context.Background(), acmeRequest)
	require.NoError(t, err)
	assert.NotContains(t, buf.String(), `"level":"warn"`)
}

func TestCreateAccount_ProviderFailure(t *testing.T) {
	org := &mockOrgClient{
		CreateAccountFunc: func(context.Context, *organizations.CreateAccountInput, ...func(*organizations.Options)) (*organizations.CreateAccountOutput, error) {
			return &organizations.CreateAccountOutput{
				CreateAccountStatus: &orgtypes.CreateAccountStatus{Id: aws.String("car-1")},
			}, nil
		},
		DescribeCreateAccountStatusFunc: func(context.Context, *organizations.DescribeCreateAccountStatusInput, ...func(*organizations.Options)) (*organizations.DescribeCreateAccountStatusOutput, error) {
			return &organizations.DescribeCreateAccountStatusOutput{
				CreateAccountStatus: &orgtypes.CreateAccountStatus{
					State:         orgtypes.CreateAccountStateFailed,
					FailureReason: orgtypes.CreateAccountFailureReasonEmailAlreadyExists,
				},
			}, nil
		},
	}

	_, err := testAdapter(org, nil).CreateAccount(context.Background(), acmeRequest)

	var accErr *provider.AccountCreationError
	require.True(t, errors.As(err, &accErr))
	assert.Contains(t, accErr.Reason, "EMAIL_ALREADY_EXISTS")
}

func TestCreateAccount_APIErrorCode(t *testing.T) {
	org := &mockOrgClient{
		CreateAccountFunc: func(context.Context, *organizations.CreateAccountInput, ...func(*organizations.Options)) (*organizations.CreateAccountOutput, error) {
			return nil, &smithy.GenericAPIError{Code: "AccessDeniedException", Message: "not the management account"}
		},
	}

	_, err := testAdapter(org, nil).CreateAccount(context.Background(), acmeRequest)

	var accErr *provider.AccountCreationError
	require.True(t, errors.As(err, &accErr))
	assert.Equal(t, "create account (AccessDeniedException)", accErr.Reason)

	var apiErr smithy.APIError
	assert.True(t, errors.As(err, &apiErr))
}

func TestCreateAccount_PollTimeout(t *testing.T) {
	org := &mockOrgClient{
		CreateAccountFunc: func(context.Context, *organizations.CreateAccountInput, ...func(*organizations.Options)) (*organizations.CreateAccountOutput, error) {
			return &organizations.CreateAccountOutput{
				CreateAccountStatus: &orgtypes.CreateAccountStatus{Id: aws.String("car-1")},
			}, nil
		},
		DescribeCreateAccountStatusFunc: func(context.Context, *organizations.DescribeCreateAccountStatusInput, ...func(*organizations.Options)) (*organizations.DescribeCreateAccountStatusOutput, error) {
			return &organizations.DescribeCreateAccountStatusOutput{
				CreateAccountStatus: &orgtypes.CreateAccountStatus{State: orgtypes.CreateAccountStateInProgress},
			}, nil
		},
	}

	a := testAdapter(org, nil)
	a.cfg.PollTimeout = 20 * time.Millisecond
	_, err := a.CreateAccount(context.Background(), acmeRequest)

	var accErr *provider.AccountCreationError
	require.True(t, errors.As(err, &accErr))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCreateAccount_CancelledWhilePolling(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	org := &mockOrgClient{
		CreateAccountFunc: func(context.Context, *organizations.CreateAccountInput, ...func(*organizations.Options)) (*organizations.CreateAccountOutput, error) {
			return &organizations.CreateAccountOutput{
				CreateAccountStatus: &orgtypes.CreateAccountStatus{Id: aws.String("car-1")},
			}, nil
		},
		DescribeCreateAccountStatusFunc: func(context.Context, *organizations.DescribeCreateAccountStatusInput, ...func(*organizations.Options)) (*organizations.DescribeCreateAccountStatusOutput, error) {
			cancel()
			return &organizations.DescribeCreateAccountStatusOutput{
				CreateAccountStatus: &orgtypes.CreateAccountStatus{State: orgtypes.CreateAccountStateInProgress},
			}, nil
		},
	}

	a := testAdapter(org, nil)
	a.cfg.PollInterval = time.Hour
	a.cfg.PollTimeout = time.Hour
	_, err := a.CreateAccount(ctx, acmeRequest)

	var accErr *provider.AccountCreationError
	require.True(t, errors.As(err, &accErr))
	assert.Equal(t, "cancelled while waiting for account", accErr.Reason)
	assert.NotContains(t, accErr.Error(), "not ready after")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCreateAccount_PollTimeoutReason(t *testing.T) {
	org := &mockOrgClient{
		CreateAccountFunc: func(context.Context, *organizations.CreateAccountInput, ...func(*organizations.Options)) (*organizations.CreateAccountOutput, error) {
			return &organizations.CreateAccountOutput{
				CreateAccountStatus: &orgtypes.CreateAccountStatus{Id: aws.String("car-1")},
			}, nil
		},
		DescribeCreateAccountStatusFunc: func(context.Context, *organizations.DescribeCreateAccountStatusInput, ...func(*organizations.Options)) (*organizations.DescribeCreateAccountStatusOutput, error) {
			return &organizations.DescribeCreateAccountStatusOutput{
				CreateAccountStatus: &orgtypes.CreateAccountStatus{State: orgtypes.CreateAccountStateInProgress},
			}, nil
		},
	}

	a := testAdapter(org, nil)
	a.cfg.PollTimeout = 20 * time.Millisecond
	_, err := a.CreateAccount(context.Background(), acmeRequest)

	var accErr *provider.AccountCreationError
	require.True(t, errors.As(err, &accErr))
	assert.Equal(t, "account not ready after 20ms", accErr.Reason)
}

func TestCreateAccount_ListFailure(t *testing.T) {
	org := &mockOrgClient{
		ListAccountsFunc: func(context.Context, *organizations.ListAccountsInput, ...func(*organizations.Options)) (*organizations.ListAccountsOutput, error) {
			return nil, errors.New("network down")
		},
	}

	_, err := testAdapter(org, nil).CreateAccount(context.Background(), acmeRequest)

	var accErr *provider.AccountCreationError
	require.True(t, errors.As(err, &accErr))
	assert.Contains(t, accErr.Error(), "network down")
}
