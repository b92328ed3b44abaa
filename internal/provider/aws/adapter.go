// Package aws provisions sub-accounts through AWS Organizations and
// resources inside them.
package aws

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	orgtypes "github.com/aws/aws-sdk-go-v2/service/organizations/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"

	"github.com/yairfalse/stackforge/internal/provider"
)

// Config holds AWS adapter configuration.
type Config struct {
	Region string

	// Profile selects a shared config profile; empty uses the default chain
	Profile string

	// RoleName is the role Organizations creates in every new account and
	// the adapter assumes to build resources there
	RoleName string

	// AssumeRole false uses the management credentials for resources
	AssumeRole bool

	PollInterval time.Duration
	PollTimeout  time.Duration

	EC2ImageID       string
	EC2InstanceType  string
	RDSInstanceClass string
	RedshiftNodeType string
}

func (c *Config) applyDefaults() {
	if c.Region == "" {
		c.Region = "us-east-1"
	}
	if c.RoleName == "" {
		c.RoleName = "OrganizationAccountAccessRole"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 5 * time.Minute
	}
	if c.EC2ImageID == "" {
		c.EC2ImageID = "ami-0c02fb55956c7d316"
	}
	if c.EC2InstanceType == "" {
		c.EC2InstanceType = "t3.micro"
	}
	if c.RDSInstanceClass == "" {
		c.RDSInstanceClass = "db.t3.micro"
	}
	if c.RedshiftNodeType == "" {
		c.RedshiftNodeType = "dc2.large"
	}
}

// Adapter implements provider.Adapter for AWS.
type Adapter struct {
	cfg     Config
	org     OrganizationsAPI
	clients ClientFactory
	log     zerolog.Logger
}

// New creates an AWS adapter using the default credential chain as the
// organization management account.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (*Adapter, error) {
	cfg.applyDefaults()

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.Profile))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return newAdapter(cfg, organizations.NewFromConfig(awsCfg), newAssumeRoleFactory(awsCfg, cfg.RoleName, cfg.AssumeRole), logger), nil
}

func newAdapter(cfg Config, org OrganizationsAPI, clients ClientFactory, logger zerolog.Logger) *Adapter {
	cfg.applyDefaults()
	return &Adapter{
		cfg:     cfg,
		org:     org,
		clients: clients,
		log:     logger.With().Str("adapter", "aws").Logger(),
	}
}

// Name returns the adapter identifier.
func (a *Adapter) Name() string {
	return "aws"
}

// CreateAccount reuses an active organization account registered to the
// founder email, or creates one and waits until Organizations reports it.
func (a *Adapter) CreateAccount(ctx context.Context, req provider.AccountRequest) (provider.AccountInfo, error) {
	existing, err := a.findAccount(ctx, req.FounderEmail)
	if err != nil {
		return provider.AccountInfo{}, accountError("list accounts", err)
	}
	if existing != nil {
		id, name := aws.ToString(existing.Id), aws.ToString(existing.Name)
		// Organizations allows one account per email, so the email alone
		// decides reuse. A different name means another startup of the same
		// founder will share this account.
		if name != req.AccountName() {
			a.log.Warn().
				Str("account_id", id).
				Str("account_name", name).
				Str("requested_name", req.AccountName()).
				Msg("reusing organization account registered to founder email under a different name")
		} else {
			a.log.Info().Str("account_id", id).Msg("reusing organization account")
		}
		return a.accountInfo(id, name), nil
	}

	out, err := a.org.CreateAccount(ctx, &organizations.CreateAccountInput{
		AccountName: aws.String(req.AccountName()),
		Email:       aws.String(strings.ToLower(strings.TrimSpace(req.FounderEmail))),
		RoleName:    aws.String(a.cfg.RoleName),
		Tags: []orgtypes.Tag{
			{Key: aws.String("ManagedBy"), Value: aws.String("stackforge")},
			{Key: aws.String("Founder"), Value: aws.String(req.FounderName)},
		},
	})
	if err != nil {
		return provider.AccountInfo{}, accountError("create account", err)
	}
	if out.CreateAccountStatus == nil || out.CreateAccountStatus.Id == nil {
		return provider.AccountInfo{}, accountError("create account", errors.New("no request id returned"))
	}

	requestID := aws.ToString(out.CreateAccountStatus.Id)
	a.log.Info().Str("request_id", requestID).Msg("account creation requested")

	accountID, err := a.waitForAccount(ctx, requestID)
	if err != nil {
		return provider.AccountInfo{}, err
	}
	return a.accountInfo(accountID, req.AccountName()), nil
}

func (a *Adapter) findAccount(ctx context.Context, email string) (*orgtypes.Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	input := &organizations.ListAccountsInput{}
	for {
		out, err := a.org.ListAccounts(ctx, input)
		if err != nil {
			return nil, err
		}
		for i := range out.Accounts {
			acc := out.Accounts[i]
			if strings.EqualFold(aws.ToString(acc.Email), email) && acc.Status == orgtypes.AccountStatusActive {
				return &acc, nil
			}
		}
		if out.NextToken == nil {
			return nil, nil
		}
		input.NextToken = out.NextToken
	}
}

func (a *Adapter) waitForAccount(parent context.Context, requestID string) (string, error) {
	ctx, cancel := context.WithTimeout(parent, a.cfg.PollTimeout)
	defer cancel()

	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	for {
		out, err := a.org.DescribeCreateAccountStatus(ctx, &organizations.DescribeCreateAccountStatusInput{
			CreateAccountRequestId: aws.String(requestID),
		})
		if err != nil && ctx.Err() == nil {
			return "", accountError("describe create account status", err)
		}

		if err == nil && out.CreateAccountStatus != nil {
			status := out.CreateAccountStatus
			switch status.State {
			case orgtypes.CreateAccountStateSucceeded:
				return aws.ToString(status.AccountId), nil
			case orgtypes.CreateAccountStateFailed:
				return "", &provider.AccountCreationError{
					Provider: "aws",
					Reason:   "account creation failed: " + string(status.FailureReason),
				}
			}
			a.log.Debug().Str("request_id", requestID).Str("state", string(status.State)).Msg("waiting for account")
		}

		select {
		case <-ctx.Done():
			return "", a.waitError(parent, ctx, requestID)
		case <-ticker.C:
		}
	}
}

// waitError separates a cancelled or expired caller context from the
// poll timeout. Organizations keeps creating the account either way and
// the next request finds it by email.
func (a *Adapter) waitError(parent, ctx context.Context, requestID string) *provider.AccountCreationError {
	reason := fmt.Sprintf("account not ready after %s", a.cfg.PollTimeout)
	switch err := parent.Err(); {
	case errors.Is(err, context.Canceled):
		reason = "cancelled while waiting for account"
	case errors.Is(err, context.DeadlineExceeded):
		reason = "request deadline passed while waiting for account"
	}
	a.log.Warn().Str("request_id", requestID).Str("reason", reason).Msg("stopped waiting for account")
	return &provider.AccountCreationError{Provider: "aws", Reason: reason, Err: ctx.Err()}
}

func (a *Adapter) accountInfo(id, name string) provider.AccountInfo {
	return provider.AccountInfo{
		AccountID:   id,
		AccountName: name,
		ConsoleURL:  "https://" + id + ".signin.aws.amazon.com/console",
	}
}

func accountError(op string, err error) *provider.AccountCreationError {
	return &provider.AccountCreationError{Provider: "aws", Reason: op + errorCode(err), Err: err}
}

// errorCode returns " (<code>)" for AWS API errors.
func errorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return " (" + apiErr.ErrorCode() + ")"
	}
	return ""
}
