package aws

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/redshift"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// assumeRoleFactory builds clients that assume a role in each sub-account.
// Clients are cached per account; credentials refresh through the cache.
type assumeRoleFactory struct {
	base       aws.Config
	sts        stscreds.AssumeRoleAPIClient
	roleName   string
	assumeRole bool

	mu    sync.Mutex
	cache map[string]*Clients
}

func newAssumeRoleFactory(base aws.Config, roleName string, assumeRole bool) *assumeRoleFactory {
	return &assumeRoleFactory{
		base:       base,
		sts:        sts.NewFromConfig(base),
		roleName:   roleName,
		assumeRole: assumeRole,
		cache:      make(map[string]*Clients),
	}
}

// ForAccount implements ClientFactory.
func (f *assumeRoleFactory) ForAccount(_ context.Context, accountID string) (*Clients, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.cache[accountID]; ok {
		return c, nil
	}

	cfg := f.base.Copy()
	if f.assumeRole {
		arn := "arn:aws:iam::" + accountID + ":role/" + f.roleName
		creds := stscreds.NewAssumeRoleProvider(f.sts, arn, func(o *stscreds.AssumeRoleOptions) {
			o.RoleSessionName = "stackforge-" + accountID
		})
		cfg.Credentials = aws.NewCredentialsCache(creds)
	}

	c := &Clients{
		RDS:      rds.NewFromConfig(cfg),
		Redshift: redshift.NewFromConfig(cfg),
		EC2:      ec2.NewFromConfig(cfg),
		S3:       s3.NewFromConfig(cfg),
		DynamoDB: dynamodb.NewFromConfig(cfg),
		Glue:     glue.NewFromConfig(cfg),
	}
	f.cache[accountID] = c
	return c, nil
}
