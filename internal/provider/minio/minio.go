// Package minio provisions per-startup buckets on a shared MinIO cluster.
// Each startup gets a bucket, a dedicated user and a policy limiting that
// user to the bucket.
package minio

import (
	"context"
	"fmt"
	"strings"

	"github.com/minio/madmin-go/v3"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"github.com/yairfalse/stackforge/internal/catalog"
	"github.com/yairfalse/stackforge/internal/provider"
	"github.com/yairfalse/stackforge/pkg/account"
)

// ObjectAPI is the subset of minio.Client used here.
type ObjectAPI interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
}

// AdminAPI is the subset of madmin.AdminClient used here.
type AdminAPI interface {
	AddUser(ctx context.Context, accessKey, secretKey string) error
	AddCannedPolicy(ctx context.Context, policyName string, policy []byte) error
	SetPolicy(ctx context.Context, policyName, entityName string, isGroup bool) error
}

// Config holds MinIO connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string

	// ConsoleURL is the base of the MinIO web console, if exposed
	ConsoleURL string
}

// Adapter implements provider.Adapter for the minio service.
type Adapter struct {
	cfg    Config
	object ObjectAPI
	admin  AdminAPI
	log    zerolog.Logger
}

// New connects to MinIO with root credentials.
func New(cfg Config, logger zerolog.Logger) (*Adapter, error) {
	if cfg.Endpoint == "" || cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("minio configuration is incomplete")
	}

	object, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize minio client: %w", err)
	}

	admin, err := madmin.New(cfg.Endpoint, cfg.AccessKey, cfg.SecretKey, cfg.UseSSL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize minio admin client: %w", err)
	}

	return newAdapter(cfg, object, admin, logger), nil
}

func newAdapter(cfg Config, object ObjectAPI, admin AdminAPI, logger zerolog.Logger) *Adapter {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	return &Adapter{
		cfg:    cfg,
		object: object,
		admin:  admin,
		log:    logger.With().Str("adapter", "minio").Logger(),
	}
}

// Name returns the adapter identifier.
func (a *Adapter) Name() string { return "minio" }

// CreateAccount is not supported: MinIO buckets live under the account of
// the cloud provider or of the platform itself.
func (a *Adapter) CreateAccount(context.Context, provider.AccountRequest) (provider.AccountInfo, error) {
	return provider.AccountInfo{}, &provider.AccountCreationError{Provider: a.Name(), Reason: "minio does not host sub-accounts"}
}

// bucketName returns the startup's bucket. It is stable per startup, so a
// retried request finds the bucket it created before.
func bucketName(acc account.Account) string {
	name := "stackforge-" + account.Slug(acc.StartupName)
	if len(name) > 63 {
		name = strings.TrimSuffix(name[:63], "-")
	}
	return name
}

func bucketPolicy(bucket string) []byte {
	return []byte(fmt.Sprintf(`{
	"Version": "2012-10-17",
	"Statement": [
		{
			"Effect": "Allow",
			"Action": ["s3:GetBucketLocation", "s3:ListBucket"],
			"Resource": ["arn:aws:s3:::%s"]
		},
		{
			"Effect": "Allow",
			"Action": ["s3:GetObject", "s3:PutObject", "s3:DeleteObject"],
			"Resource": ["arn:aws:s3:::%s/*"]
		}
	]
}`, bucket, bucket))
}

// CreateResource implements provider.Adapter.
func (a *Adapter) CreateResource(ctx context.Context, acc account.Account, def catalog.ServiceDefinition) (provider.ResourceDetails, error) {
	fail := func(reason string, err error) (provider.ResourceDetails, error) {
		return provider.ResourceDetails{}, &provider.ResourceProvisioningError{Service: def.ID, Provider: a.Name(), Reason: reason, Err: err}
	}

	bucket := bucketName(acc)
	exists, err := a.object.BucketExists(ctx, bucket)
	if err != nil {
		return fail("check bucket", err)
	}
	if !exists {
		if err := a.object.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: a.cfg.Region}); err != nil {
			return fail("create bucket", err)
		}
	}

	policyName := bucket + "-rw"
	if err := a.admin.AddCannedPolicy(ctx, policyName, bucketPolicy(bucket)); err != nil {
		return fail("create policy", err)
	}

	secret, err := provider.GeneratePassword(32)
	if err != nil {
		return fail("generate secret", err)
	}
	// AddUser on an existing user rotates its secret
	if err := a.admin.AddUser(ctx, bucket, secret); err != nil {
		return fail("create user", err)
	}
	if err := a.admin.SetPolicy(ctx, policyName, bucket, false); err != nil {
		return fail("attach policy", err)
	}

	a.log.Info().Str("bucket", bucket).Bool("reused", exists).Msg("minio bucket ready")

	scheme := "http"
	if a.cfg.UseSSL {
		scheme = "https"
	}
	d := provider.ResourceDetails{
		ResourceID:       bucket,
		Status:           account.ResourceAvailable,
		Region:           a.cfg.Region,
		Endpoint:         a.cfg.Endpoint,
		Username:         bucket,
		Password:         secret,
		ConnectionString: fmt.Sprintf("%s://%s/%s", scheme, a.cfg.Endpoint, bucket),
	}
	if a.cfg.ConsoleURL != "" {
		d.ConsoleURL = strings.TrimSuffix(a.cfg.ConsoleURL, "/") + "/browser/" + bucket
	}
	return d, nil
}

// DescribeResource implements provider.Adapter.
func (a *Adapter) DescribeResource(ctx context.Context, _ account.Account, res account.Resource) account.ResourceStatus {
	exists, err := a.object.BucketExists(ctx, res.ResourceID)
	if err != nil {
		a.log.Warn().Err(err).Str("bucket", res.ResourceID).Msg("bucket check failed")
		return account.ResourceUnknown
	}
	if !exists {
		return account.ResourceFailed
	}
	return account.ResourceAvailable
}
