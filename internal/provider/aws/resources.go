package aws

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	gluetypes "github.com/aws/aws-sdk-go-v2/service/glue/types"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"
	"github.com/aws/aws-sdk-go-v2/service/redshift"
	rstypes "github.com/aws/aws-sdk-go-v2/service/redshift/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/yairfalse/stackforge/internal/catalog"
	"github.com/yairfalse/stackforge/internal/provider"
	"github.com/yairfalse/stackforge/pkg/account"
)

const (
	dbUser          = "startupuser"
	dbName          = "startupdb"
	warehouseName   = "startupwarehouse"
	postgresPort    = 5432
	redshiftPort    = 5439
	passwordLength  = 20
	managedByTagKey = "ManagedBy"
	managedByTag    = "stackforge"
	startupTagKey   = "Startup"
)

type service struct {
	create  func(context.Context, *Clients, account.Account) (provider.ResourceDetails, error)
	observe func(context.Context, *Clients, account.Resource) (provider.Observation, error)
}

func (a *Adapter) services() map[string]service {
	return map[string]service{
		"aws_rds":  {a.createRDS, a.observeRDS},
		"redshift": {a.createRedshift, a.observeRedshift},
		"aws_ec2":  {a.createEC2, a.observeEC2},
		"s3":       {a.createS3, a.observeS3},
		"dynamodb": {a.createDynamoDB, a.observeDynamoDB},
		"aws_glue": {a.createGlue, a.observeGlue},
	}
}

// Supports reports whether the adapter can provision a service id.
func (a *Adapter) Supports(serviceID string) bool {
	_, ok := a.services()[serviceID]
	return ok
}

// CreateResource implements provider.Adapter.
func (a *Adapter) CreateResource(ctx context.Context, acc account.Account, def catalog.ServiceDefinition) (provider.ResourceDetails, error) {
	svc, ok := a.services()[def.ID]
	if !ok {
		return provider.ResourceDetails{}, provider.Unsupported(a.Name(), def)
	}
	clients, err := a.clients.ForAccount(ctx, acc.AccountID)
	if err != nil {
		return provider.ResourceDetails{}, resourceError(def.ID, "assume role", err)
	}

	d, err := svc.create(ctx, clients, acc)
	if err != nil {
		var resErr *provider.ResourceProvisioningError
		if errors.As(err, &resErr) {
			return provider.ResourceDetails{}, err
		}
		return provider.ResourceDetails{}, resourceError(def.ID, "create", err)
	}
	if d.Region == "" {
		d.Region = a.cfg.Region
	}

	a.log.Info().
		Str("service", def.ID).
		Str("resource_id", d.ResourceID).
		Str("status", string(d.Status)).
		Msg("resource created")
	return d, nil
}

// DescribeResource implements provider.Adapter.
func (a *Adapter) DescribeResource(ctx context.Context, acc account.Account, res account.Resource) account.ResourceStatus {
	return a.Observe(ctx, acc, res).Status
}

// Observe implements provider.Observer.
func (a *Adapter) Observe(ctx context.Context, acc account.Account, res account.Resource) provider.Observation {
	svc, ok := a.services()[res.Service]
	if !ok || res.ResourceID == "" {
		return provider.Observation{Status: account.ResourceUnknown}
	}
	clients, err := a.clients.ForAccount(ctx, acc.AccountID)
	if err != nil {
		a.log.Warn().Err(err).Str("account_id", acc.AccountID).Msg("assume role failed")
		return provider.Observation{Status: account.ResourceUnknown}
	}

	obs, err := svc.observe(ctx, clients, res)
	if err != nil {
		a.log.Warn().Err(err).Str("service", res.Service).Str("resource_id", res.ResourceID).Msg("describe failed")
		return provider.Observation{Status: account.ResourceUnknown}
	}
	return obs
}

func resourceError(service, op string, err error) *provider.ResourceProvisioningError {
	return &provider.ResourceProvisioningError{Service: service, Provider: "aws", Reason: op + errorCode(err), Err: err}
}

// identifier builds RDS/Redshift style identifiers, which must start with
// a letter.
func identifier(acc account.Account, suffix string) string {
	return startWithLetter(provider.ResourceName(acc, suffix))
}

// uniqueIdentifier is identifier with a random tail, used when the stable
// name is already taken in the account.
func uniqueIdentifier(acc account.Account, suffix string) string {
	return startWithLetter(provider.UniqueName(acc, suffix))
}

func startWithLetter(id string) string {
	if id[0] < 'a' || id[0] > 'z' {
		id = "sf-" + id
	}
	return id
}

// isCode reports whether err is an AWS API error with one of the codes.
func isCode(err error, codes ...string) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, c := range codes {
		if apiErr.ErrorCode() == c {
			return true
		}
	}
	return false
}

// claim creates a resource under its stable name. When AWS reports the name
// as taken, adopt decides whether the existing resource belongs to this
// startup and can be used as is (left behind by an attempt whose record was
// lost); otherwise the resource is created once more under a fresh name.
// It returns the name that ended up holding the resource.
func (a *Adapter) claim(service, stable string, fresh func() string, takenCode string, create func(name string) error, adopt func(name string) (bool, error)) (string, error) {
	err := create(stable)
	if err == nil || !isCode(err, takenCode) {
		return stable, err
	}

	ours, aerr := adopt(stable)
	if aerr != nil {
		return stable, aerr
	}
	if ours {
		a.log.Warn().Str("service", service).Str("name", stable).Msg("adopting existing resource left by an earlier attempt")
		return stable, nil
	}

	name := fresh()
	a.log.Warn().Str("service", service).Str("taken", stable).Str("name", name).Msg("resource name in use, retrying with a fresh name")
	return name, create(name)
}

// ownedBy reports whether tags mark a resource as created for acc.
func ownedBy(tags map[string]string, acc account.Account) bool {
	return tags[managedByTagKey] == managedByTag && tags[startupTagKey] == acc.StartupName
}

func postgresURL(user, password, host string, port int, db string) string {
	if host == "" {
		return ""
	}
	return fmt.Sprintf("postgresql://%s:%s@%s:%d/%s", user, password, host, port, db)
}

// ══════════════════════════════════════════════════════════════════════════════
// RDS
// ══════════════════════════════════════════════════════════════════════════════

func (a *Adapter) createRDS(ctx context.Context, c *Clients, acc account.Account) (provider.ResourceDetails, error) {
	password, err := provider.GeneratePassword(passwordLength)
	if err != nil {
		return provider.ResourceDetails{}, err
	}

	var inst *rdstypes.DBInstance
	fresh := func() string { return uniqueIdentifier(acc, "db") }
	create := func(id string) error {
		out, err := c.RDS.CreateDBInstance(ctx, a.rdsInput(acc, id, password))
		if err == nil {
			inst = out.DBInstance
		}
		return err
	}
	adopt := func(id string) (bool, error) {
		out, err := c.RDS.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{DBInstanceIdentifier: aws.String(id)})
		if err != nil {
			return false, err
		}
		if len(out.DBInstances) == 0 {
			return false, nil
		}
		existing := out.DBInstances[0]
		tags := make(map[string]string, len(existing.TagList))
		for _, t := range existing.TagList {
			tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
		}
		if !ownedBy(tags, acc) || rdsStatus(aws.ToString(existing.DBInstanceStatus)) == account.ResourceFailed {
			return false, nil
		}
		// The password issued with the lost record is gone; issue a new one.
		mod, err := c.RDS.ModifyDBInstance(ctx, &rds.ModifyDBInstanceInput{
			DBInstanceIdentifier: aws.String(id),
			MasterUserPassword:   aws.String(password),
			ApplyImmediately:     aws.Bool(true),
		})
		if err != nil {
			return false, err
		}
		inst = &existing
		if mod.DBInstance != nil {
			inst = mod.DBInstance
		}
		return true, nil
	}
	id, err := a.claim("aws_rds", identifier(acc, "db"), fresh, "DBInstanceAlreadyExists", create, adopt)
	if err != nil {
		return provider.ResourceDetails{}, resourceError("aws_rds", "create db instance", err)
	}

	d := provider.ResourceDetails{
		ResourceID: id,
		Status:     account.ResourceCreating,
		Port:       postgresPort,
		Database:   dbName,
		Username:   dbUser,
		Password:   password,
		ConsoleURL: fmt.Sprintf("https://console.aws.amazon.com/rds/home?region=%s#database:id=%s", a.cfg.Region, id),
	}
	if inst != nil {
		d.Status = rdsStatus(aws.ToString(inst.DBInstanceStatus))
		if inst.Endpoint != nil {
			d.Endpoint = aws.ToString(inst.Endpoint.Address)
		}
	}
	d.ConnectionString = postgresURL(dbUser, password, d.Endpoint, postgresPort, dbName)
	return d, nil
}

func (a *Adapter) rdsInput(acc account.Account, id, password string) *rds.CreateDBInstanceInput {
	return &rds.CreateDBInstanceInput{
		DBInstanceIdentifier:  aws.String(id),
		DBInstanceClass:       aws.String(a.cfg.RDSInstanceClass),
		Engine:                aws.String("postgres"),
		MasterUsername:        aws.String(dbUser),
		MasterUserPassword:    aws.String(password),
		AllocatedStorage:      aws.Int32(20),
		DBName:                aws.String(dbName),
		PubliclyAccessible:    aws.Bool(true),
		StorageType:           aws.String("gp2"),
		BackupRetentionPeriod: aws.Int32(0),
		MultiAZ:               aws.Bool(false),
		Tags: []rdstypes.Tag{
			{Key: aws.String(managedByTagKey), Value: aws.String(managedByTag)},
			{Key: aws.String(startupTagKey), Value: aws.String(acc.StartupName)},
		},
	}
}

func (a *Adapter) observeRDS(ctx context.Context, c *Clients, res account.Resource) (provider.Observation, error) {
	out, err := c.RDS.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{
		DBInstanceIdentifier: aws.String(res.ResourceID),
	})
	if err != nil {
		return provider.Observation{}, err
	}
	if len(out.DBInstances) == 0 {
		return provider.Observation{}, fmt.Errorf("db instance %s not found", res.ResourceID)
	}

	inst := out.DBInstances[0]
	obs := provider.Observation{Status: rdsStatus(aws.ToString(inst.DBInstanceStatus))}
	if inst.Endpoint != nil {
		obs.Endpoint = aws.ToString(inst.Endpoint.Address)
		obs.Port = int(aws.ToInt32(inst.Endpoint.Port))
		port := obs.Port
		if port == 0 {
			port = postgresPort
		}
		obs.ConnectionString = postgresURL(res.Username, res.Password, obs.Endpoint, port, res.Database)
	}
	return obs, nil
}

func rdsStatus(s string) account.ResourceStatus {
	switch {
	case s == "available":
		return account.ResourceAvailable
	case s == "failed", s == "storage-full", strings.HasPrefix(s, "incompatible-"), strings.HasPrefix(s, "inaccessible-"), s == "deleting":
		return account.ResourceFailed
	default:
		return account.ResourceCreating
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// Redshift
// ══════════════════════════════════════════════════════════════════════════════

func (a *Adapter) createRedshift(ctx context.Context, c *Clients, acc account.Account) (provider.ResourceDetails, error) {
	password, err := provider.GeneratePassword(passwordLength)
	if err != nil {
		return provider.ResourceDetails{}, err
	}

	var cluster *rstypes.Cluster
	fresh := func() string { return uniqueIdentifier(acc, "warehouse") }
	create := func(id string) error {
		out, err := c.Redshift.CreateCluster(ctx, &redshift.CreateClusterInput{
			ClusterIdentifier:  aws.String(id),
			NodeType:           aws.String(a.cfg.RedshiftNodeType),
			ClusterType:        aws.String("single-node"),
			DBName:             aws.String(warehouseName),
			MasterUsername:     aws.String(dbUser),
			MasterUserPassword: aws.String(password),
			PubliclyAccessible: aws.Bool(true),
			Tags: []rstypes.Tag{
				{Key: aws.String(managedByTagKey), Value: aws.String(managedByTag)},
				{Key: aws.String(startupTagKey), Value: aws.String(acc.StartupName)},
			},
		})
		if err == nil {
			cluster = out.Cluster
		}
		return err
	}
	adopt := func(id string) (bool, error) {
		out, err := c.Redshift.DescribeClusters(ctx, &redshift.DescribeClustersInput{ClusterIdentifier: aws.String(id)})
		if err != nil {
			return false, err
		}
		if len(out.Clusters) == 0 {
			return false, nil
		}
		existing := out.Clusters[0]
		tags := make(map[string]string, len(existing.Tags))
		for _, t := range existing.Tags {
			tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
		}
		if !ownedBy(tags, acc) || redshiftStatus(aws.ToString(existing.ClusterStatus)) == account.ResourceFailed {
			return false, nil
		}
		mod, err := c.Redshift.ModifyCluster(ctx, &redshift.ModifyClusterInput{
			ClusterIdentifier:  aws.String(id),
			MasterUserPassword: aws.String(password),
		})
		if err != nil {
			return false, err
		}
		cluster = &existing
		if mod.Cluster != nil {
			cluster = mod.Cluster
		}
		return true, nil
	}
	id, err := a.claim("redshift", identifier(acc, "warehouse"), fresh, "ClusterAlreadyExists", create, adopt)
	if err != nil {
		return provider.ResourceDetails{}, resourceError("redshift", "create cluster", err)
	}

	d := provider.ResourceDetails{
		ResourceID: id,
		Status:     account.ResourceCreating,
		Port:       redshiftPort,
		Database:   warehouseName,
		Username:   dbUser,
		Password:   password,
		ConsoleURL: fmt.Sprintf("https://console.aws.amazon.com/redshift/home?region=%s#cluster-details:cluster=%s", a.cfg.Region, id),
	}
	if cluster != nil {
		d.Status = redshiftStatus(aws.ToString(cluster.ClusterStatus))
	}
	if cluster != nil && cluster.Endpoint != nil {
		d.Endpoint = aws.ToString(cluster.Endpoint.Address)
		d.ConnectionString = redshiftURL(dbUser, password, d.Endpoint, redshiftPort, warehouseName)
	}
	return d, nil
}

func (a *Adapter) observeRedshift(ctx context.Context, c *Clients, res account.Resource) (provider.Observation, error) {
	out, err := c.Redshift.DescribeClusters(ctx, &redshift.DescribeClustersInput{
		ClusterIdentifier: aws.String(res.ResourceID),
	})
	if err != nil {
		return provider.Observation{}, err
	}
	if len(out.Clusters) == 0 {
		return provider.Observation{}, fmt.Errorf("cluster %s not found", res.ResourceID)
	}

	cl := out.Clusters[0]
	obs := provider.Observation{Status: redshiftStatus(aws.ToString(cl.ClusterStatus))}
	if cl.Endpoint != nil {
		obs.Endpoint = aws.ToString(cl.Endpoint.Address)
		obs.Port = int(aws.ToInt32(cl.Endpoint.Port))
		port := obs.Port
		if port == 0 {
			port = redshiftPort
		}
		obs.ConnectionString = redshiftURL(res.Username, res.Password, obs.Endpoint, port, res.Database)
	}
	return obs, nil
}

func redshiftURL(user, password, host string, port int, db string) string {
	if host == "" {
		return ""
	}
	return fmt.Sprintf("redshift://%s:%s@%s:%d/%s", user, password, host, port, db)
}

func redshiftStatus(s string) account.ResourceStatus {
	switch {
	case s == "available":
		return account.ResourceAvailable
	case strings.HasPrefix(s, "incompatible-"), s == "hardware-failure", s == "storage-full", s == "deleting":
		return account.ResourceFailed
	default:
		return account.ResourceCreating
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// EC2
// ══════════════════════════════════════════════════════════════════════════════

func (a *Adapter) createEC2(ctx context.Context, c *Clients, acc account.Account) (provider.ResourceDetails, error) {
	name := provider.ResourceName(acc, "server")

	out, err := c.EC2.RunInstances(ctx, &ec2.RunInstancesInput{
		ImageId:      aws.String(a.cfg.EC2ImageID),
		InstanceType: ec2types.InstanceType(a.cfg.EC2InstanceType),
		MinCount:     aws.Int32(1),
		MaxCount:     aws.Int32(1),
		TagSpecifications: []ec2types.TagSpecification{{
			ResourceType: ec2types.ResourceTypeInstance,
			Tags: []ec2types.Tag{
				{Key: aws.String("Name"), Value: aws.String(name)},
				{Key: aws.String(managedByTagKey), Value: aws.String(managedByTag)},
				{Key: aws.String(startupTagKey), Value: aws.String(acc.StartupName)},
			},
		}},
	})
	if err != nil {
		return provider.ResourceDetails{}, resourceError("aws_ec2", "run instances", err)
	}
	if len(out.Instances) == 0 {
		return provider.ResourceDetails{}, resourceError("aws_ec2", "run instances", errors.New("no instance returned"))
	}

	inst := out.Instances[0]
	id := aws.ToString(inst.InstanceId)
	return provider.ResourceDetails{
		ResourceID: id,
		Status:     ec2Status(inst.State),
		Endpoint:   aws.ToString(inst.PublicDnsName),
		Port:       22,
		ConsoleURL: fmt.Sprintf("https://console.aws.amazon.com/ec2/home?region=%s#InstanceDetails:instanceId=%s", a.cfg.Region, id),
	}, nil
}

func (a *Adapter) observeEC2(ctx context.Context, c *Clients, res account.Resource) (provider.Observation, error) {
	out, err := c.EC2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{res.ResourceID},
	})
	if err != nil {
		return provider.Observation{}, err
	}
	for _, r := range out.Reservations {
		for _, inst := range r.Instances {
			if aws.ToString(inst.InstanceId) == res.ResourceID {
				return provider.Observation{
					Status:   ec2Status(inst.State),
					Endpoint: aws.ToString(inst.PublicDnsName),
				}, nil
			}
		}
	}
	return provider.Observation{}, fmt.Errorf("instance %s not found", res.ResourceID)
}

func ec2Status(state *ec2types.InstanceState) account.ResourceStatus {
	if state == nil {
		return account.ResourceCreating
	}
	switch state.Name {
	case ec2types.InstanceStateNameRunning:
		return account.ResourceRunning
	case ec2types.InstanceStateNamePending:
		return account.ResourceCreating
	default:
		return account.ResourceFailed
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// S3
// ══════════════════════════════════════════════════════════════════════════════

func (a *Adapter) createS3(ctx context.Context, c *Clients, acc account.Account) (provider.ResourceDetails, error) {
	bucket := provider.UniqueName(acc, "storage")

	input := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	if a.cfg.Region != "us-east-1" {
		input.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(a.cfg.Region),
		}
	}
	if _, err := c.S3.CreateBucket(ctx, input); err != nil {
		return provider.ResourceDetails{}, resourceError("s3", "create bucket", err)
	}

	_, err := c.S3.PutBucketTagging(ctx, &s3.PutBucketTaggingInput{
		Bucket: aws.String(bucket),
		Tagging: &s3types.Tagging{TagSet: []s3types.Tag{
			{Key: aws.String(managedByTagKey), Value: aws.String(managedByTag)},
			{Key: aws.String(startupTagKey), Value: aws.String(acc.StartupName)},
		}},
	})
	if err != nil {
		// The bucket exists and is usable; tags are cosmetic
		a.log.Warn().Err(err).Str("bucket", bucket).Msg("failed to tag bucket")
	}

	return provider.ResourceDetails{
		ResourceID:       bucket,
		Status:           account.ResourceAvailable,
		Endpoint:         fmt.Sprintf("%s.s3.%s.amazonaws.com", bucket, a.cfg.Region),
		ConnectionString: "s3://" + bucket,
		ConsoleURL:       "https://s3.console.aws.amazon.com/s3/buckets/" + bucket,
	}, nil
}

func (a *Adapter) observeS3(ctx context.Context, c *Clients, res account.Resource) (provider.Observation, error) {
	if _, err := c.S3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(res.ResourceID)}); err != nil {
		return provider.Observation{}, err
	}
	return provider.Observation{Status: account.ResourceAvailable}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// DynamoDB
// ══════════════════════════════════════════════════════════════════════════════

func (a *Adapter) createDynamoDB(ctx context.Context, c *Clients, acc account.Account) (provider.ResourceDetails, error) {
	var desc *ddbtypes.TableDescription
	fresh := func() string { return provider.UniqueName(acc, "table") }
	create := func(table string) error {
		out, err := c.DynamoDB.CreateTable(ctx, &dynamodb.CreateTableInput{
			TableName: aws.String(table),
			AttributeDefinitions: []ddbtypes.AttributeDefinition{
				{AttributeName: aws.String("pk"), AttributeType: ddbtypes.ScalarAttributeTypeS},
				{AttributeName: aws.String("sk"), AttributeType: ddbtypes.ScalarAttributeTypeS},
			},
			KeySchema: []ddbtypes.KeySchemaElement{
				{AttributeName: aws.String("pk"), KeyType: ddbtypes.KeyTypeHash},
				{AttributeName: aws.String("sk"), KeyType: ddbtypes.KeyTypeRange},
			},
			BillingMode: ddbtypes.BillingModePayPerRequest,
			Tags: []ddbtypes.Tag{
				{Key: aws.String(managedByTagKey), Value: aws.String(managedByTag)},
				{Key: aws.String(startupTagKey), Value: aws.String(acc.StartupName)},
			},
		})
		if err == nil {
			desc = out.TableDescription
		}
		return err
	}
	// A table holds no credentials, so one of ours can be taken over as is.
	adopt := func(table string) (bool, error) {
		existing, err := c.DynamoDB.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)})
		if err != nil {
			return false, &provider.ResourceProvisioningError{Service: "dynamodb", Provider: "aws", Reason: "describe existing table" + errorCode(err), Err: err}
		}
		if existing.Table == nil {
			return false, nil
		}
		out, err := c.DynamoDB.ListTagsOfResource(ctx, &dynamodb.ListTagsOfResourceInput{ResourceArn: existing.Table.TableArn})
		if err != nil {
			return false, &provider.ResourceProvisioningError{Service: "dynamodb", Provider: "aws", Reason: "list table tags" + errorCode(err), Err: err}
		}
		tags := make(map[string]string, len(out.Tags))
		for _, t := range out.Tags {
			tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
		}
		if !ownedBy(tags, acc) {
			return false, nil
		}
		desc = existing.Table
		return true, nil
	}

	table, err := a.claim("dynamodb", provider.ResourceName(acc, "table"), fresh, "ResourceInUseException", create, adopt)
	if err != nil {
		var resErr *provider.ResourceProvisioningError
		if errors.As(err, &resErr) {
			return provider.ResourceDetails{}, resErr
		}
		return provider.ResourceDetails{}, resourceError("dynamodb", "create table", err)
	}

	status := account.ResourceCreating
	if desc != nil {
		status = dynamoStatus(desc.TableStatus)
	}
	return provider.ResourceDetails{
		ResourceID: table,
		Status:     status,
		Endpoint:   fmt.Sprintf("dynamodb.%s.amazonaws.com", a.cfg.Region),
		Port:       443,
		ConsoleURL: fmt.Sprintf("https://console.aws.amazon.com/dynamodbv2/home?region=%s#table?name=%s", a.cfg.Region, table),
	}, nil
}

func (a *Adapter) observeDynamoDB(ctx context.Context, c *Clients, res account.Resource) (provider.Observation, error) {
	out, err := c.DynamoDB.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(res.ResourceID)})
	if err != nil {
		return provider.Observation{}, err
	}
	if out.Table == nil {
		return provider.Observation{}, fmt.Errorf("table %s not found", res.ResourceID)
	}
	return provider.Observation{Status: dynamoStatus(out.Table.TableStatus)}, nil
}

func dynamoStatus(s ddbtypes.TableStatus) account.ResourceStatus {
	switch s {
	case ddbtypes.TableStatusActive:
		return account.ResourceAvailable
	case ddbtypes.TableStatusCreating, ddbtypes.TableStatusUpdating:
		return account.ResourceCreating
	default:
		return account.ResourceFailed
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// Glue
// ══════════════════════════════════════════════════════════════════════════════

// glueName turns a resource name into a Glue database name, which allows
// lowercase letters, digits and underscores only.
func glueName(name string) string {
	return strings.ReplaceAll(name, "-", "_")
}

func (a *Adapter) createGlue(ctx context.Context, c *Clients, acc account.Account) (provider.ResourceDetails, error) {
	fresh := func() string { return glueName(provider.UniqueName(acc, "catalog")) }
	create := func(name string) error {
		_, err := c.Glue.CreateDatabase(ctx, &glue.CreateDatabaseInput{
			DatabaseInput: &gluetypes.DatabaseInput{
				Name:        aws.String(name),
				Description: aws.String("Data catalog for " + acc.StartupName),
			},
			Tags: map[string]string{
				managedByTagKey: managedByTag,
				startupTagKey:   acc.StartupName,
			},
		})
		return err
	}
	adopt := func(name string) (bool, error) {
		existing, err := c.Glue.GetDatabase(ctx, &glue.GetDatabaseInput{Name: aws.String(name)})
		if err != nil {
			return false, &provider.ResourceProvisioningError{Service: "aws_glue", Provider: "aws", Reason: "get existing database" + errorCode(err), Err: err}
		}
		catalogID := acc.AccountID
		if existing.Database != nil && aws.ToString(existing.Database.CatalogId) != "" {
			catalogID = aws.ToString(existing.Database.CatalogId)
		}
		arn := fmt.Sprintf("arn:aws:glue:%s:%s:database/%s", a.cfg.Region, catalogID, name)
		out, err := c.Glue.GetTags(ctx, &glue.GetTagsInput{ResourceArn: aws.String(arn)})
		if err != nil {
			return false, &provider.ResourceProvisioningError{Service: "aws_glue", Provider: "aws", Reason: "get database tags" + errorCode(err), Err: err}
		}
		return ownedBy(out.Tags, acc), nil
	}

	name, err := a.claim("aws_glue", glueName(provider.ResourceName(acc, "catalog")), fresh, "AlreadyExistsException", create, adopt)
	if err != nil {
		var resErr *provider.ResourceProvisioningError
		if errors.As(err, &resErr) {
			return provider.ResourceDetails{}, resErr
		}
		return provider.ResourceDetails{}, resourceError("aws_glue", "create database", err)
	}

	return provider.ResourceDetails{
		ResourceID: name,
		Status:     account.ResourceAvailable,
		Database:   name,
		ConsoleURL: fmt.Sprintf("https://console.aws.amazon.com/glue/home?region=%s#/v2/data-catalog/databases/view/%s", a.cfg.Region, name),
	}, nil
}

func (a *Adapter) observeGlue(ctx context.Context, c *Clients, res account.Resource) (provider.Observation, error) {
	if _, err := c.Glue.GetDatabase(ctx, &glue.GetDatabaseInput{Name: aws.String(res.ResourceID)}); err != nil {
		return provider.Observation{}, err
	}
	return provider.Observation{Status: account.ResourceAvailable}, nil
}
