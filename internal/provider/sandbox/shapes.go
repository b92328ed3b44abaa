package sandbox

import (
	"github.com/yairfalse/stackforge/internal/catalog"
	"github.com/yairfalse/stackforge/pkg/account"
)

// shape describes the fake resource the sandbox returns for a service.
type shape struct {
	suffix   string
	initial  account.ResourceStatus
	port     int
	database string

	// Non-empty scheme means credentials and a connection string are issued
	scheme string
}

var shapes = map[string]shape{
	"aws_rds":       {suffix: "db", initial: account.ResourceCreating, port: 5432, database: "startupdb", scheme: "postgresql"},
	"gcp_cloud_sql": {suffix: "db", initial: account.ResourceCreating, port: 5432, database: "startupdb", scheme: "postgresql"},
	"redshift":      {suffix: "warehouse", initial: account.ResourceCreating, port: 5439, database: "startupwarehouse", scheme: "redshift"},
	"snowflake":     {suffix: "warehouse", initial: account.ResourceAvailable, port: 443, database: "STARTUP_DB", scheme: "snowflake"},
	"mongodb":       {suffix: "cluster", initial: account.ResourceCreating, port: 27017, database: "startupdb", scheme: "mongodb"},
	"bigquery":      {suffix: "dataset", initial: account.ResourceAvailable},
	"dynamodb":      {suffix: "table", initial: account.ResourceAvailable},
	"firestore":     {suffix: "firestore", initial: account.ResourceAvailable},
	"gke":           {suffix: "cluster", initial: account.ResourceCreating, port: 443},
}

func shapeFor(cat catalog.Category) shape {
	switch cat {
	case catalog.CategoryCompute:
		return shape{suffix: "server", initial: account.ResourceRunning, port: 22}
	case catalog.CategoryStorage:
		return shape{suffix: "storage", initial: account.ResourceAvailable}
	case catalog.CategoryDatabase:
		return shape{suffix: "db", initial: account.ResourceCreating, port: 5432, database: "startupdb", scheme: "postgresql"}
	case catalog.CategoryVisualization:
		return shape{suffix: "workspace", initial: account.ResourceAvailable, port: 443}
	default:
		return shape{suffix: string(cat), initial: account.ResourceAvailable}
	}
}
