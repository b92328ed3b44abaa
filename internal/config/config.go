// Package config handles TOML configuration for stackforge.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
)

// Config is the root configuration structure.
type Config struct {
	AWS          AWSConfig          `toml:"aws"`
	Storage      StorageConfig      `toml:"storage"`
	Lock         LockConfig         `toml:"lock"`
	Provisioning ProvisioningConfig `toml:"provisioning"`
	Policy       PolicyConfig       `toml:"policy"`
	MinIO        MinIOConfig        `toml:"minio"`
	GCP          GCPConfig          `toml:"gcp"`
	Server       ServerConfig       `toml:"server"`
	Refresh      RefreshConfig      `toml:"refresh"`
	Journal      JournalConfig      `toml:"journal"`
	OTEL         OTELConfig         `toml:"otel"`
	Log          LogConfig          `toml:"log"`
}

// Duration is a time.Duration written as a string ("5m", "30s").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// AWSConfig holds the management-account settings.
type AWSConfig struct {
	Region           string   `toml:"region"`
	Profile          string   `toml:"profile"`
	RoleName         string   `toml:"role_name"`
	AssumeRole       *bool    `toml:"assume_role"`
	PollInterval     Duration `toml:"poll_interval"`
	PollTimeout      Duration `toml:"poll_timeout"`
	EC2ImageID       string   `toml:"ec2_image_id"`
	EC2InstanceType  string   `toml:"ec2_instance_type"`
	RDSInstanceClass string   `toml:"rds_instance_class"`
	RedshiftNodeType string   `toml:"redshift_node_type"`
}

// AssumeRoleEnabled reports whether resources are created through the
// sub-account role. Defaults to true.
func (c AWSConfig) AssumeRoleEnabled() bool {
	return c.AssumeRole == nil || *c.AssumeRole
}

// StorageConfig selects the account store backend.
type StorageConfig struct {
	Driver string `toml:"driver"`
	Path   string `toml:"path"`
}

// LockConfig selects the identity lock.
type LockConfig struct {
	Driver        string   `toml:"driver"`
	RedisAddr     string   `toml:"redis_addr"`
	RedisPassword string   `toml:"redis_password"`
	RedisDB       int      `toml:"redis_db"`
	TTL           Duration `toml:"ttl"`
	PollInterval  Duration `toml:"poll_interval"`
}

// ProvisioningConfig holds engine behaviour switches.
type ProvisioningConfig struct {
	// DryRun routes aws and gcp services to the sandbox adapter
	DryRun              bool     `toml:"dry_run"`
	RetryFailedAccounts *bool    `toml:"retry_failed_accounts"`
	SandboxReadyAfter   Duration `toml:"sandbox_ready_after"`
}

// RetryFailedAccountsEnabled defaults to true.
func (c ProvisioningConfig) RetryFailedAccountsEnabled() bool {
	return c.RetryFailedAccounts == nil || *c.RetryFailedAccounts
}

// PolicyConfig holds admission guard limits.
type PolicyConfig struct {
	Dir              string   `toml:"dir"`
	MaxResources     int      `toml:"max_resources"`
	AllowedProviders []string `toml:"allowed_providers"`
	DeniedServices   []string `toml:"denied_services"`
}

// MinIOConfig holds the shared object storage cluster settings.
type MinIOConfig struct {
	Enabled    bool   `toml:"enabled"`
	Endpoint   string `toml:"endpoint"`
	AccessKey  string `toml:"access_key"`
	SecretKey  string `toml:"secret_key"`
	UseSSL     bool   `toml:"use_ssl"`
	Region     string `toml:"region"`
	ConsoleURL string `toml:"console_url"`
}

// GCPConfig holds the shared platform project used for gcp startups.
type GCPConfig struct {
	Enabled         bool   `toml:"enabled"`
	ProjectID       string `toml:"project_id"`
	Location        string `toml:"location"`
	CredentialsFile string `toml:"credentials_file"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string   `toml:"addr"`
	ReadTimeout     Duration `toml:"read_timeout"`
	WriteTimeout    Duration `toml:"write_timeout"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

// RefreshConfig controls the background loop that re-checks creating
// resources while serving.
type RefreshConfig struct {
	Enabled  *bool    `toml:"enabled"`
	Interval Duration `toml:"interval"`
}

// IsEnabled defaults to true.
func (c RefreshConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// JournalConfig holds audit journal settings.
type JournalConfig struct {
	Enabled       *bool  `toml:"enabled"`
	Dir           string `toml:"dir"`
	MaxFileSize   int64  `toml:"max_file_size"`
	RetentionDays int    `toml:"retention_days"`
}

// IsEnabled defaults to true.
func (c JournalConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Endpoint    string           `toml:"endpoint"`
	Insecure    bool             `toml:"insecure"`
	ServiceName string           `toml:"service_name"`
	Traces      TracesConfig     `toml:"traces"`
	Metrics     MetricsConfig    `toml:"metrics"`
	Prometheus  PrometheusConfig `toml:"prometheus"`
}

// TracesConfig holds tracing settings.
type TracesConfig struct {
	Enabled    bool    `toml:"enabled"`
	SampleRate float64 `toml:"sample_rate"`
}

// MetricsConfig holds OTLP metrics settings.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// PrometheusConfig controls the /metrics exporter.
type PrometheusConfig struct {
	Enabled *bool `toml:"enabled"`
}

// IsEnabled defaults to true.
func (c PrometheusConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Environment variables that override secrets in the file.
const (
	EnvMinIOAccessKey = "STACKFORGE_MINIO_ACCESS_KEY"
	EnvMinIOSecretKey = "STACKFORGE_MINIO_SECRET_KEY"
	EnvRedisPassword  = "STACKFORGE_REDIS_PASSWORD"
	EnvAWSRegion      = "STACKFORGE_AWS_REGION"
)

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads and parses a TOML config file. An empty path yields the
// defaults. Environment overrides are applied after the file.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvMinIOAccessKey); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv(EnvMinIOSecretKey); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv(EnvRedisPassword); v != "" {
		cfg.Lock.RedisPassword = v
	}
	if v := os.Getenv(EnvAWSRegion); v != "" {
		cfg.AWS.Region = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.AWS.Region == "" {
		cfg.AWS.Region = "us-east-1"
	}
	if cfg.AWS.RoleName == "" {
		cfg.AWS.RoleName = "OrganizationAccountAccessRole"
	}
	setDuration(&cfg.AWS.PollInterval, 5*time.Second)
	setDuration(&cfg.AWS.PollTimeout, 5*time.Minute)

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "bolt"
	}
	if cfg.Storage.Path == "" {
		if cfg.Storage.Driver == "file" {
			cfg.Storage.Path = filepath.Join("stackforge-data", "accounts.json")
		} else {
			cfg.Storage.Path = filepath.Join("stackforge-data", "accounts.db")
		}
	}

	if cfg.Lock.Driver == "" {
		cfg.Lock.Driver = "local"
	}
	setDuration(&cfg.Lock.TTL, 10*time.Minute)
	setDuration(&cfg.Lock.PollInterval, 100*time.Millisecond)

	setDuration(&cfg.Provisioning.SandboxReadyAfter, 30*time.Second)

	if cfg.MinIO.Region == "" {
		cfg.MinIO.Region = "us-east-1"
	}

	if cfg.GCP.Location == "" {
		cfg.GCP.Location = "US"
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	setDuration(&cfg.Server.ReadTimeout, 15*time.Second)
	setDuration(&cfg.Server.WriteTimeout, 10*time.Minute)
	setDuration(&cfg.Server.ShutdownTimeout, 10*time.Second)

	setDuration(&cfg.Refresh.Interval, time.Minute)

	if cfg.Journal.Dir == "" {
		cfg.Journal.Dir = filepath.Join("stackforge-data", "journal")
	}
	if cfg.Journal.MaxFileSize <= 0 {
		cfg.Journal.MaxFileSize = 10 * 1024 * 1024
	}
	if cfg.Journal.RetentionDays <= 0 {
		cfg.Journal.RetentionDays = 30
	}

	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = "stackforge"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "auto"
	}
}

func setDuration(d *Duration, def time.Duration) {
	if d.Duration <= 0 {
		d.Duration = def
	}
}

var knownProviders = map[string]bool{"aws": true, "gcp": true, "third_party": true}

// Validate checks the configuration is valid.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case "bolt", "file":
	default:
		errs = append(errs, fmt.Errorf("storage: unknown driver %q (want bolt or file)", c.Storage.Driver))
	}

	switch c.Lock.Driver {
	case "local":
	case "redis":
		if c.Lock.RedisAddr == "" {
			errs = append(errs, errors.New("lock: redis_addr required for redis driver"))
		}
		// bolt holds an exclusive file lock, so a second replica could
		// never open the store and the shared lock would guard nothing.
		if c.Storage.Driver == "bolt" {
			errs = append(errs, errors.New("lock: redis driver requires storage.driver = \"file\" (bolt cannot be shared between processes)"))
		}
	default:
		errs = append(errs, fmt.Errorf("lock: unknown driver %q (want local or redis)", c.Lock.Driver))
	}

	if c.MinIO.Enabled {
		if c.MinIO.Endpoint == "" {
			errs = append(errs, errors.New("minio: endpoint required when enabled"))
		}
		if c.MinIO.AccessKey == "" || c.MinIO.SecretKey == "" {
			errs = append(errs, fmt.Errorf("minio: access_key and secret_key required (or set %s)", EnvMinIOSecretKey))
		}
	}

	if c.GCP.Enabled && c.GCP.ProjectID == "" {
		errs = append(errs, errors.New("gcp: project_id required when enabled"))
	}

	if c.Policy.MaxResources < 0 {
		errs = append(errs, fmt.Errorf("policy: max_resources must not be negative (got %d)", c.Policy.MaxResources))
	}
	for _, p := range c.Policy.AllowedProviders {
		if !knownProviders[p] {
			errs = append(errs, fmt.Errorf("policy: unknown provider %q in allowed_providers", p))
		}
	}

	if c.AWS.PollTimeout.Duration < c.AWS.PollInterval.Duration {
		errs = append(errs, errors.New("aws: poll_timeout must not be shorter than poll_interval"))
	}

	if c.OTEL.Traces.SampleRate < 0.0 || c.OTEL.Traces.SampleRate > 1.0 {
		errs = append(errs, fmt.Errorf("otel: traces.sample_rate must be between 0.0 and 1.0 (got %v)", c.OTEL.Traces.SampleRate))
	}

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log: %w", err))
	}
	switch c.Log.Format {
	case "auto", "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log: unknown format %q (want auto, json or console)", c.Log.Format))
	}

	return errors.Join(errs...)
}
