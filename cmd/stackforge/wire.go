package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/yairfalse/stackforge/internal/config"
	"github.com/yairfalse/stackforge/internal/engine"
	"github.com/yairfalse/stackforge/internal/journal"
	"github.com/yairfalse/stackforge/internal/lock"
	"github.com/yairfalse/stackforge/internal/policy"
	"github.com/yairfalse/stackforge/internal/provider"
	"github.com/yairfalse/stackforge/internal/provider/aws"
	"github.com/yairfalse/stackforge/internal/provider/gcp"
	"github.com/yairfalse/stackforge/internal/provider/minio"
	"github.com/yairfalse/stackforge/internal/provider/sandbox"
	"github.com/yairfalse/stackforge/internal/store"
	"github.com/yairfalse/stackforge/internal/telemetry"
	"github.com/yairfalse/stackforge/pkg/account"
)

// stack is a fully wired engine plus everything that must be closed
// after it.
type stack struct {
	engine    *engine.Engine
	store     store.Store
	journal   *journal.Journal
	telemetry *telemetry.Provider
	closers   []func() error
}

func (s *stack) Close(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if s.telemetry != nil {
		if err := s.telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func buildStack(ctx context.Context, cfg *config.Config, log zerolog.Logger) (_ *stack, err error) {
	s := &stack{}
	defer func() {
		if err != nil {
			_ = s.Close(ctx)
		}
	}()

	s.telemetry, err = telemetry.NewProvider(ctx, cfg.OTEL, version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	s.store, err = store.Open(cfg.Storage.Driver, cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open account store: %w", err)
	}
	s.closers = append(s.closers, s.store.Close)

	locker, closeLocker, err := newLocker(ctx, cfg.Lock)
	if err != nil {
		return nil, err
	}
	if closeLocker != nil {
		s.closers = append(s.closers, closeLocker)
	}

	registry, closeRegistry, err := newRegistry(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	if closeRegistry != nil {
		s.closers = append(s.closers, closeRegistry)
	}

	guard, err := policy.New(ctx, policy.Options{
		Dir: cfg.Policy.Dir,
		Limits: policy.Limits{
			MaxResources:     cfg.Policy.MaxResources,
			AllowedProviders: cfg.Policy.AllowedProviders,
			DeniedServices:   cfg.Policy.DeniedServices,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("load admission policy: %w", err)
	}

	opts := engine.Options{
		Store:               s.store,
		Registry:            registry,
		Locker:              locker,
		Guard:               guard,
		RetryFailedAccounts: cfg.Provisioning.RetryFailedAccountsEnabled(),
		Logger:              log,
		MeterProvider:       s.telemetry.MeterProvider(),
	}
	if cfg.Journal.IsEnabled() {
		s.journal, err = journal.Open(cfg.Journal.Dir, journalConfig(cfg.Journal))
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		s.closers = append(s.closers, s.journal.Close)
		opts.Journal = s.journal
	}

	s.engine, err = engine.New(opts)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("store", cfg.Storage.Driver).
		Str("lock", cfg.Lock.Driver).
		Strs("bindings", registry.Bindings()).
		Strs("policies", guard.Modules()).
		Msg("engine wired")
	return s, nil
}

func journalConfig(jc config.JournalConfig) journal.Config {
	return journal.Config{
		FilePrefix:    "stackforge",
		MaxFileSize:   jc.MaxFileSize,
		RetentionDays: jc.RetentionDays,
	}
}

func newLocker(ctx context.Context, lc config.LockConfig) (lock.Locker, func() error, error) {
	if lc.Driver != "redis" {
		return lock.NewKeyedMutex(), nil, nil
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{lc.RedisAddr},
		Password: lc.RedisPassword,
		DB:       lc.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect to redis %s: %w", lc.RedisAddr, err)
	}
	return lock.NewRedisLocker(client, lc.TTL.Duration, lc.PollInterval.Duration), client.Close, nil
}

// newRegistry binds adapters to providers. Third-party services always run
// on the sandbox. aws and gcp run live unless dry_run is set; gcp needs the
// [gcp] project. An enabled MinIO cluster takes over the minio service.
// The returned closer may be nil.
func newRegistry(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*provider.Registry, func() error, error) {
	sb := sandbox.New(sandbox.Options{ReadyAfter: cfg.Provisioning.SandboxReadyAfter.Duration})

	reg := provider.NewRegistry()
	// Third-party SaaS signups have no live integration; the sandbox
	// answers them and marks every record it returns as simulated.
	reg.Register(account.ProviderThirdParty, sb)

	var closer func() error
	if cfg.Provisioning.DryRun {
		reg.Register(account.ProviderAWS, sb)
		reg.Register(account.ProviderGCP, sb)
	} else {
		adapter, err := aws.New(ctx, aws.Config{
			Region:           cfg.AWS.Region,
			Profile:          cfg.AWS.Profile,
			RoleName:         cfg.AWS.RoleName,
			AssumeRole:       cfg.AWS.AssumeRoleEnabled(),
			PollInterval:     cfg.AWS.PollInterval.Duration,
			PollTimeout:      cfg.AWS.PollTimeout.Duration,
			EC2ImageID:       cfg.AWS.EC2ImageID,
			EC2InstanceType:  cfg.AWS.EC2InstanceType,
			RDSInstanceClass: cfg.AWS.RDSInstanceClass,
			RedshiftNodeType: cfg.AWS.RedshiftNodeType,
		}, log)
		if err != nil {
			return nil, nil, fmt.Errorf("create aws adapter: %w", err)
		}
		reg.Register(account.ProviderAWS, adapter)

		if cfg.GCP.Enabled {
			g, err := gcp.New(ctx, gcp.Config{
				ProjectID:       cfg.GCP.ProjectID,
				Location:        cfg.GCP.Location,
				CredentialsFile: cfg.GCP.CredentialsFile,
			}, log)
			if err != nil {
				return nil, nil, fmt.Errorf("create gcp adapter: %w", err)
			}
			reg.Register(account.ProviderGCP, g)
			closer = g.Close
		} else {
			// Without a project, gcp requests fail with "no adapter
			// registered" instead of returning invented projects.
			log.Warn().Msg("gcp is not enabled; gcp accounts and services will be rejected")
		}
	}

	if cfg.MinIO.Enabled {
		adapter, err := minio.New(minio.Config{
			Endpoint:   cfg.MinIO.Endpoint,
			AccessKey:  cfg.MinIO.AccessKey,
			SecretKey:  cfg.MinIO.SecretKey,
			UseSSL:     cfg.MinIO.UseSSL,
			Region:     cfg.MinIO.Region,
			ConsoleURL: cfg.MinIO.ConsoleURL,
		}, log)
		if err != nil {
			if closer != nil {
				_ = closer()
			}
			return nil, nil, fmt.Errorf("create minio adapter: %w", err)
		}
		reg.RegisterService("minio", adapter)
	}
	return reg, closer, nil
}
