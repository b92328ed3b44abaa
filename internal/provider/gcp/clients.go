package gcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// New connects to Cloud Storage and BigQuery for the shared project.
// Credentials come from CredentialsFile, or from the environment's
// application default credentials when it is empty.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (*Adapter, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("gcp project_id is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	sc, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	bq, err := bigquery.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		_ = sc.Close()
		return nil, fmt.Errorf("create bigquery client: %w", err)
	}

	a := newAdapter(cfg,
		&storageClient{client: sc, project: cfg.ProjectID},
		&bigqueryClient{client: bq},
		logger)
	a.closers = []func() error{sc.Close, bq.Close}
	return a, nil
}

func hasCode(err error, code int) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == code
}

type storageClient struct {
	client  *storage.Client
	project string
}

func (s *storageClient) ServiceAccount(ctx context.Context) (string, error) {
	return s.client.ServiceAccount(ctx, s.project)
}

func (s *storageClient) CreateBucket(ctx context.Context, name, location string, labels map[string]string) error {
	err := s.client.Bucket(name).Create(ctx, s.project, &storage.BucketAttrs{
		Location:                 location,
		Labels:                   labels,
		UniformBucketLevelAccess: storage.UniformBucketLevelAccess{Enabled: true},
	})
	if hasCode(err, http.StatusConflict) {
		return ErrAlreadyExists
	}
	return err
}

func (s *storageClient) BucketLabels(ctx context.Context, name string) (map[string]string, error) {
	attrs, err := s.client.Bucket(name).Attrs(ctx)
	if errors.Is(err, storage.ErrBucketNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return attrs.Labels, nil
}

type bigqueryClient struct {
	client *bigquery.Client
}

func (b *bigqueryClient) CreateDataset(ctx context.Context, id, location, description string, labels map[string]string) error {
	err := b.client.Dataset(id).Create(ctx, &bigquery.DatasetMetadata{
		Location:    location,
		Description: description,
		Labels:      labels,
	})
	if hasCode(err, http.StatusConflict) {
		return ErrAlreadyExists
	}
	return err
}

func (b *bigqueryClient) DatasetLabels(ctx context.Context, id string) (map[string]string, error) {
	md, err := b.client.Dataset(id).Metadata(ctx)
	if hasCode(err, http.StatusNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return md.Labels, nil
}
