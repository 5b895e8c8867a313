// Package storage implements a ResultStore backed by S3-compatible object
// storage. Each pipeline's latest output lives at results/<pipeline_id>.json,
// overwritten on every successful run.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/tributary-data/tributary/internal/domain"
)

const defaultOperationTimeout = 60 * time.Second

// S3Config holds connection settings for S3 storage.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool

	// OperationTimeout bounds each S3 call. Defaults to 60s if zero.
	OperationTimeout time.Duration
}

// S3Store persists run results in MinIO / S3-compatible storage.
type S3Store struct {
	client  *minio.Client
	bucket  string
	timeout time.Duration
}

// NewS3Store connects to the endpoint and auto-creates the bucket if it
// does not exist.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	timeout := cfg.OperationTimeout
	if timeout == 0 {
		timeout = defaultOperationTimeout
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 5 * time.Second,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	s := &S3Store{client: client, bucket: cfg.Bucket, timeout: timeout}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	exists, err := client.BucketExists(opCtx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(opCtx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return s, nil
}

func (s *S3Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func resultKey(pipelineID uuid.UUID) string {
	return "results/" + pipelineID.String() + ".json"
}

// SaveResult overwrites the stored output for a pipeline.
func (s *S3Store) SaveResult(ctx context.Context, pipelineID uuid.UUID, out *domain.OutputData) error {
	doc, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()
	_, err = s.client.PutObject(ctx, s.bucket, resultKey(pipelineID),
		bytes.NewReader(doc), int64(len(doc)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("put result %s: %w", pipelineID, err)
	}
	return nil
}

// GetResult returns the stored output, or (nil, nil) if absent.
func (s *S3Store) GetResult(ctx context.Context, pipelineID uuid.UUID) (*domain.OutputData, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	obj, err := s.client.GetObject(ctx, s.bucket, resultKey(pipelineID), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get result %s: %w", pipelineID, err)
	}
	defer obj.Close()

	doc, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read result %s: %w", pipelineID, err)
	}

	var out domain.OutputData
	if err := json.Unmarshal(doc, &out); err != nil {
		return nil, fmt.Errorf("unmarshal result %s: %w", pipelineID, err)
	}
	return &out, nil
}

// DeleteResult removes the stored output, if any.
func (s *S3Store) DeleteResult(ctx context.Context, pipelineID uuid.UUID) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	err := s.client.RemoveObject(ctx, s.bucket, resultKey(pipelineID), minio.RemoveObjectOptions{})
	if err != nil && !isNoSuchKey(err) {
		return fmt.Errorf("delete result %s: %w", pipelineID, err)
	}
	return nil
}

// Check verifies the bucket is reachable, for readiness probes.
func (s *S3Store) Check(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}

func isNoSuchKey(err error) bool {
	var resp minio.ErrorResponse
	return errors.As(err, &resp) && resp.Code == "NoSuchKey"
}
