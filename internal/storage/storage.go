// Package storage holds uploaded files and generated reports.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/fedspend/broker/pkg/env"
	"github.com/google/uuid"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("object not found")

// FileStore is a flat key/value blob store. Keys use forward slashes.
type FileStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	DeletePrefix(ctx context.Context, prefix string) error
	Type() string
}

// New builds the store selected by the environment.
func New(ctx context.Context) (FileStore, error) {
	vars := env.Variables()
	switch vars.StorageType {
	case "", "local":
		return NewLocal(vars.StorageRoot)
	case "minio":
		store, err := NewMinio(
			WithEndpoint(vars.MinioEndpoint),
			WithBucket(vars.MinioBucket),
			WithAccessKey(vars.MinioAccessKey),
			WithSecretKey(vars.MinioSecretKey),
			WithSSL(vars.MinioUseSSL),
		)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return store, nil
	}
	return nil, fmt.Errorf("unsupported storage type: %v", vars.StorageType)
}

// SubmissionPrefix is the key prefix owning every object of a submission.
func SubmissionPrefix(submissionID uuid.UUID) string {
	return path.Join("submissions", submissionID.String()) + "/"
}

// UploadKey is where an uploaded file for a job is kept.
func UploadKey(submissionID, jobID uuid.UUID, filename string) string {
	return path.Join("submissions", submissionID.String(), "uploads", jobID.String()+"_"+path.Base(filename))
}

// ReportKey is where a generated report is kept.
func ReportKey(submissionID uuid.UUID, name string) string {
	return path.Join("submissions", submissionID.String(), "reports", name)
}
