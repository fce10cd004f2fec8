// Package storage persists graph snapshots to object storage. A snapshot is a
// single database file per (workspace, agent); Download and Upload move whole
// files, and a missing snapshot is reported as errors.ErrSnapshotNotFound so
// callers can bootstrap a fresh graph instead of failing.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"

	gcs "cloud.google.com/go/storage"
	"github.com/habiliai/agentmemory/config"
	"github.com/habiliai/agentmemory/errors"
	"google.golang.org/api/option"
)

type (
	SnapshotStore interface {
		// Download copies the snapshot object to destPath. Returns
		// errors.ErrSnapshotNotFound when no snapshot exists; any other
		// storage error propagates unmodified apart from context wrapping.
		Download(ctx context.Context, key string, destPath string) error
		// Upload overwrites the snapshot object with the file at srcPath.
		// Last save wins; there is no conditional write on the snapshot.
		Upload(ctx context.Context, key string, srcPath string) error
		Close() error
	}

	gcsSnapshotStore struct {
		bucket string
		client *gcs.Client
	}
)

var _ SnapshotStore = (*gcsSnapshotStore)(nil)

// SnapshotKey is the deterministic object path for one (workspace, agent)
// graph snapshot.
func SnapshotKey(workspaceID, agentID string) string {
	return fmt.Sprintf("graph/%s/%s/facts.db", workspaceID, agentID)
}

func NewSnapshotStore(ctx context.Context, conf *config.StorageConfig) (SnapshotStore, error) {
	var opts []option.ClientOption
	if conf.EmulatorHost != "" {
		opts = append(opts,
			option.WithEndpoint("http://"+conf.EmulatorHost+"/storage/v1/"),
			option.WithoutAuthentication(),
		)
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create storage client")
	}

	return &gcsSnapshotStore{
		bucket: conf.Bucket,
		client: client,
	}, nil
}

func (s *gcsSnapshotStore) Download(ctx context.Context, key string, destPath string) error {
	reader, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return errors.Wrapf(errors.ErrSnapshotNotFound, "no snapshot at %s", key)
		}
		return errors.Wrapf(err, "failed to open snapshot %s", key)
	}
	defer reader.Close()

	file, err := os.Create(destPath)
	if err != nil {
		return errors.Wrapf(err, "failed to create snapshot file %s", destPath)
	}
	defer file.Close()

	if _, err := io.Copy(file, reader); err != nil {
		return errors.Wrapf(err, "failed to download snapshot %s", key)
	}

	return nil
}

func (s *gcsSnapshotStore) Upload(ctx context.Context, key string, srcPath string) error {
	file, err := os.Open(srcPath)
	if err != nil {
		return errors.Wrapf(err, "failed to open snapshot file %s", srcPath)
	}
	defer file.Close()

	writer := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	if _, err := io.Copy(writer, file); err != nil {
		_ = writer.Close()
		return errors.Wrapf(err, "failed to upload snapshot %s", key)
	}
	if err := writer.Close(); err != nil {
		return errors.Wrapf(err, "failed to finalize snapshot %s", key)
	}

	return nil
}

func (s *gcsSnapshotStore) Close() error {
	return s.client.Close()
}
