package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/habiliai/agentmemory/errors"
)

// LocalSnapshotStore keeps snapshots on the local filesystem. Used for tests
// and single-node deployments without object storage.
type LocalSnapshotStore struct {
	root string
}

var _ SnapshotStore = (*LocalSnapshotStore)(nil)

func NewLocalSnapshotStore(root string) *LocalSnapshotStore {
	return &LocalSnapshotStore{root: root}
}

func (s *LocalSnapshotStore) Download(_ context.Context, key string, destPath string) error {
	src := filepath.Join(s.root, filepath.FromSlash(key))
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return errors.Wrapf(errors.ErrSnapshotNotFound, "no snapshot at %s", key)
	} else if err != nil {
		return errors.Wrapf(err, "failed to stat snapshot %s", key)
	}

	return copyFile(src, destPath)
}

func (s *LocalSnapshotStore) Upload(_ context.Context, key string, srcPath string) error {
	dest := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return errors.Wrapf(err, "failed to create snapshot directory for %s", key)
	}

	return copyFile(srcPath, dest)
}

func (s *LocalSnapshotStore) Close() error {
	return nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", src)
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", dest)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return errors.Wrapf(err, "failed to copy %s to %s", src, dest)
	}

	return out.Sync()
}
