package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"

	serrors "github.com/shopsignal/shopsignal/internal/errors"
)

// LocalStore implements ObjectStore on a filesystem directory. Used for
// tests and for runs that publish to a local archive path.
type LocalStore struct {
	basePath string
}

// NewLocalStore creates the base directory if needed.
func NewLocalStore(basePath string) (*LocalStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, serrors.Wrap(serrors.StageStorage, serrors.CodeUploadFailed,
			"creating local store directory", err)
	}
	return &LocalStore{basePath: basePath}, nil
}

func (l *LocalStore) fullPath(objectPath string) string {
	return filepath.Join(l.basePath, filepath.FromSlash(objectPath))
}

func (l *LocalStore) Upload(ctx context.Context, localPath, objectPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dest := l.fullPath(objectPath)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return serrors.Wrap(serrors.StageStorage, serrors.CodeUploadFailed,
			"creating object directory", err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return serrors.Wrap(serrors.StageStorage, serrors.CodeUploadFailed,
			"opening source file", err)
	}
	defer src.Close()

	dst, err := os.Create(dest)
	if err != nil {
		return serrors.Wrap(serrors.StageStorage, serrors.CodeUploadFailed,
			"creating object file", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return serrors.Wrap(serrors.StageStorage, serrors.CodeUploadFailed,
			"copying object data", err)
	}
	return dst.Close()
}

func (l *LocalStore) Download(ctx context.Context, objectPath, localPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	src, err := os.Open(l.fullPath(objectPath))
	if err != nil {
		if os.IsNotExist(err) {
			return serrors.New(serrors.StageStorage, serrors.CodeObjectNotFound, objectPath)
		}
		return serrors.Wrap(serrors.StageStorage, serrors.CodeDownloadFailed,
			"opening object", err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return serrors.Wrap(serrors.StageStorage, serrors.CodeDownloadFailed,
			"creating destination directory", err)
	}
	dst, err := os.Create(localPath)
	if err != nil {
		return serrors.Wrap(serrors.StageStorage, serrors.CodeDownloadFailed,
			"creating destination file", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return serrors.Wrap(serrors.StageStorage, serrors.CodeDownloadFailed,
			"copying object data", err)
	}
	return dst.Close()
}

func (l *LocalStore) Exists(ctx context.Context, objectPath string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(l.fullPath(objectPath))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (l *LocalStore) Delete(ctx context.Context, objectPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(l.fullPath(objectPath)); err != nil && !os.IsNotExist(err) {
		return serrors.Wrap(serrors.StageStorage, serrors.CodeUnexpected,
			"deleting object", err)
	}
	return nil
}

func (l *LocalStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var objects []string
	err := filepath.Walk(l.fullPath(prefix), func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(l.basePath, path)
		if err != nil {
			return err
		}
		objects = append(objects, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, serrors.Wrap(serrors.StageStorage, serrors.CodeUnexpected,
			"listing objects", err)
	}
	sort.Strings(objects)
	return objects, nil
}
