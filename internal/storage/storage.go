// Package storage publishes run artifacts (the sealed analytical store
// and the compacted batch file) to object storage. Backends: local
// filesystem and S3.
package storage

import "context"

// ObjectStore abstracts the object storage operations the publisher
// needs. Object paths use forward slashes regardless of backend.
type ObjectStore interface {
	// Upload copies a local file to objectPath.
	Upload(ctx context.Context, localPath, objectPath string) error

	// Download copies the object at objectPath to localPath, failing
	// with OBJECT_NOT_FOUND if it does not exist.
	Download(ctx context.Context, objectPath, localPath string) error

	// Exists reports whether an object is present.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// Delete removes an object. Deleting a missing object is not an
	// error.
	Delete(ctx context.Context, objectPath string) error

	// List returns all object paths under the prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}
