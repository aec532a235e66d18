package storage

import (
	"context"
	"path"
	"path/filepath"
)

// Publisher uploads a run's artifacts under runs/<run_id>/.
type Publisher struct {
	store ObjectStore
}

// NewPublisher wraps an object store.
func NewPublisher(store ObjectStore) *Publisher {
	return &Publisher{store: store}
}

// Publish uploads each local file under the run's prefix, keyed by its
// base name. Returns the object paths written.
func (p *Publisher) Publish(ctx context.Context, runID string, localPaths ...string) ([]string, error) {
	objects := make([]string, 0, len(localPaths))
	for _, localPath := range localPaths {
		objectPath := path.Join("runs", runID, filepath.Base(localPath))
		if err := p.store.Upload(ctx, localPath, objectPath); err != nil {
			return nil, err
		}
		objects = append(objects, objectPath)
	}
	return objects, nil
}
