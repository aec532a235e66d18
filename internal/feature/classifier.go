package feature

import "context"

// Classifier is the boundary to an external model trainer. Implementations
// receive the sealed feature set and return one score per vector, in
// order. Nothing in this repository trains or scores models.
type Classifier interface {
	Train(ctx context.Context, set *FeatureSet) ([]float64, error)
}
