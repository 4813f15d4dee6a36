// Package vector abstracts the similarity search backend. The production
// implementation targets Qdrant over gRPC; tests substitute fakes.
package vector

import "context"

// Point is one stored chunk with its embedding.
type Point struct {
	ID     string
	Vector []float32
	Text   string
	Source string
}

// Hit is one search result. Score is cosine similarity, higher is better.
type Hit struct {
	ID     string
	Text   string
	Source string
	Score  float64
}

// Store is the similarity search backend.
type Store interface {
	// EnsureCollection creates the collection if absent. The dimension is
	// fixed at creation; an existing collection is left untouched.
	EnsureCollection(ctx context.Context, name string, dimension int) error

	// Upsert writes points into a collection, replacing same-ID points.
	Upsert(ctx context.Context, collection string, points []Point) error

	// Search returns up to topK nearest neighbors by cosine similarity,
	// in descending score order.
	Search(ctx context.Context, collection string, vec []float32, topK int) ([]Hit, error)

	// DeleteCollection drops a collection and all its points.
	DeleteCollection(ctx context.Context, name string) error

	// Close releases the backend connection.
	Close() error
}
