// Package vectorstore provides a wrapper around the Qdrant Go client
// with simplified APIs for the routing memory collections.
package vectorstore

// CollectionConfig defines the configuration for creating a collection.
type CollectionConfig struct {
	// Name is the full collection name (e.g. "routing_queries").
	Name string

	// VectorSize is the embedding dimension (e.g. 384 for MiniLM).
	VectorSize uint64

	// OnDiskPayload stores payload on disk to save RAM.
	OnDiskPayload bool
}

// DefaultCollectionConfig returns sensible defaults for a routing collection.
func DefaultCollectionConfig(name string) CollectionConfig {
	return CollectionConfig{
		Name:       name,
		VectorSize: 384, // MiniLM embeddings
	}
}

// Point represents a point to upsert.
type Point struct {
	// ID is the unique point identifier (UUID).
	ID string

	// Vector is the embedding vector.
	Vector []float32

	// Payload is the metadata associated with this point.
	Payload map[string]any
}

// SearchRequest defines parameters for a vector similarity search.
type SearchRequest struct {
	// Vector is the query embedding.
	Vector []float32

	// Limit is the maximum number of results to return.
	Limit uint64

	// ScoreThreshold filters results below this similarity.
	ScoreThreshold *float32

	// Filter constrains the search to matching payloads.
	Filter *Filter

	// WithPayload includes payload in results.
	WithPayload bool
}

// Filter defines payload conditions for search and scroll.
type Filter struct {
	// Success matches the boolean success field when set.
	Success *bool

	// QueryID matches the query_id keyword field when non-empty.
	QueryID string
}

// SearchResult represents a single search result.
type SearchResult struct {
	// ID is the point identifier.
	ID string

	// Score is the similarity score.
	Score float32

	// Payload contains the point metadata.
	Payload map[string]any
}

// RetrievedPoint represents a point fetched by ID or scroll.
type RetrievedPoint struct {
	// ID is the point identifier.
	ID string

	// Payload contains the point metadata.
	Payload map[string]any
}

// ScrollRequest defines parameters for paging through points.
type ScrollRequest struct {
	// Filter constrains the scroll to matching payloads.
	Filter *Filter

	// Limit is the page size.
	Limit uint32

	// WithPayload includes payload in results.
	WithPayload bool
}

// CollectionInfo contains information about a collection.
type CollectionInfo struct {
	// Name is the collection name.
	Name string

	// PointsCount is the total number of points.
	PointsCount uint64

	// Status is the collection health status.
	Status string

	// SegmentsCount is the number of segments.
	SegmentsCount uint64
}
