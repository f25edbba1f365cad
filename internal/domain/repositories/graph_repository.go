package repositories

import (
	"context"

	"github.com/bimakw/solana-ingestor/internal/domain/entities"
)

// GraphStore is the node/edge half of hybrid storage
type GraphStore interface {
	// CreateNode stores a new node; ErrAlreadyExists if the id is taken
	CreateNode(ctx context.Context, node entities.Node) (*entities.Node, error)

	// GetNode returns the node or ErrNodeNotFound
	GetNode(ctx context.Context, id string) (*entities.Node, error)

	// UpdateNode merges properties into the node's property bag
	UpdateNode(ctx context.Context, id string, properties entities.Properties) (*entities.Node, error)

	// DeleteNode removes the node and every edge touching it
	DeleteNode(ctx context.Context, id string) error

	// CreateEdge stores a new edge; ErrNodeNotFound if either endpoint is missing
	CreateEdge(ctx context.Context, edge entities.Edge) (*entities.Edge, error)

	// GetEdge returns the edge or ErrEdgeNotFound
	GetEdge(ctx context.Context, id string) (*entities.Edge, error)

	// UpdateEdge merges properties into the edge's property bag
	UpdateEdge(ctx context.Context, id string, properties entities.Properties) (*entities.Edge, error)

	// DeleteEdge removes the edge
	DeleteEdge(ctx context.Context, id string) error

	// Query returns matching nodes and the edges between them
	Query(ctx context.Context, query entities.GraphQuery) (*entities.GraphResult, error)

	// FindPathBetweenNodes returns the shortest directed path, or nil if none within maxDepth hops
	FindPathBetweenNodes(ctx context.Context, sourceID, targetID string, maxDepth int) (*entities.GraphPath, error)
}

// HybridStorage pairs a time-series store with a graph store
type HybridStorage interface {
	TimeSeries() TimeSeriesStore
	Graph() GraphStore
	HealthCheck(ctx context.Context) error
	Close() error
}
