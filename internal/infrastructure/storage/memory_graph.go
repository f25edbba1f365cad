package storage

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/bimakw/solana-ingestor/internal/domain/entities"
	"github.com/bimakw/solana-ingestor/internal/domain/repositories"
)

// Ensure MemoryGraph implements GraphStore
var _ repositories.GraphStore = (*MemoryGraph)(nil)

// MemoryGraph is the in-memory reference graph store
type MemoryGraph struct {
	mu    sync.RWMutex
	nodes map[string]entities.Node
	edges map[string]entities.Edge
	// adjacency maps a node id to the ids of edges touching it
	adjacency map[string]map[string]struct{}
	avail     *availability
	now       func() time.Time
}

// NewMemoryGraph creates an empty graph
func NewMemoryGraph() *MemoryGraph {
	return &MemoryGraph{
		nodes:     make(map[string]entities.Node),
		edges:     make(map[string]entities.Edge),
		adjacency: make(map[string]map[string]struct{}),
		avail:     newAvailability(),
		now:       time.Now,
	}
}

// SetAvailable simulates the backing system going away or coming back
func (g *MemoryGraph) SetAvailable(ok bool) {
	g.avail.set(ok)
}

func (g *MemoryGraph) CreateNode(ctx context.Context, node entities.Node) (*entities.Node, error) {
	if err := g.avail.check("create_node"); err != nil {
		return nil, err
	}
	if err := node.Validate(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[node.ID]; exists {
		return nil, repositories.NewStorageError("create_node", fmt.Errorf("node %s: %w", node.ID, repositories.ErrAlreadyExists))
	}

	now := g.now()
	node.Properties = node.Properties.Clone()
	node.CreatedAt = now
	node.UpdatedAt = now
	g.nodes[node.ID] = node

	out := cloneNode(node)
	return &out, nil
}

func (g *MemoryGraph) GetNode(ctx context.Context, id string) (*entities.Node, error) {
	if err := g.avail.check("get_node"); err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	node, ok := g.nodes[id]
	if !ok {
		return nil, repositories.NewStorageError("get_node", fmt.Errorf("%s: %w", id, repositories.ErrNodeNotFound))
	}
	out := cloneNode(node)
	return &out, nil
}

func (g *MemoryGraph) UpdateNode(ctx context.Context, id string, properties entities.Properties) (*entities.Node, error) {
	if err := g.avail.check("update_node"); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	node, ok := g.nodes[id]
	if !ok {
		return nil, repositories.NewStorageError("update_node", fmt.Errorf("%s: %w", id, repositories.ErrNodeNotFound))
	}
	node.Properties = node.Properties.Merge(properties)
	node.UpdatedAt = g.now()
	g.nodes[id] = node

	out := cloneNode(node)
	return &out, nil
}

func (g *MemoryGraph) DeleteNode(ctx context.Context, id string) error {
	if err := g.avail.check("delete_node"); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[id]; !ok {
		return repositories.NewStorageError("delete_node", fmt.Errorf("%s: %w", id, repositories.ErrNodeNotFound))
	}
	for edgeID := range g.adjacency[id] {
		g.removeEdgeLocked(edgeID)
	}
	delete(g.adjacency, id)
	delete(g.nodes, id)
	return nil
}

func (g *MemoryGraph) CreateEdge(ctx context.Context, edge entities.Edge) (*entities.Edge, error) {
	if err := g.avail.check("create_edge"); err != nil {
		return nil, err
	}
	if err := edge.Validate(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[edge.SourceID]; !ok {
		return nil, repositories.NewStorageError("create_edge", fmt.Errorf("source %s: %w", edge.SourceID, repositories.ErrNodeNotFound))
	}
	if _, ok := g.nodes[edge.TargetID]; !ok {
		return nil, repositories.NewStorageError("create_edge", fmt.Errorf("target %s: %w", edge.TargetID, repositories.ErrNodeNotFound))
	}
	if _, exists := g.edges[edge.ID]; exists {
		return nil, repositories.NewStorageError("create_edge", fmt.Errorf("edge %s: %w", edge.ID, repositories.ErrAlreadyExists))
	}

	now := g.now()
	edge.Properties = edge.Properties.Clone()
	edge.CreatedAt = now
	edge.UpdatedAt = now
	g.edges[edge.ID] = edge
	g.link(edge.SourceID, edge.ID)
	g.link(edge.TargetID, edge.ID)

	out := cloneEdge(edge)
	return &out, nil
}

func (g *MemoryGraph) GetEdge(ctx context.Context, id string) (*entities.Edge, error) {
	if err := g.avail.check("get_edge"); err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	edge, ok := g.edges[id]
	if !ok {
		return nil, repositories.NewStorageError("get_edge", fmt.Errorf("%s: %w", id, repositories.ErrEdgeNotFound))
	}
	out := cloneEdge(edge)
	return &out, nil
}

func (g *MemoryGraph) UpdateEdge(ctx context.Context, id string, properties entities.Properties) (*entities.Edge, error) {
	if err := g.avail.check("update_edge"); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	edge, ok := g.edges[id]
	if !ok {
		return nil, repositories.NewStorageError("update_edge", fmt.Errorf("%s: %w", id, repositories.ErrEdgeNotFound))
	}
	edge.Properties = edge.Properties.Merge(properties)
	edge.UpdatedAt = g.now()
	g.edges[id] = edge

	out := cloneEdge(edge)
	return &out, nil
}

func (g *MemoryGraph) DeleteEdge(ctx context.Context, id string) error {
	if err := g.avail.check("delete_edge"); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.edges[id]; !ok {
		return repositories.NewStorageError("delete_edge", fmt.Errorf("%s: %w", id, repositories.ErrEdgeNotFound))
	}
	g.removeEdgeLocked(id)
	return nil
}

// Query returns matching nodes sorted by id and the edges among them
func (g *MemoryGraph) Query(ctx context.Context, q entities.GraphQuery) (*entities.GraphResult, error) {
	if err := g.avail.check("query"); err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	var candidates []entities.Node
	if len(q.NodeIDs) > 0 {
		for _, id := range q.NodeIDs {
			if n, ok := g.nodes[id]; ok {
				candidates = append(candidates, n)
			}
		}
	} else {
		for _, n := range g.nodes {
			candidates = append(candidates, n)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })

	result := &entities.GraphResult{Nodes: []entities.Node{}, Edges: []entities.Edge{}}
	selected := make(map[string]struct{})
	for _, n := range candidates {
		if len(q.NodeTypes) > 0 && !containsType(q.NodeTypes, n.Type) {
			continue
		}
		if !propertiesMatch(n.Properties, q.Properties) {
			continue
		}
		if q.Limit > 0 && len(result.Nodes) >= q.Limit {
			break
		}
		if _, dup := selected[n.ID]; dup {
			continue
		}
		selected[n.ID] = struct{}{}
		result.Nodes = append(result.Nodes, cloneNode(n))
	}

	for _, e := range g.edges {
		if _, ok := selected[e.SourceID]; !ok {
			continue
		}
		if _, ok := selected[e.TargetID]; !ok {
			continue
		}
		if len(q.RelationshipTypes) > 0 && !containsString(q.RelationshipTypes, e.Type) {
			continue
		}
		result.Edges = append(result.Edges, cloneEdge(e))
	}
	sort.Slice(result.Edges, func(i, j int) bool { return result.Edges[i].ID < result.Edges[j].ID })

	return result, nil
}

// FindPathBetweenNodes runs a breadth-first search along edge direction
func (g *MemoryGraph) FindPathBetweenNodes(ctx context.Context, sourceID, targetID string, maxDepth int) (*entities.GraphPath, error) {
	if err := g.avail.check("find_path"); err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	source, ok := g.nodes[sourceID]
	if !ok {
		return nil, repositories.NewStorageError("find_path", fmt.Errorf("source %s: %w", sourceID, repositories.ErrNodeNotFound))
	}
	if _, ok := g.nodes[targetID]; !ok {
		return nil, repositories.NewStorageError("find_path", fmt.Errorf("target %s: %w", targetID, repositories.ErrNodeNotFound))
	}
	if sourceID == targetID {
		return &entities.GraphPath{Nodes: []entities.Node{cloneNode(source)}, Edges: []entities.Edge{}}, nil
	}

	// via records the edge used to reach each visited node
	via := map[string]string{sourceID: ""}
	frontier := []string{sourceID}
	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, id := range frontier {
			for _, edgeID := range g.sortedOutgoing(id) {
				edge := g.edges[edgeID]
				if _, seen := via[edge.TargetID]; seen {
					continue
				}
				via[edge.TargetID] = edgeID
				if edge.TargetID == targetID {
					return g.buildPath(via, sourceID, targetID), nil
				}
				next = append(next, edge.TargetID)
			}
		}
		frontier = next
	}
	return nil, nil
}

func (g *MemoryGraph) sortedOutgoing(nodeID string) []string {
	var out []string
	for edgeID := range g.adjacency[nodeID] {
		if g.edges[edgeID].SourceID == nodeID {
			out = append(out, edgeID)
		}
	}
	sort.Strings(out)
	return out
}

func (g *MemoryGraph) buildPath(via map[string]string, sourceID, targetID string) *entities.GraphPath {
	path := &entities.GraphPath{}
	for id := targetID; id != sourceID; {
		edge := g.edges[via[id]]
		path.Edges = append([]entities.Edge{cloneEdge(edge)}, path.Edges...)
		path.Nodes = append([]entities.Node{cloneNode(g.nodes[id])}, path.Nodes...)
		id = edge.SourceID
	}
	path.Nodes = append([]entities.Node{cloneNode(g.nodes[sourceID])}, path.Nodes...)
	return path
}

func (g *MemoryGraph) link(nodeID, edgeID string) {
	set, ok := g.adjacency[nodeID]
	if !ok {
		set = make(map[string]struct{})
		g.adjacency[nodeID] = set
	}
	set[edgeID] = struct{}{}
}

func (g *MemoryGraph) removeEdgeLocked(edgeID string) {
	edge, ok := g.edges[edgeID]
	if !ok {
		return
	}
	delete(g.adjacency[edge.SourceID], edgeID)
	delete(g.adjacency[edge.TargetID], edgeID)
	delete(g.edges, edgeID)
}

func cloneNode(n entities.Node) entities.Node {
	n.Properties = n.Properties.Clone()
	return n
}

func cloneEdge(e entities.Edge) entities.Edge {
	e.Properties = e.Properties.Clone()
	return e
}

func containsType(list []entities.NodeType, t entities.NodeType) bool {
	for _, v := range list {
		if v == t {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func propertiesMatch(props, filter entities.Properties) bool {
	for k, want := range filter {
		got, ok := props[k]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}
