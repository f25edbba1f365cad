package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/bimakw/solana-ingestor/internal/domain/entities"
	"github.com/bimakw/solana-ingestor/internal/domain/repositories"
)

// Ensure GraphRepo implements GraphStore
var _ repositories.GraphStore = (*GraphRepo)(nil)

const (
	nodeColumns = "id, type, properties, created_at, updated_at"
	edgeColumns = "id, source_id, target_id, type, properties, created_at, updated_at"
)

// GraphRepo implements GraphStore on node and edge tables. Edges reference
// nodes through foreign keys, so deleting a node cascades to its edges.
type GraphRepo struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewGraphRepo creates a new graph repository
func NewGraphRepo(db *sqlx.DB) *GraphRepo {
	return &GraphRepo{db: db, now: time.Now}
}

type nodeRow struct {
	ID         string    `db:"id"`
	Type       string    `db:"type"`
	Properties []byte    `db:"properties"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func (r nodeRow) toEntity() (entities.Node, error) {
	props, err := decodeProperties(r.Properties)
	if err != nil {
		return entities.Node{}, err
	}
	return entities.Node{
		ID:         r.ID,
		Type:       entities.NodeType(r.Type),
		Properties: props,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}, nil
}

type edgeRow struct {
	ID         string    `db:"id"`
	SourceID   string    `db:"source_id"`
	TargetID   string    `db:"target_id"`
	Type       string    `db:"type"`
	Properties []byte    `db:"properties"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func (r edgeRow) toEntity() (entities.Edge, error) {
	props, err := decodeProperties(r.Properties)
	if err != nil {
		return entities.Edge{}, err
	}
	return entities.Edge{
		ID:         r.ID,
		SourceID:   r.SourceID,
		TargetID:   r.TargetID,
		Type:       r.Type,
		Properties: props,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}, nil
}

func encodeProperties(p entities.Properties) (string, error) {
	if p == nil {
		p = entities.Properties{}
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode properties: %w", err)
	}
	return string(b), nil
}

func decodeProperties(b []byte) (entities.Properties, error) {
	props := entities.Properties{}
	if len(b) == 0 {
		return props, nil
	}
	if err := json.Unmarshal(b, &props); err != nil {
		return nil, fmt.Errorf("failed to decode properties: %w", err)
	}
	return props, nil
}

// graphError maps driver errors of op onto repository errors
func graphError(op, id string, err error, notFound error) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return repositories.NewStorageError(op, fmt.Errorf("%s: %w", id, notFound))
	case pqCode(err) == codeUniqueViolation:
		return repositories.NewStorageError(op, fmt.Errorf("%s: %w", id, repositories.ErrAlreadyExists))
	case pqCode(err) == codeForeignKeyViolation:
		return repositories.NewStorageError(op, fmt.Errorf("%s: %w", id, repositories.ErrNodeNotFound))
	}
	return storageError(op, err)
}

func (r *GraphRepo) CreateNode(ctx context.Context, node entities.Node) (*entities.Node, error) {
	if err := node.Validate(); err != nil {
		return nil, err
	}
	props, err := encodeProperties(node.Properties)
	if err != nil {
		return nil, repositories.NewStorageError("create_node", err)
	}

	query := `
		INSERT INTO graph_nodes (id, type, properties, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		RETURNING ` + nodeColumns

	var row nodeRow
	if err := r.db.GetContext(ctx, &row, query, node.ID, string(node.Type), props, r.now()); err != nil {
		return nil, graphError("create_node", node.ID, err, repositories.ErrNodeNotFound)
	}
	return r.node(row, "create_node")
}

func (r *GraphRepo) GetNode(ctx context.Context, id string) (*entities.Node, error) {
	var row nodeRow
	query := `SELECT ` + nodeColumns + ` FROM graph_nodes WHERE id = $1`
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		return nil, graphError("get_node", id, err, repositories.ErrNodeNotFound)
	}
	return r.node(row, "get_node")
}

// UpdateNode merges properties into the stored bag with the jsonb || operator
func (r *GraphRepo) UpdateNode(ctx context.Context, id string, properties entities.Properties) (*entities.Node, error) {
	props, err := encodeProperties(properties)
	if err != nil {
		return nil, repositories.NewStorageError("update_node", err)
	}

	query := `
		UPDATE graph_nodes SET
			properties = properties || $2::jsonb,
			updated_at = $3
		WHERE id = $1
		RETURNING ` + nodeColumns

	var row nodeRow
	if err := r.db.GetContext(ctx, &row, query, id, props, r.now()); err != nil {
		return nil, graphError("update_node", id, err, repositories.ErrNodeNotFound)
	}
	return r.node(row, "update_node")
}

func (r *GraphRepo) DeleteNode(ctx context.Context, id string) error {
	return r.delete(ctx, "delete_node", `DELETE FROM graph_nodes WHERE id = $1`, id, repositories.ErrNodeNotFound)
}

func (r *GraphRepo) CreateEdge(ctx context.Context, edge entities.Edge) (*entities.Edge, error) {
	if err := edge.Validate(); err != nil {
		return nil, err
	}
	props, err := encodeProperties(edge.Properties)
	if err != nil {
		return nil, repositories.NewStorageError("create_edge", err)
	}

	query := `
		INSERT INTO graph_edges (id, source_id, target_id, type, properties, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING ` + edgeColumns

	var row edgeRow
	err = r.db.GetContext(ctx, &row, query, edge.ID, edge.SourceID, edge.TargetID, edge.Type, props, r.now())
	if err != nil {
		return nil, graphError("create_edge", edge.ID, err, repositories.ErrEdgeNotFound)
	}
	return r.edge(row, "create_edge")
}

func (r *GraphRepo) GetEdge(ctx context.Context, id string) (*entities.Edge, error) {
	var row edgeRow
	query := `SELECT ` + edgeColumns + ` FROM graph_edges WHERE id = $1`
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		return nil, graphError("get_edge", id, err, repositories.ErrEdgeNotFound)
	}
	return r.edge(row, "get_edge")
}

func (r *GraphRepo) UpdateEdge(ctx context.Context, id string, properties entities.Properties) (*entities.Edge, error) {
	props, err := encodeProperties(properties)
	if err != nil {
		return nil, repositories.NewStorageError("update_edge", err)
	}

	query := `
		UPDATE graph_edges SET
			properties = properties || $2::jsonb,
			updated_at = $3
		WHERE id = $1
		RETURNING ` + edgeColumns

	var row edgeRow
	if err := r.db.GetContext(ctx, &row, query, id, props, r.now()); err != nil {
		return nil, graphError("update_edge", id, err, repositories.ErrEdgeNotFound)
	}
	return r.edge(row, "update_edge")
}

func (r *GraphRepo) DeleteEdge(ctx context.Context, id string) error {
	return r.delete(ctx, "delete_edge", `DELETE FROM graph_edges WHERE id = $1`, id, repositories.ErrEdgeNotFound)
}

func (r *GraphRepo) delete(ctx context.Context, op, query, id string, notFound error) error {
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return storageError(op, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return storageError(op, fmt.Errorf("failed to get rows affected: %w", err))
	}
	if rows == 0 {
		return repositories.NewStorageError(op, fmt.Errorf("%s: %w", id, notFound))
	}
	return nil
}

// buildNodeQuery builds the SQL query selecting the nodes of a graph query
func buildNodeQuery(q entities.GraphQuery) (string, []interface{}, error) {
	var conditions []string
	var args []interface{}
	argIdx := 1

	if len(q.NodeIDs) > 0 {
		conditions = append(conditions, fmt.Sprintf("id = ANY($%d)", argIdx))
		args = append(args, pq.Array(q.NodeIDs))
		argIdx++
	}

	if len(q.NodeTypes) > 0 {
		types := make([]string, 0, len(q.NodeTypes))
		for _, t := range q.NodeTypes {
			types = append(types, string(t))
		}
		conditions = append(conditions, fmt.Sprintf("type = ANY($%d)", argIdx))
		args = append(args, pq.Array(types))
		argIdx++
	}

	if len(q.Properties) > 0 {
		props, err := encodeProperties(q.Properties)
		if err != nil {
			return "", nil, err
		}
		conditions = append(conditions, fmt.Sprintf("properties @> $%d::jsonb", argIdx))
		args = append(args, props)
		argIdx++
	}

	query := `SELECT ` + nodeColumns + ` FROM graph_nodes`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY id"

	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, q.Limit)
	}

	return query, args, nil
}

// Query returns matching nodes sorted by id and the edges among them
func (r *GraphRepo) Query(ctx context.Context, q entities.GraphQuery) (*entities.GraphResult, error) {
	query, args, err := buildNodeQuery(q)
	if err != nil {
		return nil, repositories.NewStorageError("query", err)
	}

	var nodeRows []nodeRow
	if err := r.db.SelectContext(ctx, &nodeRows, query, args...); err != nil {
		return nil, storageError("query", fmt.Errorf("failed to query nodes: %w", err))
	}

	result := &entities.GraphResult{Nodes: []entities.Node{}, Edges: []entities.Edge{}}
	ids := make([]string, 0, len(nodeRows))
	for _, row := range nodeRows {
		node, err := row.toEntity()
		if err != nil {
			return nil, repositories.NewStorageError("query", err)
		}
		result.Nodes = append(result.Nodes, node)
		ids = append(ids, node.ID)
	}
	if len(ids) == 0 {
		return result, nil
	}

	edgeQuery := `SELECT ` + edgeColumns + ` FROM graph_edges WHERE source_id = ANY($1) AND target_id = ANY($1)`
	edgeArgs := []interface{}{pq.Array(ids)}
	if len(q.RelationshipTypes) > 0 {
		edgeQuery += " AND type = ANY($2)"
		edgeArgs = append(edgeArgs, pq.Array(q.RelationshipTypes))
	}
	edgeQuery += " ORDER BY id"

	var edgeRows []edgeRow
	if err := r.db.SelectContext(ctx, &edgeRows, edgeQuery, edgeArgs...); err != nil {
		return nil, storageError("query", fmt.Errorf("failed to query edges: %w", err))
	}
	for _, row := range edgeRows {
		edge, err := row.toEntity()
		if err != nil {
			return nil, repositories.NewStorageError("query", err)
		}
		result.Edges = append(result.Edges, edge)
	}
	return result, nil
}

// FindPathBetweenNodes runs a breadth-first search along edge direction, loading
// the outgoing edges of one frontier per round trip
func (r *GraphRepo) FindPathBetweenNodes(ctx context.Context, sourceID, targetID string, maxDepth int) (*entities.GraphPath, error) {
	source, err := r.GetNode(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if _, err := r.GetNode(ctx, targetID); err != nil {
		return nil, err
	}
	if sourceID == targetID {
		return &entities.GraphPath{Nodes: []entities.Node{*source}, Edges: []entities.Edge{}}, nil
	}

	via := map[string]entities.Edge{}
	visited := map[string]struct{}{sourceID: {}}
	frontier := []string{sourceID}

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		outgoing, err := r.outgoing(ctx, frontier)
		if err != nil {
			return nil, err
		}

		var next []string
		for _, id := range frontier {
			for _, edge := range outgoing[id] {
				if _, seen := visited[edge.TargetID]; seen {
					continue
				}
				visited[edge.TargetID] = struct{}{}
				via[edge.TargetID] = edge
				if edge.TargetID == targetID {
					return r.buildPath(ctx, via, *source, targetID)
				}
				next = append(next, edge.TargetID)
			}
		}
		frontier = next
	}
	return nil, nil
}

// outgoing returns the edges leaving each node, sorted by edge id
func (r *GraphRepo) outgoing(ctx context.Context, nodeIDs []string) (map[string][]entities.Edge, error) {
	var rows []edgeRow
	query := `SELECT ` + edgeColumns + ` FROM graph_edges WHERE source_id = ANY($1) ORDER BY id`
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(nodeIDs)); err != nil {
		return nil, storageError("find_path", fmt.Errorf("failed to load edges: %w", err))
	}

	out := make(map[string][]entities.Edge, len(nodeIDs))
	for _, row := range rows {
		edge, err := row.toEntity()
		if err != nil {
			return nil, repositories.NewStorageError("find_path", err)
		}
		out[edge.SourceID] = append(out[edge.SourceID], edge)
	}
	return out, nil
}

func (r *GraphRepo) buildPath(ctx context.Context, via map[string]entities.Edge, source entities.Node, targetID string) (*entities.GraphPath, error) {
	path := &entities.GraphPath{}
	var ids []string
	for id := targetID; id != source.ID; {
		edge := via[id]
		path.Edges = append([]entities.Edge{edge}, path.Edges...)
		ids = append([]string{id}, ids...)
		id = edge.SourceID
	}

	var rows []nodeRow
	query := `SELECT ` + nodeColumns + ` FROM graph_nodes WHERE id = ANY($1)`
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(ids)); err != nil {
		return nil, storageError("find_path", fmt.Errorf("failed to load path nodes: %w", err))
	}
	byID := make(map[string]entities.Node, len(rows))
	for _, row := range rows {
		node, err := row.toEntity()
		if err != nil {
			return nil, repositories.NewStorageError("find_path", err)
		}
		byID[node.ID] = node
	}

	path.Nodes = append(path.Nodes, source)
	for _, id := range ids {
		path.Nodes = append(path.Nodes, byID[id])
	}
	return path, nil
}

// HealthCheck pings the database
func (r *GraphRepo) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return storageError("health_check", err)
	}
	return nil
}

func (r *GraphRepo) node(row nodeRow, op string) (*entities.Node, error) {
	node, err := row.toEntity()
	if err != nil {
		return nil, repositories.NewStorageError(op, err)
	}
	return &node, nil
}

func (r *GraphRepo) edge(row edgeRow, op string) (*entities.Edge, error) {
	edge, err := row.toEntity()
	if err != nil {
		return nil, repositories.NewStorageError(op, err)
	}
	return &edge, nil
}
