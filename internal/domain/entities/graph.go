package entities

import (
	"errors"
	"fmt"
	"time"
)

// NodeType discriminates graph nodes
type NodeType string

const (
	NodeTypeWallet      NodeType = "wallet"
	NodeTypeProgram     NodeType = "program"
	NodeTypeToken       NodeType = "token"
	NodeTypeNFT         NodeType = "nft"
	NodeTypeValidator   NodeType = "validator"
	NodeTypeTransaction NodeType = "transaction"
)

// Valid reports whether t is a known node type
func (t NodeType) Valid() bool {
	switch t {
	case NodeTypeWallet, NodeTypeProgram, NodeTypeToken, NodeTypeNFT, NodeTypeValidator, NodeTypeTransaction:
		return true
	}
	return false
}

// Relationship types written by the ingestion pipeline. Other values are accepted.
const (
	RelationshipSigned   = "signed"
	RelationshipInvolved = "involved"
	RelationshipInvoked  = "invoked"
	RelationshipTransfer = "transferred"
)

// Properties is the open extension map of a node or edge
type Properties map[string]any

// Merge returns a copy of p with every key of update applied on top
func (p Properties) Merge(update Properties) Properties {
	out := make(Properties, len(p)+len(update))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range update {
		out[k] = v
	}
	return out
}

// Clone returns a shallow copy of p
func (p Properties) Clone() Properties {
	return p.Merge(nil)
}

// Node is a vertex of the graph store keyed by its natural id (e.g. an address)
type Node struct {
	ID         string     `json:"id" db:"id"`
	Type       NodeType   `json:"type" db:"type"`
	Properties Properties `json:"properties"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

// Edge is a directed relationship between two existing nodes
type Edge struct {
	ID         string     `json:"id" db:"id"`
	SourceID   string     `json:"source_id" db:"source_id"`
	TargetID   string     `json:"target_id" db:"target_id"`
	Type       string     `json:"type" db:"type"`
	Properties Properties `json:"properties"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

var (
	ErrMissingNodeID       = errors.New("node id is required")
	ErrMissingEdgeID       = errors.New("edge id is required")
	ErrMissingEdgeEndpoint = errors.New("edge source and target are required")
	ErrMissingEdgeType     = errors.New("edge relationship type is required")
)

// Validate checks the required node fields
func (n Node) Validate() error {
	if n.ID == "" {
		return ErrMissingNodeID
	}
	if !n.Type.Valid() {
		return fmt.Errorf("node %s: unknown type %q", n.ID, n.Type)
	}
	return nil
}

// Validate checks the required edge fields
func (e Edge) Validate() error {
	if e.ID == "" {
		return ErrMissingEdgeID
	}
	if e.SourceID == "" || e.TargetID == "" {
		return ErrMissingEdgeEndpoint
	}
	if e.Type == "" {
		return ErrMissingEdgeType
	}
	return nil
}

// EdgeID builds the deterministic id used for pipeline-generated edges
func EdgeID(sourceID, relationship, targetID string) string {
	return sourceID + "-" + relationship + "->" + targetID
}

// GraphQuery selects nodes and the edges between them
type GraphQuery struct {
	NodeIDs           []string
	NodeTypes         []NodeType
	RelationshipTypes []string
	// Properties filters nodes by exact property equality.
	Properties Properties
	Limit      int
}

// GraphResult holds the result of a graph query
type GraphResult struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// GraphPath is an ordered walk from a source node to a target node
type GraphPath struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Length returns the number of hops in the path
func (p GraphPath) Length() int {
	return len(p.Edges)
}
