package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/bimakw/solana-ingestor/internal/domain/entities"
	"github.com/bimakw/solana-ingestor/internal/domain/repositories"
)

// TransactionProcessor consumes every live transaction after it is stored
type TransactionProcessor interface {
	ProcessTransaction(ctx context.Context, tx entities.RawTransaction) error
}

// processorName returns a label for a processor
func processorName(p TransactionProcessor) string {
	if named, ok := p.(interface{ Name() string }); ok {
		return named.Name()
	}
	return fmt.Sprintf("%T", p)
}

// Ensure GraphProcessor implements TransactionProcessor
var _ TransactionProcessor = (*GraphProcessor)(nil)

// GraphProcessor maps transactions onto wallet, program and transaction nodes
type GraphProcessor struct {
	graph  repositories.GraphStore
	logger *zap.Logger
}

// NewGraphProcessor creates a new graph processor
func NewGraphProcessor(graph repositories.GraphStore, logger *zap.Logger) *GraphProcessor {
	return &GraphProcessor{
		graph:  graph,
		logger: logger,
	}
}

func (p *GraphProcessor) Name() string {
	return "graph"
}

// ProcessTransaction upserts the transaction node, its accounts and programs, and links them
func (p *GraphProcessor) ProcessTransaction(ctx context.Context, tx entities.RawTransaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}

	txProps := entities.Properties{
		"slot":    tx.Slot,
		"fee":     tx.Fee,
		"success": tx.Succeeded(),
	}
	if tx.Timestamp != nil {
		txProps["block_time"] = tx.Timestamp.Unix()
	}
	if err := p.upsertNode(ctx, tx.Signature, entities.NodeTypeTransaction, txProps); err != nil {
		return err
	}

	signers := make(map[string]struct{}, len(tx.Signers))
	for _, s := range tx.Signers {
		signers[s] = struct{}{}
	}
	programs := make(map[string]struct{}, len(tx.Programs))
	for _, prog := range tx.Programs {
		programs[prog] = struct{}{}
	}

	for _, account := range tx.Accounts {
		if _, isProgram := programs[account]; isProgram {
			continue
		}
		if !validAccount(account) {
			p.logger.Debug("Skipping invalid account",
				zap.String("signature", tx.Signature),
				zap.String("account", account),
			)
			continue
		}

		if err := p.upsertNode(ctx, account, entities.NodeTypeWallet, entities.Properties{"last_slot": tx.Slot}); err != nil {
			return err
		}
		rel := entities.RelationshipInvolved
		if _, ok := signers[account]; ok {
			rel = entities.RelationshipSigned
		}
		if err := p.upsertEdge(ctx, account, rel, tx.Signature, tx.Slot); err != nil {
			return err
		}
	}

	for _, prog := range tx.Programs {
		if !validAccount(prog) {
			continue
		}
		if err := p.upsertNode(ctx, prog, entities.NodeTypeProgram, entities.Properties{"last_slot": tx.Slot}); err != nil {
			return err
		}
		if err := p.upsertEdge(ctx, tx.Signature, entities.RelationshipInvoked, prog, tx.Slot); err != nil {
			return err
		}
	}

	return nil
}

func (p *GraphProcessor) upsertNode(ctx context.Context, id string, nodeType entities.NodeType, props entities.Properties) error {
	_, err := p.graph.UpdateNode(ctx, id, props)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repositories.ErrNodeNotFound) {
		return fmt.Errorf("failed to update node %s: %w", id, err)
	}

	_, err = p.graph.CreateNode(ctx, entities.Node{ID: id, Type: nodeType, Properties: props})
	if err != nil && !errors.Is(err, repositories.ErrAlreadyExists) {
		return fmt.Errorf("failed to create node %s: %w", id, err)
	}
	return nil
}

func (p *GraphProcessor) upsertEdge(ctx context.Context, from, rel, to string, slot uint64) error {
	id := entities.EdgeID(from, rel, to)
	props := entities.Properties{"slot": slot}

	_, err := p.graph.UpdateEdge(ctx, id, props)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repositories.ErrEdgeNotFound) {
		return fmt.Errorf("failed to update edge %s: %w", id, err)
	}

	_, err = p.graph.CreateEdge(ctx, entities.Edge{
		ID:         id,
		SourceID:   from,
		TargetID:   to,
		Type:       rel,
		Properties: props,
	})
	if err != nil && !errors.Is(err, repositories.ErrAlreadyExists) {
		return fmt.Errorf("failed to create edge %s: %w", id, err)
	}
	return nil
}

func validAccount(address string) bool {
	_, err := solana.PublicKeyFromBase58(address)
	return err == nil
}
