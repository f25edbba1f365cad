package datasource

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/bimakw/solana-ingestor/internal/domain/entities"
	"github.com/bimakw/solana-ingestor/internal/domain/sources"
	"github.com/bimakw/solana-ingestor/internal/infrastructure/solana"
)

// NewFactory returns the factory used by the ingestion service to build data sources.
// rpc, websocket and archival descriptors share the Solana JSON-RPC adapter.
func NewFactory(logger *zap.Logger, opts ...solana.Option) sources.Factory {
	return func(desc entities.DataSourceDescriptor) (sources.DataSource, error) {
		if err := desc.Validate(); err != nil {
			return nil, err
		}

		switch desc.Type {
		case entities.DataSourceRPC, entities.DataSourceArchival, entities.DataSourceWebsocket:
			if desc.Type == entities.DataSourceWebsocket && desc.WSEndpoint == "" {
				desc.WSEndpoint = websocketURL(desc.Endpoint)
			}
			ds, err := solana.NewRPCDataSource(desc, logger, opts...)
			if err != nil {
				return nil, fmt.Errorf("failed to create data source %s: %w", desc.ID, err)
			}
			return ds, nil
		case entities.DataSourceMock:
			return NewMockSource(desc), nil
		default:
			return nil, fmt.Errorf("%w: %s", sources.ErrUnsupportedType, desc.Type)
		}
	}
}

// websocketURL derives the pubsub endpoint from an HTTP RPC endpoint
func websocketURL(endpoint string) string {
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		return "wss://" + strings.TrimPrefix(endpoint, "https://")
	case strings.HasPrefix(endpoint, "http://"):
		return "ws://" + strings.TrimPrefix(endpoint, "http://")
	}
	return endpoint
}
