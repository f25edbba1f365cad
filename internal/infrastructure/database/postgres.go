package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/bimakw/solana-ingestor/internal/config"
	"github.com/bimakw/solana-ingestor/internal/domain/repositories"
	"github.com/bimakw/solana-ingestor/internal/infrastructure/storage"
)

// PostgreSQL error codes mapped onto repository errors
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

const schema = `
CREATE TABLE IF NOT EXISTS ts_entries (
	id          BIGSERIAL PRIMARY KEY,
	measurement TEXT        NOT NULL,
	entry_key   TEXT,
	ts          TIMESTAMPTZ NOT NULL,
	data        JSONB       NOT NULL,
	tags        JSONB       NOT NULL DEFAULT '{}'
);
CREATE UNIQUE INDEX IF NOT EXISTS ts_entries_key_idx ON ts_entries (measurement, entry_key) WHERE entry_key IS NOT NULL;
CREATE INDEX IF NOT EXISTS ts_entries_time_idx ON ts_entries (measurement, ts);
CREATE INDEX IF NOT EXISTS ts_entries_tags_idx ON ts_entries USING GIN (tags);

CREATE TABLE IF NOT EXISTS graph_nodes (
	id         TEXT PRIMARY KEY,
	type       TEXT        NOT NULL,
	properties JSONB       NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS graph_nodes_type_idx ON graph_nodes (type);

CREATE TABLE IF NOT EXISTS graph_edges (
	id         TEXT PRIMARY KEY,
	source_id  TEXT        NOT NULL REFERENCES graph_nodes (id) ON DELETE CASCADE,
	target_id  TEXT        NOT NULL REFERENCES graph_nodes (id) ON DELETE CASCADE,
	type       TEXT        NOT NULL,
	properties JSONB       NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS graph_edges_source_idx ON graph_edges (source_id);
CREATE INDEX IF NOT EXISTS graph_edges_target_idx ON graph_edges (target_id);

CREATE TABLE IF NOT EXISTS slot_checkpoint (
	id                  SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
	last_processed_slot BIGINT      NOT NULL DEFAULT 0,
	is_backfilling      BOOLEAN     NOT NULL DEFAULT FALSE,
	backfill_from_slot  BIGINT,
	backfill_to_slot    BIGINT,
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// PostgresDB wraps the sqlx database connection
type PostgresDB struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewPostgresDB creates a new PostgreSQL connection
func NewPostgresDB(cfg config.DatabaseConfig, logger *zap.Logger) (*PostgresDB, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Connected to PostgreSQL",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("database", cfg.Name),
	)

	return &PostgresDB{
		db:     db,
		logger: logger,
	}, nil
}

// EnsureSchema creates the storage tables if they do not exist
func (p *PostgresDB) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Hybrid returns hybrid storage backed by this database. Closing it closes the connection.
func (p *PostgresDB) Hybrid() *storage.Hybrid {
	return storage.NewHybrid(NewTimeSeriesRepo(p.db), NewGraphRepo(p.db), p.logger, p.Close)
}

// Close closes the database connection
func (p *PostgresDB) Close() error {
	return p.db.Close()
}

// DB returns the underlying sqlx.DB
func (p *PostgresDB) DB() *sqlx.DB {
	return p.db
}

// HealthCheck performs a health check on the database
func (p *PostgresDB) HealthCheck(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// storageError wraps a driver error, marking connection failures as unavailable
func storageError(op string, err error) error {
	if isConnectionError(err) {
		err = fmt.Errorf("%w: %w", repositories.ErrStorageUnavailable, err)
	}
	return repositories.NewStorageError(op, err)
}

func isConnectionError(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// connection exception, operator intervention
		class := pqErr.Code.Class()
		return class == "08" || class == "57"
	}
	return false
}

func pqCode(err error) pq.ErrorCode {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code
	}
	return ""
}
