package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ledger-engine/internal/config"
	"ledger-engine/internal/infrastructure/monitoring"
	"ledger-engine/internal/pkg/apperrors"
	"ledger-engine/internal/pkg/txscope"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pashagolub/pgxmock/v4"
)

//go:embed schema.sql
var schemaSQL string

type DBPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

var _ DBPool = (*pgxpool.Pool)(nil)

var _ DBPool = (pgxmock.PgxPoolIface)(nil)

// querier is what both the pool and an open transaction offer.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var errMsgFormat = "%w: %w"

const defaultMaxConns = 10

func NewConnectionPool(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*pgxpool.Pool, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database URL is empty in configuration")
	}

	poolConfig, err := configurePool(cfg)
	if err != nil {
		return nil, err
	}

	logger.Info("Connecting to PostgreSQL database...")
	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := verifyConnection(ctx, dbpool, logger); err != nil {
		dbpool.Close()
		return nil, err
	}

	logger.Info("Successfully connected to PostgreSQL database.", "host", poolConfig.ConnConfig.Host, "db", poolConfig.ConnConfig.Database)
	return dbpool, nil
}

func configurePool(cfg config.DatabaseConfig) (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config from URL: %w", err)
	}

	poolConfig.MaxConns = defaultMaxConns
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	return poolConfig, nil
}

func verifyConnection(ctx context.Context, dbpool *pgxpool.Pool, logger *slog.Logger) error {
	logger.Info("Pinging database...")
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := dbpool.Ping(pingCtx); err != nil {
		logger.Error("Failed to ping database", "error", err)
		return fmt.Errorf("failed to ping database on connect: %w", err)
	}

	return nil
}

// Migrate creates the ledger tables when they are missing.
func Migrate(ctx context.Context, db DBPool, logger *slog.Logger) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		logger.ErrorContext(ctx, "Failed to apply schema", slog.Any("error", err))
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	logger.InfoContext(ctx, "Database schema is up to date")
	return nil
}

func isoLevel(iso txscope.Isolation) pgx.TxIsoLevel {
	switch iso {
	case txscope.Serializable:
		return pgx.Serializable
	case txscope.RepeatableRead:
		return pgx.RepeatableRead
	default:
		return pgx.ReadCommitted
	}
}

// pgScope adapts a pgx.Tx to txscope.Tx and is how repositories find the
// transaction bound to a context.
type pgScope struct {
	tx     pgx.Tx
	logger *slog.Logger
}

func (s *pgScope) Commit(ctx context.Context) error {
	if err := s.tx.Commit(ctx); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit transaction", "error", err)
		return translateDBError(err, s.logger)
	}
	return nil
}

func (s *pgScope) Rollback(ctx context.Context) error {
	err := s.tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		s.logger.ErrorContext(ctx, "Failed to rollback transaction", "error", err)
		return fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	return nil
}

func beginScope(ctx context.Context, db DBPool, iso txscope.Isolation, logger *slog.Logger) (txscope.Tx, error) {
	start := time.Now()
	tx, err := db.BeginTx(ctx, pgx.TxOptions{IsoLevel: isoLevel(iso)})
	if err != nil {
		monitoring.RecordDBQuery("begin", "error", time.Since(start))
		logger.ErrorContext(ctx, "Failed to begin transaction", "error", err, "isolation", iso.String())
		return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	monitoring.RecordDBQuery("begin", "success", time.Since(start))
	return &pgScope{tx: tx, logger: logger}, nil
}

// conn returns the transaction bound to ctx, or the pool when there is none.
func conn(ctx context.Context, db DBPool) querier {
	if tx, _, ok := txscope.Current(ctx); ok {
		if s, ok := tx.(*pgScope); ok {
			return s.tx
		}
	}
	return db
}

func translateDBError(err error, contextLogger *slog.Logger) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			contextLogger.Warn("Database unique constraint violation", "detail", pgErr.Detail, "constraint", pgErr.ConstraintName)
			return fmt.Errorf("%w: %s", apperrors.ErrAlreadyExists, pgErr.ConstraintName)
		case "40001", "40P01":
			contextLogger.Warn("Transaction aborted by concurrent update", "code", pgErr.Code, "message", pgErr.Message)
			return fmt.Errorf("%w: db error code %s", apperrors.ErrConcurrentModification, pgErr.Code)
		case "23503":
			contextLogger.Warn("Database foreign key violation", "detail", pgErr.Detail, "constraint", pgErr.ConstraintName)
			return fmt.Errorf("%w: %s", apperrors.ErrNotFound, pgErr.ConstraintName)
		case "23514":
			contextLogger.Warn("Database check constraint violation", "constraint", pgErr.ConstraintName)
			return fmt.Errorf("%w: %s", apperrors.ErrInsufficientFunds, pgErr.ConstraintName)
		}

		contextLogger.Error("PostgreSQL specific error", "code", pgErr.Code, "message", pgErr.Message, "detail", pgErr.Detail)
		return apperrors.WrapDatabaseError(err, fmt.Sprintf("db error code %s", pgErr.Code))
	}

	contextLogger.Error("Generic database error", "error", err)
	return apperrors.WrapDatabaseError(err, "database operation failed")
}

func observe(queryName string, start time.Time, err error) {
	status := "success"
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		status = "error"
	}
	monitoring.RecordDBQuery(queryName, status, time.Since(start))
}
