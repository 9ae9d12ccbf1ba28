package storage

import (
	"context"
	"database/sql"
	"log/slog"

	_ "modernc.org/sqlite"

	"featureflow/internal/config"
	apperrors "featureflow/internal/errors"
)

var sqliteDialect = dialect{
	name:        config.DriverSQLite,
	maxParams:   32000,
	intType:     "INTEGER",
	floatType:   "REAL",
	textType:    "TEXT",
	placeholder: func(int) string { return "?" },
}

// OpenSQLite opens a file or in-memory database with modernc.org/sqlite. SQLite
// serialises writers, so the pool is pinned to one connection.
func OpenSQLite(ctx context.Context, cfg config.StorageConfig, width int, logger *slog.Logger) (Store, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, apperrors.NewStorageError("open sqlite", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, apperrors.NewStorageError("connect sqlite", err).WithContext("dsn", cfg.DSN)
	}

	s := newSQLStore(db, sqliteDialect, width, cfg.BatchSize, logger)

	for _, pragma := range []string{"PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			s.logger.Warn("pragma failed", slog.String("pragma", pragma), slog.String("error", err.Error()))
		}
	}

	if cfg.Migrate {
		if err := s.migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}
	return s, nil
}
