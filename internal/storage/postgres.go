package storage

import (
	"context"
	"database/sql"
	"log/slog"
	"strconv"

	_ "github.com/lib/pq"

	"featureflow/internal/config"
	apperrors "featureflow/internal/errors"
)

var postgresDialect = dialect{
	name:        config.DriverPostgres,
	maxParams:   65535,
	intType:     "BIGINT",
	floatType:   "DOUBLE PRECISION",
	textType:    "TEXT",
	placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
}

// OpenPostgres connects with github.com/lib/pq and creates the schema when
// cfg.Migrate is set.
func OpenPostgres(ctx context.Context, cfg config.StorageConfig, width int, logger *slog.Logger) (Store, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, apperrors.NewStorageError("open postgres", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, apperrors.NewStorageError("connect postgres", err).
			WithContext("dsn", redactDSN(cfg.DSN))
	}

	s := newSQLStore(db, postgresDialect, width, cfg.BatchSize, logger)
	if cfg.Migrate {
		if err := s.migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}
	s.logger.Info("connected", slog.String("dsn", redactDSN(cfg.DSN)))
	return s, nil
}
