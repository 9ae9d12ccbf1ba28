// Package storage persists bars and derived features behind a single Store
// interface. Writes are idempotent upserts keyed by each entity's natural key and
// every Batch commits atomically.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"featureflow/internal/config"
	apperrors "featureflow/internal/errors"
	"featureflow/pkg/contracts/domain"
)

// Entity enumerates the persisted record kinds.
type Entity int

const (
	EntityOHLCV Entity = iota
	EntityVpin
	EntityFfd
	EntityEmd
	EntityPremium
)

// AllEntities lists every entity in write order.
var AllEntities = []Entity{EntityOHLCV, EntityVpin, EntityFfd, EntityEmd, EntityPremium}

// String returns the table and metric label of the entity.
func (e Entity) String() string {
	switch e {
	case EntityOHLCV:
		return "ohlcv"
	case EntityVpin:
		return "vpin_ohlcv"
	case EntityFfd:
		return "ffd"
	case EntityEmd:
		return "emd"
	case EntityPremium:
		return "premium_index"
	default:
		return fmt.Sprintf("entity(%d)", int(e))
	}
}

// Batch is a set of records written in one transaction.
type Batch struct {
	Series   []domain.Series
	VpinBars []domain.VpinBar
	Ffd      []domain.FfdRecord
	Emd      []domain.EmdRecord
	Premium  []domain.PremiumIndexRecord
}

// Append adds every record of other to b.
func (b *Batch) Append(other Batch) {
	b.Series = append(b.Series, other.Series...)
	b.VpinBars = append(b.VpinBars, other.VpinBars...)
	b.Ffd = append(b.Ffd, other.Ffd...)
	b.Emd = append(b.Emd, other.Emd...)
	b.Premium = append(b.Premium, other.Premium...)
}

// Count returns the number of records of one entity.
func (b Batch) Count(e Entity) int {
	switch e {
	case EntityOHLCV:
		n := 0
		for _, s := range b.Series {
			n += s.Len()
		}
		return n
	case EntityVpin:
		return len(b.VpinBars)
	case EntityFfd:
		return len(b.Ffd)
	case EntityEmd:
		return len(b.Emd)
	case EntityPremium:
		return len(b.Premium)
	default:
		return 0
	}
}

// Counts maps entity names to record counts, omitting empty entities.
func (b Batch) Counts() map[string]int {
	out := make(map[string]int)
	for _, e := range AllEntities {
		if n := b.Count(e); n > 0 {
			out[e.String()] = n
		}
	}
	return out
}

// Len returns the total number of records.
func (b Batch) Len() int {
	n := 0
	for _, e := range AllEntities {
		n += b.Count(e)
	}
	return n
}

// Store is the persistence boundary for the pipeline.
type Store interface {
	// Write upserts every record in the batch atomically.
	Write(ctx context.Context, b Batch) error
	// Bars returns the most recent limit bars, oldest first.
	Bars(ctx context.Context, instrumentID int64, res domain.Resolution, limit int) ([]domain.Bar, error)
	// VpinBars returns the most recent limit imbalance bars, oldest first.
	VpinBars(ctx context.Context, instrumentID, vpinID int64, limit int) ([]domain.VpinBar, error)
	// Count returns the number of stored rows of one entity.
	Count(ctx context.Context, e Entity) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

// Open selects a Store by cfg.Driver. width is the number of spectrum columns
// (K) in the emd table.
func Open(ctx context.Context, cfg config.StorageConfig, width int, logger *slog.Logger) (Store, error) {
	if width < 1 {
		return nil, apperrors.NewInvalidParameterError("spectrum_width", width)
	}
	switch cfg.Driver {
	case config.DriverPostgres:
		return OpenPostgres(ctx, cfg, width, logger)
	case config.DriverSQLite:
		return OpenSQLite(ctx, cfg, width, logger)
	case config.DriverMemory:
		return NewMemoryStore(width), nil
	default:
		return nil, apperrors.NewConfigError(fmt.Sprintf("unknown storage driver %q", cfg.Driver), nil)
	}
}
