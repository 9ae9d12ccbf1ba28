package exporter

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/parquet-go/parquet-go"

	apperrors "featureflow/internal/errors"
	"featureflow/internal/infrastructure"
	"featureflow/internal/storage"
)

// Entity directories under the export root
const (
	DirFfd     = "ffd"
	DirEmd     = "emd"
	DirVpin    = "vpin"
	DirPremium = "premium"
)

// ParquetSink writes every exported batch as parquet files under dir
type ParquetSink struct {
	dir    string
	seq    atomic.Uint64
	now    func() time.Time
	logger *slog.Logger
}

// NewParquetSink creates the entity directories under dir
func NewParquetSink(dir string, logger *slog.Logger) (*ParquetSink, error) {
	if dir == "" {
		return nil, apperrors.NewConfigError("export dir is empty", nil)
	}
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	for _, sub := range []string{DirFfd, DirEmd, DirVpin, DirPremium} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, apperrors.NewStorageError("create export dir", err)
		}
	}
	return &ParquetSink{
		dir:    dir,
		now:    time.Now,
		logger: logger.With(slog.String("component", "parquet_sink")),
	}, nil
}

// Dir returns the export root
func (s *ParquetSink) Dir() string { return s.dir }

// Export writes one file per non-empty entity of b. The first failure stops
// the export; files already written stay.
func (s *ParquetSink) Export(ctx context.Context, b storage.Batch) error {
	stamp := s.stamp()

	if err := writeEntity(ctx, s, DirFfd, stamp, ffdRows(b.Ffd)); err != nil {
		return err
	}
	if err := writeEntity(ctx, s, DirEmd, stamp, emdRows(b.Emd)); err != nil {
		return err
	}
	if err := writeEntity(ctx, s, DirVpin, stamp, vpinRows(b.VpinBars)); err != nil {
		return err
	}
	return writeEntity(ctx, s, DirPremium, stamp, premiumRows(b.Premium))
}

func (s *ParquetSink) stamp() string {
	return fmt.Sprintf("%s-%06d", s.now().UTC().Format("20060102T150405.000000000"), s.seq.Add(1))
}

func writeEntity[T any](ctx context.Context, s *ParquetSink, sub, stamp string, rows []T) error {
	if len(rows) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	path := filepath.Join(s.dir, sub, stamp+".parquet")
	tmp := path + ".tmp"
	if err := parquet.WriteFile(tmp, rows); err != nil {
		_ = os.Remove(tmp)
		return apperrors.NewStorageError("write "+sub+" parquet", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return apperrors.NewStorageError("publish "+sub+" parquet", err)
	}

	s.logger.DebugContext(ctx, "parquet file written",
		slog.String("entity", sub),
		slog.String("path", path),
		slog.Int("rows", len(rows)))
	return nil
}
