package storage

import (
	"context"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"featureflow/internal/config"
	apperrors "featureflow/internal/errors"
	"featureflow/pkg/contracts/domain"
)

const testWidth = 4

var t0 = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// stores returns every backend that runs without external services.
func stores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := OpenSQLite(context.Background(), config.StorageConfig{
		Driver:    config.DriverSQLite,
		DSN:       "file:" + filepath.Join(t.TempDir(), "test.db"),
		BatchSize: 7,
		Migrate:   true,
	}, testWidth, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(testWidth),
		"sqlite": sqlite,
	}
}

func sampleBatch(fdim domain.Fdim) Batch {
	var b Batch
	bars := make([]domain.Bar, 20)
	for i := range bars {
		bars[i] = domain.Bar{InstrumentID: 1, Epoch: t0.Add(time.Duration(i) * time.Minute),
			Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10, TradeCount: 3}
	}
	b.Series = []domain.Series{{InstrumentID: 1, Resolution: domain.Res1Min, Bars: bars}}

	for i := 0; i < 10; i++ {
		epoch := t0.Add(time.Duration(i) * time.Hour)
		b.VpinBars = append(b.VpinBars, domain.VpinBar{InstrumentID: 1, VpinID: 2, Epoch: epoch,
			Open: 1, High: 1, Low: 1, Close: 1, Volume: 5, BuyVolume: 3, SellVolume: 2, TradeCount: 4,
			ExpTicks: 12.5, ExpImbalance: 0.75, TickSign: -1})
		b.Ffd = append(b.Ffd, domain.FfdRecord{InstrumentID: 1, Resolution: domain.Res1H, Fdim: fdim, Epoch: epoch,
			Open: 0.1, High: 0.2, Low: 0, Close: 0.1, Volume: 5, TradeCount: 1})

		s := domain.NewSpectrum(testWidth, 2)
		s.IMF[0], s.IMF[1] = 0.5, -0.5
		s.IF[0], s.IF[1] = 0.01, math.NaN()
		b.Emd = append(b.Emd, domain.EmdRecord{InstrumentID: 1, Resolution: domain.Res1H, Fdim: fdim, Epoch: epoch, Spectrum: s})

		b.Premium = append(b.Premium, domain.PremiumIndexRecord{SpotInstrumentID: 1, FuturesInstrumentID: 2,
			Resolution: domain.Res1H, Epoch: epoch, PremiumIndex: 0.25})
	}
	return b
}

func counts(t *testing.T, s Store) map[Entity]int {
	t.Helper()
	out := make(map[Entity]int)
	for _, e := range AllEntities {
		n, err := s.Count(context.Background(), e)
		require.NoError(t, err)
		out[e] = n
	}
	return out
}

func TestStore_WriteIsIdempotent(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b := sampleBatch(0.3)

			require.NoError(t, s.Write(ctx, b))
			first := counts(t, s)
			require.NoError(t, s.Write(ctx, b))

			assert.Equal(t, first, counts(t, s))
			assert.Equal(t, 20, first[EntityOHLCV])
			assert.Equal(t, 10, first[EntityVpin])
			assert.Equal(t, 10, first[EntityFfd])
			assert.Equal(t, 10, first[EntityEmd])
			assert.Equal(t, 10, first[EntityPremium])
		})
	}
}

func TestStore_DistinctFdimAreDistinctRows(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Write(ctx, sampleBatch(0.3)))
			require.NoError(t, s.Write(ctx, sampleBatch(0.35)))

			c := counts(t, s)
			assert.Equal(t, 20, c[EntityFfd])
			assert.Equal(t, 20, c[EntityEmd])
			assert.Equal(t, 10, c[EntityVpin], "fdim is not part of the vpin key")
		})
	}
}

func TestStore_ReadsLatestAscending(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Write(ctx, sampleBatch(0.3)))

			bars, err := s.Bars(ctx, 1, domain.Res1Min, 5)
			require.NoError(t, err)
			require.Len(t, bars, 5)
			assert.Equal(t, t0.Add(15*time.Minute), bars[0].Epoch)
			assert.Equal(t, t0.Add(19*time.Minute), bars[4].Epoch)
			assert.Equal(t, 1.5, bars[4].Close)
			assert.Equal(t, int64(3), bars[4].TradeCount)

			all, err := s.Bars(ctx, 1, domain.Res1Min, 0)
			require.NoError(t, err)
			assert.Len(t, all, 20)

			none, err := s.Bars(ctx, 1, domain.Res5Min, 10)
			require.NoError(t, err)
			assert.Empty(t, none)

			vb, err := s.VpinBars(ctx, 1, 2, 3)
			require.NoError(t, err)
			require.Len(t, vb, 3)
			assert.True(t, vb[0].Epoch.Before(vb[2].Epoch))
			assert.Equal(t, 3.0, vb[0].BuyVolume)
			assert.Equal(t, 12.5, vb[2].ExpTicks)
			assert.Equal(t, 0.75, vb[2].ExpImbalance)
			assert.Equal(t, -1.0, vb[2].TickSign)
		})
	}
}

func TestStore_UpsertOverwritesValues(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b := sampleBatch(0.3)
			require.NoError(t, s.Write(ctx, b))

			b.Series[0].Bars[19].Close = 99
			require.NoError(t, s.Write(ctx, Batch{Series: b.Series}))

			bars, err := s.Bars(ctx, 1, domain.Res1Min, 1)
			require.NoError(t, err)
			require.Len(t, bars, 1)
			assert.Equal(t, 99.0, bars[0].Close)
		})
	}
}

func TestStore_RejectsWideSpectrum(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			b := Batch{Emd: []domain.EmdRecord{{InstrumentID: 1, Resolution: domain.Res1H, Fdim: 0.3, Epoch: t0,
				Spectrum: domain.NewSpectrum(testWidth+1, 1)}}}
			err := s.Write(context.Background(), b)
			assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))
		})
	}
}

func TestBatch_Counts(t *testing.T) {
	b := sampleBatch(0.3)
	assert.Equal(t, 60, b.Len())
	assert.Equal(t, map[string]int{"ohlcv": 20, "vpin_ohlcv": 10, "ffd": 10, "emd": 10, "premium_index": 10}, b.Counts())

	var merged Batch
	merged.Append(b)
	merged.Append(Batch{Premium: b.Premium[:2]})
	assert.Equal(t, 12, merged.Count(EntityPremium))
	assert.Empty(t, Batch{}.Counts())
}

func TestDialect_Upsert(t *testing.T) {
	tbl := tables(2)[EntityPremium]

	pg := postgresDialect.upsert(tbl, 2)
	assert.Contains(t, pg, "VALUES ($1, $2, $3, $4, $5), ($6, $7, $8, $9, $10)")
	assert.Contains(t, pg, `ON CONFLICT ("spot_instrument_id", "futures_instrument_id", "resolution", "epoch")`)
	assert.Contains(t, pg, `"premium_index" = excluded."premium_index"`)

	lite := sqliteDialect.upsert(tbl, 1)
	assert.Contains(t, lite, "VALUES (?, ?, ?, ?, ?)")

	ddl := postgresDialect.createTable(tables(2)[EntityEmd])
	for _, col := range []string{`"imf_1"`, `"if_0"`, `"ia_1"`, `"ip_0"`} {
		assert.Contains(t, ddl, col)
	}
	assert.NotContains(t, ddl, `"imf_2"`)
	assert.True(t, strings.HasPrefix(ddl, "CREATE TABLE IF NOT EXISTS emd"))
}

func TestDialect_EpochIsUnixSeconds(t *testing.T) {
	for _, e := range AllEntities {
		tbl := tables(2)[e]
		assert.Contains(t, postgresDialect.createTable(tbl), `"epoch" BIGINT NOT NULL`, e.String())
		assert.Contains(t, sqliteDialect.createTable(tbl), `"epoch" INTEGER NOT NULL`, e.String())
	}

	s := stores(t)["sqlite"]
	ctx := context.Background()
	local := time.FixedZone("UTC+3", 3*3600)
	epoch := t0.Add(1500 * time.Millisecond).In(local)
	require.NoError(t, s.Write(ctx, Batch{VpinBars: []domain.VpinBar{
		{InstrumentID: 1, VpinID: 2, Epoch: epoch, Close: 1, Volume: 1, ExpTicks: 1, ExpImbalance: 1, TickSign: 1},
	}}))

	vb, err := s.VpinBars(ctx, 1, 2, 0)
	require.NoError(t, err)
	require.Len(t, vb, 1)
	assert.Equal(t, t0.Add(time.Second), vb[0].Epoch)
	assert.Equal(t, time.UTC, vb[0].Epoch.Location())
}

func TestDialect_RowsPerStatement(t *testing.T) {
	emd := tables(16)[EntityEmd]
	assert.Equal(t, 32000/len(emd.cols), sqliteDialect.rowsPerStatement(emd, 0))
	assert.Equal(t, 100, sqliteDialect.rowsPerStatement(emd, 100))
}

func TestOpen_Drivers(t *testing.T) {
	s, err := Open(context.Background(), config.StorageConfig{Driver: config.DriverMemory}, 2, quietLogger())
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	_, err = Open(context.Background(), config.StorageConfig{Driver: "oracle"}, 2, quietLogger())
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeConfig))

	_, err = Open(context.Background(), config.StorageConfig{Driver: config.DriverMemory}, 0, quietLogger())
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))
}

func TestRedactDSN(t *testing.T) {
	assert.Equal(t, "postgres://***@db:5432/features", redactDSN("postgres://user:secret@db:5432/features"))
	assert.Equal(t, "***", redactDSN("host=db password=secret"))
	assert.Equal(t, "file:x.db", redactDSN("file:x.db"))
}
