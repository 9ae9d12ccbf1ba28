package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	apperrors "featureflow/internal/errors"
	"featureflow/pkg/contracts/domain"
)

// sqlStore implements Store on database/sql for any dialect.
type sqlStore struct {
	db        *sql.DB
	dialect   dialect
	tables    map[Entity]table
	width     int
	batchSize int
	logger    *slog.Logger
}

func newSQLStore(db *sql.DB, d dialect, width, batchSize int, logger *slog.Logger) *sqlStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &sqlStore{
		db:        db,
		dialect:   d,
		tables:    tables(width),
		width:     width,
		batchSize: batchSize,
		logger:    logger.With(slog.String("component", "storage"), slog.String("driver", d.name)),
	}
}

// migrate creates every table that does not exist yet.
func (s *sqlStore) migrate(ctx context.Context) error {
	for _, e := range AllEntities {
		ddl := s.dialect.createTable(s.tables[e])
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return apperrors.NewStorageError("create table "+e.String(), err)
		}
	}
	s.logger.Info("schema ready", slog.Int("spectrum_width", s.width))
	return nil
}

// Write upserts the batch in a single transaction.
func (s *sqlStore) Write(ctx context.Context, b Batch) error {
	if b.Len() == 0 {
		return nil
	}
	if err := checkWidth(b, s.width); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewStorageError("begin transaction", err)
	}
	defer tx.Rollback()

	for _, e := range AllEntities {
		rows := s.rows(e, b)
		if len(rows) == 0 {
			continue
		}
		if err := s.upsert(ctx, tx, s.tables[e], rows); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewStorageError("commit", err)
	}
	return nil
}

func (s *sqlStore) upsert(ctx context.Context, tx *sql.Tx, t table, rows [][]interface{}) error {
	chunk := s.dialect.rowsPerStatement(t, s.batchSize)
	for start := 0; start < len(rows); start += chunk {
		end := min(start+chunk, len(rows))
		args := make([]interface{}, 0, (end-start)*len(t.cols))
		for _, r := range rows[start:end] {
			args = append(args, r...)
		}
		if _, err := tx.ExecContext(ctx, s.dialect.upsert(t, end-start), args...); err != nil {
			return apperrors.NewStorageError("upsert "+t.name(), err).
				WithContext("rows", end-start)
		}
	}
	return nil
}

// rows flattens one entity of the batch into column-ordered values.
func (s *sqlStore) rows(e Entity, b Batch) [][]interface{} {
	var out [][]interface{}
	switch e {
	case EntityOHLCV:
		for _, series := range b.Series {
			for _, bar := range series.Bars {
				out = append(out, []interface{}{
					bar.InstrumentID, series.Resolution.String(), bar.Epoch.Unix(),
					nullable(bar.Open), nullable(bar.High), nullable(bar.Low), nullable(bar.Close), nullable(bar.Volume),
					bar.TradeCount,
				})
			}
		}
	case EntityVpin:
		for _, v := range b.VpinBars {
			out = append(out, []interface{}{
				v.InstrumentID, v.VpinID, v.Epoch.Unix(),
				nullable(v.Open), nullable(v.High), nullable(v.Low), nullable(v.Close), nullable(v.Volume),
				nullable(v.BuyVolume), nullable(v.SellVolume), v.TradeCount,
				v.ExpTicks, v.ExpImbalance, v.TickSign,
			})
		}
	case EntityFfd:
		for _, r := range b.Ffd {
			out = append(out, []interface{}{
				r.InstrumentID, r.Resolution.String(), r.VpinID, r.Fdim.Key(), r.Epoch.Unix(),
				nullable(r.Open), nullable(r.High), nullable(r.Low), nullable(r.Close), nullable(r.Volume),
				nullable(r.TradeCount),
			})
		}
	case EntityEmd:
		for _, r := range b.Emd {
			row := make([]interface{}, 0, 6+4*s.width)
			row = append(row, r.InstrumentID, r.Resolution.String(), r.VpinID, r.Fdim.Key(), r.Epoch.Unix(), r.Spectrum.Modes)
			for _, ch := range [][]float64{r.Spectrum.IMF, r.Spectrum.IF, r.Spectrum.IA, r.Spectrum.IP} {
				for m := 0; m < s.width; m++ {
					if m < len(ch) && m < r.Spectrum.Modes {
						row = append(row, nullable(ch[m]))
					} else {
						row = append(row, nil)
					}
				}
			}
			out = append(out, row)
		}
	case EntityPremium:
		for _, r := range b.Premium {
			out = append(out, []interface{}{
				r.SpotInstrumentID, r.FuturesInstrumentID, r.Resolution.String(), r.Epoch.Unix(),
				nullable(r.PremiumIndex),
			})
		}
	default:
		panic(fmt.Sprintf("storage: unhandled entity %s", e))
	}
	return out
}

// Bars returns the latest limit bars in ascending epoch order.
func (s *sqlStore) Bars(ctx context.Context, instrumentID int64, res domain.Resolution, limit int) ([]domain.Bar, error) {
	q := fmt.Sprintf(
		`SELECT epoch, open, high, low, close, volume, trade_count FROM ohlcv
		 WHERE instrument_id = %s AND resolution = %s ORDER BY epoch DESC LIMIT %s`,
		s.dialect.placeholder(1), s.dialect.placeholder(2), s.dialect.placeholder(3))

	rows, err := s.db.QueryContext(ctx, q, instrumentID, res.String(), sqlLimit(limit))
	if err != nil {
		return nil, apperrors.NewStorageError("query ohlcv", err)
	}
	defer rows.Close()

	var out []domain.Bar
	for rows.Next() {
		var epoch int64
		var o, h, l, c, v sql.NullFloat64
		var trades sql.NullInt64
		if err := rows.Scan(&epoch, &o, &h, &l, &c, &v, &trades); err != nil {
			return nil, apperrors.NewStorageError("scan ohlcv", err)
		}
		out = append(out, domain.Bar{
			InstrumentID: instrumentID,
			Epoch:        time.Unix(epoch, 0).UTC(),
			Open:         o.Float64, High: h.Float64, Low: l.Float64, Close: c.Float64, Volume: v.Float64,
			TradeCount: trades.Int64,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStorageError("iterate ohlcv", err)
	}
	reverse(out)
	return out, nil
}

// VpinBars returns the latest limit imbalance bars in ascending epoch order.
func (s *sqlStore) VpinBars(ctx context.Context, instrumentID, vpinID int64, limit int) ([]domain.VpinBar, error) {
	q := fmt.Sprintf(
		`SELECT epoch, open, high, low, close, volume, buy_volume, sell_volume, trade_count,
		        exp_ticks, exp_imbalance, tick_sign FROM vpin_ohlcv
		 WHERE instrument_id = %s AND vpin_id = %s ORDER BY epoch DESC LIMIT %s`,
		s.dialect.placeholder(1), s.dialect.placeholder(2), s.dialect.placeholder(3))

	rows, err := s.db.QueryContext(ctx, q, instrumentID, vpinID, sqlLimit(limit))
	if err != nil {
		return nil, apperrors.NewStorageError("query vpin_ohlcv", err)
	}
	defer rows.Close()

	var out []domain.VpinBar
	for rows.Next() {
		var epoch int64
		var o, h, l, c, v, buy, sell, expTicks, expImb, sign sql.NullFloat64
		var trades sql.NullInt64
		if err := rows.Scan(&epoch, &o, &h, &l, &c, &v, &buy, &sell, &trades, &expTicks, &expImb, &sign); err != nil {
			return nil, apperrors.NewStorageError("scan vpin_ohlcv", err)
		}
		out = append(out, domain.VpinBar{
			InstrumentID: instrumentID,
			VpinID:       vpinID,
			Epoch:        time.Unix(epoch, 0).UTC(),
			Open:         o.Float64, High: h.Float64, Low: l.Float64, Close: c.Float64, Volume: v.Float64,
			BuyVolume: buy.Float64, SellVolume: sell.Float64,
			TradeCount: trades.Int64,
			ExpTicks:   expTicks.Float64, ExpImbalance: expImb.Float64, TickSign: sign.Float64,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStorageError("iterate vpin_ohlcv", err)
	}
	reverse(out)
	return out, nil
}

// Count returns the row count of one entity's table.
func (s *sqlStore) Count(ctx context.Context, e Entity) (int, error) {
	t, ok := s.tables[e]
	if !ok {
		return 0, apperrors.NewInvalidParameterError("entity", e.String())
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+t.name()).Scan(&n); err != nil {
		return 0, apperrors.NewStorageError("count "+t.name(), err)
	}
	return n, nil
}

func (s *sqlStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return apperrors.NewStorageError("ping", err)
	}
	return nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

// checkWidth rejects spectra wider than the emd table.
func checkWidth(b Batch, width int) error {
	for _, r := range b.Emd {
		if r.Spectrum.Width() > width {
			return apperrors.NewAppValidationError(
				fmt.Sprintf("spectrum width %d exceeds store width %d", r.Spectrum.Width(), width))
		}
	}
	return nil
}

// nullable maps non-finite floats to SQL NULL.
func nullable(v float64) interface{} {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

// sqlLimit maps a non-positive limit to "all rows".
func sqlLimit(limit int) int {
	if limit <= 0 {
		return math.MaxInt32
	}
	return limit
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

// redactDSN hides credentials in a connection string for logging.
func redactDSN(dsn string) string {
	if at := strings.LastIndex(dsn, "@"); at >= 0 {
		if scheme := strings.Index(dsn, "://"); scheme >= 0 && scheme < at {
			return dsn[:scheme+3] + "***" + dsn[at:]
		}
	}
	if strings.Contains(dsn, "password=") {
		return "***"
	}
	return dsn
}
