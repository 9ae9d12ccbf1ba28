package storage

import (
	"context"
	"sort"
	"sync"

	apperrors "featureflow/internal/errors"
	"featureflow/pkg/contracts/domain"
)

type barKey struct {
	instrumentID int64
	resolution   domain.Resolution
	epoch        int64
}

type vpinKey struct {
	instrumentID, vpinID, epoch int64
}

type featureKey struct {
	instrumentID int64
	resolution   domain.Resolution
	vpinID       int64
	fdim         string
	epoch        int64
}

type premiumKey struct {
	spot, futures int64
	resolution    domain.Resolution
	epoch         int64
}

// MemoryStore is a Store backed by maps keyed on each entity's natural key.
type MemoryStore struct {
	mu      sync.RWMutex
	width   int
	bars    map[barKey]domain.Bar
	vpin    map[vpinKey]domain.VpinBar
	ffd     map[featureKey]domain.FfdRecord
	emd     map[featureKey]domain.EmdRecord
	premium map[premiumKey]domain.PremiumIndexRecord
	writes  int
}

// NewMemoryStore creates an empty store accepting spectra up to width modes.
func NewMemoryStore(width int) *MemoryStore {
	return &MemoryStore{
		width:   width,
		bars:    make(map[barKey]domain.Bar),
		vpin:    make(map[vpinKey]domain.VpinBar),
		ffd:     make(map[featureKey]domain.FfdRecord),
		emd:     make(map[featureKey]domain.EmdRecord),
		premium: make(map[premiumKey]domain.PremiumIndexRecord),
	}
}

func ffdKey(r domain.FfdRecord) featureKey {
	return featureKey{r.InstrumentID, r.Resolution, r.VpinID, r.Fdim.Key(), r.Epoch.Unix()}
}

func emdKey(r domain.EmdRecord) featureKey {
	return featureKey{r.InstrumentID, r.Resolution, r.VpinID, r.Fdim.Key(), r.Epoch.Unix()}
}

func (m *MemoryStore) Write(ctx context.Context, b Batch) error {
	if err := ctx.Err(); err != nil {
		return apperrors.NewStorageError("write cancelled", err)
	}
	if err := checkWidth(b, m.width); err != nil {
		return err
	}
	if b.Len() == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range b.Series {
		for _, bar := range s.Bars {
			m.bars[barKey{bar.InstrumentID, s.Resolution, bar.Epoch.Unix()}] = bar
		}
	}
	for _, v := range b.VpinBars {
		m.vpin[vpinKey{v.InstrumentID, v.VpinID, v.Epoch.Unix()}] = v
	}
	for _, r := range b.Ffd {
		m.ffd[ffdKey(r)] = r
	}
	for _, r := range b.Emd {
		m.emd[emdKey(r)] = r
	}
	for _, r := range b.Premium {
		m.premium[premiumKey{r.SpotInstrumentID, r.FuturesInstrumentID, r.Resolution, r.Epoch.Unix()}] = r
	}
	m.writes++
	return nil
}

func (m *MemoryStore) Bars(_ context.Context, instrumentID int64, res domain.Resolution, limit int) ([]domain.Bar, error) {
	m.mu.RLock()
	var out []domain.Bar
	for k, b := range m.bars {
		if k.instrumentID == instrumentID && k.resolution == res {
			out = append(out, b)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Epoch.Before(out[j].Epoch) })
	return tail(out, limit), nil
}

func (m *MemoryStore) VpinBars(_ context.Context, instrumentID, vpinID int64, limit int) ([]domain.VpinBar, error) {
	m.mu.RLock()
	var out []domain.VpinBar
	for k, b := range m.vpin {
		if k.instrumentID == instrumentID && k.vpinID == vpinID {
			out = append(out, b)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Epoch.Before(out[j].Epoch) })
	return tail(out, limit), nil
}

func (m *MemoryStore) Count(_ context.Context, e Entity) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	switch e {
	case EntityOHLCV:
		return len(m.bars), nil
	case EntityVpin:
		return len(m.vpin), nil
	case EntityFfd:
		return len(m.ffd), nil
	case EntityEmd:
		return len(m.emd), nil
	case EntityPremium:
		return len(m.premium), nil
	default:
		return 0, apperrors.NewInvalidParameterError("entity", e.String())
	}
}

// Writes returns the number of non-empty batches committed.
func (m *MemoryStore) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// Ffd returns stored ffd records for one series, ordered by epoch.
func (m *MemoryStore) Ffd(instrumentID int64, res domain.Resolution, vpinID int64) []domain.FfdRecord {
	m.mu.RLock()
	var out []domain.FfdRecord
	for k, r := range m.ffd {
		if k.instrumentID == instrumentID && k.resolution == res && k.vpinID == vpinID {
			out = append(out, r)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Epoch.Equal(out[j].Epoch) {
			return out[i].Epoch.Before(out[j].Epoch)
		}
		return out[i].Fdim < out[j].Fdim
	})
	return out
}

// Emd returns stored emd records for one series, ordered by epoch.
func (m *MemoryStore) Emd(instrumentID int64, res domain.Resolution, vpinID int64) []domain.EmdRecord {
	m.mu.RLock()
	var out []domain.EmdRecord
	for k, r := range m.emd {
		if k.instrumentID == instrumentID && k.resolution == res && k.vpinID == vpinID {
			out = append(out, r)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Epoch.Equal(out[j].Epoch) {
			return out[i].Epoch.Before(out[j].Epoch)
		}
		return out[i].Fdim < out[j].Fdim
	})
	return out
}

// Premium returns stored premium records for one pair, ordered by epoch.
func (m *MemoryStore) Premium(spot, futures int64, res domain.Resolution) []domain.PremiumIndexRecord {
	m.mu.RLock()
	var out []domain.PremiumIndexRecord
	for k, r := range m.premium {
		if k.spot == spot && k.futures == futures && k.resolution == res {
			out = append(out, r)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Epoch.Before(out[j].Epoch) })
	return out
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

func tail[T any](s []T, limit int) []T {
	if limit > 0 && len(s) > limit {
		return s[len(s)-limit:]
	}
	return s
}
