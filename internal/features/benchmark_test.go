package features

import (
	"testing"
	"time"

	"featureflow/pkg/contracts/domain"
)

// BenchmarkFracDiff measures differencing at sizes seen for one week of minute bars
func BenchmarkFracDiff(b *testing.B) {
	benchmarks := []struct {
		name string
		size int
	}{
		{"one_day_1min", 1440},
		{"one_week_1min", 10080},
	}

	for _, bm := range benchmarks {
		b.Run(bm.name, func(b *testing.B) {
			series := domain.Series{
				InstrumentID: 1,
				Resolution:   domain.Res1Min,
				Bars:         makeBars(testStart, time.Minute, randomWalk(bm.size, 1)),
			}
			p := FracDiffParams{Fdim: 0.3, Thresh: 1e-4}

			b.ResetTimer()
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := FracDiff(series, p); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkExtractSpectra measures EMD plus Hilbert features
func BenchmarkExtractSpectra(b *testing.B) {
	x := randomWalk(2048, 2)
	epochs := make([]time.Time, len(x))
	for i := range epochs {
		epochs[i] = testStart.Add(time.Duration(i) * time.Minute)
	}
	p := DefaultEMDParams(16)

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := ExtractSpectra(epochs, x, p); err != nil {
			b.Fatal(err)
		}
	}
}
