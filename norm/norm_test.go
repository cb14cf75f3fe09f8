package norm

import (
	"math"
	"math/rand"
	"strconv"
	"testing"

	"github.com/quantbio/diffex/counts"
)

// randomMatrix builds a deterministic count matrix with no all-zero samples.
func randomMatrix(nGenes, nSamples int, seed int64) *counts.Matrix {
	rng := rand.New(rand.NewSource(seed))
	m := &counts.Matrix{}
	for j := 0; j < nSamples; j++ {
		m.Samples = append(m.Samples, string(rune('a'+j)))
	}
	for i := 0; i < nGenes; i++ {
		m.Genes = append(m.Genes, "g"+strconv.Itoa(i))
		row := make([]float64, nSamples)
		mean := math.Exp(rng.Float64()*5 + 2)
		for j := range row {
			row[j] = math.Round(mean * math.Exp(rng.NormFloat64()*0.3))
		}
		m.Counts = append(m.Counts, row)
	}
	return m
}

func geoMean(f []float64) float64 {
	var sumLog float64
	for _, v := range f {
		sumLog += math.Log(v)
	}
	return math.Exp(sumLog / float64(len(f)))
}

func TestTMMGeometricMeanIsOne(t *testing.T) {
	for _, seed := range []int64{1, 7, 42} {
		m := randomMatrix(300, 6, seed)
		f, err := TMM(m, DefaultTMMOptions())
		if err != nil {
			t.Fatal(err)
		}
		if len(f) != 6 {
			t.Fatalf("got %d factors, want 6", len(f))
		}
		if gm := geoMean(f); math.Abs(gm-1) > 1e-9 {
			t.Errorf("seed %d: geometric mean of factors is %v, want 1", seed, gm)
		}
		for j, v := range f {
			if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
				t.Errorf("seed %d: factor %d is %v, want a positive real", seed, j, v)
			}
		}
	}
}

func TestTMMIdenticalColumnsGiveUnitFactors(t *testing.T) {
	m := &counts.Matrix{
		Genes:   []string{"g1", "g2", "g3"},
		Samples: []string{"s1", "s2"},
		Counts:  [][]float64{{10, 10}, {200, 200}, {35, 35}},
	}
	f, err := TMM(m, DefaultTMMOptions())
	if err != nil {
		t.Fatal(err)
	}
	for j, v := range f {
		if math.Abs(v-1) > 1e-12 {
			t.Errorf("factor %d: got %v, want 1", j, v)
		}
	}
}

func TestTMMScaledLibraryIsCompensated(t *testing.T) {
	// Sample 2 is sample 1 sequenced twice as deep; composition is
	// unchanged, so the factors must stay near 1 (library size alone
	// already accounts for depth).
	m := randomMatrix(400, 2, 3)
	for i := range m.Counts {
		m.Counts[i][1] = m.Counts[i][0] * 2
	}
	f, err := TMM(m, DefaultTMMOptions())
	if err != nil {
		t.Fatal(err)
	}
	for j, v := range f {
		if math.Abs(v-1) > 0.05 {
			t.Errorf("factor %d: got %v, want approximately 1", j, v)
		}
	}
}

func TestTMMAllZeroSample(t *testing.T) {
	m := &counts.Matrix{
		Genes:   []string{"g1", "g2"},
		Samples: []string{"s1", "s2"},
		Counts:  [][]float64{{5, 0}, {9, 0}},
	}
	_, err := TMM(m, DefaultTMMOptions())
	zero, ok := err.(*AllZeroSampleError)
	if !ok {
		t.Fatalf("got %v, want an AllZeroSampleError", err)
	}
	if zero.Sample != "s2" {
		t.Errorf("got sample %q, want s2", zero.Sample)
	}
}

func TestUpperQuartileGeometricMeanIsOne(t *testing.T) {
	m := randomMatrix(300, 5, 11)
	f, err := UpperQuartile(m, 0.75)
	if err != nil {
		t.Fatal(err)
	}
	if gm := geoMean(f); math.Abs(gm-1) > 1e-9 {
		t.Errorf("geometric mean of factors is %v, want 1", gm)
	}
}

func TestRelativeLogGeometricMeanIsOne(t *testing.T) {
	m := randomMatrix(300, 5, 13)
	f, err := RelativeLog(m)
	if err != nil {
		t.Fatal(err)
	}
	if gm := geoMean(f); math.Abs(gm-1) > 1e-9 {
		t.Errorf("geometric mean of factors is %v, want 1", gm)
	}
}

func TestTMMSingleGene(t *testing.T) {
	// A one-gene matrix is valid input: both samples consist entirely of
	// that gene, so the factors must come back as ones, not a panic or an
	// error.
	m := &counts.Matrix{
		Genes:   []string{"g1"},
		Samples: []string{"s1", "s2"},
		Counts:  [][]float64{{5, 9}},
	}
	f, err := TMM(m, DefaultTMMOptions())
	if err != nil {
		t.Fatal(err)
	}
	if len(f) != 2 {
		t.Fatalf("got %d factors, want 2", len(f))
	}
	for j, v := range f {
		if math.Abs(v-1) > 1e-9 {
			t.Errorf("factor %d: got %v, want 1", j, v)
		}
	}
}

func TestUpperQuartileSingleInformativeGene(t *testing.T) {
	// Only one gene is non-zero, so the per-sample quantile is taken over a
	// single value.
	m := &counts.Matrix{
		Genes:   []string{"g1", "g2"},
		Samples: []string{"s1", "s2"},
		Counts:  [][]float64{{0, 0}, {10, 20}},
	}
	f, err := UpperQuartile(m, 0.75)
	if err != nil {
		t.Fatal(err)
	}
	for j, v := range f {
		if math.Abs(v-1) > 1e-9 {
			t.Errorf("factor %d: got %v, want 1", j, v)
		}
	}
}

func TestAverageRanks(t *testing.T) {
	for _, tc := range []struct {
		in   []float64
		want []float64
	}{
		{[]float64{3, 1, 2}, []float64{2, 0, 1}},
		{[]float64{1, 1, 2}, []float64{0.5, 0.5, 2}},
		{[]float64{5, 5, 5, 1}, []float64{2, 2, 2, 0}},
	} {
		got := averageRanks(tc.in)
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("ranks(%v): got %v, want %v", tc.in, got, tc.want)
				break
			}
		}
	}
}

func TestQuantileR7(t *testing.T) {
	v := []float64{1, 2, 3, 4}
	if got, want := quantileR7(append([]float64(nil), v...), 0.5), 2.5; math.Abs(got-want) > 1e-12 {
		t.Errorf("median: got %v, want %v", got, want)
	}
	if got, want := quantileR7(append([]float64(nil), v...), 0.75), 3.25; math.Abs(got-want) > 1e-12 {
		t.Errorf("q75: got %v, want %v", got, want)
	}
	if got, want := quantileR7(append([]float64(nil), v...), 1), 4.0; got != want {
		t.Errorf("q100: got %v, want %v", got, want)
	}
}

func TestQuantileR7SingleElement(t *testing.T) {
	for _, p := range []float64{0, 0.5, 0.75, 1} {
		if got := quantileR7([]float64{3.5}, p); got != 3.5 {
			t.Errorf("quantileR7([3.5], %v): got %v, want 3.5", p, got)
		}
	}
}
