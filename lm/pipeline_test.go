package lm_test

import (
	"math"
	"math/rand"
	"strconv"
	"testing"

	"github.com/quantbio/diffex/counts"
	"github.com/quantbio/diffex/design"
	"github.com/quantbio/diffex/lm"
	"github.com/quantbio/diffex/norm"
	"github.com/quantbio/diffex/toptable"
)

// syntheticMatrix builds a deterministic two-condition count matrix. The
// first nShifted genes carry a large mean shift in condition B; all other
// genes have matched means. noisySample, when non-negative, multiplies that
// sample's counts by gene-wise lognormal noise of the given sd.
func syntheticMatrix(nGenes, perGroup, nShifted int, shift, noiseSD float64, noisySample int, seed int64) (*counts.Matrix, *counts.Metadata) {
	rng := rand.New(rand.NewSource(seed))
	nSamples := 2 * perGroup

	m := &counts.Matrix{}
	md := &counts.Metadata{
		Names:      []string{"condition"},
		Covariates: map[string][]string{"condition": nil},
	}
	for j := 0; j < nSamples; j++ {
		m.Samples = append(m.Samples, "s"+strconv.Itoa(j))
		md.Samples = append(md.Samples, "s"+strconv.Itoa(j))
		if j < perGroup {
			md.Covariates["condition"] = append(md.Covariates["condition"], "A")
		} else {
			md.Covariates["condition"] = append(md.Covariates["condition"], "B")
		}
	}

	for i := 0; i < nGenes; i++ {
		m.Genes = append(m.Genes, "g"+strconv.Itoa(i))
		base := 100 + rng.Float64()*400
		row := make([]float64, nSamples)
		for j := 0; j < nSamples; j++ {
			mean := base
			if i < nShifted && j >= perGroup {
				mean *= shift
			}
			v := mean * math.Exp(rng.NormFloat64()*0.05)
			if j == noisySample {
				v *= math.Exp(rng.NormFloat64() * noiseSD)
			}
			row[j] = math.Round(v)
		}
		m.Counts = append(m.Counts, row)
	}

	return m, md
}

// fitPipeline runs filter, TMM, voom, optional quality weighting, fit, and
// empirical Bayes on the synthetic data.
func fitPipeline(t *testing.T, m *counts.Matrix, md *counts.Metadata, qualityWeights bool) (*lm.FitResult, []float64) {
	t.Helper()

	filtered := counts.FilterByExpression(m, 1.0, 0)
	if filtered.NGenes() != m.NGenes() {
		t.Fatalf("filter dropped %d well-expressed genes", m.NGenes()-filtered.NGenes())
	}

	factors, err := norm.TMM(filtered, norm.DefaultTMMOptions())
	if err != nil {
		t.Fatal(err)
	}

	d, err := design.FromMetadata(md, "condition")
	if err != nil {
		t.Fatal(err)
	}

	expr, err := lm.Voom(filtered, factors, d, lm.DefaultVoomOptions())
	if err != nil {
		t.Fatal(err)
	}

	var sw []float64
	if qualityWeights {
		sw, err = lm.SampleWeights(expr, d, lm.DefaultSampleWeightOptions())
		if err != nil {
			t.Fatal(err)
		}
	}

	fit, err := lm.Fit(expr, d, sw)
	if err != nil {
		t.Fatal(err)
	}
	if err := lm.EBayes(fit, false); err != nil {
		t.Fatal(err)
	}

	return fit, sw
}

// Ten genes with a 16-fold shift between two conditions of two replicates
// each must outrank the ninety unshifted genes, and nearly all must clear
// the usual significance cutoff.
func TestShiftedGenesAreRankedFirst(t *testing.T) {
	m, md := syntheticMatrix(100, 2, 10, 16, 0, -1, 1)

	fit, _ := fitPipeline(t, m, md, false)

	rows, err := toptable.Top(fit, "conditionB", toptable.Options{Sort: toptable.SortByP})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 100 {
		t.Fatalf("got %d rows, want 100", len(rows))
	}

	shifted := make(map[string]bool)
	for i := 0; i < 10; i++ {
		shifted["g"+strconv.Itoa(i)] = true
	}

	for i := 0; i < 10; i++ {
		if !shifted[rows[i].Gene] {
			t.Errorf("rank %d is unshifted gene %s (adj.p %v)", i+1, rows[i].Gene, rows[i].AdjPValue)
		}
	}

	significant := 0
	for i := 0; i < 10; i++ {
		if shifted[rows[i].Gene] && rows[i].AdjPValue < 0.05 {
			significant++
		}
	}
	if significant < 8 {
		t.Errorf("only %d of 10 shifted genes reached adj.p < 0.05", significant)
	}

	// The tested coefficient is the log2 fold change; a 16-fold shift is 4.
	for i := 0; i < 10; i++ {
		if !shifted[rows[i].Gene] {
			continue
		}
		if math.Abs(rows[i].LogFC-4) > 0.5 {
			t.Errorf("gene %s: logFC %v, want approximately 4", rows[i].Gene, rows[i].LogFC)
		}
	}
}

// A sample with strongly inflated multiplicative noise must receive a much
// lower quality weight than its peers.
func TestNoisySampleIsDownweighted(t *testing.T) {
	m, md := syntheticMatrix(200, 3, 0, 1, 0.15, 0, 2)

	_, sw := fitPipeline(t, m, md, true)
	if len(sw) != 6 {
		t.Fatalf("got %d sample weights, want 6", len(sw))
	}

	if sw[0] >= 0.5 {
		t.Errorf("noisy sample weight: got %v, want below 0.5", sw[0])
	}
	for j := 1; j < 6; j++ {
		if sw[j] < 0.7 || sw[j] > 2.0 {
			t.Errorf("clean sample %d weight: got %v, want within [0.7, 2.0]", j, sw[j])
		}
		if sw[0] >= sw[j]/2 {
			t.Errorf("noisy sample weight %v is not materially below clean sample %d weight %v", sw[0], j, sw[j])
		}
	}
}

// Quality weighting must not destroy inference on clean data: weights stay
// near 1 and the shifted genes still dominate the ranking.
func TestQualityWeightsOnCleanData(t *testing.T) {
	m, md := syntheticMatrix(100, 2, 10, 16, 0, -1, 3)

	fit, sw := fitPipeline(t, m, md, true)

	for j, w := range sw {
		if w < 0.5 || w > 2.0 {
			t.Errorf("clean sample %d weight: got %v, want near 1", j, w)
		}
	}

	rows, err := toptable.Top(fit, "conditionB", toptable.Options{Sort: toptable.SortByP})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		idx, err := strconv.Atoi(rows[i].Gene[1:])
		if err != nil {
			t.Fatal(err)
		}
		if idx >= 10 {
			t.Errorf("rank %d is unshifted gene %s", i+1, rows[i].Gene)
		}
	}
}

// Fitting against a rank-deficient design must fail with the aliased
// coefficients named, not panic.
func TestFitRejectsRankDeficientDesign(t *testing.T) {
	m, md := syntheticMatrix(50, 2, 0, 1, 0, -1, 4)
	md.Names = append(md.Names, "batch")
	md.Covariates["batch"] = append([]string(nil), md.Covariates["condition"]...)

	d, err := design.FromMetadata(md, "condition", "batch")
	if err != nil {
		t.Fatal(err)
	}

	factors := make([]float64, m.NSamples())
	for j := range factors {
		factors[j] = 1
	}

	_, err = lm.Voom(m, factors, d, lm.DefaultVoomOptions())
	alias, ok := err.(*design.AliasError)
	if !ok {
		t.Fatalf("got %v, want an AliasError", err)
	}
	if len(alias.Coefficients) == 0 {
		t.Error("alias error names no coefficients")
	}
}
