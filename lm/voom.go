// Package lm fits per-gene weighted linear models to log-transformed count
// data: a mean-variance trend provides per-observation precision weights,
// an iterative procedure estimates per-sample quality weights, and empirical
// Bayes shrinkage moderates the per-gene variance estimates.
//
// The approach follows "voom: precision weights unlock linear model analysis
// tools for RNA-seq read counts", Law et al., Genome Biology 2014, and the
// limma empirical Bayes machinery of Smyth 2004.
package lm

import (
	"fmt"
	"math"

	"github.com/quantbio/diffex/counts"
	"github.com/quantbio/diffex/design"
)

// VoomOptions control the mean-variance trend estimation.
type VoomOptions struct {
	// Span is the LOWESS window fraction.
	Span float64

	// Iterations is the number of bisquare robustness passes for the
	// LOWESS fit.
	Iterations int
}

// DefaultVoomOptions returns the standard trend settings.
func DefaultVoomOptions() VoomOptions {
	return VoomOptions{Span: 0.5, Iterations: 3}
}

// Expression is the log2-CPM transform of a count matrix together with the
// per-observation precision weights derived from the mean-variance trend.
// Both are indexed [gene][sample].
type Expression struct {
	Genes   []string
	Samples []string
	Y       [][]float64
	Weights [][]float64

	// AveExpr is the per-gene mean log2-CPM.
	AveExpr []float64
}

// Voom computes log2-CPM values y = log2((count+0.5)/(libsize*factor+1)*1e6),
// fits the design to each gene by ordinary least squares, smooths the
// per-gene sqrt-residual-sd against mean log2-count with LOWESS, and converts
// the trend into inverse-variance observation weights.
func Voom(m *counts.Matrix, factors []float64, d *design.Matrix, opts VoomOptions) (*Expression, error) {
	nGenes, nSamples := m.NGenes(), m.NSamples()
	if nSamples != d.NSamples() {
		return nil, fmt.Errorf("count matrix has %d samples but design has %d rows", nSamples, d.NSamples())
	}
	if len(factors) != nSamples {
		return nil, fmt.Errorf("%d scale factors for %d samples", len(factors), nSamples)
	}
	if nSamples <= d.NCoef() {
		return nil, fmt.Errorf("no residual degrees of freedom: %d samples, %d coefficients", nSamples, d.NCoef())
	}
	if err := design.CheckFullRank(d); err != nil {
		return nil, err
	}

	// Effective library sizes after normalization.
	eff := make([]float64, nSamples)
	logEffMean := 0.0
	for j, s := range m.LibSizes() {
		eff[j] = s*factors[j] + 1
		logEffMean += math.Log2(eff[j])
	}
	logEffMean /= float64(nSamples)

	e := &Expression{
		Genes:   append([]string(nil), m.Genes...),
		Samples: append([]string(nil), m.Samples...),
		Y:       make([][]float64, nGenes),
		Weights: make([][]float64, nGenes),
		AveExpr: make([]float64, nGenes),
	}

	ones := make([]float64, nSamples)
	for i := range ones {
		ones[i] = 1
	}

	// First pass: transform and fit, collecting the mean-variance scatter.
	sx := make([]float64, nGenes) // mean log2-count
	sy := make([]float64, nGenes) // sqrt residual sd
	fits := make([]*wlsFit, nGenes)
	for g, row := range m.Counts {
		y := make([]float64, nSamples)
		var mean float64
		for j, c := range row {
			y[j] = math.Log2((c + 0.5) / eff[j] * 1e6)
			mean += y[j]
		}
		mean /= float64(nSamples)

		fit, err := weightedLeastSquares(y, ones, d.X)
		if err != nil {
			return nil, fmt.Errorf("gene %q: %v", m.Genes[g], err)
		}

		e.Y[g] = y
		e.AveExpr[g] = mean
		fits[g] = fit
		sx[g] = mean + logEffMean - math.Log2(1e6)
		sy[g] = math.Sqrt(math.Sqrt(fit.sigma2))
	}

	trend := newTrendline(sx, lowess(sx, sy, opts.Span, opts.Iterations))

	// Second pass: predict the sqrt-sd at each fitted log2-count and invert
	// to a precision weight.
	for g, fit := range fits {
		w := make([]float64, nSamples)
		for j := range w {
			fittedLogCount := fit.fitted[j] + logEffMean - math.Log2(1e6)
			sd := trend.at(fittedLogCount)
			if sd < 1e-4 {
				sd = 1e-4
			}
			w[j] = 1 / (sd * sd * sd * sd)
		}
		e.Weights[g] = w
	}

	return e, nil
}
