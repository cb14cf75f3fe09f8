package lm

import (
	"fmt"

	"github.com/quantbio/diffex/design"
)

// FitResult holds per-gene coefficient estimates and variance summaries for
// one (expression, design) pair. EBayes fills in the moderated statistics.
type FitResult struct {
	Genes   []string
	Design  *design.Matrix
	AveExpr []float64

	// Coefficients and StdevUnscaled are indexed [gene][coefficient].
	Coefficients  [][]float64
	StdevUnscaled [][]float64

	// Sigma2 is the per-gene residual variance on DF degrees of freedom.
	Sigma2 []float64
	DF     float64

	// SampleWeights are the quality weights used in the fit (all ones when
	// quality weighting was not requested).
	SampleWeights []float64

	// Populated by EBayes.
	DFPrior  float64
	VarPrior float64
	VarPost  []float64
	T        [][]float64
	P        [][]float64

	// ZeroVarianceGenes lists genes whose residual variance was exactly
	// zero; they are excluded from the prior fit.
	ZeroVarianceGenes []string
}

// Fit performs per-gene weighted least squares of the expression values
// against the design, with observation weights equal to the voom precision
// weights times the per-sample quality weights. Pass nil sampleWeights to
// fit without quality weighting.
func Fit(e *Expression, d *design.Matrix, sampleWeights []float64) (*FitResult, error) {
	nGenes := len(e.Y)
	nSamples := len(e.Samples)

	if err := design.CheckFullRank(d); err != nil {
		return nil, err
	}

	if sampleWeights == nil {
		sampleWeights = make([]float64, nSamples)
		for j := range sampleWeights {
			sampleWeights[j] = 1
		}
	}
	if len(sampleWeights) != nSamples {
		return nil, fmt.Errorf("%d sample weights for %d samples", len(sampleWeights), nSamples)
	}

	res := &FitResult{
		Genes:         append([]string(nil), e.Genes...),
		Design:        d,
		AveExpr:       append([]float64(nil), e.AveExpr...),
		Coefficients:  make([][]float64, nGenes),
		StdevUnscaled: make([][]float64, nGenes),
		Sigma2:        make([]float64, nGenes),
		DF:            float64(nSamples - d.NCoef()),
		SampleWeights: append([]float64(nil), sampleWeights...),
	}

	w := make([]float64, nSamples)
	for g := 0; g < nGenes; g++ {
		for j := range w {
			w[j] = e.Weights[g][j] * sampleWeights[j]
		}
		fit, err := weightedLeastSquares(e.Y[g], w, d.X)
		if err != nil {
			return nil, fmt.Errorf("gene %q: %v", e.Genes[g], err)
		}
		res.Coefficients[g] = fit.coef
		res.StdevUnscaled[g] = fit.stdevUnscaled
		res.Sigma2[g] = fit.sigma2
	}

	return res, nil
}
