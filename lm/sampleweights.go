package lm

import (
	"fmt"
	"math"

	"github.com/quantbio/diffex/design"
)

// SampleWeightOptions bound the iterative quality-weight estimation.
type SampleWeightOptions struct {
	MaxIterations int
	Tolerance     float64
}

// DefaultSampleWeightOptions returns the standard iteration bounds.
func DefaultSampleWeightOptions() SampleWeightOptions {
	return SampleWeightOptions{MaxIterations: 10, Tolerance: 1e-6}
}

// SampleWeights estimates one multiplicative quality weight per sample from
// how strongly the sample's standardized residuals deviate across genes.
// Outlier samples are downweighted rather than discarded. Weights are
// normalized to geometric mean 1 and the iteration stops after
// opts.MaxIterations passes or once the largest log-weight change falls
// below opts.Tolerance.
func SampleWeights(e *Expression, d *design.Matrix, opts SampleWeightOptions) ([]float64, error) {
	nGenes := len(e.Y)
	nSamples := len(e.Samples)

	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 10
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = 1e-6
	}

	sw := make([]float64, nSamples)
	for j := range sw {
		sw[j] = 1
	}

	w := make([]float64, nSamples)
	devSum := make([]float64, nSamples)

	for iter := 0; iter < opts.MaxIterations; iter++ {
		for j := range devSum {
			devSum[j] = 0
		}

		used := 0
		for g := 0; g < nGenes; g++ {
			for j := range w {
				w[j] = e.Weights[g][j] * sw[j]
			}
			fit, err := weightedLeastSquares(e.Y[g], w, d.X)
			if err != nil {
				return nil, fmt.Errorf("gene %q: %v", e.Genes[g], err)
			}
			if fit.sigma2 <= 0 || math.IsNaN(fit.sigma2) {
				continue
			}
			used++
			for j := range devSum {
				// Squared standardized residual under the current
				// weighting.
				devSum[j] += w[j] * fit.resid[j] * fit.resid[j] / fit.sigma2
			}
		}
		if used == 0 {
			return nil, fmt.Errorf("no gene had positive residual variance; cannot estimate sample weights")
		}

		maxDelta := 0.0
		var sumLog float64
		for j := range sw {
			z := devSum[j] / float64(used)
			if z <= 0 {
				z = 1e-12
			}
			next := sw[j] / z
			if delta := math.Abs(math.Log(next) - math.Log(sw[j])); delta > maxDelta {
				maxDelta = delta
			}
			sw[j] = next
			sumLog += math.Log(next)
		}

		// Geometric-mean centering keeps the weights relative.
		gm := math.Exp(sumLog / float64(nSamples))
		for j := range sw {
			sw[j] /= gm
		}

		if maxDelta < opts.Tolerance {
			break
		}
	}

	return sw, nil
}
