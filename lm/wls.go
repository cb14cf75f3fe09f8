package lm

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// wlsFit holds one gene's weighted least squares solution.
type wlsFit struct {
	coef          []float64
	stdevUnscaled []float64
	fitted        []float64
	resid         []float64
	sigma2        float64
}

// weightedLeastSquares solves the per-gene regression y ~ X with observation
// weights w via the normal equations, returning coefficients, unscaled
// coefficient standard deviations (sqrt of the diagonal of (X'WX)^-1), the
// fitted values, residuals, and the residual variance on n-p degrees of
// freedom. The problem sizes here (tens of samples, a handful of
// coefficients) make the normal equations adequate.
func weightedLeastSquares(y, w []float64, x *mat.Dense) (*wlsFit, error) {
	n, p := x.Dims()
	if len(y) != n || len(w) != n {
		return nil, fmt.Errorf("weighted least squares: %d observations, %d weights, design has %d rows", len(y), len(w), n)
	}

	xtwx := mat.NewDense(p, p, nil)
	xtwy := make([]float64, p)
	for k := 0; k < p; k++ {
		for l := k; l < p; l++ {
			var s float64
			for i := 0; i < n; i++ {
				s += w[i] * x.At(i, k) * x.At(i, l)
			}
			xtwx.Set(k, l, s)
			xtwx.Set(l, k, s)
		}
		var s float64
		for i := 0; i < n; i++ {
			s += w[i] * x.At(i, k) * y[i]
		}
		xtwy[k] = s
	}

	var cov mat.Dense
	if err := cov.Inverse(xtwx); err != nil {
		return nil, fmt.Errorf("weighted least squares: singular X'WX: %v", err)
	}

	fit := &wlsFit{
		coef:          make([]float64, p),
		stdevUnscaled: make([]float64, p),
		fitted:        make([]float64, n),
		resid:         make([]float64, n),
	}

	for k := 0; k < p; k++ {
		var b float64
		for l := 0; l < p; l++ {
			b += cov.At(k, l) * xtwy[l]
		}
		fit.coef[k] = b
		fit.stdevUnscaled[k] = math.Sqrt(cov.At(k, k))
	}

	var rss float64
	for i := 0; i < n; i++ {
		var f float64
		for k := 0; k < p; k++ {
			f += x.At(i, k) * fit.coef[k]
		}
		fit.fitted[i] = f
		fit.resid[i] = y[i] - f
		rss += w[i] * fit.resid[i] * fit.resid[i]
	}

	if n > p {
		fit.sigma2 = rss / float64(n-p)
	} else {
		fit.sigma2 = math.NaN()
	}

	return fit, nil
}
