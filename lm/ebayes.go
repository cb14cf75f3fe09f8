package lm

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/mathext"
	"gonum.org/v1/gonum/stat/distuv"
)

// EBayes squeezes the per-gene residual variances toward a common prior
// fitted across all genes and computes moderated t-statistics and two-sided
// p-values for every coefficient. In robust mode the log-variances are
// winsorized before fitting the prior so that a few outlier genes cannot
// distort it.
func EBayes(fit *FitResult, robust bool) error {
	if fit.DF <= 0 {
		return fmt.Errorf("empirical Bayes requires positive residual degrees of freedom, have %v", fit.DF)
	}

	var usable []float64
	fit.ZeroVarianceGenes = nil
	for g, s2 := range fit.Sigma2 {
		if s2 > 0 && !math.IsNaN(s2) {
			usable = append(usable, s2)
		} else {
			fit.ZeroVarianceGenes = append(fit.ZeroVarianceGenes, fit.Genes[g])
		}
	}
	if len(usable) < 2 {
		return fmt.Errorf("only %d genes with positive residual variance; cannot fit a variance prior", len(usable))
	}

	dfPrior, varPrior, err := fitFDist(usable, fit.DF, robust)
	if err != nil {
		return err
	}
	fit.DFPrior = dfPrior
	fit.VarPrior = varPrior

	nGenes := len(fit.Genes)
	fit.VarPost = make([]float64, nGenes)
	fit.T = make([][]float64, nGenes)
	fit.P = make([][]float64, nGenes)

	dfTotal := fit.DF + dfPrior
	var tail func(t float64) float64
	if math.IsInf(dfTotal, 1) {
		norm := distuv.UnitNormal
		tail = func(t float64) float64 { return norm.CDF(-math.Abs(t)) }
	} else {
		st := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: dfTotal}
		tail = func(t float64) float64 { return st.CDF(-math.Abs(t)) }
	}

	for g := 0; g < nGenes; g++ {
		s2 := fit.Sigma2[g]
		if math.IsNaN(s2) {
			s2 = 0
		}
		var post float64
		if math.IsInf(dfPrior, 1) {
			post = varPrior
		} else {
			post = (fit.DF*s2 + dfPrior*varPrior) / dfTotal
		}
		fit.VarPost[g] = post

		p := len(fit.Coefficients[g])
		fit.T[g] = make([]float64, p)
		fit.P[g] = make([]float64, p)
		sd := math.Sqrt(post)
		for k := 0; k < p; k++ {
			t := fit.Coefficients[g][k] / (fit.StdevUnscaled[g][k] * sd)
			fit.T[g][k] = t
			fit.P[g][k] = 2 * tail(t)
		}
	}

	return nil
}

// fitFDist estimates the parameters of a scaled F-distribution for the
// sample variances s2 on df1 degrees of freedom by moment matching on the
// log scale, following Smyth 2004. It returns the prior degrees of freedom
// (possibly +Inf) and the prior variance.
func fitFDist(s2 []float64, df1 float64, robust bool) (dfPrior, varPrior float64, err error) {
	n := len(s2)

	e := make([]float64, n)
	offset := mathext.Digamma(df1/2) - math.Log(df1/2)
	for i, v := range s2 {
		e[i] = math.Log(v) - offset
	}

	if robust {
		// Clamp the tails so outlier variances do not drive the moments.
		lo, errLo := stats.Percentile(e, 5)
		hi, errHi := stats.Percentile(e, 90)
		if errLo == nil && errHi == nil {
			for i, v := range e {
				if v < lo {
					e[i] = lo
				} else if v > hi {
					e[i] = hi
				}
			}
		}
	}

	var mean float64
	for _, v := range e {
		mean += v
	}
	mean /= float64(n)

	var ss float64
	for _, v := range e {
		ss += (v - mean) * (v - mean)
	}
	evar := ss/float64(n-1) - trigamma(df1/2)

	if evar > 0 {
		dfPrior = 2 * trigammaInverse(evar)
		varPrior = math.Exp(mean + mathext.Digamma(dfPrior/2) - math.Log(dfPrior/2))
	} else {
		dfPrior = math.Inf(1)
		varPrior = math.Exp(mean)
	}

	if varPrior <= 0 || math.IsNaN(varPrior) {
		return 0, 0, fmt.Errorf("variance prior estimation failed: prior %v on %v degrees of freedom", varPrior, dfPrior)
	}

	return dfPrior, varPrior, nil
}

// trigamma is the second derivative of the log-gamma function, computed by
// upward recurrence into the asymptotic expansion's region of validity.
func trigamma(x float64) float64 {
	if x <= 0 {
		return math.NaN()
	}

	var acc float64
	for x < 6 {
		acc += 1 / (x * x)
		x++
	}

	inv := 1 / x
	inv2 := inv * inv
	// Asymptotic series with Bernoulli coefficients.
	return acc + inv + inv2/2 + inv*inv2*(1.0/6-inv2*(1.0/30-inv2*(1.0/42-inv2/30)))
}

// tetragamma is the derivative of trigamma.
func tetragamma(x float64) float64 {
	if x <= 0 {
		return math.NaN()
	}

	var acc float64
	for x < 6 {
		acc -= 2 / (x * x * x)
		x++
	}

	inv := 1 / x
	inv2 := inv * inv
	return acc - inv2 - inv*inv2 - inv2*inv2/2 + inv2*inv2*inv2/6 - inv2*inv2*inv2*inv2/6 + 3*inv2*inv2*inv2*inv2*inv2/10
}

// trigammaInverse solves trigamma(y) = x for y by Newton iteration, with the
// closed-form tail approximations for extreme inputs.
func trigammaInverse(x float64) float64 {
	if x > 1e7 {
		return 1 / math.Sqrt(x)
	}
	if x < 1e-6 {
		return 1 / x
	}

	y := 0.5 + 1/x
	for i := 0; i < 50; i++ {
		tri := trigamma(y)
		dif := tri * (1 - tri/x) / tetragamma(y)
		y += dif
		if -dif/y < 1e-8 {
			break
		}
	}
	return y
}
