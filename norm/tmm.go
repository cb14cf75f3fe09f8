// Package norm computes between-sample normalization factors for count
// matrices. The factors returned by each method are mean-centered in log
// space (geometric mean 1) and are meant to multiply the library sizes,
// correcting for composition bias between samples.
//
// TMM follows "A scaling normalization method for differential expression
// analysis of RNA-seq data", Robinson and Oshlack,
// http://genomebiology.com/2010/11/3/r25.
package norm

import (
	"fmt"
	"math"

	"github.com/quantbio/diffex/counts"
)

// TMMOptions control the trimmed mean of M-values computation. The zero
// value is not useful; start from DefaultTMMOptions.
type TMMOptions struct {
	// RefSample is the index of the reference sample. Negative selects the
	// sample whose 75th percentile of scaled counts is closest to the mean
	// across samples.
	RefSample int

	// LogRatioTrim and SumTrim are the two-sided trim fractions applied to
	// the log-ratios and to the absolute intensities.
	LogRatioTrim float64
	SumTrim      float64

	// ACutoff rejects genes whose average log-intensity falls below it.
	ACutoff float64

	// Weighted applies inverse asymptotic-variance weights to the surviving
	// log-ratios before averaging.
	Weighted bool
}

// DefaultTMMOptions are the literature-standard trim settings.
func DefaultTMMOptions() TMMOptions {
	return TMMOptions{
		RefSample:    -1,
		LogRatioTrim: 0.30,
		SumTrim:      0.05,
		ACutoff:      -1e10,
		Weighted:     true,
	}
}

// AllZeroSampleError reports a sample whose counts sum to zero, for which no
// scale factor is defined.
type AllZeroSampleError struct {
	Sample string
}

func (e *AllZeroSampleError) Error() string {
	return fmt.Sprintf("sample %q has all-zero counts; its scale factor is undefined", e.Sample)
}

// column extracts sample j of m as a dense vector.
func column(m *counts.Matrix, j int) []float64 {
	col := make([]float64, len(m.Counts))
	for i, row := range m.Counts {
		col[i] = row[j]
	}
	return col
}

// libSizes returns the per-sample totals, rejecting all-zero samples.
func libSizes(m *counts.Matrix) ([]float64, error) {
	sizes := m.LibSizes()
	for j, s := range sizes {
		if s == 0 {
			return nil, &AllZeroSampleError{Sample: m.Samples[j]}
		}
	}
	return sizes, nil
}

func unitFactors(n int) []float64 {
	f := make([]float64, n)
	for i := range f {
		f[i] = 1
	}
	return f
}

// centerLog scales f so that the geometric mean of its values is 1.
func centerLog(f []float64) []float64 {
	var sumLog float64
	for _, v := range f {
		sumLog += math.Log(v)
	}
	gm := math.Exp(sumLog / float64(len(f)))
	for i, v := range f {
		f[i] = v / gm
	}
	return f
}

// q75 returns the per-sample 75th percentile of size-scaled counts.
func q75(m *counts.Matrix, sizes []float64) []float64 {
	q := make([]float64, len(m.Samples))
	buf := make([]float64, 0, len(m.Genes))
	for j := range m.Samples {
		buf = buf[:0]
		for _, row := range m.Counts {
			buf = append(buf, row[j]/sizes[j])
		}
		q[j] = quantileR7(buf, 0.75)
	}
	return q
}

// chooseRef picks the reference sample: the one whose 75th percentile is
// closest to the mean 75th percentile.
func chooseRef(m *counts.Matrix, sizes []float64) int {
	q := q75(m, sizes)

	var mean float64
	for _, v := range q {
		mean += v
	}
	mean /= float64(len(q))

	ref := 0
	best := math.Abs(q[0] - mean)
	for j, v := range q[1:] {
		if d := math.Abs(v - mean); d < best {
			best = d
			ref = j + 1
		}
	}
	return ref
}

// TMM returns one scale factor per sample using the trimmed mean of M-values
// method. Factors are geometric-mean-centered.
func TMM(m *counts.Matrix, opts TMMOptions) ([]float64, error) {
	if m.NSamples() == 0 {
		return nil, nil
	}
	if m.NSamples() == 1 {
		return []float64{1}, nil
	}
	if m.NGenes() == 0 {
		return unitFactors(m.NSamples()), nil
	}

	sizes, err := libSizes(m)
	if err != nil {
		return nil, err
	}

	refIdx := opts.RefSample
	if refIdx < 0 || refIdx >= m.NSamples() {
		refIdx = chooseRef(m, sizes)
	}
	ref := column(m, refIdx)
	refSize := sizes[refIdx]

	f := make([]float64, m.NSamples())
	for j := range m.Samples {
		f[j] = tmmFactor(column(m, j), ref, sizes[j], refSize, opts)
		if math.IsNaN(f[j]) || math.IsInf(f[j], 0) || f[j] <= 0 {
			return nil, fmt.Errorf("cannot estimate a TMM factor for sample %q: too few genes informative against the reference %q", m.Samples[j], m.Samples[refIdx])
		}
	}

	return centerLog(f), nil
}

// tmmFactor computes the unscaled TMM factor of one sample against the
// reference.
func tmmFactor(obs, ref []float64, obsSize, refSize float64, opts TMMOptions) float64 {
	same := true
	for i, v := range obs {
		if ref[i] != v {
			same = false
			break
		}
	}
	if same {
		return 1
	}

	var (
		logRatio = make([]float64, 0, len(obs))
		absIntn  = make([]float64, 0, len(obs))
		asympVar []float64
	)
	if opts.Weighted {
		asympVar = make([]float64, 0, len(obs))
	}

	for i := range obs {
		po := obs[i] / obsSize
		pr := ref[i] / refSize

		m := math.Log2(po / pr)
		a := math.Log2(po*pr) / 2

		if a < opts.ACutoff || math.IsInf(m, 0) || math.IsNaN(m) || math.IsInf(a, 0) || math.IsNaN(a) {
			continue
		}

		logRatio = append(logRatio, m)
		absIntn = append(absIntn, a)
		if opts.Weighted {
			av := (obsSize-obs[i])/(obsSize*obs[i]) + (refSize-ref[i])/(refSize*ref[i])
			// A gene holding an entire library has zero asymptotic
			// variance; floor it to keep the weighted mean defined.
			if av < 1e-12 {
				av = 1e-12
			}
			asympVar = append(asympVar, av)
		}
	}

	n := float64(len(logRatio))
	loM := math.Floor(n * opts.LogRatioTrim)
	hiM := n - loM - 1
	loA := math.Floor(n * opts.SumTrim)
	hiA := n - loA - 1

	rM := averageRanks(logRatio)
	rA := averageRanks(absIntn)

	var num, den float64
	for i := range logRatio {
		if rM[i] < loM || rM[i] > hiM || rA[i] < loA || rA[i] > hiA {
			continue
		}
		if opts.Weighted {
			num += logRatio[i] / asympVar[i]
			den += 1 / asympVar[i]
		} else {
			num += logRatio[i]
			den++
		}
	}

	return math.Pow(2, num/den)
}
