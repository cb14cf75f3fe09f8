package norm

import (
	"math"

	"github.com/quantbio/diffex/counts"
)

// allZeroGenes marks genes with zero counts in every sample; these carry no
// information for factor estimation.
func allZeroGenes(m *counts.Matrix) []bool {
	skip := make([]bool, len(m.Genes))
	for i, row := range m.Counts {
		skip[i] = true
		for _, v := range row {
			if v != 0 {
				skip[i] = false
				break
			}
		}
	}
	return skip
}

// UpperQuartile returns per-sample factors from the p-quantile of size-scaled
// counts, excluding all-zero genes. p = 0.75 reproduces the method of
// Bullard et al., http://www.biomedcentral.com/1471-2105/11/94.
func UpperQuartile(m *counts.Matrix, p float64) ([]float64, error) {
	if m.NSamples() == 0 {
		return nil, nil
	}
	if m.NGenes() == 0 {
		return unitFactors(m.NSamples()), nil
	}

	sizes, err := libSizes(m)
	if err != nil {
		return nil, err
	}
	skip := allZeroGenes(m)

	f := make([]float64, m.NSamples())
	buf := make([]float64, 0, len(m.Genes))
	for j := range m.Samples {
		buf = buf[:0]
		for i, row := range m.Counts {
			if skip[i] {
				continue
			}
			buf = append(buf, row[j]/sizes[j])
		}
		f[j] = quantileR7(buf, p)
	}

	return centerLog(f), nil
}

// RelativeLog returns per-sample factors from the median ratio of counts to
// the per-gene geometric mean, following Anders and Huber,
// http://genomebiology.com/2010/11/10/r106.
func RelativeLog(m *counts.Matrix) ([]float64, error) {
	if m.NSamples() == 0 {
		return nil, nil
	}
	if m.NGenes() == 0 {
		return unitFactors(m.NSamples()), nil
	}

	sizes, err := libSizes(m)
	if err != nil {
		return nil, err
	}
	skip := allZeroGenes(m)

	// Per-gene geometric mean across samples.
	geo := make([]float64, len(m.Genes))
	for i, row := range m.Counts {
		if skip[i] {
			continue
		}
		var sumLog float64
		for _, v := range row {
			sumLog += math.Log(v)
		}
		geo[i] = math.Exp(sumLog / float64(len(row)))
	}

	f := make([]float64, m.NSamples())
	buf := make([]float64, 0, len(m.Genes))
	for j := range m.Samples {
		buf = buf[:0]
		for i, row := range m.Counts {
			if skip[i] || geo[i] == 0 {
				continue
			}
			buf = append(buf, row[j]/geo[i])
		}
		f[j] = quantileR7(buf, 0.5) / sizes[j]
	}

	return centerLog(f), nil
}
