package counts

// FilterByExpression removes genes whose expression is too low to model:
// a gene is kept iff at least minSamples samples show CPM at or above
// threshold. An empty result is returned as-is for the caller to report;
// it is not an error. The operation is idempotent.
func FilterByExpression(m *Matrix, threshold float64, minSamples int) *Matrix {
	if minSamples <= 0 {
		minSamples = len(m.Samples) / 2
	}

	cpm := m.CPM()

	out := &Matrix{Samples: append([]string(nil), m.Samples...)}
	for i, row := range cpm {
		expressed := 0
		for _, v := range row {
			if v >= threshold {
				expressed++
			}
		}
		if expressed >= minSamples {
			out.Genes = append(out.Genes, m.Genes[i])
			out.Counts = append(out.Counts, append([]float64(nil), m.Counts[i]...))
		}
	}

	return out
}
