package norm

import "sort"

// averageRanks returns the sample ranks of f, zero-based, with ties assigned
// the mean rank of the tied group.
func averageRanks(f []float64) []float64 {
	n := len(f)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return f[idx[a]] < f[idx[b]] })

	ranks := make([]float64, n)
	for pos := 0; pos < n; {
		end := pos
		for end+1 < n && f[idx[end+1]] == f[idx[pos]] {
			end++
		}
		mean := float64(pos+end) / 2
		for k := pos; k <= end; k++ {
			ranks[idx[k]] = mean
		}
		pos = end + 1
	}

	return ranks
}

// quantileR7 returns the pth quantile of v using the R-7 estimator. v is
// sorted in place.
func quantileR7(v []float64, p float64) float64 {
	sort.Float64s(v)
	if p >= 1 {
		return v[len(v)-1]
	}
	h := float64(len(v)-1) * p
	i := int(h)
	if i+1 >= len(v) {
		// Single-element input: h is 0 and there is no upper neighbor to
		// interpolate toward.
		return v[i]
	}
	return v[i] + (h-float64(i))*(v[i+1]-v[i])
}
