package lm

import (
	"math"
	"sort"
)

// lowess computes a locally weighted scatterplot smooth of y on x using
// tricube neighborhood weights and iters rounds of bisquare robustness
// reweighting. The returned fitted values align with the input order.
func lowess(x, y []float64, span float64, iters int) []float64 {
	n := len(x)
	if n != len(y) {
		panic("lm: lowess input length mismatch")
	}
	if n < 2 {
		return append([]float64(nil), y...)
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return x[order[a]] < x[order[b]] })

	sx := make([]float64, n)
	sy := make([]float64, n)
	for i, j := range order {
		sx[i] = x[j]
		sy[i] = y[j]
	}

	k := int(span * float64(n))
	if k < 2 {
		k = 2
	}
	if k > n {
		k = n
	}

	robust := make([]float64, n)
	for i := range robust {
		robust[i] = 1
	}

	fitted := make([]float64, n)
	resid := make([]float64, n)

	for iter := 0; iter <= iters; iter++ {
		lo := 0
		for i := 0; i < n; i++ {
			// Slide the k-point window to the neighborhood nearest sx[i].
			for lo+k < n && sx[i]-sx[lo] > sx[lo+k]-sx[i] {
				lo++
			}
			fitted[i] = localLinear(sx, sy, robust, lo, lo+k, sx[i])
		}

		if iter == iters {
			break
		}

		for i := range resid {
			resid[i] = math.Abs(sy[i] - fitted[i])
		}
		s := median(resid)
		if s == 0 {
			break
		}
		for i := range robust {
			u := (sy[i] - fitted[i]) / (6 * s)
			if u < -1 || u > 1 {
				robust[i] = 0
			} else {
				robust[i] = (1 - u*u) * (1 - u*u)
			}
		}
	}

	out := make([]float64, n)
	for i, j := range order {
		out[j] = fitted[i]
	}
	return out
}

// localLinear performs one tricube-weighted linear fit over sx[lo:hi] and
// evaluates it at x0.
func localLinear(sx, sy, robust []float64, lo, hi int, x0 float64) float64 {
	h := math.Max(x0-sx[lo], sx[hi-1]-x0)

	var sw, swx, swy, swxx, swxy float64
	for i := lo; i < hi; i++ {
		d := math.Abs(sx[i] - x0)
		var w float64
		if h == 0 {
			w = 1
		} else {
			u := d / h
			if u >= 1 {
				continue
			}
			w = (1 - u*u*u)
			w = w * w * w
		}
		w *= robust[i]
		if w == 0 {
			continue
		}
		sw += w
		swx += w * sx[i]
		swy += w * sy[i]
		swxx += w * sx[i] * sx[i]
		swxy += w * sx[i] * sy[i]
	}

	if sw == 0 {
		// Every neighbor was downweighted to zero; fall back to the
		// unweighted window mean.
		var sum float64
		for i := lo; i < hi; i++ {
			sum += sy[i]
		}
		return sum / float64(hi-lo)
	}

	mx := swx / sw
	my := swy / sw
	den := swxx - sw*mx*mx
	if den <= 1e-12 {
		return my
	}
	b := (swxy - sw*mx*my) / den
	return my + b*(x0-mx)
}

func median(v []float64) float64 {
	tmp := append([]float64(nil), v...)
	sort.Float64s(tmp)
	n := len(tmp)
	if n == 0 {
		return math.NaN()
	}
	if n%2 == 1 {
		return tmp[n/2]
	}
	return (tmp[n/2-1] + tmp[n/2]) / 2
}

// trendline is a piecewise-linear interpolation through a smoothed trend,
// with constant extrapolation beyond the fitted range.
type trendline struct {
	x, y []float64
}

// newTrendline builds an interpolator from scatter points and their smoothed
// values, collapsing duplicate abscissae to their mean ordinate.
func newTrendline(x, fitted []float64) *trendline {
	order := make([]int, len(x))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return x[order[a]] < x[order[b]] })

	t := &trendline{}
	for pos := 0; pos < len(order); {
		end := pos
		sum := fitted[order[pos]]
		for end+1 < len(order) && x[order[end+1]] == x[order[pos]] {
			end++
			sum += fitted[order[end]]
		}
		t.x = append(t.x, x[order[pos]])
		t.y = append(t.y, sum/float64(end-pos+1))
		pos = end + 1
	}
	return t
}

// at evaluates the trend at v.
func (t *trendline) at(v float64) float64 {
	n := len(t.x)
	if v <= t.x[0] {
		return t.y[0]
	}
	if v >= t.x[n-1] {
		return t.y[n-1]
	}
	i := sort.SearchFloat64s(t.x, v)
	// t.x[i-1] < v <= t.x[i] here.
	frac := (v - t.x[i-1]) / (t.x[i] - t.x[i-1])
	return t.y[i-1] + frac*(t.y[i]-t.y[i-1])
}
