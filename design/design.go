// Package design builds numeric design matrices from categorical sample
// covariates for per-gene regression. Encoding uses treatment contrasts: an
// intercept column of ones plus one indicator column per non-reference level
// of each factor. The reference level of a factor is the first level
// encountered in sample order, so construction is deterministic.
package design

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/quantbio/diffex/counts"
)

// Matrix is a design matrix: one row per sample, one column per model
// coefficient. Names is aligned with the columns of X.
type Matrix struct {
	Names []string
	X     *mat.Dense
}

// NSamples returns the number of rows.
func (d *Matrix) NSamples() int {
	r, _ := d.X.Dims()
	return r
}

// NCoef returns the number of model coefficients.
func (d *Matrix) NCoef() int {
	_, c := d.X.Dims()
	return c
}

// CoefIndex returns the column index of the named coefficient.
func (d *Matrix) CoefIndex(name string) (int, error) {
	for i, n := range d.Names {
		if n == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("design has no coefficient named %q (have %v)", name, d.Names)
}

// levels returns the distinct values of vals in first-appearance order.
func levels(vals []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, v := range vals {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// FromMetadata builds an additive design matrix over the named factors. At
// least one factor is required; interaction terms are out of scope.
func FromMetadata(md *counts.Metadata, factors ...string) (*Matrix, error) {
	if len(factors) == 0 {
		return nil, fmt.Errorf("design requires at least one factor")
	}

	n := len(md.Samples)
	names := []string{"(Intercept)"}
	cols := [][]float64{onesColumn(n)}

	for _, factor := range factors {
		vals, err := md.Covariate(factor)
		if err != nil {
			return nil, err
		}

		lv := levels(vals)
		if len(lv) < 2 {
			return nil, fmt.Errorf("factor %q has a single level %q across all samples; it cannot be estimated", factor, lv[0])
		}

		// First level is the reference; every other level gets an
		// indicator column.
		for _, level := range lv[1:] {
			col := make([]float64, n)
			for i, v := range vals {
				if v == level {
					col[i] = 1
				}
			}
			names = append(names, factor+level)
			cols = append(cols, col)
		}
	}

	x := mat.NewDense(n, len(cols), nil)
	for j, col := range cols {
		x.SetCol(j, col)
	}

	return &Matrix{Names: names, X: x}, nil
}

func onesColumn(n int) []float64 {
	col := make([]float64, n)
	for i := range col {
		col[i] = 1
	}
	return col
}

// AliasError reports coefficients that are linear combinations of earlier
// columns, making the model unidentifiable.
type AliasError struct {
	Coefficients []string
}

func (e *AliasError) Error() string {
	return fmt.Sprintf("design matrix is not of full column rank; aliased coefficients: %s", strings.Join(e.Coefficients, ", "))
}

// CheckFullRank verifies that the design matrix has full column rank,
// returning an AliasError naming the offending coefficients otherwise.
func CheckFullRank(d *Matrix) error {
	var svd mat.SVD
	if !svd.Factorize(d.X, mat.SVDThin) {
		return fmt.Errorf("design matrix SVD failed to converge")
	}
	sv := svd.Values(nil)

	rows, cols := d.X.Dims()
	tol := float64(maxInt(rows, cols)) * sv[0] * 2.220446049250313e-16
	rank := 0
	for _, v := range sv {
		if v > tol {
			rank++
		}
	}
	if rank == cols {
		return nil
	}

	return &AliasError{Coefficients: aliasedColumns(d)}
}

// aliasedColumns walks the columns left to right, flagging any column that
// lies in the span of the columns accepted before it.
func aliasedColumns(d *Matrix) []string {
	rows, cols := d.X.Dims()

	var basis [][]float64
	var aliased []string

	for j := 0; j < cols; j++ {
		v := make([]float64, rows)
		mat.Col(v, j, d.X)

		// Project out the accepted basis vectors.
		for _, b := range basis {
			var dot float64
			for i := range v {
				dot += v[i] * b[i]
			}
			for i := range v {
				v[i] -= dot * b[i]
			}
		}

		var norm float64
		for _, x := range v {
			norm += x * x
		}
		norm = math.Sqrt(norm)

		if norm < 1e-9 {
			aliased = append(aliased, d.Names[j])
			continue
		}

		for i := range v {
			v[i] /= norm
		}
		basis = append(basis, v)
	}

	return aliased
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
