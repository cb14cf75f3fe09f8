// Package toptable ranks and reports fitted genes by a chosen coefficient,
// with Benjamini-Hochberg control of the false discovery rate.
package toptable

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/gocarina/gocsv"

	"github.com/quantbio/diffex/lm"
)

// Row is one reported gene.
type Row struct {
	Gene      string  `csv:"gene"`
	LogFC     float64 `csv:"logFC"`
	AveExpr   float64 `csv:"AveExpr"`
	T         float64 `csv:"t"`
	PValue    float64 `csv:"P.Value"`
	AdjPValue float64 `csv:"adj.P.Val"`
}

// SortOrder selects how the reported table is ordered.
type SortOrder int

const (
	// SortByP orders by adjusted p-value ascending, ties broken by raw
	// p-value.
	SortByP SortOrder = iota
	// SortByFoldChange orders by absolute log fold change descending.
	SortByFoldChange
	// SortNone keeps the input gene order.
	SortNone
)

// Options control extraction.
type Options struct {
	Sort SortOrder

	// Alpha, when positive, keeps only genes with adjusted p-value at or
	// below it.
	Alpha float64
}

// Adjust applies the Benjamini-Hochberg procedure to raw p-values, returning
// adjusted p-values in the same order. Adjusted values are monotone
// non-decreasing in the ranked order and never below the raw p-value.
func Adjust(p []float64) []float64 {
	n := len(p)
	if n == 0 {
		return nil
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return p[order[a]] < p[order[b]] })

	adj := make([]float64, n)
	running := math.Inf(1)
	for rank := n; rank >= 1; rank-- {
		idx := order[rank-1]
		v := p[idx] * float64(n) / float64(rank)
		if v < running {
			running = v
		}
		if running > 1 {
			adj[idx] = 1
		} else {
			adj[idx] = running
		}
	}

	return adj
}

// Top extracts the gene table for the named coefficient. EBayes must have
// been run on the fit.
func Top(fit *lm.FitResult, coef string, opts Options) ([]Row, error) {
	if fit.P == nil {
		return nil, fmt.Errorf("fit has no moderated statistics; run EBayes first")
	}

	k, err := fit.Design.CoefIndex(coef)
	if err != nil {
		return nil, err
	}

	raw := make([]float64, len(fit.Genes))
	for g := range fit.Genes {
		raw[g] = fit.P[g][k]
	}
	adj := Adjust(raw)

	rows := make([]Row, 0, len(fit.Genes))
	for g, gene := range fit.Genes {
		rows = append(rows, Row{
			Gene:      gene,
			LogFC:     fit.Coefficients[g][k],
			AveExpr:   fit.AveExpr[g],
			T:         fit.T[g][k],
			PValue:    raw[g],
			AdjPValue: adj[g],
		})
	}

	switch opts.Sort {
	case SortByP:
		sort.SliceStable(rows, func(a, b int) bool {
			if rows[a].AdjPValue != rows[b].AdjPValue {
				return rows[a].AdjPValue < rows[b].AdjPValue
			}
			return rows[a].PValue < rows[b].PValue
		})
	case SortByFoldChange:
		sort.SliceStable(rows, func(a, b int) bool {
			return math.Abs(rows[a].LogFC) > math.Abs(rows[b].LogFC)
		})
	case SortNone:
		// Input gene order.
	default:
		return nil, fmt.Errorf("unknown sort order %d", opts.Sort)
	}

	if opts.Alpha > 0 {
		kept := rows[:0]
		for _, r := range rows {
			if r.AdjPValue <= opts.Alpha {
				kept = append(kept, r)
			}
		}
		rows = kept
	}

	return rows, nil
}

// Write emits the table as delimited text with a header row.
func Write(w io.Writer, rows []Row, delimiter rune) error {
	cw := csv.NewWriter(w)
	cw.Comma = delimiter
	return gocsv.MarshalCSV(&rows, gocsv.NewSafeCSVWriter(cw))
}
