// Package counts holds the gene-by-sample count matrix and the sample
// metadata table, along with loading, counts-per-million computation, and
// low-expression filtering.
package counts

import (
	"fmt"
	"sort"
)

// Matrix is a rectangular gene-by-sample matrix of read counts. Counts is
// indexed [gene][sample], aligned with Genes and Samples. Counts are rounded
// to integers on load but kept as float64 for downstream arithmetic.
type Matrix struct {
	Genes   []string
	Samples []string
	Counts  [][]float64
}

// NGenes returns the number of genes (rows).
func (m *Matrix) NGenes() int { return len(m.Genes) }

// NSamples returns the number of samples (columns).
func (m *Matrix) NSamples() int { return len(m.Samples) }

// LibSizes returns the per-sample column sums.
func (m *Matrix) LibSizes() []float64 {
	sizes := make([]float64, len(m.Samples))
	for _, row := range m.Counts {
		for j, v := range row {
			sizes[j] += v
		}
	}
	return sizes
}

// CPM returns the counts-per-million transform of the matrix: each cell
// divided by its column sum over one million.
func (m *Matrix) CPM() [][]float64 {
	sizes := m.LibSizes()
	out := make([][]float64, len(m.Counts))
	for i, row := range m.Counts {
		cpm := make([]float64, len(row))
		for j, v := range row {
			cpm[j] = v / (sizes[j] / 1e6)
		}
		out[i] = cpm
	}
	return out
}

// Metadata is the sample annotation table: one record per sample, categorical
// covariates keyed by name. Values are aligned with Samples.
type Metadata struct {
	Samples    []string
	Names      []string
	Covariates map[string][]string
}

// Covariate returns the per-sample values for the named covariate.
func (md *Metadata) Covariate(name string) ([]string, error) {
	v, ok := md.Covariates[name]
	if !ok {
		return nil, fmt.Errorf("metadata has no covariate named %q (have %v)", name, md.Names)
	}
	return v, nil
}

// SampleMismatchError reports sample identifiers present in one input file
// but absent from the other.
type SampleMismatchError struct {
	MissingFromMetadata []string
	MissingFromCounts   []string
}

func (e *SampleMismatchError) Error() string {
	return fmt.Sprintf("sample identifiers do not match: %d in the count matrix but not the metadata %v; %d in the metadata but not the count matrix %v",
		len(e.MissingFromMetadata), e.MissingFromMetadata, len(e.MissingFromCounts), e.MissingFromCounts)
}

// Check verifies that the metadata and the count matrix describe exactly the
// same set of samples. Order may differ; use Reorder to align afterwards.
func (md *Metadata) Check(m *Matrix) error {
	inCounts := make(map[string]struct{}, len(m.Samples))
	for _, s := range m.Samples {
		inCounts[s] = struct{}{}
	}
	inMeta := make(map[string]struct{}, len(md.Samples))
	for _, s := range md.Samples {
		inMeta[s] = struct{}{}
	}

	var mismatch SampleMismatchError
	for _, s := range m.Samples {
		if _, ok := inMeta[s]; !ok {
			mismatch.MissingFromMetadata = append(mismatch.MissingFromMetadata, s)
		}
	}
	for _, s := range md.Samples {
		if _, ok := inCounts[s]; !ok {
			mismatch.MissingFromCounts = append(mismatch.MissingFromCounts, s)
		}
	}
	if len(mismatch.MissingFromMetadata) > 0 || len(mismatch.MissingFromCounts) > 0 {
		sort.Strings(mismatch.MissingFromMetadata)
		sort.Strings(mismatch.MissingFromCounts)
		return &mismatch
	}

	return nil
}

// Reorder returns a copy of the metadata with records rearranged to match the
// matrix column order. Check must pass first.
func (md *Metadata) Reorder(m *Matrix) (*Metadata, error) {
	if err := md.Check(m); err != nil {
		return nil, err
	}

	idx := make(map[string]int, len(md.Samples))
	for i, s := range md.Samples {
		idx[s] = i
	}

	out := &Metadata{
		Samples:    append([]string(nil), m.Samples...),
		Names:      append([]string(nil), md.Names...),
		Covariates: make(map[string][]string, len(md.Covariates)),
	}
	for name, vals := range md.Covariates {
		reordered := make([]string, len(m.Samples))
		for j, s := range m.Samples {
			reordered[j] = vals[idx[s]]
		}
		out.Covariates[name] = reordered
	}

	return out, nil
}
