package counts

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/carbocation/pfx"

	"github.com/quantbio/diffex"
)

// OpenMatrix reads a count matrix from a delimited text file, decompressing
// if the file's leading bytes indicate a known compression format.
func OpenMatrix(path string) (*Matrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, pfx.Err(err)
	}
	defer f.Close()

	r, err := diffex.MaybeDecompress(f)
	if err != nil {
		return nil, pfx.Err(err)
	}
	defer r.Close()

	return ReadMatrix(r)
}

// ReadMatrix parses a count matrix: a header row of sample identifiers
// (optionally preceded by a label for the gene column), then one row per gene
// with the gene identifier first and one numeric count per sample. Counts are
// rounded to the nearest integer; negative values are rejected.
func ReadMatrix(r io.Reader) (*Matrix, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, pfx.Err(err)
	}

	cr := csv.NewReader(bytes.NewReader(raw))
	cr.Comma = diffex.DetectDelimiter(bytes.NewReader(raw))
	cr.Comment = '#'

	header, err := cr.Read()
	if err != nil {
		return nil, pfx.Err(fmt.Errorf("count matrix header: %v", err))
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("count matrix header has %d fields; need a gene column and at least one sample", len(header))
	}

	m := &Matrix{Samples: append([]string(nil), header[1:]...)}

	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// csv.Reader enforces a constant field count, so ragged
			// (non-rectangular) rows surface here.
			return nil, pfx.Err(fmt.Errorf("count matrix line %d: %v", line, err))
		}

		gene := row[0]
		vals := make([]float64, len(row)-1)
		for j, field := range row[1:] {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("count matrix line %d, gene %q, sample %q: %v", line, gene, m.Samples[j], err)
			}
			if v < 0 {
				return nil, fmt.Errorf("count matrix line %d, gene %q, sample %q: negative count %v", line, gene, m.Samples[j], v)
			}
			vals[j] = math.Round(v)
		}

		m.Genes = append(m.Genes, gene)
		m.Counts = append(m.Counts, vals)
	}

	if len(m.Genes) == 0 {
		return nil, fmt.Errorf("count matrix contains no gene rows")
	}

	return m, nil
}

// OpenMetadata reads a sample metadata table from a delimited text file.
// sampleCol names the column holding sample identifiers; if empty, the first
// column is used. All other columns become categorical covariates.
func OpenMetadata(path, sampleCol string) (*Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, pfx.Err(err)
	}
	defer f.Close()

	r, err := diffex.MaybeDecompress(f)
	if err != nil {
		return nil, pfx.Err(err)
	}
	defer r.Close()

	return ReadMetadata(r, sampleCol)
}

// ReadMetadata parses a sample metadata table: a header row naming the
// columns, then one row per sample.
func ReadMetadata(r io.Reader, sampleCol string) (*Metadata, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, pfx.Err(err)
	}

	cr := csv.NewReader(bytes.NewReader(raw))
	cr.Comma = diffex.DetectDelimiter(bytes.NewReader(raw))
	cr.Comment = '#'

	header, err := cr.Read()
	if err != nil {
		return nil, pfx.Err(fmt.Errorf("metadata header: %v", err))
	}

	sampleIdx := 0
	if sampleCol != "" {
		sampleIdx = -1
		for i, name := range header {
			if name == sampleCol {
				sampleIdx = i
				break
			}
		}
		if sampleIdx < 0 {
			return nil, fmt.Errorf("metadata has no column named %q (have %v)", sampleCol, header)
		}
	}

	md := &Metadata{Covariates: make(map[string][]string)}
	for i, name := range header {
		if i == sampleIdx {
			continue
		}
		md.Names = append(md.Names, name)
	}

	seen := make(map[string]int)
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, pfx.Err(fmt.Errorf("metadata line %d: %v", line, err))
		}

		id := row[sampleIdx]
		if prev, dup := seen[id]; dup {
			return nil, fmt.Errorf("metadata line %d: sample %q already defined on line %d", line, id, prev)
		}
		seen[id] = line

		md.Samples = append(md.Samples, id)
		for i, field := range row {
			if i == sampleIdx {
				continue
			}
			md.Covariates[header[i]] = append(md.Covariates[header[i]], field)
		}
	}

	if len(md.Samples) == 0 {
		return nil, fmt.Errorf("metadata contains no sample rows")
	}

	return md, nil
}
