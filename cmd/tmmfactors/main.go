// tmmfactors prints per-sample library sizes and TMM normalization factors
// for a count matrix, one sample per line, with a short summary.
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/montanaflynn/stats"

	"github.com/quantbio/diffex/counts"
	"github.com/quantbio/diffex/norm"
)

func main() {
	var (
		countsFile string
		refSample  int
		unweighted bool
	)

	flag.StringVar(&countsFile, "counts", "", "Path to the count matrix: delimited text (optionally compressed), header row of sample identifiers, first column gene identifiers.")
	flag.IntVar(&refSample, "ref", -1, "Index of the reference sample. Negative chooses automatically.")
	flag.BoolVar(&unweighted, "unweighted", false, "Disable asymptotic-variance weighting of the trimmed log-ratios.")
	flag.Parse()

	if countsFile == "" {
		flag.PrintDefaults()
		return
	}

	m, err := counts.OpenMatrix(countsFile)
	if err != nil {
		log.Fatalln(err)
	}
	log.Println("Read counts for", m.NGenes(), "genes x", m.NSamples(), "samples")

	opts := norm.DefaultTMMOptions()
	opts.RefSample = refSample
	opts.Weighted = !unweighted

	factors, err := norm.TMM(m, opts)
	if err != nil {
		log.Fatalln(err)
	}

	sizes := m.LibSizes()
	fmt.Println("sample\tlib.size\tnorm.factor")
	for j, s := range m.Samples {
		fmt.Printf("%s\t%.0f\t%.4f\n", s, sizes[j], factors[j])
	}

	med, err := stats.Median(factors)
	if err != nil {
		log.Fatalln(err)
	}
	min, _ := stats.Min(factors)
	max, _ := stats.Max(factors)
	log.Printf("Factor median %.4f, range [%.4f, %.4f]\n", med, min, max)
}
