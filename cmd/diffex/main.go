// diffex runs the full differential expression pipeline on a count matrix
// and a sample metadata table: low-expression filtering, TMM normalization,
// design construction from categorical covariates, precision-weighted linear
// model fitting with per-sample quality weights, empirical Bayes variance
// moderation, and a ranked gene table with Benjamini-Hochberg adjusted
// p-values.
package main

import (
	"flag"
	"log"
	"os"
	"strings"

	"github.com/quantbio/diffex/counts"
	"github.com/quantbio/diffex/design"
	"github.com/quantbio/diffex/lm"
	"github.com/quantbio/diffex/norm"
	"github.com/quantbio/diffex/toptable"
)

func main() {
	var (
		countsFile    string
		metadataFile  string
		sampleCol     string
		factorList    string
		coef          string
		cpmThreshold  float64
		minSamples    int
		robust        bool
		qualityWeight bool
		sortOrder     string
		alpha         float64
		outFile       string
		outDelim      string
	)

	flag.StringVar(&countsFile, "counts", "", "Path to the count matrix: delimited text (optionally compressed), header row of sample identifiers, first column gene identifiers.")
	flag.StringVar(&metadataFile, "metadata", "", "Path to the sample metadata table: delimited text, header row, one row per sample.")
	flag.StringVar(&sampleCol, "samplecol", "", "Metadata column holding sample identifiers. Defaults to the first column.")
	flag.StringVar(&factorList, "factors", "", "Comma-separated metadata columns to model as additive categorical factors, e.g. 'population' or 'population,temp'.")
	flag.StringVar(&coef, "coef", "", "Design coefficient to test. Defaults to the last coefficient of the design.")
	flag.Float64Var(&cpmThreshold, "cpm", 1.0, "CPM threshold for the low-expression filter.")
	flag.IntVar(&minSamples, "minsamples", 0, "Minimum number of samples at or above the CPM threshold for a gene to be kept. Defaults to half the samples.")
	flag.BoolVar(&robust, "robust", false, "Use robust empirical Bayes prior estimation (winsorizes outlier variances).")
	flag.BoolVar(&qualityWeight, "weights", true, "Estimate per-sample quality weights.")
	flag.StringVar(&sortOrder, "sort", "p", "Output order: 'p' (adjusted p-value), 'fc' (absolute log fold change), or 'none' (input gene order).")
	flag.Float64Var(&alpha, "alpha", 0, "If positive, report only genes with adjusted p-value at or below this cutoff.")
	flag.StringVar(&outFile, "o", "", "Output path. Defaults to standard output.")
	flag.StringVar(&outDelim, "delimiter", "\t", "Output field delimiter.")
	flag.Parse()

	if countsFile == "" || metadataFile == "" || factorList == "" {
		flag.PrintDefaults()
		return
	}

	var order toptable.SortOrder
	switch sortOrder {
	case "p":
		order = toptable.SortByP
	case "fc":
		order = toptable.SortByFoldChange
	case "none":
		order = toptable.SortNone
	default:
		log.Fatalln("Unknown -sort value:", sortOrder)
	}

	if len(outDelim) != 1 {
		log.Fatalln("-delimiter must be a single character")
	}

	md, err := counts.OpenMetadata(metadataFile, sampleCol)
	if err != nil {
		log.Fatalln(err)
	}
	log.Println("Read metadata for", len(md.Samples), "samples with covariates", md.Names)

	m, err := counts.OpenMatrix(countsFile)
	if err != nil {
		log.Fatalln(err)
	}
	log.Println("Read counts for", m.NGenes(), "genes x", m.NSamples(), "samples")

	md, err = md.Reorder(m)
	if err != nil {
		log.Fatalln(err)
	}

	filtered := counts.FilterByExpression(m, cpmThreshold, minSamples)
	log.Println(filtered.NGenes(), "of", m.NGenes(), "genes pass the expression filter")
	if filtered.NGenes() == 0 {
		log.Println("No genes pass the expression filter; nothing to fit")
		return
	}

	factors, err := norm.TMM(filtered, norm.DefaultTMMOptions())
	if err != nil {
		log.Fatalln(err)
	}
	log.Println("TMM scale factors:", factors)

	d, err := design.FromMetadata(md, strings.Split(factorList, ",")...)
	if err != nil {
		log.Fatalln(err)
	}
	if err := design.CheckFullRank(d); err != nil {
		log.Fatalln(err)
	}
	log.Println("Design coefficients:", d.Names)

	if coef == "" {
		coef = d.Names[len(d.Names)-1]
	}

	expr, err := lm.Voom(filtered, factors, d, lm.DefaultVoomOptions())
	if err != nil {
		log.Fatalln(err)
	}

	var sampleWeights []float64
	if qualityWeight {
		sampleWeights, err = lm.SampleWeights(expr, d, lm.DefaultSampleWeightOptions())
		if err != nil {
			log.Fatalln(err)
		}
		log.Println("Sample quality weights:", sampleWeights)
	}

	fit, err := lm.Fit(expr, d, sampleWeights)
	if err != nil {
		log.Fatalln(err)
	}

	if err := lm.EBayes(fit, robust); err != nil {
		log.Fatalln(err)
	}
	if len(fit.ZeroVarianceGenes) > 0 {
		log.Println(len(fit.ZeroVarianceGenes), "genes had zero residual variance and were excluded from the variance prior:", fit.ZeroVarianceGenes)
	}
	log.Printf("Variance prior: %.4g on %.2f prior degrees of freedom\n", fit.VarPrior, fit.DFPrior)

	rows, err := toptable.Top(fit, coef, toptable.Options{Sort: order, Alpha: alpha})
	if err != nil {
		log.Fatalln(err)
	}

	out := os.Stdout
	if outFile != "" {
		out, err = os.Create(outFile)
		if err != nil {
			log.Fatalln(err)
		}
		defer out.Close()
	}

	if err := toptable.Write(out, rows, rune(outDelim[0])); err != nil {
		log.Fatalln(err)
	}
	log.Println("Wrote", len(rows), "genes for coefficient", coef)
}
