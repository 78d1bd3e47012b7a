package assistant

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"hsi-cores/classify"
	"hsi-cores/models"
)

const maxPromptPredictions = 5

// ClassificationPrompt describes a single-spectrum classification.
func ClassificationPrompt(summary classify.ClassificationSummary, sampleID string) string {
	var b strings.Builder
	if sampleID != "" {
		fmt.Fprintf(&b, "Sample %s was classified from its reflectance spectrum.\n", sampleID)
	} else {
		b.WriteString("A core sample was classified from its reflectance spectrum.\n")
	}
	fmt.Fprintf(&b, "Confidence threshold: %.2f. Confident result: %t.\n", summary.Threshold, summary.Confident)

	if len(summary.Predictions) == 0 {
		b.WriteString("The classifier returned no candidates.\n")
	} else {
		b.WriteString("Ranked candidates:\n")
		for i, p := range summary.Predictions {
			if i == maxPromptPredictions {
				break
			}
			fmt.Fprintf(&b, "%d. %s (%s) confidence %.2f, support %d", i+1, p.Label, p.Category, p.Confidence, p.Support)
			if p.Mineral != nil {
				if p.Mineral.Formula != "" {
					fmt.Fprintf(&b, ", formula %s", p.Mineral.Formula)
				}
				if p.Mineral.DiagnosticFeatureNm > 0 {
					fmt.Fprintf(&b, ", diagnostic feature %.0f nm", p.Mineral.DiagnosticFeatureNm)
				}
				if p.Mineral.AlterationType != "" {
					fmt.Fprintf(&b, ", alteration %s", p.Mineral.AlterationType)
				}
			}
			b.WriteString("\n")
		}
	}
	if len(summary.LibraryMatches) > 0 {
		fmt.Fprintf(&b, "Best reference-library match: %s (confidence %.2f).\n",
			summary.LibraryMatches[0].Label, summary.LibraryMatches[0].Confidence)
	}
	b.WriteString("Give a short geological interpretation of this result.")
	return b.String()
}

// RunPrompt describes a whole-cube analysis run.
func RunPrompt(run models.AnalysisRun) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hyperspectral core scan %s (%s), %d rows x %d columns x %d bands",
		run.Input, run.Format, run.Rows, run.Cols, run.Bands)
	if run.WavelengthMax > 0 {
		fmt.Fprintf(&b, ", %.0f-%.0f nm", run.WavelengthMin, run.WavelengthMax)
	}
	b.WriteString(".\n")

	if len(run.IndexStats) > 0 {
		b.WriteString("Spectral index statistics (mean, min, max):\n")
		for _, s := range run.IndexStats {
			if s.Valid == 0 {
				continue
			}
			fmt.Fprintf(&b, "- %s: %.3f, %.3f, %.3f\n", s.Name, s.Mean, s.Min, s.Max)
		}
	}

	if len(run.ClassCounts) > 0 {
		total := 0
		labels := make([]string, 0, len(run.ClassCounts))
		for label, n := range run.ClassCounts {
			labels = append(labels, label)
			total += n
		}
		sort.Slice(labels, func(i, j int) bool {
			if run.ClassCounts[labels[i]] != run.ClassCounts[labels[j]] {
				return run.ClassCounts[labels[i]] > run.ClassCounts[labels[j]]
			}
			return labels[i] < labels[j]
		})
		b.WriteString("Mineral map pixel fractions:\n")
		for _, label := range labels {
			fmt.Fprintf(&b, "- %s: %.1f%%\n", label, 100*float64(run.ClassCounts[label])/float64(max(total, 1)))
		}
	}
	if len(run.AbsorptionNm) > 0 {
		parts := make([]string, len(run.AbsorptionNm))
		for i, nm := range run.AbsorptionNm {
			parts[i] = fmt.Sprintf("%.0f", nm)
		}
		fmt.Fprintf(&b, "Absorption features in the mean spectrum at %s nm.\n", strings.Join(parts, ", "))
	}
	b.WriteString("Summarise the likely mineralogy and alteration in a few sentences.")
	return b.String()
}

// InterpretClassification asks gen for an interpretation of summary.
func InterpretClassification(ctx context.Context, gen Generator, summary classify.ClassificationSummary, sampleID string) (string, error) {
	return gen.GenerateResponse(ctx, ClassificationPrompt(summary, sampleID))
}

// InterpretRun asks gen for an interpretation of run.
func InterpretRun(ctx context.Context, gen Generator, run models.AnalysisRun) (string, error) {
	return gen.GenerateResponse(ctx, RunPrompt(run))
}
