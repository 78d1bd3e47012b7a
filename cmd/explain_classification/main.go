package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"hsi-cores/assistant"
	"hsi-cores/classify"
	"hsi-cores/hsi"
	"hsi-cores/spectral"
	"hsi-cores/utils"

	"github.com/joho/godotenv"
)

// Explain why a spectrum gets the confidence scores it does
func main() {
	_ = godotenv.Load()

	modelPath := flag.String("model", utils.GetEnv("HSI_MODEL_PATH", filepath.Join("models", "mineral_model.json")), "Trained model")
	k := flag.Int("k", 3, "Neighbour count")
	row := flag.Int("row", 0, "Pixel row when the input is a cube")
	col := flag.Int("col", 0, "Pixel column when the input is a cube")
	label := flag.String("label", "", "Library entry label when the input is a library file")
	interpret := flag.Bool("interpret", false, "Stream a geological interpretation (GEMINI_API_KEY)")
	flag.Parse()

	if flag.NArg() < 1 {
		log.Fatal("Usage: explain_classification [-model m.json] [-row r -col c | -label name] <cube-or-library>")
	}
	input := flag.Arg(0)
	fmt.Printf("=== Explaining Classification for: %s ===\n\n", filepath.Base(input))

	classifier, err := classify.NewClassifierFromFile(*modelPath, *k)
	if err != nil {
		log.Fatalf("Failed to load classifier: %v", err)
	}
	model := classifier.Model()

	fmt.Printf("📊 Model Overview:\n")
	stats := classifier.Stats()
	fmt.Printf("   %s / %s, k=%d, %d prototypes\n", stats.Kind, stats.Metric, stats.K, stats.PrototypeCount)
	for _, l := range stats.Labels {
		fmt.Printf("   - %s: %d prototypes\n", l.Label, l.Prototypes)
	}
	if stats.PrototypeCount < 10*max(stats.LabelCount, 1) {
		fmt.Printf("\n⚠️  Fewer than 10 prototypes per class; confidences will be unstable.\n")
	}
	fmt.Println()

	spec, err := readSpectrum(input, *row, *col, *label)
	if err != nil {
		log.Fatalf("Failed to read spectrum: %v", err)
	}

	predictions, features, err := classifier.PredictSpectrum(spec)
	if err != nil {
		log.Fatalf("Classification error: %v", err)
	}
	if len(predictions) == 0 {
		log.Fatal("No predictions returned")
	}

	fmt.Printf("🔍 Feature vector: %d entries", len(features))
	if len(model.Wavelengths) > 0 {
		names := spectral.FeatureNames(model.Wavelengths, model.Features)
		fmt.Printf(" (%s ... %s)", names[0], names[len(names)-1])
	}
	fmt.Println()
	absorption, err := spectral.DescribeAbsorptionFeatures(spec.Values, spec.Wavelengths, spectral.DefaultProminence)
	if err == nil && len(absorption) > 0 {
		fmt.Printf("   Absorption features:")
		for _, f := range absorption {
			fmt.Printf(" %.0f nm (depth %.3f)", f.Wavelength, f.Depth)
		}
		fmt.Println()
	}
	fmt.Println()

	fmt.Printf("🎯 Classification Results:\n")
	for i, pred := range predictions {
		mark := "  "
		if i == 0 && pred.Confidence >= 0.90 {
			mark = "✅"
		} else if i == 0 && pred.Confidence >= 0.70 {
			mark = "⚠️"
		} else if i == 0 {
			mark = "❌"
		}
		fmt.Printf("   %s #%d: %s (%s)\n", mark, i+1, pred.Label, pred.Category)
		fmt.Printf("      Confidence: %.1f%%\n", pred.Confidence*100)
		fmt.Printf("      Avg Distance: %.4f\n", pred.AverageDist)
		fmt.Printf("      Support: %d prototypes (out of k=%d neighbors)\n", pred.Support, stats.K)
		if pred.Mineral != nil {
			fmt.Printf("      Mineral: group=%s formula=%s alteration=%s\n",
				pred.Mineral.Group, pred.Mineral.Formula, pred.Mineral.AlterationType)
		}
	}
	fmt.Println()

	topPred := predictions[0]
	fmt.Printf("💡 Why %.1f%% confidence for '%s'?\n\n", topPred.Confidence*100, topPred.Label)
	if topPred.Support == stats.K || len(predictions) == 1 {
		fmt.Printf("   ✅ All %d nearest neighbors are '%s'\n", stats.K, topPred.Label)
	} else {
		fmt.Printf("   ⚠️  The %d nearest neighbors are split:\n", stats.K)
		for _, pred := range predictions {
			fmt.Printf("      - %d/%d are '%s'\n", pred.Support, stats.K, pred.Label)
		}
	}

	fmt.Println()
	fmt.Printf("📏 Closest Prototypes:\n")
	for i, ps := range topPred.TopPrototypes {
		if i >= 5 {
			break
		}
		proto := findProtoByID(model.Prototypes, ps.ID)
		fmt.Printf("   %d. %s (label: %s)\n", i+1, ps.ID, proto.Label)
		fmt.Printf("      Distance: %.4f (weight: %.2f)\n", ps.Distance, ps.Weight)
		fmt.Printf("      Source: %s\n", proto.Source)
	}

	fmt.Println()
	fmt.Printf("📐 Spectral angle to each class mean (feature space):\n")
	for _, l := range stats.Labels {
		if mean := classMean(model.Prototypes, l.Label); mean != nil && len(mean) == len(features) {
			angle, err := spectral.SpectralAngle(features, mean)
			if err == nil {
				fmt.Printf("   %-20s %.4f rad\n", l.Label, angle)
			}
		}
	}

	if *interpret {
		fmt.Println()
		fmt.Printf("🪨 Interpretation:\n   ")
		ctx := context.Background()
		gen, err := assistant.NewGeminiClient(ctx)
		if err != nil {
			log.Fatalf("Interpretation unavailable: %v", err)
		}
		defer gen.Close()
		summary := classify.ClassificationSummary{
			Predictions:  predictions,
			Confident:    classify.DetermineConfident(predictions, utils.GetEnvFloat("HSI_CONFIDENCE_THRESHOLD", 0.55)),
			PrimaryLabel: topPred.Label,
		}
		prompt := assistant.ClassificationPrompt(summary, strings.TrimSuffix(filepath.Base(input), filepath.Ext(input)))
		err = gen.GenerateResponseStream(ctx, prompt, func(chunk string) error {
			fmt.Print(chunk)
			return nil
		})
		fmt.Println()
		if err != nil {
			log.Fatalf("Interpretation failed: %v", err)
		}
	}
}

func readSpectrum(path string, row, col int, label string) (hsi.Spectrum, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".csv", ".txt":
		entries, err := hsi.LoadReferenceLibrary(path)
		if err != nil {
			return hsi.Spectrum{}, err
		}
		for _, e := range entries {
			if label == "" || strings.EqualFold(e.Label, label) {
				fmt.Printf("Using library entry %q\n\n", e.Label)
				return e.Spectrum(), nil
			}
		}
		return hsi.Spectrum{}, fmt.Errorf("no entry labelled %q in %s", label, path)
	}
	cube, err := hsi.Load(path, hsi.FormatAuto)
	if err != nil {
		return hsi.Spectrum{}, err
	}
	fmt.Printf("Using pixel (%d, %d) of a %dx%dx%d cube\n\n", row, col, cube.Rows, cube.Cols, cube.Bands)
	return cube.Pixel(row, col)
}

func findProtoByID(prototypes []classify.Prototype, id string) classify.Prototype {
	for _, p := range prototypes {
		if p.ID == id {
			return p
		}
	}
	return classify.Prototype{ID: id, Label: "unknown", Source: "not found"}
}

func classMean(prototypes []classify.Prototype, label string) []float64 {
	var mean []float64
	n := 0
	for _, p := range prototypes {
		if p.Label != label {
			continue
		}
		if mean == nil {
			mean = make([]float64, len(p.Features))
		}
		if len(p.Features) != len(mean) {
			continue
		}
		for i, v := range p.Features {
			mean[i] += v
		}
		n++
	}
	for i := range mean {
		mean[i] /= float64(n)
	}
	return mean
}
