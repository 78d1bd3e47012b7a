package main

import (
	"flag"
	"fmt"
	"log"
	"path/filepath"
	"reflect"

	"hsi-cores/classify"
	"hsi-cores/utils"
)

// Check that every prototype classifies as its own label and that repeated
// predictions are identical.
func main() {
	modelPath := flag.String("model", utils.GetEnv("HSI_MODEL_PATH", filepath.Join("models", "mineral_model.json")), "Trained model")
	k := flag.Int("k", 3, "Neighbour count")
	flag.Parse()

	classifier, err := classify.NewClassifierFromFile(*modelPath, *k)
	if err != nil {
		log.Fatalf("Failed to load classifier: %v", err)
	}
	stats := classifier.Stats()
	fmt.Printf("Loaded classifier with %d prototypes across %d labels\n\n", stats.PrototypeCount, stats.LabelCount)

	fmt.Println("=== Testing Self-Match ===")
	fmt.Println("Every prototype should match its own label with high confidence")
	fmt.Println()

	mismatches, unstable, low := 0, 0, 0
	for _, proto := range classifier.Model().Prototypes {
		first, err := classifier.Predict(proto.Features)
		if err != nil {
			log.Printf("  ERROR %s: %v\n", proto.ID, err)
			mismatches++
			continue
		}
		second, err := classifier.Predict(proto.Features)
		if err != nil || !reflect.DeepEqual(first, second) {
			fmt.Printf("  ❌ %s: predictions differ between runs\n", proto.ID)
			unstable++
		}
		if len(first) == 0 {
			fmt.Printf("  ❌ %s: no predictions returned\n", proto.ID)
			mismatches++
			continue
		}

		best := first[0]
		switch {
		case best.Label != proto.Label:
			fmt.Printf("  ❌ %s (%s) matched %s (%.1f%%)\n", proto.ID, proto.Label, best.Label, best.Confidence*100)
			mismatches++
		case best.Confidence < 0.70:
			fmt.Printf("  ⚠️  %s (%s) matched itself with only %.1f%%\n", proto.ID, proto.Label, best.Confidence*100)
			low++
		}
	}

	fmt.Println()
	fmt.Println("=== Results ===")
	fmt.Printf("Prototypes: %d, mismatched: %d, low confidence: %d, non-deterministic: %d\n",
		stats.PrototypeCount, mismatches, low, unstable)
	if mismatches > 0 {
		fmt.Println("\nMismatches usually mean duplicate spectra under different labels")
		fmt.Println("or a metric that ignores the diagnostic absorption depth (try -metric sam).")
	}
	if mismatches+unstable > 0 {
		log.Fatal("self-match check failed")
	}
	fmt.Println("✅ All prototypes match themselves")
}
