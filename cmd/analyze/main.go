package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"time"

	"hsi-cores/assistant"
	"hsi-cores/config"
	"hsi-cores/db"
	"hsi-cores/models"
	"hsi-cores/pipeline"

	"github.com/cheggaaa/pb/v3"
	"github.com/joho/godotenv"
)

// Config holds the analysis run settings.
type Config struct {
	ConfigPath string
	OutputDir  string
	Format     string
	ModelPath  string
	Classify   bool
	Store      bool
	Interpret  bool
	Inputs     []string
}

func main() {
	_ = godotenv.Load()
	cfg := parseFlags()

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Printf("=== Core Scan Analysis ===\n")

	pipe, err := config.LoadPipeline(cfg.ConfigPath)
	if err != nil {
		log.Fatalf("ERROR: %v", err)
	}
	pipe.ApplyEnv()
	if cfg.OutputDir != "" {
		pipe.OutputDir = cfg.OutputDir
	}
	if cfg.Format != "" {
		pipe.Load.Format = cfg.Format
	}
	if cfg.ModelPath != "" {
		pipe.Classification.ModelPath = cfg.ModelPath
	}
	if cfg.Classify {
		pipe.Classification.Enabled = true
	}
	if err := pipe.Validate(); err != nil {
		log.Fatalf("ERROR: %v", err)
	}

	log.Printf("Inputs: %d file(s)\n", len(cfg.Inputs))
	log.Printf("Output directory: %s\n", pipe.OutputDir)
	log.Printf("Classification: %v\n", pipe.Classification.Enabled)
	log.Println()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var store db.DBClient
	if cfg.Store {
		store, err = db.NewDBClient()
		if err != nil {
			log.Fatalf("ERROR: Failed to open database: %v", err)
		}
		defer store.Close()
	}

	var gen *assistant.GeminiClient
	if cfg.Interpret {
		gen, err = assistant.NewGeminiClient(ctx)
		if err != nil {
			log.Printf("WARNING: interpretation disabled: %v\n", err)
		} else {
			defer gen.Close()
		}
	}

	startTime := time.Now()
	bar := pb.StartNew(len(cfg.Inputs))
	bar.SetWriter(os.Stderr)

	var runs []*models.AnalysisRun
	failed := 0
	for _, input := range cfg.Inputs {
		run, err := pipeline.Run(ctx, pipe, input)
		bar.Increment()
		if err != nil {
			log.Printf("ERROR analysing %s: %v\n", input, err)
			failed++
			if ctx.Err() != nil {
				break
			}
			continue
		}

		if gen != nil {
			text, err := assistant.InterpretRun(ctx, gen, *run)
			if err != nil {
				log.Printf("WARNING: interpretation of %s failed: %v\n", input, err)
			} else {
				run.Interpretation = text
			}
		}
		if store != nil {
			if err := store.StoreRun(run); err != nil {
				log.Printf("WARNING: failed to store run %s: %v\n", run.ID, err)
			}
		}
		runs = append(runs, run)
	}
	bar.Finish()

	printSummary(runs, failed, startTime)
	if failed > 0 {
		os.Exit(1)
	}
}

func parseFlags() Config {
	cfg := Config{}

	flag.StringVar(&cfg.ConfigPath, "config", "", "Pipeline YAML file (defaults when empty)")
	flag.StringVar(&cfg.OutputDir, "output", "", "Override the output directory")
	flag.StringVar(&cfg.Format, "format", "", "Override the input format (envi, hdf5, mat, geotek, auto)")
	flag.StringVar(&cfg.ModelPath, "model", "", "Override the classifier model path")
	flag.BoolVar(&cfg.Classify, "classify", false, "Enable per-pixel classification")
	flag.BoolVar(&cfg.Store, "store", false, "Store run records in the database (DB_TYPE)")
	flag.BoolVar(&cfg.Interpret, "interpret", false, "Ask the assistant for an interpretation (GEMINI_API_KEY)")

	flag.Parse()
	cfg.Inputs = flag.Args()
	if len(cfg.Inputs) == 0 {
		log.Fatalf("ERROR: usage: analyze [flags] <cube> [cube...]")
	}
	return cfg
}

func printSummary(runs []*models.AnalysisRun, failed int, startTime time.Time) {
	log.Println()
	log.Println("=== Analysis Summary ===")
	for _, run := range runs {
		log.Printf("%s: %dx%dx%d, %d artifacts, %d warnings, %.0f ms\n",
			run.Input, run.Rows, run.Cols, run.Bands, len(run.Artifacts), len(run.Warnings), run.DurationMs)
		for _, w := range run.Warnings {
			log.Printf("  WARNING: %s\n", w)
		}
		if len(run.ClassCounts) > 0 {
			log.Printf("  classes: %v (mean confidence %.2f)\n", run.ClassCounts, run.MeanConfidence)
		}
		if run.Interpretation != "" {
			log.Printf("  interpretation: %s\n", run.Interpretation)
		}
	}
	log.Printf("Completed %d, failed %d in %v\n", len(runs), failed, time.Since(startTime).Round(time.Millisecond))
}
