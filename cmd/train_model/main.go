package main

import (
	"flag"
	"log"
	"os"
	"sort"
	"time"

	"hsi-cores/classify"
	"hsi-cores/config"
	"hsi-cores/hsi"
	"hsi-cores/pipeline"
	"hsi-cores/spectral"

	"github.com/cheggaaa/pb/v3"
)

// Config holds training configuration
type Config struct {
	CubePath    string
	LabelPath   string
	LibraryPath string
	ClassNames  string
	Ignore      int
	ConfigPath  string
	OutputPath  string
	Kind        string
	Metric      string
	K           int
	Scaler      string
	MaxPerClass int
	Normalised  bool
	Continuum   bool
	Smooth      string
	WithIndices bool
	Seed        int64
	Category    string
}

func main() {
	cfg := parseFlags()

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Printf("=== Mineral Classifier Training Pipeline ===\n")
	if cfg.LibraryPath != "" {
		log.Printf("Reference library: %s\n", cfg.LibraryPath)
	} else {
		log.Printf("Training cube: %s\n", cfg.CubePath)
		log.Printf("Label image: %s\n", cfg.LabelPath)
	}
	log.Printf("Output model: %s\n", cfg.OutputPath)
	log.Println()

	startTime := time.Now()
	opts := trainOptions(cfg)

	var (
		model *classify.Model
		err   error
	)
	if cfg.LibraryPath != "" {
		model, err = trainFromLibrary(cfg, opts)
	} else {
		model, err = trainFromCube(cfg, opts)
	}
	if err != nil {
		log.Fatalf("ERROR: %v", err)
	}

	log.Println("Saving model to disk...")
	if err := model.Save(cfg.OutputPath); err != nil {
		log.Fatalf("ERROR: Failed to save model: %v", err)
	}
	log.Printf("Model saved to: %s\n", cfg.OutputPath)
	log.Println()

	printTrainingSummary(model, startTime)
}

func parseFlags() Config {
	cfg := Config{}

	flag.StringVar(&cfg.CubePath, "cube", "", "Labelled training cube (ENVI, HDF5, MAT, GeoTek)")
	flag.StringVar(&cfg.LabelPath, "labels", "", "Single-band label image with the cube's footprint")
	flag.StringVar(&cfg.LibraryPath, "library", "", "Train from a reference library (JSON or CSV) instead of a cube")
	flag.StringVar(&cfg.ClassNames, "names", "", "Class names as id=name pairs, e.g. 1=kaolinite,2=chlorite")
	flag.IntVar(&cfg.Ignore, "ignore", 0, "Label id of unlabelled pixels")
	flag.StringVar(&cfg.ConfigPath, "config", "", "Pipeline YAML with load and preprocess settings")
	flag.StringVar(&cfg.OutputPath, "output", "models/mineral_model.json", "Output path for the trained model")
	flag.StringVar(&cfg.Kind, "kind", classify.KindKNN, "Model kind (knn or centroid)")
	flag.StringVar(&cfg.Metric, "metric", classify.MetricSAM, "Distance metric (cosine, euclidean, sam)")
	flag.IntVar(&cfg.K, "k", 5, "Neighbour count for knn models")
	flag.StringVar(&cfg.Scaler, "scaler", classify.ScalerZScore, "Feature scaler for cosine and euclidean models (zscore, minmax, none)")
	flag.IntVar(&cfg.MaxPerClass, "max-per-class", 200, "Maximum prototypes kept per class")
	flag.BoolVar(&cfg.Normalised, "normalised", false, "Train on the normalised view instead of reflectance")
	flag.BoolVar(&cfg.Continuum, "continuum", false, "Use continuum-removed spectra as features")
	flag.StringVar(&cfg.Smooth, "smooth", "", "Smooth spectra before feature extraction (savgol, gaussian, median)")
	flag.BoolVar(&cfg.WithIndices, "indices", false, "Append the default mineral indices to the features")
	flag.Int64Var(&cfg.Seed, "seed", 1, "Seed for prototype subsampling")
	flag.StringVar(&cfg.Category, "category", "mineral", "Category assigned to every class")

	flag.Parse()

	if cfg.LibraryPath == "" && (cfg.CubePath == "" || cfg.LabelPath == "") {
		log.Fatalf("ERROR: either -library or both -cube and -labels are required")
	}
	for _, path := range []string{cfg.CubePath, cfg.LabelPath, cfg.LibraryPath} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			log.Fatalf("ERROR: Input does not exist: %s", path)
		}
	}
	return cfg
}

func trainOptions(cfg Config) classify.TrainOptions {
	opts := classify.DefaultTrainOptions()
	opts.Kind = cfg.Kind
	opts.Metric = cfg.Metric
	opts.K = cfg.K
	opts.Scaler = cfg.Scaler
	opts.MaxPrototypesPerClass = cfg.MaxPerClass
	opts.Seed = cfg.Seed
	opts.Features = spectral.FeatureOptions{
		Smooth:           cfg.Smooth,
		Smoothing:        spectral.DefaultSmoothOptions(),
		ContinuumRemoved: cfg.Continuum,
	}
	if cfg.WithIndices {
		opts.Features.Indices = spectral.DefaultIndices()
	}
	return opts
}

func trainFromCube(cfg Config, opts classify.TrainOptions) (*classify.Model, error) {
	pipe, err := config.LoadPipeline(cfg.ConfigPath)
	if err != nil {
		return nil, err
	}

	log.Println("Step 1: Loading and preprocessing the labelled cube...")
	scan, err := pipeline.LoadLabelled(cfg.CubePath, cfg.LabelPath, pipe.Load, pipe.Preprocess)
	if err != nil {
		return nil, err
	}
	log.Printf("Cube: %dx%d pixels, %d bands after preprocessing\n",
		scan.Clean.Rows, scan.Clean.Cols, scan.Clean.Bands)

	set, err := scan.TrainingSet(cfg.Ignore, cfg.Normalised)
	if err != nil {
		return nil, err
	}
	names, err := pipeline.ParseClassNames(cfg.ClassNames)
	if err != nil {
		return nil, err
	}

	log.Printf("Found %d labelled pixels:\n", len(set.Rows))
	opts.Categories = map[string]string{}
	for _, c := range set.ClassCounts() {
		label := classify.LabelName(c[0], names)
		opts.Categories[label] = cfg.Category
		log.Printf("  - %s (id %d): %d pixels\n", label, c[0], c[1])
	}
	log.Println()

	log.Println("Step 2: Extracting features and building prototypes...")
	bar := pb.StartNew(len(set.Rows))
	bar.SetWriter(os.Stderr)
	model, err := set.Train(names, opts, func() { bar.Increment() })
	bar.Finish()
	if err != nil {
		return nil, err
	}
	model.Metadata["source"] = cfg.CubePath
	log.Println()
	return model, nil
}

func trainFromLibrary(cfg Config, opts classify.TrainOptions) (*classify.Model, error) {
	log.Println("Step 1: Loading reference library...")
	entries, err := hsi.LoadReferenceLibrary(cfg.LibraryPath)
	if err != nil {
		return nil, err
	}
	for _, label := range hsi.LibraryLabels(entries) {
		log.Printf("  - %s\n", label)
	}
	log.Println()

	log.Println("Step 2: Building prototypes from library spectra...")
	model, err := classify.TrainFromLibrary(entries, opts)
	if err != nil {
		return nil, err
	}
	log.Println()
	return model, nil
}

func printTrainingSummary(model *classify.Model, startTime time.Time) {
	elapsed := time.Since(startTime)
	stats := model.Stats()

	log.Println("=== Training Summary ===")
	log.Println()
	log.Printf("Kind: %s, metric: %s, k: %d\n", model.Kind, model.Metric, model.K)
	log.Printf("Bands: %d, feature length: %d\n", len(model.Wavelengths), stats.Bands)
	if norm := model.Metadata["normalize"]; norm != "" {
		log.Printf("Trained on %s-normalised spectra\n", norm)
	}
	log.Println()

	log.Println("Class distribution:")
	labels := append([]classify.ModelLabelStat(nil), stats.Labels...)
	sort.Slice(labels, func(i, j int) bool { return labels[i].Prototypes > labels[j].Prototypes })
	for _, l := range labels {
		log.Printf("  %-20s: %4d prototypes\n", l.Label, l.Prototypes)
	}
	log.Println()

	log.Printf("Total prototypes: %d in %d classes\n", stats.PrototypeCount, stats.LabelCount)
	log.Printf("Total training time: %.2f seconds\n", elapsed.Seconds())
	log.Println()
	log.Println("✓ Training complete!")
}
