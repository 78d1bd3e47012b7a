package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"hsi-cores/classify"
	"hsi-cores/config"
	"hsi-cores/hsi"
	"hsi-cores/pipeline"
	"hsi-cores/plotting"
	"hsi-cores/utils"
)

// EvaluationConfig holds evaluation parameters
type EvaluationConfig struct {
	ModelPath    string
	CubePath     string
	LabelPath    string
	LibraryPath  string
	ClassNames   string
	Ignore       int
	ConfigPath   string
	TestFraction float64
	Seed         int64
	Kind         string
	Metric       string
	K            int
	ReportPath   string
	PlotPath     string
}

// EvaluationOutput is the JSON report written with -report.
type EvaluationOutput struct {
	Timestamp    time.Time                  `json:"timestamp"`
	Mode         string                     `json:"mode"`
	ModelPath    string                     `json:"modelPath,omitempty"`
	Input        string                     `json:"input"`
	TrainSamples int                        `json:"trainSamples,omitempty"`
	Report       *classify.EvaluationReport `json:"report"`
	Elapsed      string                     `json:"elapsed"`
}

func main() {
	cfg := parseFlags()

	log.SetFlags(log.Ldate | log.Ltime)
	log.Println("=== Model Evaluation Pipeline ===")

	started := time.Now()
	var (
		out *EvaluationOutput
		err error
	)
	switch {
	case cfg.LibraryPath != "":
		out, err = evaluateOnLibrary(cfg)
	case cfg.TestFraction > 0:
		out, err = evaluateHoldOut(cfg)
	default:
		out, err = evaluateOnCube(cfg)
	}
	if err != nil {
		log.Fatalf("ERROR: %v", err)
	}
	out.Timestamp = started.UTC()
	out.Elapsed = time.Since(started).Round(time.Millisecond).String()

	printEvaluationReport(out)

	if cfg.PlotPath != "" {
		if err := saveConfusionPlot(out.Report, cfg.PlotPath); err != nil {
			log.Printf("WARNING: Failed to plot confusion matrix: %v\n", err)
		} else {
			log.Printf("Confusion matrix saved to: %s\n", cfg.PlotPath)
		}
	}
	if cfg.ReportPath != "" {
		if err := saveReport(out, cfg.ReportPath); err != nil {
			log.Printf("WARNING: Failed to save report: %v\n", err)
		} else {
			log.Printf("Report saved to: %s\n", cfg.ReportPath)
		}
	}

	log.Println()
	printVerdict(out.Report)
}

func parseFlags() EvaluationConfig {
	cfg := EvaluationConfig{}

	flag.StringVar(&cfg.ModelPath, "model", "models/mineral_model.json", "Path to a trained model")
	flag.StringVar(&cfg.CubePath, "cube", "", "Labelled evaluation cube")
	flag.StringVar(&cfg.LabelPath, "labels", "", "Single-band label image with the cube's footprint")
	flag.StringVar(&cfg.LibraryPath, "library", "", "Evaluate the model against a reference library instead of a cube")
	flag.StringVar(&cfg.ClassNames, "names", "", "Class names as id=name pairs, e.g. 1=kaolinite,2=chlorite")
	flag.IntVar(&cfg.Ignore, "ignore", 0, "Label id of unlabelled pixels")
	flag.StringVar(&cfg.ConfigPath, "config", "", "Pipeline YAML with load and preprocess settings")
	flag.Float64Var(&cfg.TestFraction, "test-fraction", 0,
		"Hold out this fraction per class and train a fresh model on the rest (0 evaluates -model)")
	flag.Int64Var(&cfg.Seed, "seed", 42, "Seed for the stratified split")
	flag.StringVar(&cfg.Kind, "kind", classify.KindKNN, "Model kind for hold-out training")
	flag.StringVar(&cfg.Metric, "metric", classify.MetricSAM, "Distance metric for hold-out training")
	flag.IntVar(&cfg.K, "k", 5, "Neighbour count for hold-out training")
	flag.StringVar(&cfg.ReportPath, "report", "", "Write a JSON report to this path")
	flag.StringVar(&cfg.PlotPath, "plot", "", "Write a confusion matrix plot (png or svg)")

	flag.Parse()

	if cfg.LibraryPath == "" && (cfg.CubePath == "" || cfg.LabelPath == "") {
		log.Fatalf("ERROR: either -library or both -cube and -labels are required")
	}
	return cfg
}

func loadScan(cfg EvaluationConfig) (*pipeline.LabelledScan, []string, error) {
	pipe, err := config.LoadPipeline(cfg.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	names, err := pipeline.ParseClassNames(cfg.ClassNames)
	if err != nil {
		return nil, nil, err
	}
	log.Printf("Loading %s with labels %s\n", cfg.CubePath, cfg.LabelPath)
	scan, err := pipeline.LoadLabelled(cfg.CubePath, cfg.LabelPath, pipe.Load, pipe.Preprocess)
	if err != nil {
		return nil, nil, err
	}
	return scan, names, nil
}

func loadModel(path string) (*classify.Model, error) {
	log.Printf("Loading trained model %s\n", path)
	model, usingExample, err := classify.LoadModel(path)
	if err != nil {
		return nil, err
	}
	if usingExample {
		log.Printf("WARNING: evaluating the example model %s\n", classify.ExamplePath(path))
	}
	stats := model.Stats()
	log.Printf("Loaded %d prototypes covering %d classes\n", stats.PrototypeCount, stats.LabelCount)
	return model, nil
}

// evaluateOnCube scores a stored model on every labelled pixel, using the
// view the model was trained on.
func evaluateOnCube(cfg EvaluationConfig) (*EvaluationOutput, error) {
	model, err := loadModel(cfg.ModelPath)
	if err != nil {
		return nil, err
	}
	scan, names, err := loadScan(cfg)
	if err != nil {
		return nil, err
	}
	set, err := scan.TrainingSet(cfg.Ignore, scan.ForModel(model) != scan.Clean)
	if err != nil {
		return nil, err
	}
	log.Printf("Evaluating on %d labelled pixels\n", len(set.Rows))
	report, err := set.Evaluate(model, names)
	if err != nil {
		return nil, err
	}
	return &EvaluationOutput{Mode: "cube", ModelPath: cfg.ModelPath, Input: cfg.CubePath, Report: report}, nil
}

// evaluateHoldOut trains on a stratified part of the labelled pixels and
// scores the held-out rest.
func evaluateHoldOut(cfg EvaluationConfig) (*EvaluationOutput, error) {
	scan, names, err := loadScan(cfg)
	if err != nil {
		return nil, err
	}
	set, err := scan.TrainingSet(cfg.Ignore, false)
	if err != nil {
		return nil, err
	}
	train, test, err := set.Split(cfg.TestFraction, cfg.Seed)
	if err != nil {
		return nil, err
	}
	log.Printf("Stratified split: %d train / %d test pixels\n", len(train.Rows), len(test.Rows))

	opts := classify.DefaultTrainOptions()
	opts.Kind = cfg.Kind
	opts.Metric = cfg.Metric
	opts.K = cfg.K
	model, err := train.Train(names, opts, nil)
	if err != nil {
		return nil, err
	}
	report, err := test.Evaluate(model, names)
	if err != nil {
		return nil, err
	}
	return &EvaluationOutput{
		Mode:         "holdout",
		Input:        cfg.CubePath,
		TrainSamples: len(train.Rows),
		Report:       report,
	}, nil
}

// evaluateOnLibrary classifies every library spectrum with the model.
func evaluateOnLibrary(cfg EvaluationConfig) (*EvaluationOutput, error) {
	model, err := loadModel(cfg.ModelPath)
	if err != nil {
		return nil, err
	}
	entries, err := hsi.LoadReferenceLibrary(cfg.LibraryPath)
	if err != nil {
		return nil, err
	}
	if len(model.Wavelengths) > 0 {
		entries, err = hsi.AlignLibrary(entries, model.Wavelengths)
		if err != nil {
			return nil, err
		}
	}

	names := hsi.LibraryLabels(entries)
	ids := make(map[string]int, len(names))
	for i, name := range names {
		ids[name] = i
	}
	set := &pipeline.TrainingSet{Wavelengths: model.Wavelengths}
	for _, e := range entries {
		set.Rows = append(set.Rows, e.Values)
		set.Labels = append(set.Labels, ids[e.Label])
	}
	if len(set.Wavelengths) == 0 {
		set.Wavelengths = entries[0].Wavelengths
	}

	log.Printf("Evaluating on %d library spectra (%d labels)\n", len(entries), len(names))
	report, err := set.Evaluate(model, names)
	if err != nil {
		return nil, err
	}
	return &EvaluationOutput{Mode: "library", ModelPath: cfg.ModelPath, Input: cfg.LibraryPath, Report: report}, nil
}

func printEvaluationReport(out *EvaluationOutput) {
	report := out.Report
	log.Println()
	log.Println("=== Evaluation Report ===")
	log.Printf("Mode: %s, input: %s\n", out.Mode, out.Input)
	log.Printf("Samples: %d\n", report.Samples)
	log.Printf("Accuracy: %.2f%%  Kappa: %.3f  Macro F1: %.3f\n", report.Accuracy*100, report.Kappa, report.MacroF1)
	log.Println()

	log.Printf("%-20s %9s %9s %9s %8s\n", "class", "precision", "recall", "f1", "support")
	log.Println(strings.Repeat("-", 60))
	for _, c := range report.Classes {
		log.Printf("%-20s %9.3f %9.3f %9.3f %8d\n", truncate(c.Label, 20), c.Precision, c.Recall, c.F1, c.Support)
	}
	log.Println()

	log.Println("Confusion matrix (rows = true, columns = predicted):")
	header := fmt.Sprintf("%-15s", "")
	for _, label := range report.Labels {
		header += fmt.Sprintf(" %6s", truncate(label, 6))
	}
	log.Println(header)
	for i, row := range report.Matrix {
		line := fmt.Sprintf("%-15s", truncate(report.Labels[i], 15))
		for _, count := range row {
			if count > 0 {
				line += fmt.Sprintf(" %6d", count)
			} else {
				line += fmt.Sprintf(" %6s", ".")
			}
		}
		log.Println(line)
	}
	log.Println()
}

func printVerdict(report *classify.EvaluationReport) {
	log.Println("=" + strings.Repeat("=", 79))
	log.Println("VERDICT")
	log.Println("=" + strings.Repeat("=", 79))

	accuracy := report.Accuracy * 100

	var verdict string
	var recommendation string

	if accuracy >= 90 {
		verdict = "✓ EXCELLENT"
		recommendation = "Model separates the labelled minerals well."
	} else if accuracy >= 80 {
		verdict = "✓ GOOD"
		recommendation = "Model works well. Consider labelling more pixels for weak classes."
	} else if accuracy >= 70 {
		verdict = "⚠ FAIR"
		recommendation = "Check the per-class recall and add reference spectra for confused minerals."
	} else {
		verdict = "✗ POOR"
		recommendation = "Check preprocessing, label alignment and feature settings."
	}

	log.Printf("Overall Assessment: %s\n", verdict)
	log.Printf("Accuracy: %.2f%%, Kappa: %.3f\n", accuracy, report.Kappa)
	log.Printf("Recommendation: %s\n", recommendation)
	log.Println("=" + strings.Repeat("=", 79))
}

func saveConfusionPlot(report *classify.EvaluationReport, path string) error {
	fig, err := plotting.PlotConfusionMatrix(report.Matrix, report.Labels, plotting.Options{
		Title: fmt.Sprintf("Confusion matrix (accuracy %.1f%%)", report.Accuracy*100),
	})
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := utils.CreateFolder(dir); err != nil {
			return err
		}
	}
	return fig.Save(path)
}

func saveReport(out *EvaluationOutput, path string) error {
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-2] + ".."
}
