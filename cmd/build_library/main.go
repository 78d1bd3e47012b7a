package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"hsi-cores/db"
	"hsi-cores/hsi"
	"hsi-cores/utils"

	"github.com/cheggaaa/pb/v3"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	rootDir := flag.String("dir", "", "Directory searched recursively for library files (.json, .csv, .txt)")
	outputFile := flag.String("out", "models/library.json", "Output library JSON file")
	category := flag.String("category", "", "Category applied to entries without one")
	grid := flag.String("grid", "", "Resample every entry onto start:stop:step nm, e.g. 2000:2500:10")
	appendExisting := flag.Bool("append", false, "Merge into the existing output file")
	store := flag.Bool("store", false, "Also store the entries in the database (DB_TYPE)")
	flag.Parse()

	files := flag.Args()
	if *rootDir != "" {
		found, err := discoverLibraryFiles(*rootDir)
		if err != nil {
			log.Fatalf("failed to read directory: %v", err)
		}
		files = append(files, found...)
	}
	if len(files) == 0 {
		log.Fatal("Usage: build_library [-dir <directory>] [-out <file>] [-grid 2000:2500:10] [-store] [files...]")
	}

	log.Printf("Found %d library files\n", len(files))

	var entries []hsi.LibraryEntry
	if *appendExisting {
		if existing, err := hsi.LoadReferenceLibrary(*outputFile); err == nil {
			log.Printf("Merging into %d existing entries from %s\n", len(existing), *outputFile)
			entries = existing
		} else if !errors.Is(err, fs.ErrNotExist) {
			log.Printf("WARNING: could not read %s: %v\n", *outputFile, err)
		}
	}

	stats := make(map[string]int)
	failed := 0
	bar := pb.StartNew(len(files))
	bar.SetWriter(os.Stderr)
	for _, path := range files {
		loaded, err := hsi.LoadReferenceLibrary(path)
		bar.Increment()
		if err != nil {
			log.Printf("  ERROR processing %s: %v\n", path, err)
			failed++
			continue
		}
		for i := range loaded {
			if loaded[i].Category == "" {
				loaded[i].Category = *category
			}
			if loaded[i].ID == "" {
				loaded[i].ID = utils.NewRunID()
			}
			stats[loaded[i].Label]++
		}
		entries = append(entries, loaded...)
	}
	bar.Finish()

	if len(entries) == 0 {
		log.Fatalf("no reference spectra were loaded")
	}

	if *grid != "" {
		wavelengths, err := parseGrid(*grid)
		if err != nil {
			log.Fatalf("invalid -grid: %v", err)
		}
		entries, err = hsi.AlignLibrary(entries, wavelengths)
		if err != nil {
			log.Fatalf("failed to resample library: %v", err)
		}
		log.Printf("Resampled %d entries onto %d bands (%g-%g nm)\n",
			len(entries), len(wavelengths), wavelengths[0], wavelengths[len(wavelengths)-1])
	}

	if dir := filepath.Dir(*outputFile); dir != "." {
		if err := utils.CreateFolder(dir); err != nil {
			log.Fatalf("failed to create output directory: %v", err)
		}
	}
	if err := hsi.SaveLibrary(*outputFile, entries); err != nil {
		log.Fatalf("failed to save library: %v", err)
	}

	if *store {
		client, err := db.NewDBClient()
		if err != nil {
			log.Fatalf("failed to open database: %v", err)
		}
		defer client.Close()
		if err := client.StoreLibraryEntries(entries); err != nil {
			log.Fatalf("failed to store library: %v", err)
		}
		log.Printf("Stored %d entries in the database\n", len(entries))
	}

	log.Println()
	log.Printf("✓ Wrote %d reference spectra to %s (%d files failed)\n", len(entries), *outputFile, failed)
	labels := make([]string, 0, len(stats))
	for label := range stats {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	log.Println("\nLabels imported:")
	for _, label := range labels {
		log.Printf("  %-25s: %d spectra\n", label, stats[label])
	}
}

func discoverLibraryFiles(rootDir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(rootDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != rootDir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".json", ".csv", ".txt":
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

// parseGrid reads "start:stop:step" into an inclusive wavelength grid.
func parseGrid(spec string) ([]float64, error) {
	parts := strings.Split(spec, ":")
	if len(parts) != 3 {
		return nil, fmt.Errorf("want start:stop:step, got %q", spec)
	}
	var nums [3]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		nums[i] = v
	}
	start, stop, step := nums[0], nums[1], nums[2]
	if step <= 0 || stop < start {
		return nil, fmt.Errorf("empty grid %q", spec)
	}
	n := int((stop-start)/step+1e-9) + 1
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out, nil
}
