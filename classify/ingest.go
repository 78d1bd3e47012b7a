package classify

import (
	"errors"
	"fmt"
	"strings"

	"hsi-cores/hsi"
	"hsi-cores/spectral"
	"hsi-cores/utils"
)

// BuildPrototypeFromSpectrum extracts features from a labelled spectrum and
// emits a Prototype. The features are left raw; the classifier handles
// scaling and normalisation.
func BuildPrototypeFromSpectrum(spec hsi.Spectrum, label, category, description string, metadata map[string]string, opts spectral.FeatureOptions) (Prototype, error) {
	if label == "" {
		return Prototype{}, errors.New("label is required")
	}
	if category == "" {
		category = "mineral"
	}

	features, err := spectral.ExtractFeatureVector(spec, opts)
	if err != nil {
		return Prototype{}, fmt.Errorf("failed to extract features: %w", err)
	}

	metaCopy := make(map[string]string, len(metadata))
	for key, value := range metadata {
		metaCopy[key] = value
	}

	return Prototype{
		ID:          buildPrototypeID(label),
		Label:       label,
		Category:    category,
		Description: description,
		Source:      spec.Source,
		Features:    features,
		Metadata:    metaCopy,
	}, nil
}

// BuildPrototypesFromLibrary aligns the entries onto the classifier grid and
// converts each into a prototype.
func BuildPrototypesFromLibrary(c *Classifier, entries []hsi.LibraryEntry) ([]Prototype, error) {
	if len(entries) == 0 {
		return nil, errors.New("no library entries")
	}
	if wl := c.Wavelengths(); len(wl) > 0 {
		aligned, err := hsi.AlignLibrary(entries, wl)
		if err != nil {
			return nil, err
		}
		entries = aligned
	}

	prototypes := make([]Prototype, 0, len(entries))
	for _, entry := range entries {
		proto, err := BuildPrototypeFromSpectrum(entry.Spectrum(), entry.Label, entry.Category,
			entry.Metadata["description"], entry.Metadata, c.FeatureOptions())
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", entry.Label, err)
		}
		if entry.ID != "" {
			proto.ID = entry.ID
		}
		prototypes = append(prototypes, proto)
	}
	return prototypes, nil
}

func buildPrototypeID(label string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r + 32
		case r >= '0' && r <= '9':
			return r
		case r == '_' || r == '-':
			return r
		case r == ' ':
			return '_'
		default:
			return -1
		}
	}, label)

	if safe == "" {
		safe = "prototype"
	}

	return fmt.Sprintf("proto_%s_%08x", safe, utils.GenerateUniqueID())
}
