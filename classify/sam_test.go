package classify

import (
	"testing"

	"hsi-cores/hsi"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLibrary() []hsi.LibraryEntry {
	wl := swirGrid()
	return []hsi.LibraryEntry{
		{ID: "kao-1", Label: "kaolinite", Category: "clay", Wavelengths: wl, Values: dipSpectrum(wl, 2200, 0.4), Source: "usgs"},
		{ID: "kao-2", Label: "Kaolinite", Category: "clay", Wavelengths: wl, Values: dipSpectrum(wl, 2200, 0.2), Source: "field"},
		{ID: "chl-1", Label: "chlorite", Category: "phyllosilicate", Wavelengths: wl, Values: dipSpectrum(wl, 2330, 0.4), Source: "usgs"},
	}
}

func TestSpectralAngleMapperMatchesWithinMaxAngle(t *testing.T) {
	t.Parallel()

	sam, err := NewSpectralAngleMapper(testLibrary(), swirGrid(), 0.1)
	require.NoError(t, err)
	assert.Equal(t, 3, sam.ReferenceCount())

	wl := swirGrid()
	predictions, err := sam.Predict(hsi.Spectrum{Values: dipSpectrum(wl, 2200, 0.3), Wavelengths: wl})
	require.NoError(t, err)
	require.Len(t, predictions, 1, "chlorite lies outside the angle threshold")

	top := predictions[0]
	assert.Equal(t, "clay", top.Category)
	assert.Equal(t, 2, top.Support, "both kaolinite references collapse into one prediction")
	assert.Len(t, top.TopPrototypes, 2)
	assert.Greater(t, top.Confidence, 0.7)
	assert.Less(t, top.AverageDist, 0.1)
}

func TestSpectralAngleMapperExactMatch(t *testing.T) {
	t.Parallel()

	sam, err := NewSpectralAngleMapper(testLibrary(), nil, 0)
	require.NoError(t, err)

	wl := swirGrid()
	predictions, err := sam.Predict(hsi.Spectrum{Values: dipSpectrum(wl, 2330, 0.4)})
	require.NoError(t, err)
	require.NotEmpty(t, predictions)
	assert.Equal(t, "chlorite", predictions[0].Label)
	assert.InDelta(t, 1.0, predictions[0].Confidence, 1e-3)
	assert.Equal(t, "usgs", predictions[0].TopPrototypes[0].Source)
}

func TestSpectralAngleMapperRejectsEmptyLibrary(t *testing.T) {
	t.Parallel()

	_, err := NewSpectralAngleMapper(nil, nil, 0.1)
	require.Error(t, err)
}

func TestMergePredictionsKeepsHigherConfidence(t *testing.T) {
	t.Parallel()

	base := []Prediction{
		{Label: "kaolinite", Confidence: 0.6, Description: "knn"},
		{Label: "chlorite", Confidence: 0.4},
	}
	additions := []Prediction{
		{Label: "Kaolinite", Confidence: 0.9, Description: "sam"},
		{Label: "illite", Confidence: 0.5},
		{Label: "chlorite", Confidence: 0.1},
	}

	merged := MergePredictions(base, additions)
	require.Len(t, merged, 3)
	assert.Equal(t, "sam", merged[0].Description)
	assert.Equal(t, "illite", merged[1].Label)
	assert.Equal(t, 0.4, merged[2].Confidence)

	assert.Equal(t, base, MergePredictions(base, nil))
}
