package pipeline

import (
	"path/filepath"
	"testing"

	"hsi-cores/classify"
	"hsi-cores/hsi"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeLabels writes a label image matching writeCoreScan: columns 0-1 are
// class 1, column 2 class 2, pixel (0,0) unlabelled.
func writeLabels(t *testing.T, dir string, rows, cols int) string {
	t.Helper()
	img, err := hsi.NewCube(rows, cols, 1)
	require.NoError(t, err)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			v := 1.0
			if c == 2 {
				v = 2
			}
			if r == 0 && c == 0 {
				v = 0
			}
			img.Set(r, c, 0, v)
		}
	}
	base := filepath.Join(dir, "core_07_labels")
	require.NoError(t, hsi.WriteENVI(base, img))
	return base + ".hdr"
}

func TestParseClassNames(t *testing.T) {
	names, err := ParseClassNames("1=kaolinite, 2 = chlorite")
	require.NoError(t, err)
	assert.Equal(t, []string{"", "kaolinite", "chlorite"}, names)
	assert.Equal(t, "class_0", classify.LabelName(0, names))

	names, err = ParseClassNames("")
	require.NoError(t, err)
	assert.Nil(t, names)

	for _, bad := range []string{"kaolinite", "x=kaolinite", "1=", "1=a,1=b", "-1=a"} {
		_, err := ParseClassNames(bad)
		assert.ErrorIs(t, err, ErrInvalidClassNames, bad)
	}
}

func TestTrainFromLabelledScan(t *testing.T) {
	dir := t.TempDir()
	scan, err := LoadLabelled(writeCoreScan(t, dir), writeLabels(t, dir, 4, 3),
		hsi.LoadOptions{}, hsi.DefaultPreprocessOptions())
	require.NoError(t, err)
	assert.Equal(t, hsi.NormalizeMinMax, scan.Normalize)

	set, err := scan.TrainingSet(0, true)
	require.NoError(t, err)
	require.Len(t, set.Rows, 11)
	assert.Equal(t, [][2]int{{1, 7}, {2, 4}}, set.ClassCounts())
	assert.Len(t, set.Wavelengths, 41)

	names := []string{"", "kaolinite", "chlorite"}
	opts := classify.DefaultTrainOptions()
	opts.Metric = classify.MetricSAM
	opts.K = 3
	calls := 0
	model, err := set.Train(names, opts, func() { calls++ })
	require.NoError(t, err)
	assert.Equal(t, 11, calls)
	assert.Equal(t, []string{"kaolinite", "chlorite"}, model.Labels)
	assert.Equal(t, hsi.NormalizeMinMax, model.Metadata["normalize"])

	report, err := set.Evaluate(model, names)
	require.NoError(t, err)
	assert.Equal(t, 11, report.Samples)
	assert.InDelta(t, 1.0, report.Accuracy, 1e-12)

	clean, err := scan.TrainingSet(0, false)
	require.NoError(t, err)
	reflectance, err := clean.Train(names, opts, nil)
	require.NoError(t, err)
	_, hasNorm := reflectance.Metadata["normalize"]
	assert.False(t, hasNorm)
}

func TestTrainingSetSplit(t *testing.T) {
	dir := t.TempDir()
	scan, err := LoadLabelled(writeCoreScan(t, dir), writeLabels(t, dir, 4, 3),
		hsi.LoadOptions{}, hsi.DefaultPreprocessOptions())
	require.NoError(t, err)
	set, err := scan.TrainingSet(0, false)
	require.NoError(t, err)

	train, test, err := set.Split(0.5, 7)
	require.NoError(t, err)
	assert.Equal(t, 11, len(train.Rows)+len(test.Rows))
	assert.Len(t, test.ClassCounts(), 2, "every class is represented in the test part")
	assert.Len(t, train.ClassCounts(), 2)
	assert.Equal(t, set.Wavelengths, test.Wavelengths)
}

func TestLoadLabelledRejectsFootprintMismatch(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadLabelled(writeCoreScan(t, dir), writeLabels(t, dir, 2, 3),
		hsi.LoadOptions{}, hsi.DefaultPreprocessOptions())
	require.ErrorIs(t, err, hsi.ErrShapeMismatch)
}
