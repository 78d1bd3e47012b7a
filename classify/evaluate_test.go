package classify

import (
	"testing"

	"hsi-cores/hsi"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStratifiedSplitKeepsClassBalance(t *testing.T) {
	t.Parallel()

	var X [][]float64
	var y []int
	for i := 0; i < 10; i++ {
		X = append(X, []float64{float64(i)})
		y = append(y, 0)
	}
	for i := 0; i < 4; i++ {
		X = append(X, []float64{100 + float64(i)})
		y = append(y, 1)
	}
	X = append(X, []float64{999})
	y = append(y, 2)

	XTrain, yTrain, XTest, yTest, err := StratifiedSplit(X, y, 0.25, 7)
	require.NoError(t, err)
	assert.Len(t, XTrain, len(yTrain))
	assert.Len(t, XTest, len(yTest))
	assert.Equal(t, len(X), len(XTrain)+len(XTest))

	counts := map[int]int{}
	for _, id := range yTest {
		counts[id]++
	}
	assert.Equal(t, 3, counts[0])
	assert.Equal(t, 1, counts[1])
	assert.Zero(t, counts[2], "singleton classes stay in training")

	again, _, _, _, err := StratifiedSplit(X, y, 0.25, 7)
	require.NoError(t, err)
	assert.Equal(t, XTrain, again, "same seed, same split")
}

func TestStratifiedSplitValidates(t *testing.T) {
	t.Parallel()

	_, _, _, _, err := StratifiedSplit([][]float64{{1}}, []int{0, 1}, 0.2, 1)
	require.ErrorIs(t, err, hsi.ErrShapeMismatch)

	_, _, _, _, err = StratifiedSplit([][]float64{{1}}, []int{0}, 1.5, 1)
	require.Error(t, err)
}

func TestConfusionMatrix(t *testing.T) {
	t.Parallel()

	matrix, err := ConfusionMatrix([]int{0, 0, 1, 2, 5}, []int{0, 1, 1, 2, 0}, 3)
	require.NoError(t, err)
	assert.Equal(t, [][]int{{1, 1, 0}, {0, 1, 0}, {0, 0, 1}}, matrix)

	_, err = ConfusionMatrix([]int{0}, []int{0, 1}, 2)
	require.ErrorIs(t, err, hsi.ErrShapeMismatch)
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	report, err := Evaluate([]string{"a", "a", "b", "b"}, []string{"a", "b", "b", "b"})
	require.NoError(t, err)

	assert.Equal(t, 4, report.Samples)
	assert.Equal(t, []string{"a", "b"}, report.Labels)
	assert.Equal(t, [][]int{{1, 1}, {0, 2}}, report.Matrix)
	assert.InDelta(t, 0.75, report.Accuracy, 1e-12)
	assert.InDelta(t, 0.5, report.Kappa, 1e-12)

	a, b := report.Classes[0], report.Classes[1]
	assert.InDelta(t, 1.0, a.Precision, 1e-12)
	assert.InDelta(t, 0.5, a.Recall, 1e-12)
	assert.InDelta(t, 2.0/3.0, a.F1, 1e-12)
	assert.InDelta(t, 2.0/3.0, b.Precision, 1e-12)
	assert.InDelta(t, 1.0, b.Recall, 1e-12)
	assert.InDelta(t, 0.8, b.F1, 1e-12)
	assert.InDelta(t, (2.0/3.0+0.8)/2, report.MacroF1, 1e-12)
}

func TestEvaluatePerfectSingleClass(t *testing.T) {
	t.Parallel()

	report, err := Evaluate([]string{"a", "a"}, []string{"a", "a"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, report.Accuracy)
	assert.Equal(t, 1.0, report.Kappa)
}

func TestEvaluateModelOnHoldOut(t *testing.T) {
	t.Parallel()

	wl := swirGrid()
	var X [][]float64
	var y []int
	for i := 0; i < 8; i++ {
		depth := 0.2 + 0.03*float64(i)
		X = append(X, dipSpectrum(wl, 2200, depth))
		y = append(y, 0)
		X = append(X, dipSpectrum(wl, 2330, depth))
		y = append(y, 1)
	}
	labels := []string{"kaolinite", "chlorite"}

	XTrain, yTrain, XTest, yTest, err := StratifiedSplit(X, y, 0.25, 42)
	require.NoError(t, err)

	opts := DefaultTrainOptions()
	opts.K = 3
	model, err := Train(XTrain, yTrain, labels, opts)
	require.NoError(t, err)

	report, err := EvaluateModel(model, XTest, yTest, labels)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Samples)
	assert.Equal(t, 1.0, report.Accuracy)
}
