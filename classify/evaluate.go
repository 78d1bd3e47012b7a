package classify

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"hsi-cores/hsi"
)

// StratifiedSplit shuffles each class independently and moves testFraction
// of it into the test set. Every class with more than one sample keeps at
// least one sample on each side.
func StratifiedSplit(X [][]float64, y []int, testFraction float64, seed int64) (XTrain [][]float64, yTrain []int, XTest [][]float64, yTest []int, err error) {
	if len(X) != len(y) {
		return nil, nil, nil, nil, fmt.Errorf("%w: %d rows, %d labels", hsi.ErrShapeMismatch, len(X), len(y))
	}
	if len(X) == 0 {
		return nil, nil, nil, nil, ErrEmptyTrainingSet
	}
	if testFraction <= 0 || testFraction >= 1 {
		return nil, nil, nil, nil, fmt.Errorf("test fraction %g outside (0, 1)", testFraction)
	}

	byClass := map[int][]int{}
	for i, id := range y {
		byClass[id] = append(byClass[id], i)
	}
	ids := make([]int, 0, len(byClass))
	for id := range byClass {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	rng := rand.New(rand.NewSource(seed))
	for _, id := range ids {
		rows := byClass[id]
		rng.Shuffle(len(rows), func(a, b int) { rows[a], rows[b] = rows[b], rows[a] })

		nTest := int(float64(len(rows))*testFraction + 0.5)
		if len(rows) > 1 {
			nTest = max(1, min(nTest, len(rows)-1))
		} else {
			nTest = 0
		}
		for i, r := range rows {
			if i < nTest {
				XTest = append(XTest, X[r])
				yTest = append(yTest, y[r])
				continue
			}
			XTrain = append(XTrain, X[r])
			yTrain = append(yTrain, y[r])
		}
	}
	return XTrain, yTrain, XTest, yTest, nil
}

// ConfusionMatrix counts yTrue (rows) against yPred (columns) for classes
// 0..n-1. Ids outside that range are ignored.
func ConfusionMatrix(yTrue, yPred []int, n int) ([][]int, error) {
	if len(yTrue) != len(yPred) {
		return nil, fmt.Errorf("%w: %d true vs %d predicted", hsi.ErrShapeMismatch, len(yTrue), len(yPred))
	}
	if n <= 0 {
		return nil, errors.New("confusion matrix needs at least one class")
	}
	matrix := make([][]int, n)
	for i := range matrix {
		matrix[i] = make([]int, n)
	}
	for i, t := range yTrue {
		p := yPred[i]
		if t < 0 || t >= n || p < 0 || p >= n {
			continue
		}
		matrix[t][p]++
	}
	return matrix, nil
}

// ClassReport holds the per-class scores of an evaluation.
type ClassReport struct {
	Label     string  `json:"label"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// EvaluationReport summarises predicted against true labels.
type EvaluationReport struct {
	Samples  int           `json:"samples"`
	Accuracy float64       `json:"accuracy"`
	Kappa    float64       `json:"kappa"`
	MacroF1  float64       `json:"macroF1"`
	Labels   []string      `json:"labels"`
	Matrix   [][]int       `json:"confusionMatrix"`
	Classes  []ClassReport `json:"classes"`
}

// Evaluate scores predicted labels against the truth. The label set is the
// sorted union of both slices.
func Evaluate(yTrue, yPred []string) (*EvaluationReport, error) {
	if len(yTrue) != len(yPred) {
		return nil, fmt.Errorf("%w: %d true vs %d predicted", hsi.ErrShapeMismatch, len(yTrue), len(yPred))
	}
	if len(yTrue) == 0 {
		return nil, ErrEmptyTrainingSet
	}

	seen := map[string]bool{}
	var labels []string
	for _, set := range [][]string{yTrue, yPred} {
		for _, l := range set {
			if !seen[l] {
				seen[l] = true
				labels = append(labels, l)
			}
		}
	}
	sort.Strings(labels)
	index := make(map[string]int, len(labels))
	for i, l := range labels {
		index[l] = i
	}

	trueIDs := make([]int, len(yTrue))
	predIDs := make([]int, len(yPred))
	for i := range yTrue {
		trueIDs[i] = index[yTrue[i]]
		predIDs[i] = index[yPred[i]]
	}
	matrix, err := ConfusionMatrix(trueIDs, predIDs, len(labels))
	if err != nil {
		return nil, err
	}

	n := float64(len(yTrue))
	report := &EvaluationReport{
		Samples: len(yTrue),
		Labels:  labels,
		Matrix:  matrix,
		Classes: make([]ClassReport, len(labels)),
	}

	var correct, expected, f1Sum float64
	for i, label := range labels {
		var rowSum, colSum int
		for j := range labels {
			rowSum += matrix[i][j]
			colSum += matrix[j][i]
		}
		tp := float64(matrix[i][i])
		correct += tp
		expected += float64(rowSum) * float64(colSum) / (n * n)

		cr := ClassReport{Label: label, Support: rowSum}
		if colSum > 0 {
			cr.Precision = tp / float64(colSum)
		}
		if rowSum > 0 {
			cr.Recall = tp / float64(rowSum)
		}
		if cr.Precision+cr.Recall > 0 {
			cr.F1 = 2 * cr.Precision * cr.Recall / (cr.Precision + cr.Recall)
		}
		f1Sum += cr.F1
		report.Classes[i] = cr
	}

	report.Accuracy = correct / n
	report.MacroF1 = f1Sum / float64(len(labels))
	if expected < 1 {
		report.Kappa = (report.Accuracy - expected) / (1 - expected)
	} else {
		report.Kappa = 1
	}
	return report, nil
}

// EvaluateModel predicts every row of X and scores the top labels against
// y (named through labels, see LabelName). Rows without a prediction count
// as "unclassified".
func EvaluateModel(m *Model, X [][]float64, y []int, labels []string) (*EvaluationReport, error) {
	if len(X) != len(y) {
		return nil, fmt.Errorf("%w: %d rows, %d labels", hsi.ErrShapeMismatch, len(X), len(y))
	}
	yTrue := make([]string, len(y))
	yPred := make([]string, len(y))
	for i, row := range X {
		predictions, err := m.Predict(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		yTrue[i] = LabelName(y[i], labels)
		yPred[i] = CategoryUnclassified
		if len(predictions) > 0 {
			yPred[i] = predictions[0].Label
		}
	}
	return Evaluate(yTrue, yPred)
}
