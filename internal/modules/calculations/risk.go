// Package calculations provides the return and covariance math behind
// the optimizer inputs: daily return series, mean expected returns and
// the shrunk covariance matrix served to the external optimizer.
package calculations

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// CorrelationPair flags two symbols whose correlation exceeds a threshold.
type CorrelationPair struct {
	Symbol1     string  `json:"symbol1"`
	Symbol2     string  `json:"symbol2"`
	Correlation float64 `json:"correlation"`
}

// DailyReturns calculates simple daily returns from a price series.
// Non-positive or NaN prices produce a zero return for that day rather
// than propagating garbage.
func DailyReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return []float64{}
	}

	returns := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] > 0 && !math.IsNaN(prices[i]) && !math.IsNaN(prices[i-1]) {
			returns[i-1] = (prices[i] - prices[i-1]) / prices[i-1]
		}
	}
	return returns
}

// FillMissing forward-fills then back-fills NaN gaps in a price series.
// A series that is entirely NaN comes back unchanged.
func FillMissing(prices []float64) []float64 {
	filled := make([]float64, len(prices))
	copy(filled, prices)

	var lastValid float64
	hasLastValid := false
	for i := 0; i < len(filled); i++ {
		if math.IsNaN(filled[i]) {
			if hasLastValid {
				filled[i] = lastValid
			}
		} else {
			lastValid = filled[i]
			hasLastValid = true
		}
	}

	var nextValid float64
	hasNextValid := false
	for i := len(filled) - 1; i >= 0; i-- {
		if math.IsNaN(filled[i]) {
			if hasNextValid {
				filled[i] = nextValid
			}
		} else {
			nextValid = filled[i]
			hasNextValid = true
		}
	}

	return filled
}

// ExpectedReturns calculates the mean daily return per symbol, in
// symbol order. All series must have the same length.
func ExpectedReturns(returns map[string][]float64, symbols []string) ([]float64, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("no symbols provided")
	}

	expected := make([]float64, len(symbols))
	var returnLength int
	for i, symbol := range symbols {
		series, ok := returns[symbol]
		if !ok {
			return nil, fmt.Errorf("no return series for %s", symbol)
		}
		if i == 0 {
			returnLength = len(series)
		} else if len(series) != returnLength {
			return nil, fmt.Errorf("return series length mismatch for %s: %d != %d",
				symbol, len(series), returnLength)
		}
		if len(series) == 0 {
			return nil, fmt.Errorf("empty return series for %s", symbol)
		}
		expected[i] = stat.Mean(series, nil)
	}

	return expected, nil
}

// SampleCovariance calculates the sample covariance matrix of the given
// symbols' return series. Element (i,j) is the covariance between
// symbols[i] and symbols[j]. All series must have the same length.
func SampleCovariance(returns map[string][]float64, symbols []string) ([][]float64, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("no symbols provided")
	}

	var returnLength int
	for _, symbol := range symbols {
		ret, ok := returns[symbol]
		if !ok {
			return nil, fmt.Errorf("missing returns for symbol %s", symbol)
		}
		if returnLength == 0 {
			returnLength = len(ret)
		}
		if len(ret) != returnLength {
			return nil, fmt.Errorf("inconsistent return lengths: expected %d, got %d for %s", returnLength, len(ret), symbol)
		}
	}

	if returnLength < 2 {
		return nil, fmt.Errorf("insufficient data: need at least 2 observations, got %d", returnLength)
	}

	n := len(symbols)
	covMatrix := make([][]float64, n)
	for i := range covMatrix {
		covMatrix[i] = make([]float64, n)
	}

	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			cov := stat.Covariance(returns[symbols[i]], returns[symbols[j]], nil)
			covMatrix[i][j] = cov
			if i != j {
				covMatrix[j][i] = cov
			}
		}
	}

	return covMatrix, nil
}

// Shrink applies simplified Ledoit-Wolf shrinkage toward the constant
// correlation target, improving conditioning for short histories.
func Shrink(sampleCov [][]float64) ([][]float64, error) {
	n := len(sampleCov)
	if n == 0 {
		return nil, fmt.Errorf("empty covariance matrix")
	}

	var avgVar, avgCov float64
	for i := 0; i < n; i++ {
		avgVar += sampleCov[i][i]
		for j := 0; j < n; j++ {
			if i != j {
				avgCov += sampleCov[i][j]
			}
		}
	}
	avgVar /= float64(n)
	if n > 1 {
		avgCov /= float64(n * (n - 1))
	}

	target := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				target.Set(i, j, avgVar)
			} else {
				target.Set(i, j, avgCov)
			}
		}
	}

	shrinkage := 0.2
	if n > 2 && avgVar > 0 {
		var sumSqDiff float64
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				diff := sampleCov[i][j] - target.At(i, j)
				sumSqDiff += diff * diff
			}
		}
		meanSqDiff := sumSqDiff / float64(n*n)

		var sumSq, mean float64
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				mean += sampleCov[i][j]
				sumSq += sampleCov[i][j] * sampleCov[i][j]
			}
		}
		count := float64(n * n)
		mean /= count
		varSample := sumSq/count - mean*mean

		if varSample > 0 && meanSqDiff > 0 {
			shrinkage = math.Min(0.5, math.Max(0.0, varSample/(varSample+meanSqDiff)))
		}
	}

	shrunk := make([][]float64, n)
	for i := 0; i < n; i++ {
		shrunk[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			shrunk[i][j] = (1-shrinkage)*sampleCov[i][j] + shrinkage*target.At(i, j)
		}
	}

	return shrunk, nil
}

// HighCorrelations extracts symbol pairs whose absolute correlation is
// at or above the threshold.
func HighCorrelations(covMatrix [][]float64, symbols []string, threshold float64) []CorrelationPair {
	if len(covMatrix) == 0 || len(symbols) == 0 {
		return []CorrelationPair{}
	}

	pairs := make([]CorrelationPair, 0)
	for i := 0; i < len(covMatrix); i++ {
		for j := i + 1; j < len(covMatrix); j++ {
			vi, vj := covMatrix[i][i], covMatrix[j][j]
			if vi <= 0 || vj <= 0 {
				continue
			}
			correlation := covMatrix[i][j] / math.Sqrt(vi*vj)
			if math.Abs(correlation) >= threshold {
				pairs = append(pairs, CorrelationPair{
					Symbol1:     symbols[i],
					Symbol2:     symbols[j],
					Correlation: correlation,
				})
			}
		}
	}

	return pairs
}

// PortfolioVariance computes w' Σ w for a weight vector over the
// covariance matrix. Used to score the risk a sequence's weight deltas
// would add.
func PortfolioVariance(covMatrix [][]float64, weights []float64) (float64, error) {
	n := len(covMatrix)
	if n == 0 || len(weights) != n {
		return 0, fmt.Errorf("dimension mismatch: matrix %d, weights %d", n, len(weights))
	}

	flat := make([]float64, 0, n*n)
	for i := 0; i < n; i++ {
		if len(covMatrix[i]) != n {
			return 0, fmt.Errorf("covariance matrix is not square")
		}
		flat = append(flat, covMatrix[i]...)
	}

	sigma := mat.NewSymDense(n, flat)
	w := mat.NewVecDense(n, weights)

	var sw mat.VecDense
	sw.MulVec(sigma, w)
	return mat.Dot(w, &sw), nil
}
