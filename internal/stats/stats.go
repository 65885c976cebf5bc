// Package stats holds the small numeric toolkit used by the experiment and
// federation engines: descriptive statistics, Welch's t-test and a
// stratified bootstrap for uplift confidence intervals.
package stats

import (
	"errors"
	"math"
	"math/rand"
	"sort"
)

// ErrEmptySample is returned when a computation needs at least one value.
var ErrEmptySample = errors.New("stats: empty sample")

// Mean returns the arithmetic mean, 0 for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// SampleVariance returns the unbiased (n-1) variance, 0 when n <= 1.
func SampleVariance(xs []float64) float64 {
	n := len(xs)
	if n <= 1 {
		return 0
	}
	m := Mean(xs)
	ss := 0.0
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return ss / float64(n-1)
}

// PopulationVariance returns the population (n) variance, 0 for an empty slice.
func PopulationVariance(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := Mean(xs)
	ss := 0.0
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return ss / float64(len(xs))
}

// PopulationStdDev is the square root of PopulationVariance.
func PopulationStdDev(xs []float64) float64 {
	return math.Sqrt(PopulationVariance(xs))
}

// Median returns the middle value, averaging the two central values for even n.
func Median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// Sum adds the values.
func Sum(xs []float64) float64 {
	total := 0.0
	for _, x := range xs {
		total += x
	}
	return total
}

// WelchResult is the outcome of WelchTTest. No p-value is computed.
type WelchResult struct {
	T  float64 `json:"t_stat"`
	DF float64 `json:"df"`
}

// WelchTTest compares the means of a and b without assuming equal variance.
// t is positive when a's mean is larger.
func WelchTTest(a, b []float64) WelchResult {
	na, nb := float64(len(a)), float64(len(b))
	ma, mb := Mean(a), Mean(b)
	va, vb := SampleVariance(a), SampleVariance(b)

	denom := 1.0
	if na > 0 && nb > 0 {
		denom = math.Sqrt(va/na + vb/nb)
	}

	t := 0.0
	if denom != 0 {
		t = (ma - mb) / denom
	}

	var sa, sb float64
	if na > 0 {
		sa = va / na
	}
	if nb > 0 {
		sb = vb / nb
	}
	dfNum := (sa + sb) * (sa + sb)
	dfDen := sa*sa/math.Max(na-1, 1) + sb*sb/math.Max(nb-1, 1)

	var df float64
	if dfDen != 0 {
		df = dfNum / dfDen
	} else {
		df = math.Max(math.Max(na-1, nb-1), 1)
	}

	return WelchResult{T: t, DF: df}
}

// BootstrapResult is the distribution summary of a bootstrap run.
type BootstrapResult struct {
	UpliftMean float64    `json:"uplift_mean"`
	UpliftCI95 [2]float64 `json:"uplift_ci95"`
	Iterations int        `json:"iterations"`
	Strata     int        `json:"strata"`
}

// DefaultBootstrapSeed keeps bootstrap output reproducible across runs.
const DefaultBootstrapSeed int64 = 1337

// StratifiedBootstrapUplift estimates the distribution of mean(b) - mean(a)
// by resampling with replacement inside each stratum. a, b and strata are
// aligned by index; extra elements in the longer slices are ignored.
func StratifiedBootstrapUplift(a, b []float64, strata []int, iters int, seed int64) (BootstrapResult, error) {
	n := min(len(a), len(b), len(strata))
	if n == 0 {
		return BootstrapResult{}, ErrEmptySample
	}
	if iters <= 0 {
		iters = 1000
	}

	order := make([]int, 0)
	byA := make(map[int][]float64)
	byB := make(map[int][]float64)
	for i := 0; i < n; i++ {
		s := strata[i]
		if _, seen := byA[s]; !seen {
			order = append(order, s)
		}
		byA[s] = append(byA[s], a[i])
		byB[s] = append(byB[s], b[i])
	}

	rng := rand.New(rand.NewSource(seed))
	lifts := make([]float64, iters)
	for it := 0; it < iters; it++ {
		var sumA, sumB float64
		var cntA, cntB int
		for _, s := range order {
			xs := byA[s]
			for range xs {
				sumA += xs[rng.Intn(len(xs))]
				cntA++
			}
			ys := byB[s]
			for range ys {
				sumB += ys[rng.Intn(len(ys))]
				cntB++
			}
		}
		lifts[it] = sumB/float64(cntB) - sumA/float64(cntA)
	}

	sort.Float64s(lifts)
	lo := lifts[int(0.025*float64(iters))]
	hi := lifts[min(int(0.975*float64(iters)), iters-1)]

	return BootstrapResult{
		UpliftMean: Mean(lifts),
		UpliftCI95: [2]float64{lo, hi},
		Iterations: iters,
		Strata:     len(order),
	}, nil
}
