package policy

import (
	"reflect"
	"strconv"
	"strings"
	"time"
)

var validOperators = map[string]bool{
	"<": true, ">": true, "<=": true, ">=": true,
	"==": true, "!=": true, "in": true, "contains": true,
}

// ParseWindow parses Nm, Nh or Nd. Anything else is one hour.
func ParseWindow(window string) time.Duration {
	if len(window) < 2 {
		return time.Hour
	}
	n, err := strconv.Atoi(window[:len(window)-1])
	if err != nil || n <= 0 {
		return time.Hour
	}
	switch window[len(window)-1] {
	case 'm':
		return time.Duration(n) * time.Minute
	case 'h':
		return time.Duration(n) * time.Hour
	case 'd':
		return time.Duration(n) * 24 * time.Hour
	}
	return time.Hour
}

// WindowMean averages the points newer than now-window
func WindowMean(points []Point, window time.Duration, now time.Time) (float64, int) {
	cutoff := now.Add(-window)
	sum, n := 0.0, 0
	for _, p := range points {
		if p.TS.After(cutoff) {
			sum += p.Value
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), n
}

// Scalar reduces a metric value to a number. Series are averaged over the
// last hour.
func Scalar(v interface{}, now time.Time) (float64, bool) {
	if points, ok := v.([]Point); ok {
		mean, n := WindowMean(points, time.Hour, now)
		return mean, n > 0
	}
	return toFloat(v)
}

// Evaluate reports whether the condition holds for metrics. A missing
// metric, or a series with fewer than MinSamples points in the window,
// does not hold.
func (c Condition) Evaluate(metrics Metrics, now time.Time) bool {
	value, ok := metrics[c.Metric]
	if !ok {
		return false
	}

	if points, isSeries := value.([]Point); isSeries {
		mean, n := WindowMean(points, ParseWindow(c.TimeWindow), now)
		minSamples := c.MinSamples
		if minSamples == 0 {
			minSamples = DefaultMinSamples
		}
		if n < minSamples {
			return false
		}
		value = mean
	}

	return applyOperator(value, c.Operator, c.Threshold)
}

// CanExecute applies the cooldown and the per-day execution limit.
// The daily count resets when the UTC day changes.
func (r *Rule) CanExecute(now time.Time) bool {
	if r.LastExecuted != nil && now.Sub(*r.LastExecuted) < time.Duration(r.CooldownMinutes)*time.Minute {
		return false
	}
	if r.countDay != dayKey(now) {
		return true
	}
	return r.ExecutionCountToday < r.MaxExecutionsPerDay
}

// ShouldExecute requires CanExecute and every condition to hold
func (r *Rule) ShouldExecute(metrics Metrics, now time.Time) bool {
	if !r.CanExecute(now) {
		return false
	}
	for _, c := range r.Conditions {
		if !c.Evaluate(metrics, now) {
			return false
		}
	}
	return true
}

// Confident reports whether the success rate meets the confidence
// threshold. A rule below it is retried once a full cooldown has passed
// since its last failure.
func (r *Rule) Confident(now time.Time) bool {
	if r.SuccessRate() >= r.ConfidenceThreshold {
		return true
	}
	return r.LastFailed != nil && now.Sub(*r.LastFailed) >= time.Duration(r.CooldownMinutes)*time.Minute
}

// MarkExecuted updates the execution bookkeeping. Only successful runs
// count toward the cooldown and the daily limit.
func (r *Rule) MarkExecuted(now time.Time, success bool) {
	day := dayKey(now)
	if r.countDay != day {
		r.countDay = day
		r.ExecutionCountToday = 0
	}

	outcome := 0.0
	if success {
		outcome = 1.0
	}
	r.Confidence = (1-SuccessAlpha)*r.SuccessRate() + SuccessAlpha*outcome
	r.Executions++

	t := now
	if !success {
		r.LastFailed = &t
		return
	}
	r.Successes++
	r.ExecutionCountToday++
	r.LastExecuted = &t
}

// ScaleThresholds multiplies every numeric threshold by factor
func (r *Rule) ScaleThresholds(factor float64) {
	for i := range r.Conditions {
		if f, ok := toFloat(r.Conditions[i].Threshold); ok {
			r.Conditions[i].Threshold = f * factor
		}
	}
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func applyOperator(value interface{}, op string, threshold interface{}) bool {
	switch op {
	case "<", ">", "<=", ">=":
		a, okA := toFloat(value)
		b, okB := toFloat(threshold)
		if okA && okB {
			switch op {
			case "<":
				return a < b
			case ">":
				return a > b
			case "<=":
				return a <= b
			default:
				return a >= b
			}
		}
		sa, okA := value.(string)
		sb, okB := threshold.(string)
		if okA && okB {
			switch op {
			case "<":
				return sa < sb
			case ">":
				return sa > sb
			case "<=":
				return sa <= sb
			default:
				return sa >= sb
			}
		}
		return false
	case "==":
		return equal(value, threshold)
	case "!=":
		return !equal(value, threshold)
	case "in":
		return contains(threshold, value)
	case "contains":
		return contains(value, threshold)
	}
	return false
}

func equal(a, b interface{}) bool {
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if okA && okB {
		return fa == fb
	}
	return reflect.DeepEqual(a, b)
}

// contains reports whether needle is an element of haystack, or a
// substring when haystack is a string
func contains(haystack, needle interface{}) bool {
	if s, ok := haystack.(string); ok {
		n, ok := needle.(string)
		return ok && strings.Contains(s, n)
	}
	rv := reflect.ValueOf(haystack)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return false
	}
	for i := 0; i < rv.Len(); i++ {
		if equal(rv.Index(i).Interface(), needle) {
			return true
		}
	}
	return false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
