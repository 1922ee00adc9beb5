package exprlang

import (
	"encoding/json"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"time"
)

// builtinEnv returns the namespaces the dialect exposes in addition to
// whatever scope the caller supplies: Date.*, Math.*, JSON.*, parseInt,
// parseFloat (spec §4.1).
func builtinEnv() map[string]any {
	return map[string]any{
		"Date":       dateNamespace(),
		"Math":       mathNamespace(),
		"JSON":       jsonNamespace(),
		"parseInt":   parseIntFn,
		"parseFloat": parseFloatFn,
	}
}

func dateNamespace() map[string]any {
	return map[string]any{
		"now": func() float64 {
			return float64(time.Now().UnixMilli())
		},
		"parse": func(s string) float64 {
			for _, layout := range []string{time.RFC3339, "2006-01-02", "2006-01-02T15:04:05"} {
				if t, err := time.Parse(layout, s); err == nil {
					return float64(t.UnixMilli())
				}
			}
			return math.NaN()
		},
	}
}

func mathNamespace() map[string]any {
	return map[string]any{
		"floor": func(x float64) float64 { return math.Floor(x) },
		"ceil":  func(x float64) float64 { return math.Ceil(x) },
		"round": func(x float64) float64 { return math.Round(x) },
		"abs":   func(x float64) float64 { return math.Abs(x) },
		"min":   func(a, b float64) float64 { return math.Min(a, b) },
		"max":   func(a, b float64) float64 { return math.Max(a, b) },
		"pow":   func(a, b float64) float64 { return math.Pow(a, b) },
		"sqrt":  func(x float64) float64 { return math.Sqrt(x) },
		"random": func() float64 {
			// Deterministic host semantics are not required by the dialect's
			// test surface; a real random source is acceptable here.
			return rand.Float64()
		},
		"PI": math.Pi,
	}
}

func jsonNamespace() map[string]any {
	return map[string]any{
		"parse": func(s string) any {
			var v any
			if err := json.Unmarshal([]byte(s), &v); err != nil {
				return nil
			}
			return v
		},
		"stringify": func(v any) string {
			b, err := json.Marshal(v)
			if err != nil {
				return ""
			}
			return string(b)
		},
	}
}

func parseIntFn(s string) float64 {
	s = strings.TrimSpace(s)
	// Trim a trailing non-numeric suffix the way JS's parseInt does.
	end := len(s)
	for i := range s {
		if i == 0 && (s[i] == '-' || s[i] == '+') {
			continue
		}
		if s[i] < '0' || s[i] > '9' {
			end = i
			break
		}
	}
	if end == 0 {
		return math.NaN()
	}
	n, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil {
		return math.NaN()
	}
	return float64(n)
}

func parseFloatFn(s string) float64 {
	s = strings.TrimSpace(s)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}
