package stats

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParseLevel parses a quantile level from either p-notation (p80, p95)
// or decimal notation (0.80, 0.95).
//
// Examples:
//   - "p80" → 0.80
//   - "P20" → 0.20
//   - "0.8" → 0.80
//   - "" → 0
//
// Returns error if the format is invalid or value is out of range [0, 1].
func ParseLevel(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	if strings.HasPrefix(strings.ToLower(s), "p") {
		pct, err := strconv.ParseFloat(s[1:], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid p-notation %q: %w", s, err)
		}
		if pct < 0 || pct > 100 {
			return 0, fmt.Errorf("percentile %v out of range [0, 100]", pct)
		}
		return pct / 100.0, nil
	}

	q, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid quantile %q: %w", s, err)
	}
	if q < 0 || q > 1 {
		return 0, fmt.Errorf("quantile %v out of range [0, 1]", q)
	}
	return q, nil
}

// FormatLevel renders a quantile level in p-notation for logs.
func FormatLevel(q float64) string {
	pct := math.Round(q*1000) / 10
	if pct == math.Trunc(pct) {
		return fmt.Sprintf("p%d", int(pct))
	}
	return fmt.Sprintf("p%.1f", pct)
}
