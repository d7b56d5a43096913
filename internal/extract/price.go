package extract

import (
	"fmt"
	"strconv"
	"strings"
)

// ParsePrice converts a display price into an amount. Currency symbols
// and whitespace are stripped first. When both "," and "." appear, the
// right-most one is the decimal separator and the other is a grouping
// separator. A lone "," is decimal only when exactly two digits follow
// it; otherwise it is a thousands separator.
func ParsePrice(raw string) (float64, error) {
	cleaned := stripNonNumeric(raw)
	if cleaned == "" {
		return 0, fmt.Errorf("no digits in price %q", raw)
	}

	comma := strings.LastIndex(cleaned, ",")
	dot := strings.LastIndex(cleaned, ".")

	switch {
	case comma >= 0 && dot >= 0:
		if comma > dot {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case comma >= 0:
		if decimalComma(cleaned, comma) {
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	}

	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", raw, err)
	}
	return value, nil
}

func decimalComma(s string, idx int) bool {
	return len(s)-idx-1 == 2 && strings.Count(s, ",") == 1
}

func stripNonNumeric(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9', r == ',', r == '.':
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), ",.")
}
