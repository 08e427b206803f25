package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Coercion helpers shared by all page parsers. They never fail loudly:
// unparseable input yields the zero value and ok=false so a drifting
// field degrades to "absent" instead of aborting the page.

var (
	reYear   = regexp.MustCompile(`(\d{4})`)
	reNumber = regexp.MustCompile(`([0-9]+(?:[.,][0-9]+)?)`)
)

// coerceInt keeps only digit runs, so "5,000" and "5 000 have" both
// yield 5000.
func coerceInt(value string) (int, bool) {
	var b strings.Builder
	for _, ch := range value {
		if ch >= '0' && ch <= '9' {
			b.WriteRune(ch)
		}
	}
	if b.Len() == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(b.String())
	if err != nil {
		return 0, false
	}
	return n, true
}

// coerceFloat accepts both "4.5" and the decimal-comma "4,5".
func coerceFloat(value string) (float64, bool) {
	cleaned := strings.TrimSpace(strings.ReplaceAll(value, ",", "."))
	if cleaned == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// coerceYear extracts the first 4-digit run and bounds it to a
// plausible range, rejecting catalog numbers that happen to match.
func coerceYear(value string) (int, bool) {
	m := reYear.FindStringSubmatch(value)
	if m == nil {
		return 0, false
	}
	year, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	if year < 1800 || year > 2100 {
		return 0, false
	}
	return year, true
}

// coerceDate tries the date layouts the site has used over time.
func coerceDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{"2 January 2006", "January 2, 2006", "2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// extractNumber returns the first numeric token inside free text, e.g.
// "rated 4.5 out of 5" -> "4.5".
func extractNumber(text string) string {
	m := reNumber.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1]
}

// normalizeRating maps a rating found on any of the site's historical
// scales onto the canonical 0-5 scale: values above 5 are percentages
// (90 -> 4.5), values in (0,1] are fractions (0.9 -> 4.5).
func normalizeRating(value float64) float64 {
	switch {
	case value > 5:
		value = value / 20
	case value > 0 && value <= 1:
		value = value * 5
	}
	if value < 0 {
		return 0
	}
	if value > 5 {
		return 5
	}
	return value
}

// uniqueFold deduplicates case-insensitively while preserving order and
// the first-seen display casing.
func uniqueFold(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	ordered := make([]string, 0, len(items))
	for _, item := range items {
		key := strings.ToLower(item)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		ordered = append(ordered, item)
	}
	return ordered
}
