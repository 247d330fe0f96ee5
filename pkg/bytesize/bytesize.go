// Package bytesize provides human-readable byte size parsing and formatting
// using binary (1024) units.
package bytesize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Size represents a byte size as int64.
type Size int64

// Common size constants.
const (
	B  Size = 1
	KB Size = 1024
	MB Size = 1024 * KB
	GB Size = 1024 * MB
	TB Size = 1024 * GB
)

var unitMultipliers = map[string]Size{
	"b": B, "byte": B, "bytes": B,
	"k": KB, "kb": KB, "kib": KB,
	"m": MB, "mb": MB, "mib": MB,
	"g": GB, "gb": GB, "gib": GB,
	"t": TB, "tb": TB, "tib": TB,
}

var sizePattern = regexp.MustCompile(`(?i)^\s*([0-9]+(?:\.[0-9]+)?)\s*([a-z]*)\s*$`)

// Parse parses a human-readable byte size string such as "15MB", "1.5 GiB" or
// "5242880". If no unit is given, bytes are assumed.
func Parse(s string) (Size, error) {
	if s == "" {
		return 0, fmt.Errorf("bytesize: empty string")
	}

	matches := sizePattern.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("bytesize: invalid format %q", s)
	}

	value, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, fmt.Errorf("bytesize: invalid number %q: %w", matches[1], err)
	}

	multiplier := B
	if unit := strings.ToLower(matches[2]); unit != "" {
		var ok bool
		multiplier, ok = unitMultipliers[unit]
		if !ok {
			return 0, fmt.Errorf("bytesize: unknown unit %q", matches[2])
		}
	}

	return Size(value * float64(multiplier)), nil
}

// Format renders a size in the largest unit that keeps the value >= 1.
// Whole multiples print without a fraction ("15MB"), others with one decimal
// ("1.5GB").
func Format(s Size) string {
	format := func(value Size, unit string) string {
		if s%value == 0 {
			return strconv.FormatInt(int64(s/value), 10) + unit
		}
		return strconv.FormatFloat(float64(s)/float64(value), 'f', 1, 64) + unit
	}

	switch {
	case s >= TB:
		return format(TB, "TB")
	case s >= GB:
		return format(GB, "GB")
	case s >= MB:
		return format(MB, "MB")
	case s >= KB:
		return format(KB, "KB")
	default:
		return strconv.FormatInt(int64(s), 10) + "B"
	}
}

// String implements fmt.Stringer.
func (s Size) String() string {
	return Format(s)
}
