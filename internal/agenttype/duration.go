package agenttype

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var durationTermRegexp = regexp.MustCompile(`^\s*(\d+)(s|m|h)\s*$`)

// ParseDuration accepts the grammar used by restart-policy duration fields:
// "N(s|m|h)" and additive forms like "10m + 30s". Negative durations are
// rejected by construction (the grammar has no sign).
func ParseDuration(s string) (time.Duration, error) {
	terms := splitAdditive(s)
	if len(terms) == 0 {
		return 0, &ValueNotParseableFromString{Value: s, Kind: "duration"}
	}
	var total time.Duration
	for _, term := range terms {
		m := durationTermRegexp.FindStringSubmatch(term)
		if m == nil {
			return 0, &ValueNotParseableFromString{Value: s, Kind: "duration"}
		}
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return 0, &ValueNotParseableFromString{Value: s, Kind: "duration"}
		}
		var unit time.Duration
		switch m[2] {
		case "s":
			unit = time.Second
		case "m":
			unit = time.Minute
		case "h":
			unit = time.Hour
		}
		total += time.Duration(n) * unit
	}
	return total, nil
}

func splitAdditive(s string) []string {
	var terms []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '+' {
			terms = append(terms, s[start:i])
			start = i + 1
		}
	}
	terms = append(terms, s[start:])
	return terms
}

// ParseRetries rejects negative retry counts; spec.md requires this
// alongside the duration grammar's implicit non-negativity.
func ParseRetries(n int) (uint, error) {
	if n < 0 {
		return 0, fmt.Errorf("retry count must not be negative, got %d", n)
	}
	return uint(n), nil
}
