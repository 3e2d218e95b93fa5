// Package mapenc parses map-encoded environment variables such as
// "100=h1.example.com,200=h2.example.com" and renders them as YAML mapping lines.
//
// Parsing rules:
//   - the input is split on every comma
//   - empty segments are dropped, so "a=1,,b=2," yields two pairs
//   - each segment is split on its first '=', so values may contain '='
//   - segments without '=' are malformed and dropped
//   - keys and values are kept verbatim: no trimming, no unquoting
//
// Rendering does not escape embedded double quotes. A value containing '"'
// produces an invalid YAML line; callers that care must reject such input.
package mapenc

import "strings"

// Pair is a single key/value entry in input order.
type Pair struct {
	Key   string
	Value string
}

// Parse splits raw into ordered pairs. Duplicate keys are preserved.
func Parse(raw string) []Pair {
	if raw == "" {
		return nil
	}

	var pairs []Pair
	for _, segment := range strings.Split(raw, ",") {
		if segment == "" {
			continue
		}
		key, value, ok := strings.Cut(segment, "=")
		if !ok {
			continue
		}
		pairs = append(pairs, Pair{Key: key, Value: value})
	}
	return pairs
}

// Line renders one pair as `indent"key": "value"`.
func Line(indent string, p Pair) string {
	return indent + `"` + p.Key + `": "` + p.Value + `"`
}

// Lines renders pairs in order.
func Lines(pairs []Pair, indent string) []string {
	lines := make([]string, 0, len(pairs))
	for _, p := range pairs {
		lines = append(lines, Line(indent, p))
	}
	return lines
}

// Encode parses raw and renders the resulting pairs. Empty input yields no lines.
func Encode(raw, indent string) []string {
	return Lines(Parse(raw), indent)
}

// Duplicates returns keys that appear more than once, ordered by where they repeat.
func Duplicates(pairs []Pair) []string {
	seen := make(map[string]int, len(pairs))
	var dups []string
	for _, p := range pairs {
		seen[p.Key]++
		if seen[p.Key] == 2 {
			dups = append(dups, p.Key)
		}
	}
	return dups
}
