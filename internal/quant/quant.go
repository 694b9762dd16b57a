// Package quant knows the GGUF quantization labels published on model
// registries: their canonical spelling and the order in which they are
// preferred when the caller does not ask for one.
package quant

import (
	"regexp"
	"sort"
	"strings"
)

var (
	quantPattern = regexp.MustCompile(`(?i)[._-]((?:UD-)?(?:I?Q[0-9]+(?:_[A-Z0-9]+)*|TQ[0-9]+_[0-9]+|BF16|FP16|FP32|F16|F32))(?:-[0-9]{5}-of-[0-9]{5})?\.gguf$`)

	// preferenceOrder is used to pick a variant when no tag was requested.
	preferenceOrder = []string{
		"Q4_K_M",
		"Q4_K_S",
		"Q5_K_M",
		"Q5_K_S",
		"Q5_0",
		"Q5_1",
		"Q6_K",
		"Q8_0",
		"IQ4_XS",
		"IQ4_NL",
		"Q3_K_M",
		"Q3_K_L",
		"Q3_K_S",
		"IQ3_M",
		"IQ3_S",
		"IQ3_XS",
		"IQ3_XXS",
		"Q2_K",
		"Q2_K_S",
		"IQ2_M",
		"IQ2_S",
		"IQ2_XS",
		"IQ2_XXS",
		"IQ1_M",
		"IQ1_S",
		"Q4_0",
		"Q4_1",
		"BF16",
		"F16",
		"FP16",
		"F32",
		"FP32",
	}

	// other labels that are valid but never preferred over the list above
	extraLabels = []string{
		"Q4_K_L",
		"Q5_K_L",
		"Q6_K_L",
		"Q3_K_XL",
		"Q4_K_XL",
		"Q5_K_XL",
		"Q6_K_XL",
		"Q8_K_XL",
		"Q2_K_L",
		"Q2_K_XL",
		"Q4_0_4_4",
		"Q4_0_4_8",
		"Q4_0_8_8",
		"TQ1_0",
		"TQ2_0",
	}

	canonical = buildCanonical()
)

const udPrefix = "UD-"

func buildCanonical() map[string]string {
	m := make(map[string]string, len(preferenceOrder)+len(extraLabels))
	for _, q := range preferenceOrder {
		m[strings.ToUpper(q)] = q
	}
	for _, q := range extraLabels {
		m[strings.ToUpper(q)] = q
	}
	return m
}

// Normalize returns the canonical spelling of a known quantization label,
// matched case-insensitively. Unsloth "UD-" dynamic variants are supported.
func Normalize(tag string) (string, bool) {
	upper := strings.ToUpper(strings.TrimSpace(tag))
	if upper == "" {
		return "", false
	}

	if strings.HasPrefix(upper, udPrefix) {
		inner, ok := canonical[strings.TrimPrefix(upper, udPrefix)]
		if !ok {
			return "", false
		}
		return udPrefix + inner, true
	}

	q, ok := canonical[upper]
	return q, ok
}

// IsKnown reports whether tag is a recognized quantization label.
func IsKnown(tag string) bool {
	_, ok := Normalize(tag)
	return ok
}

// Canonical returns the spelling used in local filenames: the canonical label
// when known, otherwise the tag upper-cased.
func Canonical(tag string) string {
	if q, ok := Normalize(tag); ok {
		return q
	}
	return strings.ToUpper(strings.TrimSpace(tag))
}

// Parse extracts the quantization label from a GGUF filename, including
// split part names. Returns "" when the name carries no recognizable label.
func Parse(filename string) string {
	matches := quantPattern.FindStringSubmatch(filename)
	if len(matches) < 2 {
		return ""
	}
	return Canonical(matches[1])
}

// Priority returns the preference rank of tag; lower is better.
func Priority(tag string) int {
	q, ok := Normalize(tag)
	if !ok {
		return 1000
	}

	// UD variants rank just ahead of their plain counterpart
	ud := strings.HasPrefix(q, udPrefix)
	q = strings.TrimPrefix(q, udPrefix)

	for i, preferred := range preferenceOrder {
		if preferred == q {
			if ud {
				return i * 2
			}
			return i*2 + 1
		}
	}
	return 500
}

// Best returns the preferred tag among tags, or "" if tags is empty.
func Best(tags []string) string {
	if len(tags) == 0 {
		return ""
	}

	sorted := Sort(append([]string(nil), tags...))
	return sorted[0]
}

// Sort orders tags by preference, breaking ties alphabetically.
func Sort(tags []string) []string {
	sort.SliceStable(tags, func(i, j int) bool {
		pi, pj := Priority(tags[i]), Priority(tags[j])
		if pi != pj {
			return pi < pj
		}
		return tags[i] < tags[j]
	})
	return tags
}
