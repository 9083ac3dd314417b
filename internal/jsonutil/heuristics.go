package jsonutil

import (
	"regexp"
	"strconv"
	"strings"
)

// DefaultConfidence is reported when free text carries no confidence value.
const DefaultConfidence = 0.8

// maxRecommendations caps the lines taken by ExtractRecommendations.
const maxRecommendations = 5

var (
	recommendationPattern = regexp.MustCompile(`(?i)\b(recommend|suggest|advice|advise)\w*\b`)
	confidencePattern     = regexp.MustCompile(`(?i)confidence[^0-9]{0,20}([0-9]*\.?[0-9]+)\s*(%?)`)
	bulletPrefix          = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s*`)
)

// ExtractRecommendations returns lines of text that read like advice,
// stripped of list markers.
func ExtractRecommendations(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(bulletPrefix.ReplaceAllString(line, ""))
		if line == "" || !recommendationPattern.MatchString(line) {
			continue
		}
		out = append(out, line)
		if len(out) == maxRecommendations {
			break
		}
	}
	return out
}

// ExtractConfidence finds a "confidence: <n>" figure in text. Percentages
// and values above 1 are scaled into [0,1]. Falls back to DefaultConfidence.
func ExtractConfidence(text string) float64 {
	m := confidencePattern.FindStringSubmatch(text)
	if m == nil {
		return DefaultConfidence
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return DefaultConfidence
	}
	if m[2] == "%" || v > 1 {
		v /= 100
	}
	if v < 0 || v > 1 {
		return DefaultConfidence
	}
	return v
}

// Excerpt returns at most n runes of text, trimmed, for use as a description.
func Excerpt(text string, n int) string {
	text = strings.TrimSpace(StripMarkdownFences(text))
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return strings.TrimSpace(string(r[:n])) + "..."
}
