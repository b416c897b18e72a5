// Package reward scores agent responses against ground truth answers.
package reward

import (
	"math/big"
	"regexp"
	"strings"
)

// Func scores a final response against the ground truth. Rewards are usually in [0, 1].
type Func func(responseText, groundTruth string) float64

// AnswerMarker precedes the final answer in GSM8K-formatted text.
const AnswerMarker = "####"

var numberPattern = regexp.MustCompile(`-?[\d,]*\.?\d+`)

// ExtractAnswer returns the normalized final answer in text: the first number
// after the last AnswerMarker. It returns false if text has no marker or no
// number follows it.
func ExtractAnswer(text string) (string, bool) {
	i := strings.LastIndex(text, AnswerMarker)
	if i < 0 {
		return "", false
	}
	m := numberPattern.FindString(text[i+len(AnswerMarker):])
	if m == "" {
		return "", false
	}
	return normalize(m), true
}

// GSM8K returns 1 when the response's marked answer equals the ground truth
// numerically and 0 otherwise. The ground truth may be a bare number or a full
// GSM8K solution ending in "#### <answer>".
func GSM8K(responseText, groundTruth string) float64 {
	got, ok := ExtractAnswer(responseText)
	if !ok {
		return 0
	}
	want, ok := ExtractAnswer(groundTruth)
	if !ok {
		want = normalize(strings.TrimSpace(groundTruth))
	}
	if equalNumbers(got, want) {
		return 1
	}
	return 0
}

var _ Func = GSM8K

func normalize(s string) string {
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimPrefix(s, "$")
	return strings.TrimSuffix(s, ".")
}

// equalNumbers compares decimal strings exactly, so "18", "18.0" and "18.00" match.
func equalNumbers(a, b string) bool {
	x, ok := new(big.Rat).SetString(a)
	if !ok {
		return a == b
	}
	y, ok := new(big.Rat).SetString(b)
	if !ok {
		return false
	}
	return x.Cmp(y) == 0
}
