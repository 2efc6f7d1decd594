package reconcile

import "strings"

// Matcher scores how likely a supplier SKU refers to a master SKU.
// Scores are in [0, 1]; 1.0 means certain.
type Matcher interface {
	Score(supplierSKU, masterSKU string) float64
}

// LevenshteinMatcher scores by normalized edit distance over cleaned
// SKU strings, with a boost when the first three characters agree.
type LevenshteinMatcher struct{}

func NewLevenshteinMatcher() *LevenshteinMatcher {
	return &LevenshteinMatcher{}
}

func (m *LevenshteinMatcher) Score(supplierSKU, masterSKU string) float64 {
	a := normalizeSKU(supplierSKU)
	b := normalizeSKU(masterSKU)
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}

	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	score := 1 - float64(levenshtein(a, b))/float64(longest)

	// SKU families usually share a prefix; reward agreement there.
	if len(a) >= 3 && len(b) >= 3 && a[:3] == b[:3] {
		score += 0.2
	}

	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}

// normalizeSKU lowercases and strips everything but letters and digits,
// so "SUP-001" and "sup_001" compare equal.
func normalizeSKU(sku string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(sku) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
