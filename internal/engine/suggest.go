package engine

import "sort"

// LevenshteinDistance computes the edit distance between two strings using
// the standard single-row dynamic programming table.
func LevenshteinDistance(s1, s2 string) int {
	r1, r2 := []rune(s1), []rune(s2)
	if len(r1) == 0 {
		return len(r2)
	}
	if len(r2) == 0 {
		return len(r1)
	}

	prev := make([]int, len(r2)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(r1); i++ {
		cur := make([]int, len(r2)+1)
		cur[0] = i
		for j := 1; j <= len(r2); j++ {
			cost := 1
			if r1[i-1] == r2[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, min(cur[j-1]+1, prev[j-1]+cost))
		}
		prev = cur
	}
	return prev[len(r2)]
}

type suggestion struct {
	name     string
	distance int
}

// SuggestSimilar returns up to maxSuggestions candidates close enough to
// name to be worth proposing as a "did you mean" correction, nearest first.
func SuggestSimilar(name string, candidates []string, maxSuggestions int) []string {
	const threshold = 3

	var matches []suggestion
	for _, c := range candidates {
		d := LevenshteinDistance(name, c)
		if d <= threshold {
			matches = append(matches, suggestion{name: c, distance: d})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].distance != matches[j].distance {
			return matches[i].distance < matches[j].distance
		}
		return matches[i].name < matches[j].name
	})

	if len(matches) > maxSuggestions {
		matches = matches[:maxSuggestions]
	}

	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.name
	}
	return out
}
