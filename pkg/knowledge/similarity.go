package knowledge

import "strings"

// tokenize lowercases and splits on whitespace/punctuation, the minimal
// normalization needed to make containment keyword matching (rag_agent.py's
// "mock search - simple keyword matching") into a symmetric overlap score.
func tokenize(text string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if f != "" {
			set[f] = struct{}{}
		}
	}
	return set
}

// jaccardSimilarity scores query against content as |intersection| / |union|
// of their token sets, the keyword-containment degraded mode spec.md §4.B
// permits when no embedding backend is present. An empty query matches
// everything with similarity 0 so that query_similar("", ...) (used by
// extract_patterns to enumerate a whole artifact type, per rag_agent.py)
// still returns every candidate once ranked.
func jaccardSimilarity(query, content string) float64 {
	q := tokenize(query)
	if len(q) == 0 {
		return 0
	}
	c := tokenize(content)
	if len(c) == 0 {
		return 0
	}

	intersection := 0
	for tok := range q {
		if _, ok := c[tok]; ok {
			intersection++
		}
	}
	union := len(q) + len(c) - intersection
	if union == 0 {
		return 0
	}
	similarity := float64(intersection) / float64(union)
	if similarity > 1 {
		similarity = 1
	}
	return similarity
}
