package store

import "strings"

// SanitizeSearchQuery neutralizes full-text-search operator injection.
// User-supplied queries are split on whitespace, each token is quoted
// (doubling any embedded double-quote), and the tokens are rejoined
// with spaces — this makes a raw token like OR, AND, NOT, NEAR, or a
// leading "*" prefix a literal phrase to the index instead of an
// operator. Required verbatim by §4.F and exercised by the FTS
// injection-neutralization property in §8.
func SanitizeSearchQuery(query string) string {
	tokens := strings.Fields(query)
	quoted := make([]string, len(tokens))

	for i, tok := range tokens {
		escaped := strings.ReplaceAll(tok, `"`, `""`)
		quoted[i] = `"` + escaped + `"`
	}

	return strings.Join(quoted, " ")
}
