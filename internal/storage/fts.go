package storage

import (
	"strings"
	"unicode"
)

// sanitizeFTSQuery turns free text into an FTS5 expression in which each
// whitespace-separated term is a quoted phrase and any term may match.
// Quoting neutralizes FTS5 operators and special characters. Terms without
// a letter or digit are dropped since the tokenizer would discard them.
func sanitizeFTSQuery(query string) string {
	fields := strings.Fields(query)
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if strings.IndexFunc(f, isTokenRune) < 0 {
			continue
		}
		terms = append(terms, `"`+strings.ReplaceAll(f, `"`, `""`)+`"`)
	}
	return strings.Join(terms, " OR ")
}

func isTokenRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
