// Package tokenizer splits free text into lowercase ASCII alphanumeric
// terms. The same function builds postings and tokenizes queries, so both
// sides of a lookup agree on what a term is.
package tokenizer

// Tokenize returns the distinct terms of text in first-seen order. Any byte
// that is not an ASCII letter or digit separates terms, including every byte
// of a multi-byte UTF-8 sequence.
func Tokenize(text string) []string {
	var tokens []string
	var seen map[string]struct{}
	start := -1
	for i := 0; i <= len(text); i++ {
		if i < len(text) && isAlnum(text[i]) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start < 0 {
			continue
		}
		term := lower(text[start:i])
		start = -1
		if seen == nil {
			seen = make(map[string]struct{}, 4)
		}
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}
		tokens = append(tokens, term)
	}
	return tokens
}

// AppendTerms adds the terms of text to set.
func AppendTerms(set map[string]struct{}, text string) {
	for _, term := range Tokenize(text) {
		set[term] = struct{}{}
	}
}

func isAlnum(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}

// lower avoids an allocation when the fragment is already lowercase.
func lower(s string) string {
	hasUpper := false
	for i := 0; i < len(s); i++ {
		if 'A' <= s[i] && s[i] <= 'Z' {
			hasUpper = true
			break
		}
	}
	if !hasUpper {
		return s
	}
	b := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if 'A' <= c && c <= 'Z' {
			c += 'a' - 'A'
		}
		b[i] = c
	}
	return string(b)
}
