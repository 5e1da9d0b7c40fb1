package modelpatch

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrProse means the model answered with commentary instead of code.
	ErrProse = errors.New("model returned prose instead of code")

	// ErrEmptyOutput means the model returned nothing usable.
	ErrEmptyOutput = errors.New("model returned empty output")
)

var (
	prosePrefixes = []string{
		"I cannot",
		"I can't",
		"I apologize",
		"I'm sorry",
		"The provided",
		"Unfortunately",
		"As an AI",
	}
	proseSuffixes = []string{"is not valid", "is not valid."}

	// Advice addressed to the reader, optionally after a short lead-in
	// ("To do this you should ..."). Source lines that merely contain the
	// words, such as JSX copy, do not start with a bare word.
	proseAdviceRe = regexp.MustCompile(`(?i)^(?:[a-z']+,?\s+){0,3}you\s+(?:should|can|need\s+to)\b`)
)

// IsProse reports whether the first line of a model answer reads as
// commentary rather than code.
func IsProse(text string) bool {
	first := strings.TrimSpace(text)
	if i := strings.IndexByte(first, '\n'); i >= 0 {
		first = strings.TrimSpace(first[:i])
	}
	if first == "" {
		return false
	}
	for _, p := range prosePrefixes {
		if strings.HasPrefix(first, p) {
			return true
		}
	}
	for _, s := range proseSuffixes {
		if strings.HasSuffix(first, s) {
			return true
		}
	}
	return proseAdviceRe.MatchString(first)
}

// stripFences removes a markdown code fence wrapping the answer. Only the
// fence lines go; blank lines and indentation of the code are kept.
func stripFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return s
	}
	firstNewline := strings.IndexByte(trimmed, '\n')
	if firstNewline < 0 {
		return ""
	}
	body := trimmed[firstNewline+1:]
	if lastFence := strings.LastIndex(body, "```"); lastFence >= 0 {
		body = body[:lastFence]
		// The newline before the closing fence belongs to the fence line.
		body = strings.TrimSuffix(body, "\n")
		body = strings.TrimSuffix(body, "\r")
	}
	return body
}

// validate cleans a model answer and rejects empty or prose output.
func validate(raw string) (string, error) {
	code := stripFences(raw)
	if strings.TrimSpace(code) == "" {
		return "", ErrEmptyOutput
	}
	if IsProse(code) {
		return "", ErrProse
	}
	return code, nil
}
