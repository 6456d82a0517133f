package domain

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Injection patterns: statement fragments that should never appear in a
// question. Plain words like "drop" or "update" stay legal.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(DROP|TRUNCATE|ALTER)\s+(TABLE|DATABASE|INDEX)\b`),
	regexp.MustCompile(`(?i)\b(DELETE\s+FROM|INSERT\s+INTO|DETACH\s+DELETE)\b`),
	regexp.MustCompile(`(?i)\bUNION\s+(ALL\s+)?SELECT\b`),
	regexp.MustCompile(`(?i)\bUPDATE\s+\w+\s+SET\b`),
	regexp.MustCompile(`(?i)(--|;)\s*(DROP|DELETE|INSERT|UPDATE|ALTER|SELECT|TRUNCATE|EXEC|MATCH)\b`),
	regexp.MustCompile(`(?i)\$\{.*\}`),            // template injection
	regexp.MustCompile(`(?i)\{\s*"\$[a-z]+"\s*:`), // NoSQL operator injection
}

const (
	minQuestionLength = 3
	maxQuestionLength = 1000
)

// ValidateQuestion checks a user question at the pipeline entry.
func ValidateQuestion(question string) error {
	text := strings.TrimSpace(question)

	n := utf8.RuneCountInString(text)
	if n < minQuestionLength {
		return NewValidationError("question", text, ErrQuestionTooShort)
	}
	if n > maxQuestionLength {
		return NewValidationError("question", string([]rune(text)[:64])+"...", ErrQuestionTooLong)
	}

	for _, pat := range injectionPatterns {
		if pat.MatchString(text) {
			return NewValidationError("question", text, ErrQueryInjection)
		}
	}
	return nil
}
