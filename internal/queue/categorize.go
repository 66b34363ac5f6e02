package queue

import (
	"strings"

	"github.com/basculapp/fieldsync/internal/errors"
)

// Category buckets a sync failure for retry decisions.
type Category string

const (
	CategoryNetwork    Category = "network"
	CategoryValidation Category = "validation"
	CategoryServer     Category = "server"
	CategoryUnknown    Category = "unknown"
)

// Keyword groups checked in order against the error text. First match wins,
// so network phrasing is checked before the broader server vocabulary.
var categoryKeywords = []struct {
	category Category
	keywords []string
}{
	{CategoryNetwork, []string{
		"connection refused", "connection reset", "no such host", "timeout",
		"timed out", "network is unreachable", "broken pipe", "eof",
	}},
	{CategoryValidation, []string{
		"validation", "invalid", "required", "must be", "out of range",
		"malformed", "bad request",
	}},
	{CategoryServer, []string{
		"server error", "internal error", "unavailable", "bad gateway",
		"too many requests", "overloaded",
	}},
}

// Categorize buckets an error. Typed codes are authoritative; untyped errors
// fall back to keyword matching on the message.
func Categorize(err error) Category {
	if err == nil {
		return CategoryUnknown
	}

	switch errors.CodeOf(err) {
	case errors.ErrNetwork:
		return CategoryNetwork
	case errors.ErrValidation, errors.ErrInvalid:
		return CategoryValidation
	case errors.ErrServer:
		return CategoryServer
	}

	return matchKeywords(strings.ToLower(err.Error()))
}

// categorizeMessage buckets a failure message stored on a queue row.
// Messages written by the drain loop start with the typed code in brackets;
// anything else falls back to keyword matching.
func categorizeMessage(message string) Category {
	switch {
	case strings.HasPrefix(message, "["+string(errors.ErrNetwork)+"]"):
		return CategoryNetwork
	case strings.HasPrefix(message, "["+string(errors.ErrValidation)+"]"),
		strings.HasPrefix(message, "["+string(errors.ErrInvalid)+"]"):
		return CategoryValidation
	case strings.HasPrefix(message, "["+string(errors.ErrServer)+"]"):
		return CategoryServer
	}
	return matchKeywords(strings.ToLower(message))
}

func matchKeywords(text string) Category {
	for _, group := range categoryKeywords {
		for _, kw := range group.keywords {
			if strings.Contains(text, kw) {
				return group.category
			}
		}
	}
	return CategoryUnknown
}

// CanRetry reports whether an operation should be attempted again.
// Validation failures are permanent regardless of remaining retries.
func CanRetry(category Category, retryCount, maxRetries int) bool {
	if category == CategoryValidation {
		return false
	}
	return retryCount < maxRetries
}
