package invoker

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrRetriesExhausted wraps the last transient error once every allowed
// attempt has failed.
var ErrRetriesExhausted = errors.New("retries exhausted")

// APIError is a provider error with an HTTP status attached.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// Class is the retry classification of an error.
type Class int

const (
	ClassFatal Class = iota
	ClassTransient
)

// Classifier decides whether an error is worth retrying.
type Classifier func(error) Class

// NewStatusClassifier builds a classifier that treats the given HTTP
// statuses and common network failures as transient and everything else
// as fatal.
func NewStatusClassifier(retryableStatuses []int) Classifier {
	statuses := make(map[int]bool, len(retryableStatuses))
	tokens := make([]string, 0, len(retryableStatuses))
	for _, s := range retryableStatuses {
		statuses[s] = true
		tokens = append(tokens, strconv.Itoa(s))
	}

	return func(err error) Class {
		if err == nil {
			return ClassFatal
		}

		var apiErr *APIError
		if errors.As(err, &apiErr) {
			if statuses[apiErr.StatusCode] {
				return ClassTransient
			}
			return ClassFatal
		}

		msg := strings.ToLower(err.Error())

		networkErrors := []string{
			"econnreset",
			"econnrefused",
			"etimedout",
			"connection reset",
			"connection refused",
			"timeout",
			"temporarily unavailable",
			"overloaded",
			"socket hang up",
		}
		for _, pattern := range networkErrors {
			if strings.Contains(msg, pattern) {
				return ClassTransient
			}
		}

		for _, token := range tokens {
			if strings.Contains(msg, token) {
				return ClassTransient
			}
		}

		return ClassFatal
	}
}
