package llm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrFatalAPI marks provider errors that retrying cannot fix: billing,
// quota, and authentication failures. Callers check with errors.Is and stop
// the pipeline instead of burning the retry budget.
var ErrFatalAPI = errors.New("fatal API error")

var fatalPatterns = []string{
	"credit balance",
	"rate limit",
	"quota",
	"billing",
	"api key",
	"authentication",
	"unauthorized",
	"401",
	"403",
}

// isFatalAPIError reports whether err matches a known unrecoverable
// provider failure.
func isFatalAPIError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range fatalPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// wrapFatalError wraps fatal provider errors with ErrFatalAPI and passes
// everything else through unchanged.
func wrapFatalError(err error) error {
	if err == nil {
		return nil
	}
	if isFatalAPIError(err) {
		return fmt.Errorf("%w: %v", ErrFatalAPI, err)
	}
	return err
}
