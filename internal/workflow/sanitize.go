package workflow

import (
	"strings"
	"unicode"
)

// GenericFailureMessage is shown whenever a backend error string does not
// pass the user-safe classifier.
const GenericFailureMessage = "Something went wrong while processing your request. Please try again."

// maxUserMessageLen is the longest error string considered user-safe.
// Technical dumps (stack traces, response bodies) run well past this.
const maxUserMessageLen = 200

// denyMarkers are substrings that identify a technical error string. The
// check is case-insensitive. This is an explicit deny-list rather than
// ad-hoc regexps at the call sites so the classifier is testable on its own.
var denyMarkers = []string{
	"http://", "https://",
	"panic:", "goroutine", "runtime error", "stack trace", "traceback",
	"exception", "typeerror", "nullpointer", "undefined",
	"econnrefused", "econnreset", "etimedout", "eof",
	"dial tcp", "no such host", "connection refused", "context deadline",
	"status 5", "status code", "internal server error", "bad gateway",
	"sql", "sqlite", "null constraint",
	"{", "}", "<", ">", "\\n", "\t",
}

// Sanitize classifies msg and returns either the message itself, when it
// looks like a short natural-language sentence, or GenericFailureMessage.
// Technical detail is never shown verbatim to the end user.
func Sanitize(msg string) string {
	msg = strings.TrimSpace(msg)
	if msg == "" || len(msg) > maxUserMessageLen {
		return GenericFailureMessage
	}

	lower := strings.ToLower(msg)
	for _, marker := range denyMarkers {
		if strings.Contains(lower, marker) {
			return GenericFailureMessage
		}
	}

	if !looksLikeProse(msg) {
		return GenericFailureMessage
	}
	return msg
}

// looksLikeProse accepts strings dominated by letters, spaces, and common
// punctuation. Identifiers, hex dumps, and code fragments fall below the
// threshold.
func looksLikeProse(s string) bool {
	var letters, spaces, other int
	for _, r := range s {
		switch {
		case unicode.IsLetter(r):
			letters++
		case unicode.IsSpace(r):
			spaces++
		case strings.ContainsRune(".,;:!?'\"()-", r):
			// common punctuation is fine
		case unicode.IsDigit(r):
			other++
		default:
			other++
		}
	}
	total := letters + spaces + other
	if total == 0 || letters == 0 {
		return false
	}
	// A sentence has words: at least one space unless it is a single word.
	if spaces == 0 && len(s) > 30 {
		return false
	}
	return other*10 <= total // under 10% odd characters
}
