package outputs

import "strings"

// Verdict is the outcome a verify step reports for a story.
type Verdict string

const (
	VerdictPass  Verdict = "pass"
	VerdictRetry Verdict = "retry"
)

// retryStatuses are STATUS values that send a story back for another attempt.
var retryStatuses = map[string]bool{
	"retry":  true,
	"fail":   true,
	"failed": true,
}

// ParseVerdict reads the verify outcome from parsed context vars and the raw
// output. STATUS: retry (or fail) rejects the story. When expected is set,
// an output that does not contain it is rejected too. Anything else passes.
func ParseVerdict(vars map[string]string, output, expected string) Verdict {
	if retryStatuses[strings.ToLower(strings.TrimSpace(vars["status"]))] {
		return VerdictRetry
	}
	if expected != "" && !strings.Contains(output, expected) {
		return VerdictRetry
	}
	return VerdictPass
}

// Feedback picks the text handed back to the implementer when a story is
// rejected: an explicit ISSUES line if present, otherwise the whole output.
func Feedback(vars map[string]string, output string) string {
	if issues := strings.TrimSpace(vars["issues"]); issues != "" {
		return issues
	}
	return strings.TrimSpace(output)
}
