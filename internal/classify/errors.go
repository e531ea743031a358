package classify

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/korvuslabs/prowl/api/schemas"
)

// CapacityErrorf builds the backpressure outcome returned when an owner's
// pool is exhausted. Never retried by the executor; callers are expected to
// back off.
func CapacityErrorf(format string, args ...any) *Outcome {
	return &Outcome{
		Kind:        schemas.KindCapacityError,
		Message:     fmt.Sprintf(format, args...),
		Suggestions: []string{"Retry after backing off", "Raise session.max_per_owner if this is sustained"},
	}
}

// InvariantViolationf builds the outcome for a programming error such as a
// double release. These must fail loudly and are never retried or absorbed.
func InvariantViolationf(format string, args ...any) *Outcome {
	return &Outcome{
		Kind:    schemas.KindInvariantViolation,
		Message: fmt.Sprintf(format, args...),
	}
}

// ConfigurationErrorf builds the outcome for an unusable configuration,
// e.g. an empty fingerprint input pool.
func ConfigurationErrorf(format string, args ...any) *Outcome {
	return &Outcome{
		Kind:    schemas.KindConfigurationError,
		Message: fmt.Sprintf(format, args...),
	}
}

// AsOutcome extracts a classified outcome from an error chain, wrapping
// unclassified errors as generic transient failures so callers always see a
// member of the taxonomy.
func AsOutcome(err error) *Outcome {
	if o, ok := err.(*Outcome); ok {
		return o
	}
	return FromTransportError(err)
}

// isChallengePage detects an HTML verification/challenge interstitial. The
// platform serves these with a 200, so status alone says nothing.
func isChallengePage(body string) bool {
	if !strings.Contains(body, "<") {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return false
	}
	if doc.Find("#captcha-verify, .captcha_verify_container, [class*=captcha]").Length() > 0 {
		return true
	}
	title := strings.ToLower(doc.Find("title").Text())
	return strings.Contains(title, "verify") || strings.Contains(title, "security check")
}

// hasTopLevelField reports whether the body is a JSON object carrying the
// named top-level field with a non-null value.
func hasTopLevelField(body, field string) bool {
	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &top); err != nil {
		return false
	}
	v, ok := top[field]
	if !ok {
		return false
	}
	return string(v) != "null"
}
