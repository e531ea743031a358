// Package classify maps opaque upstream failure signals onto a closed error
// taxonomy. Classification is deterministic and pure: the same raw signal
// always yields the same kind, and the raw evidence is always preserved on
// the outcome so operators can diagnose misclassification.
//
// The matching rules are deliberately isolated here. The upstream error
// format is not a stable contract, and substring matching against it is
// fragile; keeping every rule behind Classify means a format change upstream
// is a one-file fix that never touches retry or pool logic.
package classify

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/korvuslabs/prowl/api/schemas"
)

// RawResult is the observable signal of one upstream call: a status code
// (the platform uses -1 as a generic failure sentinel) and the response body
// or driver error text.
type RawResult struct {
	StatusCode int
	Body       string
}

// Outcome is a classified failure. It implements error so it can flow
// through ordinary error returns, and carries the raw signal alongside the
// kind: classification is advisory for retry logic, never destructive of
// evidence.
type Outcome struct {
	Kind           schemas.ErrorKind
	Message        string
	Raw            RawResult
	PossibleCauses []string
	Suggestions    []string
}

func (o *Outcome) Error() string {
	return fmt.Sprintf("%s: %s", o.Kind, o.Message)
}

// Retryable reports whether the executor may retry after this outcome.
func (o *Outcome) Retryable() bool {
	switch o.Kind {
	case schemas.KindRateLimited, schemas.KindBotDetected, schemas.KindUpstreamError:
		return true
	}
	return false
}

// SessionInvalidating reports whether the session that produced this outcome
// is compromised and must not be reused.
func (o *Outcome) SessionInvalidating() bool {
	switch o.Kind {
	case schemas.KindBotDetected, schemas.KindAuthError:
		return true
	}
	return false
}

// Envelope renders the outcome in the externally observed error contract.
func (o *Outcome) Envelope() schemas.ErrorEnvelope {
	return schemas.ErrorEnvelope{
		Success:        false,
		Error:          o.Kind,
		Message:        o.Message,
		RawError:       o.Raw.Body,
		StatusCode:     o.Raw.StatusCode,
		PossibleCauses: o.PossibleCauses,
		Suggestions:    o.Suggestions,
	}
}

// botMarkers are the known bot-defense fingerprints in upstream error text.
var botMarkers = []string{
	"emptyresponseexception",
	"empty response",
	"bot detection",
	"detecting you're a bot",
	"blocked",
	"captcha",
	"verification required",
}

// emptyUserInfoRe matches an empty nested user-info structure in the raw
// error text, tolerating quoting and whitespace variations.
var emptyUserInfoRe = regexp.MustCompile(`"?userInfo"?\s*:\s*\{\s*\}`)

// statusMinusOneRe matches the platform's textual failure sentinel when the
// numeric status is not available separately.
var statusMinusOneRe = regexp.MustCompile(`statusCode"?\s*:\s*-1`)

var botSuggestions = []string{
	"Try again in a few minutes",
	"Use a different access token",
	"Enable proxy in settings",
	"Switch to non-headless mode",
	"Try a different browser engine",
}

// Classify maps a raw upstream result to a classified outcome, or nil when
// the result is a success. requiredField names the top-level JSON field the
// caller expects in a successful body; pass "" to skip the shape check.
func Classify(raw RawResult, requiredField string) *Outcome {
	lower := strings.ToLower(raw.Body)

	// An empty body after transport success is the classic signature of the
	// platform silently dropping a detected client.
	if strings.TrimSpace(raw.Body) == "" && raw.StatusCode != 0 {
		return &Outcome{
			Kind:        schemas.KindBotDetected,
			Message:     "upstream returned an empty response, which indicates bot detection",
			Raw:         raw,
			Suggestions: botSuggestions,
		}
	}

	for _, marker := range botMarkers {
		if strings.Contains(lower, marker) {
			return &Outcome{
				Kind:           schemas.KindBotDetected,
				Message:        fmt.Sprintf("bot-defense marker %q found in upstream response", marker),
				Raw:            raw,
				PossibleCauses: []string{"Automated-client fingerprint detected", "IP address flagged by the platform"},
				Suggestions:    botSuggestions,
			}
		}
	}
	if isChallengePage(raw.Body) {
		return &Outcome{
			Kind:        schemas.KindBotDetected,
			Message:     "upstream served a verification challenge page instead of data",
			Raw:         raw,
			Suggestions: botSuggestions,
		}
	}

	if raw.StatusCode == 429 {
		return &Outcome{
			Kind:        schemas.KindRateLimited,
			Message:     "upstream rate limit exceeded",
			Raw:         raw,
			Suggestions: []string{"Reduce request frequency", "Wait before retrying"},
		}
	}

	// The platform reports -1 both for nonexistent entities and for rejected
	// credentials. An empty nested user-info structure disambiguates: the
	// lookup succeeded and found nothing, so this is NotFound, never
	// AuthError.
	if raw.StatusCode == -1 || statusMinusOneRe.MatchString(raw.Body) {
		if emptyUserInfoRe.MatchString(raw.Body) {
			return &Outcome{
				Kind:           schemas.KindNotFound,
				Message:        "the requested entity does not exist",
				Raw:            raw,
				PossibleCauses: []string{"Username or ID is misspelled", "Account was deleted or banned"},
			}
		}
		return &Outcome{
			Kind:           schemas.KindAuthError,
			Message:        "upstream rejected the request with its generic failure status",
			Raw:            raw,
			PossibleCauses: []string{"Access token expired or invalid", "Session cookies no longer accepted"},
			Suggestions:    []string{"Refresh the access token", "Recreate the session"},
		}
	}

	switch raw.StatusCode {
	case 401, 403:
		return &Outcome{
			Kind:        schemas.KindAuthError,
			Message:     fmt.Sprintf("upstream rejected credentials with status %d", raw.StatusCode),
			Raw:         raw,
			Suggestions: []string{"Refresh the access token"},
		}
	}

	if raw.StatusCode >= 200 && raw.StatusCode < 300 {
		if requiredField != "" && !hasTopLevelField(raw.Body, requiredField) {
			return &Outcome{
				Kind:           schemas.KindDataError,
				Message:        fmt.Sprintf("upstream response is missing the expected %q field", requiredField),
				Raw:            raw,
				PossibleCauses: []string{"Upstream response format changed", "Partial response delivered"},
			}
		}
		return nil
	}

	// Anything unrecognized stays generic and retryable. Do not guess at
	// hidden status codes.
	return &Outcome{
		Kind:    schemas.KindUpstreamError,
		Message: fmt.Sprintf("upstream request failed with status %d", raw.StatusCode),
		Raw:     raw,
	}
}

// FromTransportError classifies a driver or transport level error (timeouts,
// connection resets, browser crashes). Bot-defense markers carried in driver
// error text are honored before falling back to a generic transient kind.
func FromTransportError(err error) *Outcome {
	text := err.Error()
	lower := strings.ToLower(text)
	for _, marker := range botMarkers {
		if strings.Contains(lower, marker) {
			return &Outcome{
				Kind:        schemas.KindBotDetected,
				Message:     fmt.Sprintf("bot-defense marker %q found in driver error", marker),
				Raw:         RawResult{Body: text},
				Suggestions: botSuggestions,
			}
		}
	}
	msg := "upstream call failed"
	if strings.Contains(lower, "deadline exceeded") || strings.Contains(lower, "timeout") {
		msg = "upstream call timed out"
	}
	return &Outcome{
		Kind:    schemas.KindUpstreamError,
		Message: msg,
		Raw:     RawResult{Body: text},
	}
}
