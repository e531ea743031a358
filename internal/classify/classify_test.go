package classify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/korvuslabs/prowl/api/schemas"
)

func TestClassifyTable(t *testing.T) {
	cases := []struct {
		name          string
		raw           RawResult
		requiredField string
		want          schemas.ErrorKind
	}{
		{
			name: "empty body after transport success is bot detection",
			raw:  RawResult{StatusCode: 200, Body: "   "},
			want: schemas.KindBotDetected,
		},
		{
			name: "empty response exception marker",
			raw:  RawResult{StatusCode: 200, Body: `{"error": "EmptyResponseException: no data"}`},
			want: schemas.KindBotDetected,
		},
		{
			name: "blocked marker is case insensitive",
			raw:  RawResult{StatusCode: 200, Body: "Request BLOCKED by upstream"},
			want: schemas.KindBotDetected,
		},
		{
			name: "captcha marker in html",
			raw:  RawResult{StatusCode: 200, Body: `<html><div class="captcha_verify_container"></div></html>`},
			want: schemas.KindBotDetected,
		},
		{
			name: "challenge page recognized by title without marker text",
			raw:  RawResult{StatusCode: 200, Body: `<html><head><title>Security Check</title></head><body>please wait</body></html>`},
			want: schemas.KindBotDetected,
		},
		{
			name: "429 is rate limited",
			raw:  RawResult{StatusCode: 429, Body: `{"message": "too many requests"}`},
			want: schemas.KindRateLimited,
		},
		{
			name: "minus one status with empty user info is not found",
			raw:  RawResult{StatusCode: 200, Body: `{"statusCode": -1, "userInfo": {}}`},
			want: schemas.KindNotFound,
		},
		{
			name: "unquoted status sentinel with empty user info is not found",
			raw:  RawResult{StatusCode: 200, Body: `{statusCode: -1, userInfo: { }}`},
			want: schemas.KindNotFound,
		},
		{
			name: "numeric minus one status without user info is auth error",
			raw:  RawResult{StatusCode: -1, Body: `{"message": "failed"}`},
			want: schemas.KindAuthError,
		},
		{
			name: "401 is auth error",
			raw:  RawResult{StatusCode: 401, Body: `{"message": "unauthorized"}`},
			want: schemas.KindAuthError,
		},
		{
			name: "403 is auth error",
			raw:  RawResult{StatusCode: 403, Body: `{"message": "forbidden"}`},
			want: schemas.KindAuthError,
		},
		{
			name:          "2xx missing required field is data error",
			raw:           RawResult{StatusCode: 200, Body: `{"statusMsg": "ok"}`},
			requiredField: "itemList",
			want:          schemas.KindDataError,
		},
		{
			name:          "2xx with null required field is data error",
			raw:           RawResult{StatusCode: 200, Body: `{"itemList": null}`},
			requiredField: "itemList",
			want:          schemas.KindDataError,
		},
		{
			name:          "non-json 2xx body is data error when a field is required",
			raw:           RawResult{StatusCode: 200, Body: `plain text`},
			requiredField: "itemList",
			want:          schemas.KindDataError,
		},
		{
			name: "unrecognized 5xx is upstream error",
			raw:  RawResult{StatusCode: 502, Body: `{"message": "bad gateway"}`},
			want: schemas.KindUpstreamError,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := Classify(tc.raw, tc.requiredField)
			require.NotNil(t, out)
			assert.Equal(t, tc.want, out.Kind)
			assert.Equal(t, tc.raw, out.Raw, "classification must preserve the raw evidence")
			assert.NotEmpty(t, out.Message)
		})
	}
}

func TestClassifySuccess(t *testing.T) {
	raw := RawResult{StatusCode: 200, Body: `{"itemList": [{"id": "1"}], "statusCode": 0}`}
	assert.Nil(t, Classify(raw, "itemList"))

	// Without a required field any 2xx body passes.
	assert.Nil(t, Classify(RawResult{StatusCode: 200, Body: `{"anything": true}`}, ""))
}

func TestClassifyIsDeterministic(t *testing.T) {
	raw := RawResult{StatusCode: 429, Body: `{"message": "slow down"}`}
	first := Classify(raw, "")
	second := Classify(raw, "")
	assert.Equal(t, first, second)
}

func TestRetryable(t *testing.T) {
	retryable := []schemas.ErrorKind{
		schemas.KindRateLimited,
		schemas.KindBotDetected,
		schemas.KindUpstreamError,
	}
	terminal := []schemas.ErrorKind{
		schemas.KindNotFound,
		schemas.KindAuthError,
		schemas.KindDataError,
		schemas.KindCapacityError,
		schemas.KindInvariantViolation,
		schemas.KindConfigurationError,
	}
	for _, kind := range retryable {
		assert.True(t, (&Outcome{Kind: kind}).Retryable(), string(kind))
	}
	for _, kind := range terminal {
		assert.False(t, (&Outcome{Kind: kind}).Retryable(), string(kind))
	}
}

func TestSessionInvalidating(t *testing.T) {
	assert.True(t, (&Outcome{Kind: schemas.KindBotDetected}).SessionInvalidating())
	assert.True(t, (&Outcome{Kind: schemas.KindAuthError}).SessionInvalidating())
	assert.False(t, (&Outcome{Kind: schemas.KindRateLimited}).SessionInvalidating())
	assert.False(t, (&Outcome{Kind: schemas.KindUpstreamError}).SessionInvalidating())
}

func TestEnvelope(t *testing.T) {
	out := Classify(RawResult{StatusCode: 429, Body: `{"message": "slow down"}`}, "")
	require.NotNil(t, out)

	env := out.Envelope()
	assert.False(t, env.Success)
	assert.Equal(t, schemas.KindRateLimited, env.Error)
	assert.Equal(t, out.Message, env.Message)
	assert.Equal(t, 429, env.StatusCode)
	assert.Equal(t, `{"message": "slow down"}`, env.RawError)
	assert.NotEmpty(t, env.Suggestions)
}

func TestFromTransportError(t *testing.T) {
	out := FromTransportError(errors.New("net/http: request canceled, blocked by client policy"))
	assert.Equal(t, schemas.KindBotDetected, out.Kind)

	out = FromTransportError(errors.New("context deadline exceeded"))
	assert.Equal(t, schemas.KindUpstreamError, out.Kind)
	assert.Equal(t, "upstream call timed out", out.Message)

	out = FromTransportError(errors.New("connection reset by peer"))
	assert.Equal(t, schemas.KindUpstreamError, out.Kind)
	assert.Equal(t, "upstream call failed", out.Message)
}

func TestAsOutcome(t *testing.T) {
	orig := CapacityErrorf("owner %q at capacity", "alice")
	assert.Same(t, orig, AsOutcome(orig))

	wrapped := AsOutcome(context.DeadlineExceeded)
	require.NotNil(t, wrapped)
	assert.Equal(t, schemas.KindUpstreamError, wrapped.Kind)
}

func TestConstructorKinds(t *testing.T) {
	assert.Equal(t, schemas.KindCapacityError, CapacityErrorf("full").Kind)
	assert.Equal(t, schemas.KindInvariantViolation, InvariantViolationf("double release").Kind)
	assert.Equal(t, schemas.KindConfigurationError, ConfigurationErrorf("bad engine").Kind)
}
