package webtranspose

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestError_Error(t *testing.T) {
	err := &Error{Kind: KindRemote, Op: "v1/crawl/get", StatusCode: 404, Code: "not_found", Message: "no such crawl"}
	assert.Equal(t, "webtranspose: v1/crawl/get: remote HTTP 404 [not_found]: no such crawl", err.Error())

	err = transportError("v1/search", 0, errors.New("connection refused"))
	assert.Equal(t, "webtranspose: v1/search: transport: connection refused", err.Error())
}

func TestError_IsSentinel(t *testing.T) {
	err := missingKeyError("v1/search")
	assert.ErrorIs(t, err, ErrMissingAPIKey)
	assert.ErrorIs(t, eris.Wrap(err, "cli: search"), ErrMissingAPIKey)
	assert.NotErrorIs(t, configErrorf("v1/search", "query is required"), ErrMissingAPIKey)
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"foreign", errors.New("x"), KindUnknown},
		{"config", configErrorf("op", "bad"), KindConfig},
		{"fmt wrapped", fmt.Errorf("ctx: %w", remoteError("op", 400, "", "bad")), KindRemote},
		{"eris wrapped", eris.Wrap(transportError("op", 0, context.Canceled), "outer"), KindTransport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestError_Retryable(t *testing.T) {
	assert.False(t, configErrorf("op", "x").Retryable())
	assert.True(t, transportError("op", 0, errors.New("reset")).Retryable())
	assert.False(t, (&Error{Kind: KindTransport, Code: CodeCircuitOpen}).Retryable())
	assert.True(t, remoteError("op", 503, "", "busy").Retryable())
	assert.False(t, remoteError("op", 422, "", "bad schema").Retryable())
	assert.False(t, remoteError("op", 0, CodeSchemaMismatch, "x").Retryable())
}

func TestError_IsQuota(t *testing.T) {
	assert.True(t, remoteError("op", 402, "", "pay").IsQuota())
	assert.True(t, remoteError("op", 429, "", "slow down").IsQuota())
	assert.True(t, remoteError("op", 403, "RATE_LIMIT_EXCEEDED", "").IsQuota())
	assert.False(t, remoteError("op", 403, "forbidden", "").IsQuota())
}

func TestParseErrorBody(t *testing.T) {
	tests := []struct {
		body     string
		code     string
		msg      string
		parsable bool
	}{
		{`{"error":"boom"}`, "", "boom", true},
		{`{"error":{"code":"c","message":"m"}}`, "c", "m", true},
		{`{"detail":"not found"}`, "", "not found", true},
		{`{"detail":[{"loc":["body","url"],"msg":"field required"}]}`, "", `[{"loc":["body","url"],"msg":"field required"}]`, true},
		{`{"code":"x"}`, "x", "", true},
		{`{"ok":false}`, "", "", false},
		{`Internal Server Error`, "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			code, msg, ok := parseErrorBody([]byte(tt.body))
			assert.Equal(t, tt.parsable, ok)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.msg, msg)
		})
	}
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "config", KindConfig.String())
	assert.Equal(t, "transport", KindTransport.String())
	assert.Equal(t, "remote", KindRemote.String())
	assert.Equal(t, "unknown", Kind(99).String())
}
