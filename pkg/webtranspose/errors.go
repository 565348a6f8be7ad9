package webtranspose

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sells-group/webtranspose/internal/resilience"
)

// Kind discriminates the error classes callers branch on.
type Kind int

const (
	// KindUnknown is reported for errors that did not originate in this package.
	KindUnknown Kind = iota
	// KindConfig covers invalid input and missing credentials. Always local, never retried.
	KindConfig
	// KindTransport covers network failures, timeouts and unparseable non-2xx responses.
	KindTransport
	// KindRemote means the service understood the request but could not complete it.
	KindRemote
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindTransport:
		return "transport"
	case KindRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// Well-known error codes. Remote codes reported by the service are passed through as-is.
const (
	CodeMissingAPIKey   = "missing_api_key"
	CodeInvalidRequest  = "invalid_request"
	CodeInvalidResponse = "invalid_response"
	CodeFirstPageFailed = "first_page_failed"
	CodeSchemaMismatch  = "schema_mismatch"
	CodeJobFailed       = "job_failed"
	CodeCircuitOpen     = "circuit_open"
	CodeTimeout         = "timeout"
)

// Error is the single error type returned by Client operations.
type Error struct {
	Kind       Kind
	Op         string // API path or local operation name
	StatusCode int    // HTTP status, 0 when no response was received
	Code       string
	Message    string
	Err        error
}

// ErrMissingAPIKey matches (via errors.Is) any error caused by an absent credential.
var ErrMissingAPIKey = &Error{
	Kind:    KindConfig,
	Code:    CodeMissingAPIKey,
	Message: "no API key provided; pass one explicitly or set " + EnvAPIKey,
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("webtranspose")
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.String())
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " HTTP %d", e.StatusCode)
	}
	if e.Code != "" {
		b.WriteString(" [")
		b.WriteString(e.Code)
		b.WriteString("]")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same kind and code, so sentinels like
// ErrMissingAPIKey match regardless of Op.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Code == "" {
		return false
	}
	return t.Kind == e.Kind && t.Code == e.Code
}

// Retryable reports whether repeating the same request may succeed.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindTransport:
		return e.Code != CodeCircuitOpen
	case KindRemote:
		return resilience.IsTransientHTTPStatus(e.StatusCode)
	default:
		return false
	}
}

// IsQuota reports whether the service rejected the call for quota or rate-limit reasons.
func (e *Error) IsQuota() bool {
	if e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusPaymentRequired {
		return true
	}
	code := strings.ToLower(e.Code)
	return strings.Contains(code, "quota") || strings.Contains(code, "rate_limit") || strings.Contains(code, "rate limit")
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsConfig reports whether err is a local configuration error.
func IsConfig(err error) bool { return KindOf(err) == KindConfig }

// IsTransport reports whether err is a transport error.
func IsTransport(err error) bool { return KindOf(err) == KindTransport }

// IsRemote reports whether err is a remote semantic error.
func IsRemote(err error) bool { return KindOf(err) == KindRemote }

func configErrorf(op, format string, args ...any) *Error {
	return &Error{
		Kind:    KindConfig,
		Op:      op,
		Code:    CodeInvalidRequest,
		Message: fmt.Sprintf(format, args...),
	}
}

func missingKeyError(op string) *Error {
	e := *ErrMissingAPIKey
	e.Op = op
	return &e
}

func transportError(op string, status int, err error) *Error {
	return &Error{Kind: KindTransport, Op: op, StatusCode: status, Err: err}
}

func remoteError(op string, status int, code, msg string) *Error {
	return &Error{Kind: KindRemote, Op: op, StatusCode: status, Code: code, Message: msg}
}

// apiErrorBody covers the error envelopes the service is known to emit:
// {"error":"..."}, {"error":{"code":"..","message":".."}}, {"detail":"..."},
// and {"code":"..","message":".."}.
type apiErrorBody struct {
	Error   json.RawMessage `json:"error"`
	Detail  json.RawMessage `json:"detail"`
	Message string          `json:"message"`
	Code    string          `json:"code"`
}

type nestedError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// classifyStatus turns a non-2xx response into an *Error. A response whose body
// carries a recognizable error envelope is a remote error; anything else is a
// transport error.
func classifyStatus(op string, status int, body []byte) *Error {
	code, msg, ok := parseErrorBody(body)
	if !ok {
		return &Error{
			Kind:       KindTransport,
			Op:         op,
			StatusCode: status,
			Message:    truncate(strings.TrimSpace(string(body)), 256),
		}
	}
	return remoteError(op, status, code, msg)
}

func parseErrorBody(body []byte) (code, msg string, ok bool) {
	var env apiErrorBody
	if err := json.Unmarshal(body, &env); err != nil {
		return "", "", false
	}
	code, msg = env.Code, env.Message

	if len(env.Error) > 0 {
		var s string
		var nested nestedError
		switch {
		case json.Unmarshal(env.Error, &s) == nil:
			if msg == "" {
				msg = s
			}
		case json.Unmarshal(env.Error, &nested) == nil:
			if nested.Code != "" {
				code = nested.Code
			}
			if nested.Message != "" {
				msg = nested.Message
			}
		}
	}
	if msg == "" && len(env.Detail) > 0 {
		var s string
		if json.Unmarshal(env.Detail, &s) == nil {
			msg = s
		} else {
			msg = string(env.Detail)
		}
	}
	return code, msg, code != "" || msg != ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
