package transport

import (
	"context"
	"errors"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/routecodex/routecodex/internal/corepipe"
)

// ErrorClassifier turns one attempt's HTTP result into a corepipe.RetrySignal.
// Each provider family gets its own classifier because the wire shape of
// upstream errors (and whether a 200 can itself signal failure) differs
// per family.
type ErrorClassifier func(result *Result, err error) corepipe.RetrySignal

// classifierFor returns the ordered error-classification cascade for a
// provider family: context cancellation, then other transport errors, then
// status-code buckets, then family-specific body inspection.
func classifierFor(family string) ErrorClassifier {
	switch family {
	case "iflow":
		return classifyIFlow
	case "antigravity":
		return classifyAntigravity
	default:
		return classifyGeneric
	}
}

func classifyGeneric(result *Result, err error) corepipe.RetrySignal {
	if sig, handled := classifyTransportError(err); handled {
		return sig
	}
	return classifyStatus(result.StatusCode, bodyMessage(result.Body))
}

// classifyTransportError handles failures that never produced an HTTP
// response at all: client disconnect / context cancellation never retries,
// everything else (DNS, connect, timeout) is retryable and asks for the
// next base URL candidate before rotating credentials.
func classifyTransportError(err error) (corepipe.RetrySignal, bool) {
	if err == nil {
		return corepipe.RetrySignal{}, false
	}
	if errors.Is(err, context.Canceled) {
		return corepipe.RetrySignal{Retryable: false, Code: "ERR_CLIENT_DISCONNECTED", Message: err.Error()}, true
	}
	return corepipe.RetrySignal{
		Retryable:   true,
		NextBaseURL: true,
		Code:        "ERR_TRANSPORT",
		Message:     err.Error(),
	}, true
}

// classifyStatus buckets an HTTP status code into a RetrySignal per the
// cascade: 401/403 try credential rotation, 404 tries the next base URL,
// 429/5xx retry with backoff, everything else (4xx client errors) is
// terminal for this provider entry.
func classifyStatus(status int, message string) corepipe.RetrySignal {
	switch {
	case status == 0:
		return corepipe.RetrySignal{Retryable: true, NextBaseURL: true, Code: "ERR_NO_RESPONSE", Message: message}
	case status == 401:
		return corepipe.RetrySignal{Retryable: true, RotateCredential: true, StatusCode: status, Code: "ERR_UNAUTHORIZED", Message: message}
	case status == 403:
		return corepipe.RetrySignal{Retryable: true, NextBaseURL: true, RotateCredential: true, StatusCode: status, Code: "ERR_FORBIDDEN", Message: message}
	case status == 404:
		return corepipe.RetrySignal{Retryable: true, NextBaseURL: true, StatusCode: status, Code: "ERR_NOT_FOUND", Message: message}
	case status == 429:
		return corepipe.RetrySignal{Retryable: true, StatusCode: status, Code: "ERR_RATE_LIMITED", Message: message}
	case status >= 500:
		return corepipe.RetrySignal{Retryable: true, StatusCode: status, Code: "ERR_UPSTREAM_5XX", Message: message}
	case status >= 400:
		return corepipe.RetrySignal{Retryable: false, ExcludeProvider: false, StatusCode: status, Code: "ERR_UPSTREAM_4XX", Message: message}
	default:
		return corepipe.RetrySignal{Retryable: false, StatusCode: status}
	}
}

// classifyIFlow additionally translates iFlow's quirk of reporting quota
// and auth failures inside an HTTP-200 body instead of the status line.
func classifyIFlow(result *Result, err error) corepipe.RetrySignal {
	if sig, handled := classifyTransportError(err); handled {
		return sig
	}
	if result.StatusCode == 200 {
		code := gjson.GetBytes(result.Body, "error.code").String()
		msg := gjson.GetBytes(result.Body, "error.message").String()
		switch {
		case code == "" && msg == "":
			return corepipe.RetrySignal{Retryable: false, StatusCode: 200}
		case strings.Contains(strings.ToLower(code), "quota"):
			return corepipe.RetrySignal{Retryable: true, StatusCode: 429, Code: "ERR_RATE_LIMITED", UpstreamCode: code, Message: msg}
		case strings.Contains(strings.ToLower(code), "auth"):
			return corepipe.RetrySignal{Retryable: true, RotateCredential: true, StatusCode: 401, Code: "ERR_UNAUTHORIZED", UpstreamCode: code, Message: msg}
		default:
			return corepipe.RetrySignal{Retryable: false, StatusCode: 400, Code: "ERR_UPSTREAM_4XX", UpstreamCode: code, Message: msg}
		}
	}
	return classifyStatus(result.StatusCode, bodyMessage(result.Body))
}

// classifyAntigravity tries the next BaseURLCandidates entry (sandbox ->
// daily -> primary) on rate limiting before ever rotating credentials,
// since Antigravity's quota is tracked per endpoint rather than per key.
func classifyAntigravity(result *Result, err error) corepipe.RetrySignal {
	if sig, handled := classifyTransportError(err); handled {
		return sig
	}
	if result.StatusCode == 429 {
		return corepipe.RetrySignal{Retryable: true, NextBaseURL: true, StatusCode: 429, Code: "ERR_RATE_LIMITED", Message: bodyMessage(result.Body)}
	}
	return classifyStatus(result.StatusCode, bodyMessage(result.Body))
}

func bodyMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	if msg := gjson.GetBytes(body, "error.message").String(); msg != "" {
		return msg
	}
	if msg := gjson.GetBytes(body, "message").String(); msg != "" {
		return msg
	}
	return string(body)
}
