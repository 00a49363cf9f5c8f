package openai

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// StatusError is a non-2xx answer from the upstream API. It unwraps to the
// domain sentinel of the call that failed.
type StatusError struct {
	StatusCode int
	Message    string
	sentinel   error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// HTTPStatus lets the retry policy classify the failure.
func (e *StatusError) HTTPStatus() int { return e.StatusCode }

func (e *StatusError) Unwrap() error { return e.sentinel }

// upstreamError maps a go-openai error onto sentinel. Transport failures
// without a status keep their cause in the chain.
func upstreamError(err, sentinel error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &StatusError{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message, sentinel: sentinel}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &StatusError{StatusCode: reqErr.HTTPStatusCode, Message: bodyMessage(reqErr.Body), sentinel: sentinel}
	}

	return fmt.Errorf("request failed: %w: %w", sentinel, err)
}

// bodyMessage pulls a readable message out of a raw error body. Nebius
// answers {"detail": "..."}, Ollama answers {"error": "..."}.
func bodyMessage(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
		Error  any    `json:"error"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		if parsed.Detail != "" {
			return parsed.Detail
		}
		switch v := parsed.Error.(type) {
		case string:
			if v != "" {
				return v
			}
		case map[string]any:
			if m, ok := v["message"].(string); ok && m != "" {
				return m
			}
		}
	}
	return strings.TrimSpace(string(body))
}
