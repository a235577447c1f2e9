package client

import (
	"errors"
	"fmt"
	"net/http"
)

// Session can't be used anymore: no tokens or refresh was rejected
var ErrUnauthorized = errors.New("client: unauthorized")

// Non-2xx API answer
type APIError struct {
	StatusCode int
	Code       string // 'error' field of the body
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("api error: status %d: %s", e.StatusCode, e.Message)
}

// 401 answers match ErrUnauthorized
func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.StatusCode == http.StatusUnauthorized
}
