package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var (
	ErrUnauthorized = errors.New("remote: unauthorized")
	ErrForbidden    = errors.New("remote: forbidden")
	ErrNotFound     = errors.New("remote: not found")
	ErrConflict     = errors.New("remote: conflict")
	ErrBadRequest   = errors.New("remote: bad request")
	ErrServer       = errors.New("remote: server error")
	ErrTransport    = errors.New("remote: transport failure")
	ErrDecode       = errors.New("remote: malformed response")
)

// StatusError is a non-2xx API response.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("remote: status %d", e.StatusCode)
	if e.Code != "" {
		msg += " " + e.Code
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *StatusError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case e.StatusCode == http.StatusForbidden:
		return ErrForbidden
	case e.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case e.StatusCode == http.StatusConflict:
		return ErrConflict
	case e.StatusCode == http.StatusBadRequest || e.StatusCode == http.StatusUnprocessableEntity:
		return ErrBadRequest
	case e.StatusCode >= 500:
		return ErrServer
	}
	return nil
}

type errorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

const maxErrorBody = 64 << 10

func statusError(resp *http.Response) error {
	se := &StatusError{StatusCode: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body errorBody
	if len(data) > 0 && json.Unmarshal(data, &body) == nil {
		se.Code = body.Code
		se.Message = body.Message
		if se.Message == "" {
			se.Message = body.Error
		}
	} else if len(data) > 0 {
		se.Message = strings.TrimSpace(string(data))
	}
	return se
}
