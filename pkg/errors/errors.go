package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound = NewError("NOT_FOUND", "resource not found", http.StatusNotFound)
	ErrInternal = NewError("INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
	ErrConflict = NewError("CONFLICT", "resource conflict", http.StatusConflict)
)

type Error struct {
	Code    string
	Message string
	Status  int
	Details map[string]interface{}
	Cause   error
}

func NewError(code, message string, status int) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Status:  status,
		Details: make(map[string]interface{}),
	}
}

func (e *Error) Error() string {
	msg := e.Message

	if len(e.Details) > 0 {
		if detailMsg, ok := e.Details["message"].(string); ok && detailMsg != "" {
			msg = detailMsg
		}
	}

	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) WithCause(cause error) *Error {
	clone := e.clone()
	clone.Cause = cause
	return clone
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	clone := e.clone()
	clone.Details[key] = value
	return clone
}

func (e *Error) clone() *Error {
	details := make(map[string]interface{}, len(e.Details))
	for k, v := range e.Details {
		details[k] = v
	}
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Status:  e.Status,
		Details: details,
		Cause:   e.Cause,
	}
}

// Soft marks an error as recoverable for the current message: the stage logs
// it and the pipeline continues with partial state.
type SoftError struct {
	Err error
}

func (e *SoftError) Error() string {
	return e.Err.Error()
}

func (e *SoftError) Unwrap() error {
	return e.Err
}

func Soft(err error) error {
	if err == nil {
		return nil
	}
	return &SoftError{Err: err}
}

func IsSoft(err error) bool {
	var soft *SoftError
	return errors.As(err, &soft)
}

type ErrorResponse struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func ToHTTPStatus(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return http.StatusInternalServerError
}

func ToErrorResponse(err error) ErrorResponse {
	var e *Error
	if errors.As(err, &e) {
		resp := ErrorResponse{
			Code:    e.Code,
			Message: e.Message,
		}
		if len(e.Details) > 0 {
			resp.Details = e.Details
		}
		return resp
	}
	return ErrorResponse{
		Code:    ErrInternal.Code,
		Message: ErrInternal.Message,
	}
}
