package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes for the chat connection and reconciliation core.
const (
	CodeConnectionTimeout    = "CONNECTION_TIMEOUT"
	CodeAuthenticationError  = "AUTHENTICATION_ERROR"
	CodeAuthenticationFailed = "AUTHENTICATION_FAILED"
	CodeServerClosedSession  = "SERVER_CLOSED_SESSION"
	CodeSnapshotUnavailable  = "SNAPSHOT_UNAVAILABLE"
	CodeSendFailed           = "SEND_FAILED"
	CodeUploadFailed         = "UPLOAD_FAILED"
	CodeUnsupportedMedia     = "UNSUPPORTED_MEDIA"
	CodeFileTooLarge         = "FILE_TOO_LARGE"
)

type AppError struct {
	Code    string
	Message string
	Status  int
	Err     error
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(code string, message string, status int, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
		Err:     err,
	}
}

// ConnectionTimeout signals that the handshake got no acknowledgment in time.
func ConnectionTimeout(message string, err error) *AppError {
	return &AppError{
		Code:    CodeConnectionTimeout,
		Message: message,
		Status:  http.StatusRequestTimeout,
		Err:     err,
	}
}

// AuthenticationError signals an explicit handshake rejection (bad or expired
// credential). The manager may still recover by fetching a newer token.
func AuthenticationError(message string, err error) *AppError {
	return &AppError{
		Code:    CodeAuthenticationError,
		Message: message,
		Status:  http.StatusUnauthorized,
		Err:     err,
	}
}

// AuthenticationFailed is terminal: no newer credential exists, the caller
// has to prompt a re-login.
func AuthenticationFailed(message string, err error) *AppError {
	return &AppError{
		Code:    CodeAuthenticationFailed,
		Message: message,
		Status:  http.StatusUnauthorized,
		Err:     err,
	}
}

func ServerClosedSession(message string, err error) *AppError {
	return &AppError{
		Code:    CodeServerClosedSession,
		Message: message,
		Status:  http.StatusGone,
		Err:     err,
	}
}

func SnapshotUnavailable(message string, err error) *AppError {
	return &AppError{
		Code:    CodeSnapshotUnavailable,
		Message: message,
		Status:  http.StatusServiceUnavailable,
		Err:     err,
	}
}

func SendFailed(message string, err error) *AppError {
	return &AppError{
		Code:    CodeSendFailed,
		Message: message,
		Status:  http.StatusBadGateway,
		Err:     err,
	}
}

func UploadFailed(message string, err error) *AppError {
	return &AppError{
		Code:    CodeUploadFailed,
		Message: message,
		Status:  http.StatusBadGateway,
		Err:     err,
	}
}

func UnsupportedMedia(message string) *AppError {
	return &AppError{
		Code:    CodeUnsupportedMedia,
		Message: message,
		Status:  http.StatusUnsupportedMediaType,
		Err:     nil,
	}
}

func FileTooLarge(message string) *AppError {
	return &AppError{
		Code:    CodeFileTooLarge,
		Message: message,
		Status:  http.StatusRequestEntityTooLarge,
		Err:     nil,
	}
}

func BadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    "BAD_REQUEST",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     err,
	}
}

func Internal(message string, err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: message,
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

func Is(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
