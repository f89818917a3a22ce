// Package apperr задаёт таксономию ошибок движка сцены.
package apperr

import (
	"errors"
	"net/http"
)

// ============================================================
// Codes
// ============================================================

type Code string

const (
	CodeUnknown          Code = "UNKNOWN"
	CodeInvalidInput     Code = "INVALID_INPUT"
	CodeNotFound         Code = "NOT_FOUND"
	CodeTransport        Code = "TRANSPORT"
	CodeGenerationFailed Code = "GENERATION_FAILED"
	CodeConflict         Code = "CONFLICT"
)

// HTTPStatus сопоставляет код со статусом ответа.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeTransport:
		return http.StatusBadGateway
	case CodeGenerationFailed:
		return http.StatusBadGateway
	case CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// ============================================================
// Error
// ============================================================

type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil && e.Message == "" {
		return e.Cause.Error()
	}
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is сравнивает ошибки по коду, чтобы errors.Is(err, apperr.ErrNotFound) работал для любой обёртки.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// Sentinels for errors.Is.
var (
	ErrInvalidInput     = &Error{Code: CodeInvalidInput, Message: "invalid input"}
	ErrNotFound         = &Error{Code: CodeNotFound, Message: "not found"}
	ErrTransport        = &Error{Code: CodeTransport, Message: "transport error"}
	ErrGenerationFailed = &Error{Code: CodeGenerationFailed, Message: "generation failed"}
	ErrConflict         = &Error{Code: CodeConflict, Message: "conflict"}
)

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func InvalidInput(message string) *Error {
	return New(CodeInvalidInput, message)
}

func NotFound(message string) *Error {
	return New(CodeNotFound, message)
}

func Transport(message string, cause error) *Error {
	return Wrap(CodeTransport, message, cause)
}

func GenerationFailed(message string) *Error {
	return New(CodeGenerationFailed, message)
}

// CodeOf возвращает код первой *Error в цепочке.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// Retryable: повторять имеет смысл только транспортные сбои.
func Retryable(err error) bool {
	return CodeOf(err) == CodeTransport
}
