// Package apperr 定义了流水线和 API 共用的错误分类。
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind 表示错误的类别，决定调用方的处理方式（中止、跳过、重试或拒绝请求）。
type Kind string

const (
	InputNotFound       Kind = "input_not_found"
	MalformedField      Kind = "malformed_field"
	UpstreamUnavailable Kind = "upstream_unavailable"
	Validation          Kind = "validation"
	TransientIO         Kind = "transient_io"
	QuotaExceeded       Kind = "quota_exceeded"
	Timeout             Kind = "timeout"
	Internal            Kind = "internal"
)

// AppError 携带类别、发生位置和面向用户的消息，Raw 保留底层错误。
type AppError struct {
	Kind    Kind
	Op      string
	Message string
	Raw     error
}

func (e *AppError) Error() string {
	msg := e.Message
	if msg == "" && e.Raw != nil {
		msg = e.Raw.Error()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Raw != nil && e.Message != "" {
		return fmt.Sprintf("%s: %v", msg, e.Raw)
	}
	return msg
}

func (e *AppError) Unwrap() error {
	return e.Raw
}

// HTTPStatus 返回该错误对应的 HTTP 状态码。
func (e *AppError) HTTPStatus() int {
	switch e.Kind {
	case Validation, MalformedField:
		return http.StatusBadRequest
	case InputNotFound:
		return http.StatusNotFound
	case Timeout:
		return http.StatusGatewayTimeout
	case QuotaExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// New 创建一个不带底层错误的 AppError。
func New(kind Kind, op, message string) *AppError {
	return &AppError{Kind: kind, Op: op, Message: message}
}

// Wrap 用指定类别包装底层错误；err 为 nil 时返回 nil。
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &AppError{Kind: kind, Op: op, Raw: err}
}

// Wrapf 用指定类别和消息包装底层错误。
func Wrapf(kind Kind, op string, err error, format string, args ...interface{}) error {
	return &AppError{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...), Raw: err}
}

// KindOf 返回错误链中第一个 AppError 的类别，找不到时返回 Internal。
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return Internal
}

// Is 判断错误链中是否存在指定类别的 AppError。
func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}

// HTTPStatus 返回任意错误对应的状态码，非 AppError 一律视为 500。
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// PublicMessage 返回可以直接放进响应体的消息。
func PublicMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return "internal server error"
}
