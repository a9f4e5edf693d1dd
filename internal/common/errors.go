package common

import (
	"errors"
	"fmt"
)

// AppError 应用级错误结构
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WrapError 包装错误
func WrapError(code, message string, err error) error {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewError 创建新错误
func NewError(code, message string) error {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// CodeOf 返回错误链中第一个 AppError 的错误码，没有则返回空串
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// HasCode 判断错误链中是否存在指定错误码，errors.Join 合并的每个分支都会检查
func HasCode(err error, code string) bool {
	switch e := err.(type) {
	case nil:
		return false
	case *AppError:
		if e == nil {
			return false
		}
		return e.Code == code || HasCode(e.Err, code)
	case interface{ Unwrap() []error }:
		for _, inner := range e.Unwrap() {
			if HasCode(inner, code) {
				return true
			}
		}
		return false
	}
	return HasCode(errors.Unwrap(err), code)
}

// 错误码常量
const (
	ErrCodeConfiguration    = "CONFIGURATION_ERROR"
	ErrCodeUpstreamNetwork  = "UPSTREAM_NETWORK_ERROR"
	ErrCodeUpstreamResponse = "UPSTREAM_RESPONSE_ERROR"
	ErrCodeParse            = "PARSE_ERROR"
	ErrCodePartialFailure   = "PARTIAL_FAILURE"
	ErrCodeAIProcessing     = "AI_PROCESSING_ERROR"
	ErrCodeInvalidInput     = "INVALID_INPUT"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeInternal         = "INTERNAL_ERROR"
)
