// Package apperr 定义了应用内统一的带错误码的错误类型。
// 所有失败都在请求边界被捕获、记录并翻译为结构化响应，不会导致进程退出。
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// 应用标准错误码。
const (
	CodeValidation      = "VALIDATION"       // 请求标识缺失或格式非法
	CodeUnauthorized    = "UNAUTHORIZED"     // 未认证
	CodeForbidden       = "FORBIDDEN"        // 无权访问目标资源
	CodeNotFound        = "NOT_FOUND"        // 引用的资源不存在
	CodeConflict        = "CONFLICT"         // 会话状态已前进或资源冲突，拒绝提交
	CodeUpstreamEmpty   = "UPSTREAM_EMPTY"   // 生成服务返回了空内容
	CodeUpstreamFailure = "UPSTREAM_FAILURE" // 生成服务调用失败
	CodePersistence     = "PERSISTENCE"      // 原子写入未能提交
	CodeInternal        = "INTERNAL"         // 其他未分类错误
)

// Error 是带错误码的应用错误。
type Error struct {
	code    string
	message string
	cause   error
}

// New 创建一个带错误码的应用错误。
func New(code, message string) *Error {
	return &Error{code: code, message: message}
}

// Wrap 在保留底层原因的同时创建一个带错误码的应用错误。
func Wrap(code, message string, cause error) *Error {
	return &Error{code: code, message: message, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Code 返回该错误的错误码。
func (e *Error) Code() string {
	return e.code
}

// Message 返回面向调用方的描述信息（不含底层原因）。
func (e *Error) Message() string {
	return e.message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is 使 errors.Is 可以按错误码匹配两个应用错误。
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.code == t.code
	}
	return false
}

// Code 提取任意错误的错误码，非应用错误返回 CodeInternal。
func Code(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code()
	}
	return CodeInternal
}

// Message 提取任意错误面向调用方的描述，非应用错误返回通用提示。
func Message(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message()
	}
	return "服务器内部错误"
}

// HTTPStatus 将错误码映射为 HTTP 状态码。
func HTTPStatus(err error) int {
	switch Code(err) {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeUpstreamEmpty, CodeUpstreamFailure:
		return http.StatusBadGateway
	case CodePersistence:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
