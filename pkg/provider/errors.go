package provider

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind 提供商错误分类
type ErrorKind string

const (
	KindRateLimit   ErrorKind = "rate_limit"         // 配额耗尽
	KindNetwork     ErrorKind = "network"            // 网络或服务端故障
	KindAuth        ErrorKind = "auth"               // 认证或权限错误
	KindNotFound    ErrorKind = "not_found"          // 资源不存在
	KindInvalidRepo ErrorKind = "invalid_repository" // 仓库标识或请求参数非法
	KindTimeout     ErrorKind = "timeout"            // 请求超时
	KindAborted     ErrorKind = "aborted"            // 请求被调用方取消
	KindUnavailable ErrorKind = "unavailable"        // 熔断器打开，提供商暂时不可用
	KindUnknown     ErrorKind = "unknown"            // 未分类错误
)

// Error 提供商统一错误类型，携带分类供调用方决定重试策略。
type Error struct {
	Kind       ErrorKind     // 错误分类
	Provider   string        // 提供商名称
	Message    string        // 错误描述
	Cause      error         // 底层错误
	RetryAfter time.Duration // 配额类错误的建议等待时长，0表示未知
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s/%s] %s: %v", e.Provider, e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s/%s] %s", e.Provider, e.Kind, e.Message)
}

// Unwrap 返回底层错误。
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError 创建提供商错误。
func NewError(kind ErrorKind, providerName, message string) *Error {
	return &Error{
		Kind:     kind,
		Provider: providerName,
		Message:  message,
	}
}

// WrapError 包装底层错误。
func WrapError(kind ErrorKind, providerName, message string, cause error) *Error {
	return &Error{
		Kind:     kind,
		Provider: providerName,
		Message:  message,
		Cause:    cause,
	}
}

// KindOf 返回错误的分类，非提供商错误返回 KindUnknown。
func KindOf(err error) ErrorKind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return KindUnknown
}

// IsRateLimited 判断错误是否为配额耗尽。
func IsRateLimited(err error) bool {
	return KindOf(err) == KindRateLimit
}
