package cache

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode 是一个字符串类型，用于表示缓存子系统中所有预定义的错误类别。
type ErrorCode string

// 标准错误代码常量定义了缓存子系统中可能出现的各种错误。
const (
	// ErrValidation 表示缓存条目构造或反序列化时的校验失败。
	ErrValidation ErrorCode = "VALIDATION"
	// ErrEntryMiss 表示在缓存中未找到请求的条目。
	ErrEntryMiss ErrorCode = "ENTRY_MISS"
	// ErrQuotaExceeded 表示存储配额已满，无法写入新条目。
	ErrQuotaExceeded ErrorCode = "QUOTA_EXCEEDED"
	// ErrCorrupted 表示存储中的记录已损坏，无法还原为缓存条目。
	ErrCorrupted ErrorCode = "CORRUPTED"

	// ErrStorageIO 表示存储后端发生了I/O错误。
	ErrStorageIO ErrorCode = "STORAGE_IO"
	// ErrStorageUnavailable 表示存储后端不可用（持久层探测失败时使用）。
	ErrStorageUnavailable ErrorCode = "STORAGE_UNAVAILABLE"
	// ErrStorageClosed 表示尝试访问已关闭的存储。
	ErrStorageClosed ErrorCode = "STORAGE_CLOSED"

	// ErrSerializeFailed 表示负载序列化失败。
	ErrSerializeFailed ErrorCode = "SERIALIZE_FAILED"
	// ErrDeserializeFailed 表示负载反序列化失败。
	ErrDeserializeFailed ErrorCode = "DESERIALIZE_FAILED"
)

// CacheError 是缓存子系统的自定义错误类型。
// 它包含了错误代码、消息、可选的原始错误(cause)和附加上下文信息。
type CacheError struct {
	Code      ErrorCode              `json:"code"`              // 错误的分类代码
	Message   string                 `json:"message"`           // 人类可读的错误信息
	Cause     error                  `json:"-"`                 // 导致此错误的原始错误
	Context   map[string]interface{} `json:"context,omitempty"` // 额外的上下文信息
	Timestamp time.Time              `json:"timestamp"`         // 错误发生的时间戳
}

// Error 实现了 Go 内置的 error 接口。
func (e *CacheError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %s)", e.Code, e.Message, e.Cause.Error())
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap 实现了 Go 1.13+ 的错误包装接口，允许访问被包装的原始错误(Cause)。
func (e *CacheError) Unwrap() error {
	return e.Cause
}

// Is 实现了错误判断接口，用于判断一个错误是否与目标错误具有相同的错误代码。
func (e *CacheError) Is(target error) bool {
	var ce *CacheError
	if errors.As(target, &ce) {
		return e.Code == ce.Code
	}
	return false
}

// WithContext 为错误附加一个键值对形式的上下文信息。
func (e *CacheError) WithContext(key string, value interface{}) *CacheError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewCacheError 创建一个新的 CacheError。
func NewCacheError(code ErrorCode, message string) *CacheError {
	return &CacheError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// WrapError 将一个已有的 error 包装成一个新的 CacheError。
func WrapError(code ErrorCode, message string, cause error) *CacheError {
	return &CacheError{
		Code:      code,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now(),
	}
}

// IsMiss 判断错误是否为缓存未命中。
// 读路径上的记录损坏同样视为未命中：缓存只是性能优化，损坏的记录不应让读操作失败。
func IsMiss(err error) bool {
	var ce *CacheError
	if errors.As(err, &ce) {
		return ce.Code == ErrEntryMiss || ce.Code == ErrCorrupted
	}
	return false
}

// IsValidation 判断错误是否为校验失败。
func IsValidation(err error) bool {
	var ce *CacheError
	if errors.As(err, &ce) {
		return ce.Code == ErrValidation
	}
	return false
}
