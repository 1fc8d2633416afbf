package provider

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestErrorFormatting 测试错误信息格式
func TestErrorFormatting(t *testing.T) {
	err := NewError(KindNotFound, "github", "repository missing")
	assert.Equal(t, "[github/not_found] repository missing", err.Error())

	cause := errors.New("connection refused")
	wrapped := WrapError(KindNetwork, "github", "list commits failed", cause)
	assert.Equal(t, "[github/network] list commits failed: connection refused", wrapped.Error())
	assert.ErrorIs(t, wrapped, cause)
}

// TestKindOf 测试错误分类提取
func TestKindOf(t *testing.T) {
	assert.Equal(t, KindRateLimit, KindOf(NewError(KindRateLimit, "github", "quota")))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))

	// 包装链中的提供商错误仍可识别
	inner := NewError(KindAuth, "github", "bad token")
	outer := fmt.Errorf("load failed: %w", inner)
	assert.Equal(t, KindAuth, KindOf(outer))
}

// TestIsRateLimited 测试配额错误判定
func TestIsRateLimited(t *testing.T) {
	err := NewError(KindRateLimit, "github", "quota exhausted")
	err.RetryAfter = 30 * time.Minute
	assert.True(t, IsRateLimited(err))
	assert.False(t, IsRateLimited(NewError(KindNetwork, "github", "down")))
}

// TestRateLimitFraction 测试剩余配额比例计算
func TestRateLimitFraction(t *testing.T) {
	assert.InDelta(t, 0.05, RateLimitStatus{Remaining: 250, Limit: 5000}.Fraction(), 0.001)
	assert.InDelta(t, 1.0, RateLimitStatus{Remaining: 0, Limit: 0}.Fraction(), 0.001, "配额总数未知时视为充足")
	assert.InDelta(t, 0.0, RateLimitStatus{Remaining: 0, Limit: 100}.Fraction(), 0.001)
}
