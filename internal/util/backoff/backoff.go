// Package backoff 实现指数退避。
// 数据源返回限流（HTTP 429）时，抓取器据此计算暂停窗口，避免持续触发限流。
package backoff

import (
	"math/rand"
	"time"
)

// Backoff 指数退避计算器（非并发安全）
// 每次调用 Next() 返回下一次等待时间: base * 2^attempt，封顶 max，并叠加 ±jitter 抖动。
type Backoff struct {
	base    time.Duration
	max     time.Duration
	jitter  float64
	attempt int
}

// New 创建退避计算器
// 参数 base: 基础等待时间
// 参数 max: 最大等待时间（抖动前）
// 参数 jitter: 抖动比例（0-1），0.2 表示 ±20%
func New(base, max time.Duration, jitter float64) *Backoff {
	return &Backoff{base: base, max: max, jitter: jitter}
}

// NewDefault 创建默认配置的退避计算器
// 基础间隔 5s，最大间隔 60s，抖动 ±20%；公共 API 的限流窗口以分钟计。
func NewDefault() *Backoff {
	return New(5*time.Second, 60*time.Second, 0.2)
}

// Next 获取下一次等待时间并增加重试次数
func (b *Backoff) Next() time.Duration {
	delay := b.max
	// 先右移上限再比较，避免左移溢出
	if b.attempt < 63 && b.base <= b.max>>uint(b.attempt) {
		delay = b.base << uint(b.attempt)
	}

	if b.jitter > 0 {
		factor := 1.0 + (rand.Float64()*2-1)*b.jitter
		delay = time.Duration(float64(delay) * factor)
	}

	b.attempt++
	return delay
}

// Reset 重置重试次数，在请求成功后调用
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempt 当前重试次数
func (b *Backoff) Attempt() int {
	return b.attempt
}
