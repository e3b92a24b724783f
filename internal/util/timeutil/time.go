// Package timeutil 提供时间相关的工具函数。
// 周期时间戳与耗时统计统一使用纳秒整数。
package timeutil

import (
	"time"
)

var (
	// baseTime 基准时间点（包含单调时钟读数）
	baseTime = time.Now()
	// baseUnixNs 基准时间点对应的 Unix 纳秒时间戳
	baseUnixNs = baseTime.UnixNano()
)

// NowNano 获取当前时间的纳秒时间戳
// 基于单调时钟推算，系统时间跳变时周期耗时不会出现负值。
func NowNano() int64 {
	return baseUnixNs + time.Since(baseTime).Nanoseconds()
}

// NanoToTime 将纳秒时间戳转换为 UTC time.Time
func NanoToTime(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

// DurationMs 计算两个纳秒时间戳之间的毫秒差
func DurationMs(startNs, endNs int64) float64 {
	return float64(endNs-startNs) / 1_000_000.0
}
