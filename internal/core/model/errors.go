package model

import (
	"errors"
	"fmt"
)

// ErrNoData 所有周期都没有产生有效记录
// 表示空盘口，由调用方决定本周期如何处理，不视为致命错误。
var ErrNoData = errors.New("没有有效的挂单记录")

// FetchError 单个周期抓取失败（含超时），该周期贡献空数据
type FetchError struct {
	PeriodID int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("抓取周期 P%d 失败: %v", e.PeriodID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// SnapshotFormatError 单个周期的响应体不是合法的 JSON 数组
type SnapshotFormatError struct {
	PeriodID int
	Err      error
}

func (e *SnapshotFormatError) Error() string {
	return fmt.Sprintf("周期 P%d 快照格式错误: %v", e.PeriodID, e.Err)
}

func (e *SnapshotFormatError) Unwrap() error { return e.Err }

// RecordParseError 单条记录解析失败，该记录被丢弃
type RecordParseError struct {
	// PeriodID 记录所在快照的周期标识
	PeriodID int
	// Index 记录在快照中的下标
	Index int
	// Field 出错字段: tuple, rate, period, amount, orders
	Field string
	Err   error
}

func (e *RecordParseError) Error() string {
	return fmt.Sprintf("周期 P%d 第 %d 条记录字段 %s 解析失败: %v", e.PeriodID, e.Index, e.Field, e.Err)
}

func (e *RecordParseError) Unwrap() error { return e.Err }
