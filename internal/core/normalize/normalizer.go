// Package normalize 将各周期的原始快照转换为类型化的挂单记录。
// 单条记录或单个快照出错只影响自身，不会中断整批处理。
package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"funding-depth-monitor/internal/core/model"
	"funding-depth-monitor/internal/util/fastparse"
)

// Schema 原始元组字段顺序版本
type Schema string

const (
	// SchemaV2 [rate, period, count, amount]，Bitfinex v2 资金盘口格式
	SchemaV2 Schema = "v2"
	// SchemaLegacy [rate, period, amount, count]
	SchemaLegacy Schema = "legacy"
)

// tupleLen 元组最少字段数
const tupleLen = 4

// MaxMagnitude 利率、金额与挂单数允许的最大绝对值
// 超出的记录视为损坏数据丢弃，保证聚合后的和仍在 float64 范围内。
const MaxMagnitude = 1e15

// ErrOutOfRange 数值绝对值超过 MaxMagnitude
var ErrOutOfRange = errors.New("数值超出允许范围")

// ParseSchema 解析字段顺序版本，大小写不敏感
func ParseSchema(s string) (Schema, error) {
	switch Schema(strings.ToLower(strings.TrimSpace(s))) {
	case SchemaV2:
		return SchemaV2, nil
	case SchemaLegacy:
		return SchemaLegacy, nil
	default:
		return "", fmt.Errorf("未知的元组格式 '%s'，有效值: v2, legacy", s)
	}
}

// Result 归一化结果
type Result struct {
	// Records 按周期顺序拼接的记录（每个周期内已去重）
	Records []model.OrderRecord
	// Issues 已恢复的错误: FetchError, SnapshotFormatError, RecordParseError
	Issues []error
}

// Dropped 被丢弃的记录数
func (r *Result) Dropped() int {
	n := 0
	for _, err := range r.Issues {
		if _, ok := err.(*model.RecordParseError); ok {
			n++
		}
	}
	return n
}

// Normalizer 记录归一化器
type Normalizer struct {
	schema    Schema
	ordersIdx int
	amountIdx int
}

// New 创建归一化器
// 参数 schema: 元组字段顺序版本
func New(schema Schema) *Normalizer {
	n := &Normalizer{schema: schema, ordersIdx: 2, amountIdx: 3}
	if schema == SchemaLegacy {
		n.ordersIdx, n.amountIdx = 3, 2
	}
	return n
}

// Schema 返回字段顺序版本
func (n *Normalizer) Schema() Schema { return n.schema }

// Normalize 归一化一个周期内抓取的所有快照
// 快照按传入顺序处理；每个快照内部按全元组去重（保留首次出现）。
func (n *Normalizer) Normalize(snaps []model.Snapshot) Result {
	var res Result
	for _, snap := range snaps {
		if snap.Err != nil {
			res.Issues = append(res.Issues, asFetchError(snap))
			continue
		}
		records, issues := n.normalizeSnapshot(snap)
		res.Issues = append(res.Issues, issues...)
		res.Records = append(res.Records, dedup(records)...)
	}
	return res
}

func (n *Normalizer) normalizeSnapshot(snap model.Snapshot) ([]model.OrderRecord, []error) {
	var tuples []json.RawMessage
	if err := json.Unmarshal(snap.Payload, &tuples); err != nil {
		return nil, []error{&model.SnapshotFormatError{PeriodID: snap.PeriodID, Err: err}}
	}
	if tuples == nil {
		// JSON null
		return nil, []error{&model.SnapshotFormatError{PeriodID: snap.PeriodID, Err: fmt.Errorf("响应体为 null")}}
	}

	records := make([]model.OrderRecord, 0, len(tuples))
	var issues []error
	for i, raw := range tuples {
		rec, err := n.parseTuple(raw)
		if err != nil {
			err.PeriodID = snap.PeriodID
			err.Index = i
			issues = append(issues, err)
			continue
		}
		records = append(records, rec)
	}
	return records, issues
}

func (n *Normalizer) parseTuple(raw json.RawMessage) (model.OrderRecord, *model.RecordParseError) {
	var fields []json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return model.OrderRecord{}, &model.RecordParseError{Field: "tuple", Err: err}
	}
	if len(fields) < tupleLen {
		return model.OrderRecord{}, &model.RecordParseError{Field: "tuple", Err: fmt.Errorf("字段数 %d 少于 %d", len(fields), tupleLen)}
	}

	var rec model.OrderRecord
	var err error
	if rec.Rate, err = boundedFloat(fields[0]); err != nil {
		return rec, &model.RecordParseError{Field: "rate", Err: err}
	}
	if rec.Period, err = fastparse.JSONInt(fields[1]); err != nil {
		return rec, &model.RecordParseError{Field: "period", Err: err}
	}
	if rec.Orders, err = boundedFloat(fields[n.ordersIdx]); err != nil {
		return rec, &model.RecordParseError{Field: "orders", Err: err}
	}
	if rec.Amount, err = boundedFloat(fields[n.amountIdx]); err != nil {
		return rec, &model.RecordParseError{Field: "amount", Err: err}
	}
	return rec, nil
}

func boundedFloat(raw []byte) (float64, error) {
	v, err := fastparse.JSONFloat(raw)
	if err != nil {
		return 0, err
	}
	if math.Abs(v) > MaxMagnitude {
		return 0, fmt.Errorf("%w: %g", ErrOutOfRange, v)
	}
	return v, nil
}

// dedup 按全元组相等去重，保留首次出现的顺序
func dedup(records []model.OrderRecord) []model.OrderRecord {
	if len(records) < 2 {
		return records
	}
	seen := make(map[model.OrderRecord]struct{}, len(records))
	out := records[:0]
	for _, r := range records {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

func asFetchError(snap model.Snapshot) error {
	if fe, ok := snap.Err.(*model.FetchError); ok {
		return fe
	}
	return &model.FetchError{PeriodID: snap.PeriodID, Err: snap.Err}
}
