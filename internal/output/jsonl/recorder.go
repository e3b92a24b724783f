package jsonl

import (
	"context"
	"path/filepath"

	"go.uber.org/zap"

	"funding-depth-monitor/internal/core/model"
)

// CyclesFile 周期记录文件名
const CyclesFile = "cycles.jsonl"

// CycleRecord cycles.jsonl 中的一行
// 不包含完整档位，只保留统计与告警结果。
type CycleRecord struct {
	Seq            uint64              `json:"seq"`
	TsUnixNs       int64               `json:"ts_unix_ns"`
	NoData         bool                `json:"no_data"`
	FetchErrors    int                 `json:"fetch_errors"`
	DroppedRecords int                 `json:"dropped_records"`
	BidBuckets     int                 `json:"bid_buckets"`
	AskBuckets     int                 `json:"ask_buckets"`
	Stats          model.BookStats     `json:"stats"`
	Alerts         []model.AlertResult `json:"alerts"`
}

// NewCycleRecord 从周期结果构造记录
func NewCycleRecord(up *model.Update) CycleRecord {
	rec := CycleRecord{
		Seq:            up.Seq,
		TsUnixNs:       up.TsUnixNs,
		NoData:         up.NoData,
		FetchErrors:    up.FetchErrors,
		DroppedRecords: up.DroppedRecords,
		Stats:          up.Stats,
		Alerts:         up.Alerts,
	}
	if up.Display != nil {
		rec.BidBuckets = len(up.Display.Bids)
		rec.AskBuckets = len(up.Display.Asks)
	}
	if rec.Alerts == nil {
		rec.Alerts = []model.AlertResult{}
	}
	return rec
}

// Recorder 把每个周期结果追加到 cycles.jsonl，实现 cycle.Publisher
type Recorder struct {
	w *Writer
}

// NewRecorder 在目录 dir 下创建周期记录器
func NewRecorder(dir string, bufferSize int, logger *zap.Logger) (*Recorder, error) {
	w, err := NewWriter(filepath.Join(dir, CyclesFile), bufferSize, logger)
	if err != nil {
		return nil, err
	}
	return &Recorder{w: w}, nil
}

// Publish 实现 cycle.Publisher
// 只做投递，缓冲区满时返回 ErrBufferFull。
func (r *Recorder) Publish(_ context.Context, up *model.Update) error {
	if up == nil {
		return nil
	}
	return r.w.Write(NewCycleRecord(up))
}

// Writer 底层写入器
func (r *Recorder) Writer() *Writer { return r.w }

// Close 刷新并关闭
func (r *Recorder) Close() error {
	return r.w.Close()
}
