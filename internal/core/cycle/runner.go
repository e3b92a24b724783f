// Package cycle 驱动周期性的 抓取 → 归一化 → 聚合 → 告警评估 → 发布 管线。
package cycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"funding-depth-monitor/internal/config"
	"funding-depth-monitor/internal/core/aggregate"
	"funding-depth-monitor/internal/core/alert"
	"funding-depth-monitor/internal/core/model"
	"funding-depth-monitor/internal/core/normalize"
	"funding-depth-monitor/internal/metrics"
	"funding-depth-monitor/internal/util/timeutil"
)

// Fetcher 快照抓取能力（由网络层提供）
type Fetcher interface {
	// Fetch 抓取指定周期标识的原始快照
	Fetch(ctx context.Context, periodID int) ([]byte, error)
}

// AlertSource 提供当前告警定义
type AlertSource interface {
	// Alerts 返回告警定义的快照副本
	Alerts() []model.Alert
}

// Publisher 展示层发布边界
type Publisher interface {
	Publish(ctx context.Context, up *model.Update) error
}

// Publishers 将同一个结果依次发布到多个目标
// 单个目标失败不影响其它目标，错误合并返回。
type Publishers []Publisher

// Publish 实现 Publisher
func (ps Publishers) Publish(ctx context.Context, up *model.Update) error {
	var err error
	for _, p := range ps {
		if p == nil {
			continue
		}
		err = multierr.Append(err, p.Publish(ctx, up))
	}
	return err
}

// Runner 周期驱动器
// 周期之间串行执行；同一周期内各周期标识的抓取并发进行。
type Runner struct {
	cfg        config.BookConfig
	fetcher    Fetcher
	alerts     AlertSource
	publisher  Publisher
	normalizer *normalize.Normalizer
	display    *aggregate.Aggregator
	precise    *aggregate.Aggregator
	evaluator  *alert.Evaluator
	metrics    *metrics.Metrics
	logger     *zap.Logger

	seq uint64

	// lastIssueLogNs 上次记录已恢复错误的时间（纳秒），用于采样日志
	lastIssueLogNs int64
}

// NewRunner 创建周期驱动器
// 参数 cfg: 聚合与刷新配置
// 参数 normalizer: 归一化器（决定元组字段顺序）
// 参数 m: 指标；可为 nil
func NewRunner(
	cfg config.BookConfig,
	fetcher Fetcher,
	alerts AlertSource,
	publisher Publisher,
	normalizer *normalize.Normalizer,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:        cfg,
		fetcher:    fetcher,
		alerts:     alerts,
		publisher:  publisher,
		normalizer: normalizer,
		display:    aggregate.New(cfg.DisplayPrecision),
		precise:    aggregate.New(cfg.AlertPrecision),
		evaluator:  alert.NewEvaluator(alert.NewTriggerState()),
		metrics:    m,
		logger:     logger.Named("cycle"),
	}
}

// Run 按刷新间隔循环执行周期，直到 ctx 取消
// 取消在下一个周期开始前生效，不会中断正在执行的周期。
func (r *Runner) Run(ctx context.Context) error {
	interval := r.cfg.RefreshInterval()
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("周期驱动器启动",
		zap.Ints("period_ids", r.cfg.PeriodIDs),
		zap.Duration("interval", interval),
		zap.Int("display_precision", r.cfg.DisplayPrecision),
		zap.Int("alert_precision", r.cfg.AlertPrecision),
	)

	for {
		if err := ctx.Err(); err != nil {
			r.logger.Info("周期驱动器退出", zap.Uint64("cycles", r.seq))
			return nil
		}

		r.RunCycle(ctx)

		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}
}

// RunCycle 执行一个完整周期并发布结果
// 任何错误都限定在记录、周期标识或本周期范围内，总会返回一个（可能为空的）结果。
// 周期内的 panic 被恢复，本周期改为发布空结果。
func (r *Runner) RunCycle(ctx context.Context) (up *model.Update) {
	startNs := timeutil.NowNano()
	r.seq++

	defer func() {
		p := recover()
		if p == nil {
			return
		}
		r.logger.Error("周期内发生 panic，发布空结果", zap.Uint64("seq", r.seq), zap.Any("panic", p))
		if r.metrics != nil {
			r.metrics.RecordIssues("cycle_panic", 1)
		}
		up = r.emptyUpdate(startNs)
		r.publish(ctx, up)
	}()

	return r.runCycle(ctx, startNs)
}

// emptyUpdate 构造空盘口结果
func (r *Runner) emptyUpdate(startNs int64) *model.Update {
	view := &model.BookView{Precision: r.cfg.DisplayPrecision, Bids: []model.Bucket{}, Asks: []model.Bucket{}}
	return &model.Update{
		Seq:       r.seq,
		TsUnixNs:  startNs,
		UpdatedAt: timeutil.NanoToTime(startNs),
		NoData:    true,
		Display:   view,
		Stats:     view.Stats(),
		Alerts:    []model.AlertResult{},
	}
}

// publish 发布结果；发布目标的 panic 按发布失败处理
func (r *Runner) publish(ctx context.Context, up *model.Update) {
	if r.publisher == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("发布过程发生 panic", zap.Uint64("seq", up.Seq), zap.Any("panic", p))
			if r.metrics != nil {
				r.metrics.PublishErrors.Inc()
			}
		}
	}()
	if err := r.publisher.Publish(ctx, up); err != nil {
		r.logger.Warn("发布周期结果失败", zap.Uint64("seq", up.Seq), zap.Error(err))
		if r.metrics != nil {
			r.metrics.PublishErrors.Inc()
		}
	}
}

func (r *Runner) runCycle(ctx context.Context, startNs int64) *model.Update {
	snaps := r.fetchAll(ctx)
	norm := r.normalizer.Normalize(snaps)
	r.recordIssues(norm.Issues)

	up := &model.Update{
		Seq:            r.seq,
		TsUnixNs:       startNs,
		UpdatedAt:      timeutil.NanoToTime(startNs),
		DroppedRecords: norm.Dropped(),
	}
	for _, err := range norm.Issues {
		var fe *model.FetchError
		if errors.As(err, &fe) {
			up.FetchErrors++
		}
	}

	// 两个精度独立聚合，告警不使用展示视图
	displayView, err := r.display.Build(norm.Records)
	if errors.Is(err, model.ErrNoData) {
		up.NoData = true
	}
	// 两次聚合的输入相同，NoData 已由展示视图记录；空视图照常参与评估
	preciseView, _ := r.precise.Build(norm.Records)

	up.Display = displayView
	up.Stats = displayView.Stats()
	up.Alerts = r.evaluator.Evaluate(preciseView, r.currentAlerts())

	for _, res := range up.Alerts {
		if !res.Notify {
			continue
		}
		fields := []zap.Field{
			zap.String("alert", res.Name),
			zap.String("status", string(res.Status)),
			zap.Float64("available_m", res.AvailableLiquidity),
			zap.Float64("target_m", res.TargetAmount),
			zap.Float64("threshold_rate", res.ThresholdRate),
		}
		if res.Alarm {
			r.logger.Warn("流动性低于目标", fields...)
		} else {
			r.logger.Info("告警状态变化", fields...)
		}
		if r.metrics != nil {
			r.metrics.RecordNotification(string(res.Status))
		}
	}

	r.publish(ctx, up)

	if r.metrics != nil {
		r.metrics.Cycles.Inc()
		r.metrics.CycleDurationMs.Observe(timeutil.DurationMs(startNs, timeutil.NowNano()))
		r.metrics.RecordBuckets(len(displayView.Bids), len(displayView.Asks))
		if up.NoData {
			r.metrics.NoDataCycles.Inc()
		}
	}

	r.logger.Debug("周期完成",
		zap.Uint64("seq", up.Seq),
		zap.Int("records", len(norm.Records)),
		zap.Int("bids", len(displayView.Bids)),
		zap.Int("asks", len(displayView.Asks)),
		zap.Int("alerts", len(up.Alerts)),
		zap.Bool("no_data", up.NoData),
	)
	return up
}

// fetchAll 并发抓取所有周期标识，全部完成后按配置顺序返回
func (r *Runner) fetchAll(ctx context.Context) []model.Snapshot {
	snaps := make([]model.Snapshot, len(r.cfg.PeriodIDs))
	timeout := r.cfg.FetchTimeout()

	var wg sync.WaitGroup
	for i, pid := range r.cfg.PeriodIDs {
		wg.Add(1)
		go func(i, pid int) {
			defer wg.Done()
			snaps[i] = r.fetchOne(ctx, pid, timeout)
		}(i, pid)
	}
	wg.Wait()
	return snaps
}

func (r *Runner) fetchOne(ctx context.Context, periodID int, timeout time.Duration) (snap model.Snapshot) {
	snap.PeriodID = periodID
	defer func() {
		// 抓取层的 panic 同样只影响该周期标识
		if p := recover(); p != nil {
			snap.Payload = nil
			snap.Err = &model.FetchError{PeriodID: periodID, Err: errors.New("抓取过程发生 panic")}
			r.logger.Error("抓取 panic", zap.Int("period", periodID), zap.Any("panic", p))
		}
	}()

	if r.fetcher == nil {
		snap.Err = &model.FetchError{PeriodID: periodID, Err: errors.New("未配置抓取器")}
		return snap
	}

	fctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	payload, err := r.fetcher.Fetch(fctx, periodID)
	if err != nil {
		var fe *model.FetchError
		if !errors.As(err, &fe) {
			fe = &model.FetchError{PeriodID: periodID, Err: err}
		}
		snap.Err = fe
		return snap
	}
	snap.Payload = payload
	return snap
}

func (r *Runner) currentAlerts() []model.Alert {
	if r.alerts == nil {
		return nil
	}
	return r.alerts.Alerts()
}

// recordIssues 统计已恢复错误；日志按秒采样，避免坏数据刷屏
func (r *Runner) recordIssues(issues []error) {
	if len(issues) == 0 {
		return
	}

	counts := make(map[string]int, 3)
	for _, err := range issues {
		var (
			fe *model.FetchError
			se *model.SnapshotFormatError
		)
		switch {
		case errors.As(err, &fe):
			counts["fetch"]++
			if r.metrics != nil {
				r.metrics.RecordFetchError(fe.PeriodID)
			}
		case errors.As(err, &se):
			counts["snapshot_format"]++
		default:
			counts["record_parse"]++
		}
	}
	if r.metrics != nil {
		for typ, n := range counts {
			r.metrics.RecordIssues(typ, n)
		}
	}

	nowNs := timeutil.NowNano()
	if r.lastIssueLogNs != 0 && nowNs-r.lastIssueLogNs < int64(time.Second) {
		return
	}
	r.lastIssueLogNs = nowNs
	r.logger.Warn("周期内存在已恢复错误",
		zap.Int("fetch", counts["fetch"]),
		zap.Int("snapshot_format", counts["snapshot_format"]),
		zap.Int("record_parse", counts["record_parse"]),
		zap.Error(issues[0]),
	)
}
