package cycle

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"funding-depth-monitor/internal/config"
	"funding-depth-monitor/internal/core/model"
	"funding-depth-monitor/internal/core/normalize"
	"funding-depth-monitor/internal/metrics"
)

type fakeFetcher struct {
	mu       sync.Mutex
	payloads map[int]string
	errs     map[int]error
	panics   map[int]bool
	calls    map[int]int
}

func (f *fakeFetcher) Fetch(ctx context.Context, periodID int) ([]byte, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[int]int)
	}
	f.calls[periodID]++
	payload, ok := f.payloads[periodID]
	err := f.errs[periodID]
	shouldPanic := f.panics[periodID]
	f.mu.Unlock()

	if shouldPanic {
		panic("boom")
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		// 模拟超时
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return []byte(payload), nil
}

type staticAlerts []model.Alert

func (s staticAlerts) Alerts() []model.Alert { return s }

type recordingPublisher struct {
	mu      sync.Mutex
	updates []*model.Update
	err     error
}

func (p *recordingPublisher) Publish(_ context.Context, up *model.Update) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, up)
	return p.err
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.updates)
}

func bookConfig(periods ...int) config.BookConfig {
	return config.BookConfig{
		PeriodIDs:              periods,
		DisplayPrecision:       3,
		AlertPrecision:         8,
		RefreshIntervalSeconds: 0.01,
		FetchTimeoutMs:         50,
	}
}

func newTestRunner(t *testing.T, cfg config.BookConfig, f Fetcher, alerts AlertSource, pub Publisher) (*Runner, *metrics.Metrics) {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	return NewRunner(cfg, f, alerts, pub, normalize.New(normalize.SchemaV2), m, zap.NewNop()), m
}

func TestRunCycle_MergesPeriodsAndEvaluates(t *testing.T) {
	alert, err := model.NewAlert("usd", 0.05, 1.0, time.Now())
	require.NoError(t, err)

	f := &fakeFetcher{payloads: map[int]string{
		2:  `[[0.0002,2,5,1000000],[0.0002,2,3,500000],[0.0006,2,1,-400000]]`,
		30: `[[0.00021,30,1,250000]]`,
	}}
	pub := &recordingPublisher{}
	r, m := newTestRunner(t, bookConfig(2, 30), f, staticAlerts{alert}, pub)

	up := r.RunCycle(context.Background())
	require.NotNil(t, up)
	assert.Equal(t, uint64(1), up.Seq)
	assert.False(t, up.NoData)
	assert.Zero(t, up.FetchErrors)

	// 展示精度 3: 0.02 与 0.021 分为两档
	require.Len(t, up.Display.Bids, 2)
	assert.Equal(t, 0.02, up.Display.Bids[0].Rate)
	assert.Equal(t, 1500000.0, up.Display.Bids[0].TotalAmount)
	assert.Equal(t, 0.021, up.Display.Bids[1].Rate)
	assert.Equal(t, 1750000.0, up.Display.Bids[1].Cumulative)
	require.Len(t, up.Display.Asks, 1)
	assert.Equal(t, 0.06, up.Stats.BestAskRate)

	require.Len(t, up.Alerts, 1)
	assert.InDelta(t, 1.75, up.Alerts[0].AvailableLiquidity, 1e-12)
	assert.Equal(t, model.StatusSufficient, up.Alerts[0].Status)
	assert.True(t, up.Alerts[0].Notify)

	require.Equal(t, 1, pub.count())
	assert.Same(t, up, pub.updates[0])
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Cycles))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Buckets.WithLabelValues("bid")))

	// 相同数据的第二个周期不再通知
	up2 := r.RunCycle(context.Background())
	assert.Equal(t, uint64(2), up2.Seq)
	assert.False(t, up2.Alerts[0].Notify)
}

func TestRunCycle_ErrorsAreScopedToPeriod(t *testing.T) {
	f := &fakeFetcher{
		payloads: map[int]string{
			2:  `[[0.0002,2,5,1000],["bad",2,1,1]]`,
			30: `{"not":"array"}`,
		},
		errs:   map[int]error{7: errors.New("HTTP 状态码错误: 500")},
		panics: map[int]bool{120: true},
	}
	// 周期 5 没有响应，触发超时
	r, m := newTestRunner(t, bookConfig(2, 5, 7, 30, 120), f, nil, nil)

	up := r.RunCycle(context.Background())
	assert.False(t, up.NoData)
	assert.Equal(t, 3, up.FetchErrors)
	assert.Equal(t, 1, up.DroppedRecords)
	require.Len(t, up.Display.Bids, 1)
	assert.Equal(t, 1000.0, up.Display.Bids[0].TotalAmount)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.FetchErrors.WithLabelValues("5")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FetchErrors.WithLabelValues("7")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FetchErrors.WithLabelValues("120")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Issues.WithLabelValues("fetch")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Issues.WithLabelValues("snapshot_format")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Issues.WithLabelValues("record_parse")))
}

func TestRunCycle_NoData(t *testing.T) {
	alert, err := model.NewAlert("usd", 0.05, 1.0, time.Now())
	require.NoError(t, err)

	f := &fakeFetcher{errs: map[int]error{2: errors.New("down")}}
	pub := &recordingPublisher{err: errors.New("presentation down")}
	r, m := newTestRunner(t, bookConfig(2), f, staticAlerts{alert}, pub)

	up := r.RunCycle(context.Background())
	assert.True(t, up.NoData)
	require.NotNil(t, up.Display)
	assert.Empty(t, up.Display.Bids)
	assert.Empty(t, up.Display.Asks)
	require.Len(t, up.Alerts, 1)
	assert.Zero(t, up.Alerts[0].AvailableLiquidity)
	assert.Equal(t, model.StatusInsufficient, up.Alerts[0].Status)
	assert.True(t, up.Alerts[0].Alarm)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.NoDataCycles))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PublishErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues(string(model.StatusInsufficient))))
}

func TestRunCycle_AlertsUseHighPrecisionView(t *testing.T) {
	alert, err := model.NewAlert("usd", 0.05, 1.0, time.Now())
	require.NoError(t, err)

	// 0.04996% 在展示精度 3 下进位到 0.05，告警精度下仍严格低于阈值
	f := &fakeFetcher{payloads: map[int]string{2: `[[0.0004996,2,1,2000000]]`}}
	r, _ := newTestRunner(t, bookConfig(2), f, staticAlerts{alert}, nil)

	up := r.RunCycle(context.Background())
	require.Len(t, up.Display.Bids, 1)
	assert.Equal(t, 0.05, up.Display.Bids[0].Rate)

	require.Len(t, up.Alerts, 1)
	assert.Equal(t, 2.0, up.Alerts[0].AvailableLiquidity)
	assert.Equal(t, model.StatusSufficient, up.Alerts[0].Status)
	assert.Equal(t, 0.04996, up.Alerts[0].BestRate)
}

func TestRunCycle_HugeAmountsAreDropped(t *testing.T) {
	alert, err := model.NewAlert("usd", 0.05, 1.0, time.Now())
	require.NoError(t, err)

	f := &fakeFetcher{payloads: map[int]string{
		2: `[[0.0002,2,1,1e308],[0.0002,2,2,1e308],[0.0003,2,1,500000]]`,
	}}
	pub := &recordingPublisher{}
	r, m := newTestRunner(t, bookConfig(2), f, staticAlerts{alert}, pub)

	var up *model.Update
	require.NotPanics(t, func() { up = r.RunCycle(context.Background()) })
	assert.Equal(t, 2, up.DroppedRecords)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Issues.WithLabelValues("record_parse")))

	require.Len(t, up.Display.Bids, 1)
	assert.Equal(t, 500000.0, up.Display.Bids[0].Cumulative)
	require.Len(t, up.Alerts, 1)
	assert.Equal(t, 0.5, up.Alerts[0].AvailableLiquidity)
	assert.Equal(t, model.StatusInsufficient, up.Alerts[0].Status)

	_, err = json.Marshal(up)
	assert.NoError(t, err)
	assert.Equal(t, 1, pub.count())
}

type panickingAlerts struct{}

func (panickingAlerts) Alerts() []model.Alert { panic("alert source broken") }

func TestRunCycle_PanicPublishesEmptyUpdate(t *testing.T) {
	f := &fakeFetcher{payloads: map[int]string{2: `[[0.0002,2,1,1000]]`}}
	pub := &recordingPublisher{}
	r, m := newTestRunner(t, bookConfig(2), f, panickingAlerts{}, pub)

	var up *model.Update
	require.NotPanics(t, func() { up = r.RunCycle(context.Background()) })
	require.NotNil(t, up)
	assert.Equal(t, uint64(1), up.Seq)
	assert.True(t, up.NoData)
	require.NotNil(t, up.Display)
	assert.Empty(t, up.Display.Bids)
	assert.NotNil(t, up.Alerts)

	require.Equal(t, 1, pub.count())
	assert.Same(t, up, pub.updates[0])
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Issues.WithLabelValues("cycle_panic")))

	// 下一个周期照常执行
	assert.Equal(t, uint64(2), r.RunCycle(context.Background()).Seq)
}

type panickingPublisher struct{}

func (panickingPublisher) Publish(context.Context, *model.Update) error { panic("publisher broken") }

func TestRunCycle_PublisherPanicIsContained(t *testing.T) {
	f := &fakeFetcher{payloads: map[int]string{2: `[[0.0002,2,1,1000]]`}}
	r, m := newTestRunner(t, bookConfig(2), f, nil, panickingPublisher{})

	var up *model.Update
	require.NotPanics(t, func() { up = r.RunCycle(context.Background()) })
	require.Len(t, up.Display.Bids, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PublishErrors))
}

func TestRunCycle_NilFetcher(t *testing.T) {
	r, _ := newTestRunner(t, bookConfig(2), nil, nil, nil)
	up := r.RunCycle(context.Background())
	assert.True(t, up.NoData)
	assert.Equal(t, 1, up.FetchErrors)
}

func TestPublishers_JoinErrors(t *testing.T) {
	ok := &recordingPublisher{}
	bad := &recordingPublisher{err: errors.New("bad")}
	ps := Publishers{bad, nil, ok}

	err := ps.Publish(context.Background(), &model.Update{Seq: 1})
	require.Error(t, err)
	assert.Equal(t, 1, ok.count())
	assert.Equal(t, 1, bad.count())
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := &fakeFetcher{payloads: map[int]string{2: `[[0.0002,2,1,10]]`}}
	pub := &recordingPublisher{}
	r, _ := newTestRunner(t, bookConfig(2), f, nil, pub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return pub.count() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run 未在取消后退出")
	}

	n := pub.count()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, pub.count())
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	pub := &recordingPublisher{}
	r, _ := newTestRunner(t, bookConfig(2), &fakeFetcher{}, nil, pub)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, r.Run(ctx))
	assert.Zero(t, pub.count())
}
