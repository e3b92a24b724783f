// Package bitfinex 实现 Bitfinex 公共 API 的资金盘口快照抓取。
// 接口: GET {base_url}/v2/book/{symbol}/P{period}?len={length}
// 响应为元组数组；错误时返回 ["error", code, "message"]。
package bitfinex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"funding-depth-monitor/internal/config"
	"funding-depth-monitor/internal/util/backoff"
)

// maxBodyBytes 响应体上限
const maxBodyBytes = 4 << 20

// ErrRateLimited 处于限流暂停窗口内
var ErrRateLimited = errors.New("数据源限流，暂停抓取")

// pacer 单个周期标识的限流状态
type pacer struct {
	bo    *backoff.Backoff
	until time.Time
}

// Fetcher HTTP 快照抓取器
// 可被多个 goroutine 并发调用（不同周期标识）。
type Fetcher struct {
	// client HTTP 客户端
	client *http.Client
	// baseURL API 地址（不含末尾斜杠）
	baseURL string
	symbol  string
	length  int
	logger  *zap.Logger

	// now 当前时间，测试可替换
	now func() time.Time

	mu     sync.Mutex
	pacers map[int]*pacer
}

// NewFetcher 创建快照抓取器
// 参数 cfg: 数据源配置
// 参数 logger: 日志记录器
func NewFetcher(cfg config.SourceConfig, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		client:  &http.Client{Timeout: cfg.Timeout()},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		symbol:  cfg.Symbol,
		length:  cfg.Length,
		logger:  logger.Named("bitfinex"),
		now:     time.Now,
		pacers:  make(map[int]*pacer),
	}
}

// URL 构造指定周期标识的快照地址
func (f *Fetcher) URL(periodID int) string {
	return fmt.Sprintf("%s/v2/book/%s/P%d?len=%d", f.baseURL, f.symbol, periodID, f.length)
}

// Fetch 抓取指定周期标识的原始快照
// 返回的字节即响应体；格式校验由归一化器负责。
func (f *Fetcher) Fetch(ctx context.Context, periodID int) ([]byte, error) {
	if until, limited := f.pausedUntil(periodID); limited {
		return nil, fmt.Errorf("%w，恢复时间 %s", ErrRateLimited, until.Format(time.RFC3339))
	}

	body, status, err := f.doRequest(ctx, f.URL(periodID))
	if err != nil {
		return nil, err
	}

	if status == http.StatusTooManyRequests {
		wait := f.pause(periodID)
		f.logger.Warn("数据源限流", zap.Int("period", periodID), zap.Duration("pause", wait))
		return nil, fmt.Errorf("%w: HTTP 429", ErrRateLimited)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("HTTP 状态码错误: %d", status)
	}
	if msg, ok := apiError(body); ok {
		return nil, fmt.Errorf("Bitfinex API 返回错误: %s", msg)
	}

	f.resume(periodID)
	return body, nil
}

// doRequest 执行 HTTP GET 请求
// 返回: 响应体、状态码
func (f *Fetcher) doRequest(ctx context.Context, url string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("User-Agent", "funding-depth-monitor/1.0")
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("发送请求失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("读取响应体失败: %w", err)
	}
	return body, resp.StatusCode, nil
}

func (f *Fetcher) pausedUntil(periodID int) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pacers[periodID]
	if !ok || p.until.IsZero() {
		return time.Time{}, false
	}
	return p.until, f.now().Before(p.until)
}

func (f *Fetcher) pause(periodID int) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pacers[periodID]
	if !ok {
		p = &pacer{bo: backoff.NewDefault()}
		f.pacers[periodID] = p
	}
	wait := p.bo.Next()
	p.until = f.now().Add(wait)
	return wait
}

func (f *Fetcher) resume(periodID int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.pacers[periodID]; ok {
		p.bo.Reset()
		p.until = time.Time{}
	}
}

// apiError 识别 ["error", code, "message"] 形式的错误响应
func apiError(body []byte) (string, bool) {
	trimmed := bytes.TrimSpace(body)
	if !bytes.HasPrefix(trimmed, []byte(`["error"`)) {
		return "", false
	}
	var parts []any
	if err := json.Unmarshal(trimmed, &parts); err != nil {
		return "error", true
	}
	msg := make([]string, 0, len(parts)-1)
	for _, p := range parts[1:] {
		msg = append(msg, fmt.Sprint(p))
	}
	return strings.Join(msg, " "), true
}
