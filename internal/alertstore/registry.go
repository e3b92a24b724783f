package alertstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"funding-depth-monitor/internal/core/model"
)

var (
	// ErrDuplicateName 告警名称已存在
	ErrDuplicateName = errors.New("告警名称已存在")
	// ErrNotFound 告警不存在
	ErrNotFound = errors.New("告警不存在")
)

// Registry 告警注册表
// 负责创建（校验、拒绝重名）、删除和列举；每次变更后整体写回存储。
// HTTP handler 与周期驱动器会并发访问，内部加锁。
type Registry struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time

	mu     sync.RWMutex
	alerts []model.Alert
}

// NewRegistry 从存储加载告警并创建注册表
func NewRegistry(ctx context.Context, store Store, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	alerts, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("加载告警失败: %w", err)
	}
	r := &Registry{
		store:  store,
		logger: logger.Named("alerts"),
		now:    time.Now,
	}
	r.alerts = r.dropDuplicateNames(alerts)
	r.logger.Info("告警加载完成", zap.Int("alerts", len(r.alerts)))
	return r, nil
}

// dropDuplicateNames 加载时按名称去重（忽略大小写），保留先出现的告警
// 被丢弃的告警在下一次保存时从存储中移除。
func (r *Registry) dropDuplicateNames(alerts []model.Alert) []model.Alert {
	seen := make(map[string]struct{}, len(alerts))
	out := make([]model.Alert, 0, len(alerts))
	for _, a := range alerts {
		key := strings.ToLower(strings.TrimSpace(a.Name))
		if _, ok := seen[key]; ok {
			r.logger.Warn("忽略重名告警",
				zap.String("id", a.ID.String()),
				zap.String("name", a.Name),
			)
			continue
		}
		seen[key] = struct{}{}
		out = append(out, a)
	}
	return out
}

// Alerts 返回告警定义副本，实现 cycle.AlertSource
func (r *Registry) Alerts() []model.Alert {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Alert, len(r.alerts))
	copy(out, r.alerts)
	return out
}

// Create 创建告警
// 名称比较忽略大小写和首尾空白；存储写入失败时不改变内存状态。
func (r *Registry) Create(ctx context.Context, name string, thresholdRate, targetAmount float64) (model.Alert, error) {
	a, err := model.NewAlert(name, thresholdRate, targetAmount, r.now())
	if err != nil {
		return model.Alert{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.alerts {
		if strings.EqualFold(existing.Name, a.Name) {
			return model.Alert{}, fmt.Errorf("%w: %s", ErrDuplicateName, a.Name)
		}
	}

	next := make([]model.Alert, len(r.alerts), len(r.alerts)+1)
	copy(next, r.alerts)
	next = append(next, a)
	if err := r.store.Save(ctx, next); err != nil {
		return model.Alert{}, fmt.Errorf("保存告警失败: %w", err)
	}
	r.alerts = next

	r.logger.Info("告警已创建",
		zap.String("id", a.ID.String()),
		zap.String("name", a.Name),
		zap.Float64("threshold_rate", a.ThresholdRate),
		zap.Float64("target_amount", a.TargetAmount),
	)
	return a, nil
}

// Delete 按 ID 删除告警
func (r *Registry) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := -1
	for i, a := range r.alerts {
		if a.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	next := make([]model.Alert, 0, len(r.alerts)-1)
	next = append(next, r.alerts[:idx]...)
	next = append(next, r.alerts[idx+1:]...)
	if err := r.store.Save(ctx, next); err != nil {
		return fmt.Errorf("保存告警失败: %w", err)
	}
	name := r.alerts[idx].Name
	r.alerts = next

	r.logger.Info("告警已删除", zap.String("id", id.String()), zap.String("name", name))
	return nil
}
