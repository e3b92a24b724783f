// Package alertstore 负责告警定义的持久化与管理。
// 存储格式对核心透明；告警以 ID 作为稳定标识。
package alertstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"funding-depth-monitor/internal/core/model"
)

// Store 告警定义存储
type Store interface {
	// Load 读取全部告警定义（按创建时间排序）
	Load(ctx context.Context) ([]model.Alert, error)
	// Save 整体替换全部告警定义
	Save(ctx context.Context, alerts []model.Alert) error
}

// record 持久化格式
type record struct {
	ID            string    `yaml:"id" json:"id"`
	Name          string    `yaml:"name" json:"name"`
	ThresholdRate float64   `yaml:"threshold_rate" json:"threshold_rate"`
	TargetAmount  float64   `yaml:"target_amount" json:"target_amount"`
	CreatedAt     time.Time `yaml:"created_at" json:"created_at"`
}

type fileDoc struct {
	Alerts []record `yaml:"alerts"`
}

func toRecord(a model.Alert) record {
	return record{
		ID:            a.ID.String(),
		Name:          a.Name,
		ThresholdRate: a.ThresholdRate,
		TargetAmount:  a.TargetAmount,
		CreatedAt:     a.CreatedAt.UTC(),
	}
}

func (r record) toAlert() (model.Alert, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return model.Alert{}, fmt.Errorf("告警 id '%s' 非法: %w", r.ID, err)
	}
	a := model.Alert{
		ID:            id,
		Name:          r.Name,
		ThresholdRate: r.ThresholdRate,
		TargetAmount:  r.TargetAmount,
		CreatedAt:     r.CreatedAt.UTC(),
	}
	if err := a.Validate(); err != nil {
		return model.Alert{}, err
	}
	return a, nil
}

func sortAlerts(alerts []model.Alert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		if !alerts[i].CreatedAt.Equal(alerts[j].CreatedAt) {
			return alerts[i].CreatedAt.Before(alerts[j].CreatedAt)
		}
		return alerts[i].Name < alerts[j].Name
	})
}

// FileStore YAML 文件存储
// 写入先落临时文件再重命名，避免进程中断留下半截文件。
type FileStore struct {
	path string
}

// NewFileStore 创建文件存储
// 参数 path: YAML 文件路径，不存在时视为空
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path 文件路径
func (s *FileStore) Path() string { return s.path }

// Load 实现 Store
func (s *FileStore) Load(_ context.Context) ([]model.Alert, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取告警文件失败: %w", err)
	}

	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("解析告警文件失败: %w", err)
	}

	alerts := make([]model.Alert, 0, len(doc.Alerts))
	for i, r := range doc.Alerts {
		a, err := r.toAlert()
		if err != nil {
			return nil, fmt.Errorf("alerts[%d]: %w", i, err)
		}
		alerts = append(alerts, a)
	}
	sortAlerts(alerts)
	return alerts, nil
}

// Save 实现 Store
func (s *FileStore) Save(_ context.Context, alerts []model.Alert) error {
	doc := fileDoc{Alerts: make([]record, 0, len(alerts))}
	for _, a := range alerts {
		doc.Alerts = append(doc.Alerts, toRecord(a))
	}
	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("序列化告警失败: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("创建告警目录失败: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("写入告警文件失败: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("替换告警文件失败: %w", err)
	}
	return nil
}
