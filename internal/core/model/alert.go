package model

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// maxAlertNameLen 告警名称最大长度（字符）
const maxAlertNameLen = 64

// ErrInvalidAlert 告警参数不合法
var ErrInvalidAlert = errors.New("告警参数不合法")

// Alert 用户定义的流动性阈值告警
// 创建后不可修改；替换需删除后重新创建。
type Alert struct {
	// ID 唯一标识
	ID uuid.UUID `json:"id"`
	// Name 告警名称（唯一）
	Name string `json:"name"`
	// ThresholdRate 利率阈值（百分比），统计严格低于该利率的买方深度
	ThresholdRate float64 `json:"threshold_rate"`
	// TargetAmount 目标流动性（百万）
	TargetAmount float64 `json:"target_amount"`
	// CreatedAt 创建时间
	CreatedAt time.Time `json:"created_at"`
}

// NewAlert 创建并校验告警
// 名称会去除首尾空白；重名检查由告警注册表负责。
func NewAlert(name string, thresholdRate, targetAmount float64, now time.Time) (Alert, error) {
	a := Alert{
		ID:            uuid.New(),
		Name:          strings.TrimSpace(name),
		ThresholdRate: thresholdRate,
		TargetAmount:  targetAmount,
		CreatedAt:     now.UTC(),
	}
	if err := a.Validate(); err != nil {
		return Alert{}, err
	}
	return a, nil
}

// Validate 校验告警字段
func (a Alert) Validate() error {
	if a.ID == uuid.Nil {
		return fmt.Errorf("%w: id 不能为空", ErrInvalidAlert)
	}
	if a.Name == "" {
		return fmt.Errorf("%w: 名称不能为空", ErrInvalidAlert)
	}
	if utf8.RuneCountInString(a.Name) > maxAlertNameLen {
		return fmt.Errorf("%w: 名称超过 %d 个字符", ErrInvalidAlert, maxAlertNameLen)
	}
	if math.IsNaN(a.ThresholdRate) || math.IsInf(a.ThresholdRate, 0) || a.ThresholdRate <= 0 {
		return fmt.Errorf("%w: 利率阈值必须为正数，当前值: %v", ErrInvalidAlert, a.ThresholdRate)
	}
	if math.IsNaN(a.TargetAmount) || math.IsInf(a.TargetAmount, 0) || a.TargetAmount < 0 {
		return fmt.Errorf("%w: 目标金额不能为负数，当前值: %v", ErrInvalidAlert, a.TargetAmount)
	}
	return nil
}

// AlertStatus 告警评估状态
type AlertStatus string

const (
	// StatusSufficient 流动性充足（提示）
	StatusSufficient AlertStatus = "sufficient"
	// StatusInsufficient 流动性不足（告警）
	StatusInsufficient AlertStatus = "insufficient"
)

// AlertResult 单个告警在一个周期内的评估结果
type AlertResult struct {
	// AlertID 告警标识
	AlertID uuid.UUID `json:"alert_id"`
	// Name 告警名称
	Name string `json:"name"`
	// ThresholdRate 利率阈值（百分比）
	ThresholdRate float64 `json:"threshold_rate"`
	// TargetAmount 目标流动性（百万）
	TargetAmount float64 `json:"target_amount"`
	// AvailableLiquidity 低于阈值的买方流动性（百万，全精度）
	AvailableLiquidity float64 `json:"available_liquidity"`
	// RoundedLiquidity 去重使用的一位小数流动性
	RoundedLiquidity float64 `json:"rounded_liquidity"`
	// BestRate 阈值以下的最高利率，HasBestRate 为 false 时无意义
	BestRate float64 `json:"best_rate"`
	// HasBestRate 是否存在低于阈值的档位
	HasBestRate bool `json:"has_best_rate"`
	// Status 评估状态
	Status AlertStatus `json:"status"`
	// Notify 该去重键首次出现，需要通知
	Notify bool `json:"notify"`
	// Alarm 需要通知且流动性不足（声音/视觉告警）
	Alarm bool `json:"alarm"`
}
