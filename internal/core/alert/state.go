// Package alert 实现流动性阈值告警评估与通知去重。
package alert

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type triggerKey struct {
	id        uuid.UUID
	liquidity string
}

// TriggerState 告警触发记录（单写者）
// 记录每个 (告警, 一位小数流动性) 是否已通知过；进程生命周期内不清理。
// 注意：仅由 Evaluator 在周期串行执行时写入，不做加锁。
type TriggerState struct {
	seen map[triggerKey]struct{}
}

// NewTriggerState 创建空的触发记录
func NewTriggerState() *TriggerState {
	return &TriggerState{seen: make(map[triggerKey]struct{})}
}

// Observe 登记一个去重键
// 返回 true 表示该键首次出现，需要通知。
func (s *TriggerState) Observe(id uuid.UUID, rounded decimal.Decimal) bool {
	k := triggerKey{id: id, liquidity: rounded.String()}
	if _, ok := s.seen[k]; ok {
		return false
	}
	s.seen[k] = struct{}{}
	return true
}

// Len 已登记的去重键数量
func (s *TriggerState) Len() int {
	return len(s.seen)
}
