// Package store 保存最近一次发布的周期结果，供 HTTP 查询读取。
package store

import (
	"context"
	"sync"

	"funding-depth-monitor/internal/core/model"
)

// Store 最新周期结果缓存
// 由周期驱动器单 goroutine 写入，HTTP handler 并发读取；返回的指针应视为只读。
type Store struct {
	mu     sync.RWMutex
	latest *model.Update
}

// New 创建新的结果缓存
func New() *Store {
	return &Store{}
}

// Publish 实现 cycle.Publisher，替换最新结果
func (s *Store) Publish(_ context.Context, up *model.Update) error {
	if up == nil {
		return nil
	}
	s.mu.Lock()
	s.latest = up
	s.mu.Unlock()
	return nil
}

// Latest 获取最新结果；尚未完成任何周期时返回 nil
func (s *Store) Latest() *model.Update {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}
