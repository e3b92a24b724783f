// Package jsonl 实现异步 JSONL 文件写入。
// 周期驱动器通过 Recorder 投递记录，编码与文件 I/O 在后台 goroutine 完成，不阻塞周期。
package jsonl

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// ErrClosed 写入器已关闭
var ErrClosed = errors.New("writer 已关闭")

// ErrBufferFull 缓冲区已满，记录被丢弃
var ErrBufferFull = errors.New("写入缓冲区已满")

type opType int

const (
	opWrite opType = iota
	opFlush
	opClose
)

type op struct {
	typ  opType
	val  any
	done chan error
}

// Writer 异步 JSONL 写入器
type Writer struct {
	path   string
	ch     chan op
	logger *zap.Logger

	// written 成功写入缓冲的记录数
	written atomic.Uint64
	// dropped 因缓冲区满或编码失败丢弃的记录数
	dropped atomic.Uint64

	closeOnce sync.Once
	closeErr  error
	closed    atomic.Bool
	sendMu    sync.Mutex

	wg sync.WaitGroup
}

// NewWriter 创建 JSONL 写入器（追加模式）
// 参数 path: 输出文件路径
// 参数 bufferSize: 待写记录上限（channel capacity）
// 参数 logger: 日志记录器
func NewWriter(path string, bufferSize int, logger *zap.Logger) (*Writer, error) {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("创建输出目录失败: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("打开输出文件失败: %w", err)
	}

	w := &Writer{
		path:   path,
		ch:     make(chan op, bufferSize),
		logger: logger.Named("jsonl"),
	}
	w.wg.Add(1)
	go w.loop(f)
	return w, nil
}

// Path 输出文件路径
func (w *Writer) Path() string { return w.path }

// Write 投递一条记录，缓冲区满时丢弃并返回 ErrBufferFull
func (w *Writer) Write(v any) error {
	if w.closed.Load() {
		return ErrClosed
	}
	w.sendMu.Lock()
	defer w.sendMu.Unlock()
	if w.closed.Load() {
		return ErrClosed
	}
	select {
	case w.ch <- op{typ: opWrite, val: v}:
		return nil
	default:
		w.dropped.Add(1)
		return ErrBufferFull
	}
}

// Flush 等待已投递记录落盘
func (w *Writer) Flush() error {
	if w.closed.Load() {
		return nil
	}
	w.sendMu.Lock()
	defer w.sendMu.Unlock()
	if w.closed.Load() {
		return nil
	}
	done := make(chan error, 1)
	w.ch <- op{typ: opFlush, done: done}
	return <-done
}

// Close 关闭写入器（会先 flush），可重复调用
func (w *Writer) Close() error {
	w.closeOnce.Do(func() {
		w.closed.Store(true)
		w.sendMu.Lock()
		defer w.sendMu.Unlock()
		done := make(chan error, 1)
		w.ch <- op{typ: opClose, done: done}
		w.closeErr = <-done
		close(w.ch)
	})
	w.wg.Wait()
	return w.closeErr
}

// Stats 返回已写入与已丢弃的记录数
func (w *Writer) Stats() (written, dropped uint64) {
	return w.written.Load(), w.dropped.Load()
}

func (w *Writer) loop(f *os.File) {
	defer w.wg.Done()

	bw := bufio.NewWriterSize(f, 1<<16)
	for req := range w.ch {
		switch req.typ {
		case opWrite:
			b, err := json.Marshal(req.val)
			if err != nil {
				w.dropped.Add(1)
				w.logger.Warn("记录编码失败", zap.Error(err))
				continue
			}
			b = append(b, '\n')
			if _, err := bw.Write(b); err != nil {
				w.dropped.Add(1)
				w.logger.Warn("记录写入失败", zap.Error(err))
				continue
			}
			w.written.Add(1)
		case opFlush:
			req.done <- bw.Flush()
		case opClose:
			err := bw.Flush()
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			req.done <- err
			return
		}
	}
}
