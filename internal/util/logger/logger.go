// Package logger 提供 msgport 的统一日志系统
//
// 基于标准库 log/slog，支持：
//   - 按子系统配置日志级别
//   - 环境变量配置（MSGPORT_LOG_LEVEL, MSGPORT_LOG_FORMAT）
//   - 结构化日志
//   - 限流告警（Limited），用于消息路径上可能被外部触发的告警
//
// 使用示例:
//
//	package registry
//
//	import "github.com/dep2p/go-msgport/internal/util/logger"
//
//	var log = logger.Logger("registry")
//
//	func foo() {
//	    log.Debug("wrapper inserted", "handle", h)
//	}
package logger

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var (
	// loggers 缓存各子系统的 Logger
	loggers sync.Map // map[string]*slog.Logger

	// handlers 缓存各子系统的 Handler（用于动态调整级别）
	handlers sync.Map // map[string]*subsystemHandler
)

// Logger 获取指定子系统的 Logger
//
// 同一子系统多次调用会返回相同的 Logger 实例。
func Logger(subsystem string) *slog.Logger {
	if l, ok := loggers.Load(subsystem); ok {
		return l.(*slog.Logger)
	}

	cfg := ConfigFromEnv()
	handler := newHandler(subsystem, cfg.LevelForSubsystem(subsystem), cfg.Format)
	logger := slog.New(handler)

	actual, loaded := loggers.LoadOrStore(subsystem, logger)
	if !loaded {
		handlers.Store(subsystem, handler)
	}
	return actual.(*slog.Logger)
}

// SetLevel 动态设置子系统的日志级别
func SetLevel(subsystem string, level slog.Level) {
	if h, ok := handlers.Load(subsystem); ok {
		h.(*subsystemHandler).SetLevel(level)
	}
}

// SetGlobalLevel 设置所有已创建子系统的日志级别
func SetGlobalLevel(level slog.Level) {
	handlers.Range(func(_, value any) bool {
		value.(*subsystemHandler).SetLevel(level)
		return true
	})
}

// Discard 返回一个丢弃所有日志的 Logger
func Discard() *slog.Logger {
	return slog.New(DiscardHandler())
}

// SetOutput 设置全局日志输出目标
//
// 已创建的 Logger 通过 dynamicWriter 自动重定向到新的 writer。
func SetOutput(w io.Writer) {
	globalOutputMu.Lock()
	globalOutput = w
	globalOutputMu.Unlock()
}

// ============================================================================
//                              限流日志
// ============================================================================

// Limited 限流告警记录器
//
// 超出速率的告警降级为 Debug 输出，并累计被降级的条数。
type Limited struct {
	log        *slog.Logger
	limiter    *rate.Limiter
	suppressed int64
	mu         sync.Mutex
}

// NewLimited 创建限流告警记录器
func NewLimited(log *slog.Logger, every time.Duration, burst int) *Limited {
	return &Limited{
		log:     log,
		limiter: rate.NewLimiter(rate.Every(every), burst),
	}
}

// Warn 记录告警；超过速率时降级为 Debug
func (l *Limited) Warn(msg string, args ...any) {
	if l.limiter.Allow() {
		l.mu.Lock()
		suppressed := l.suppressed
		l.suppressed = 0
		l.mu.Unlock()
		if suppressed > 0 {
			args = append(args, "suppressed", suppressed)
		}
		l.log.Warn(msg, args...)
		return
	}
	l.mu.Lock()
	l.suppressed++
	l.mu.Unlock()
	l.log.Debug(msg, args...)
}
