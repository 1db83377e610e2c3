package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-msgport/internal/util/logger"
)

var log = logger.Logger("metrics")

// Option 计数器选项
type Option func(*BandwidthCounter)

// WithClock 设置速率计算使用的时钟
func WithClock(c clock.Clock) Option {
	return func(bwc *BandwidthCounter) {
		if c != nil {
			bwc.clock = c
		}
	}
}

// portCounter 单个端口名的计数器
type portCounter struct {
	in, out         atomic.Int64
	msgsIn, msgsOut atomic.Int64
	dropped         atomic.Int64

	inRate, outRate *RateMeter

	mu       sync.Mutex
	failures map[string]int64
	drops    map[string]int64
	lastSeen time.Time
}

func (pc *portCounter) touch(now time.Time) {
	pc.mu.Lock()
	pc.lastSeen = now
	pc.mu.Unlock()
}

func (pc *portCounter) stats() Stats {
	s := Stats{
		TotalIn:     pc.in.Load(),
		TotalOut:    pc.out.Load(),
		RateIn:      pc.inRate.Rate(),
		RateOut:     pc.outRate.Rate(),
		MessagesIn:  pc.msgsIn.Load(),
		MessagesOut: pc.msgsOut.Load(),
		Dropped:     pc.dropped.Load(),
	}
	pc.mu.Lock()
	if len(pc.failures) > 0 {
		s.Failures = make(map[string]int64, len(pc.failures))
		for k, v := range pc.failures {
			s.Failures[k] = v
		}
	}
	pc.mu.Unlock()
	return s
}

// BandwidthCounter 按端口名的流量计数器
//
// 全局计数器使用原子操作，端口表由 portMu 保护。
type BandwidthCounter struct {
	clock clock.Clock

	totalIn      atomic.Int64
	totalOut     atomic.Int64
	totalInRate  *RateMeter
	totalOutRate *RateMeter

	portMu sync.RWMutex
	ports  map[string]*portCounter
}

// NewBandwidthCounter 创建新的 BandwidthCounter
func NewBandwidthCounter(opts ...Option) *BandwidthCounter {
	bwc := &BandwidthCounter{
		clock: clock.New(),
		ports: make(map[string]*portCounter),
	}
	for _, opt := range opts {
		opt(bwc)
	}
	bwc.totalInRate = NewRateMeter(bwc.clock)
	bwc.totalOutRate = NewRateMeter(bwc.clock)
	return bwc
}

// port 返回端口名的计数器，不存在时创建
func (bwc *BandwidthCounter) port(name string) *portCounter {
	bwc.portMu.RLock()
	pc := bwc.ports[name]
	bwc.portMu.RUnlock()
	if pc != nil {
		return pc
	}

	bwc.portMu.Lock()
	defer bwc.portMu.Unlock()
	if pc = bwc.ports[name]; pc == nil {
		pc = &portCounter{
			inRate:   NewRateMeter(bwc.clock),
			outRate:  NewRateMeter(bwc.clock),
			lastSeen: bwc.clock.Now(),
		}
		bwc.ports[name] = pc
	}
	return pc
}

// ============================================================================
//                              记录
// ============================================================================

// LogSentMessage 记录发送到 name 的消息
func (bwc *BandwidthCounter) LogSentMessage(name string, size int64) {
	if size < 0 {
		size = 0
	}
	bwc.totalOut.Add(size)
	bwc.totalOutRate.Add(size)

	pc := bwc.port(name)
	pc.out.Add(size)
	pc.msgsOut.Add(1)
	pc.outRate.Add(size)
	pc.touch(bwc.clock.Now())
}

// LogRecvMessage 记录 name 收到的消息
func (bwc *BandwidthCounter) LogRecvMessage(name string, size int64) {
	if size < 0 {
		size = 0
	}
	bwc.totalIn.Add(size)
	bwc.totalInRate.Add(size)

	pc := bwc.port(name)
	pc.in.Add(size)
	pc.msgsIn.Add(1)
	pc.inRate.Add(size)
	pc.touch(bwc.clock.Now())
}

// LogDroppedFrame 记录 name 丢弃的损坏帧
func (bwc *BandwidthCounter) LogDroppedFrame(name string, reason string) {
	pc := bwc.port(name)
	pc.dropped.Add(1)
	pc.mu.Lock()
	if pc.drops == nil {
		pc.drops = make(map[string]int64)
	}
	pc.drops[reason]++
	pc.lastSeen = bwc.clock.Now()
	pc.mu.Unlock()
}

// LogSendFailure 记录向 name 发送失败
func (bwc *BandwidthCounter) LogSendFailure(name string, status string) {
	pc := bwc.port(name)
	pc.mu.Lock()
	if pc.failures == nil {
		pc.failures = make(map[string]int64)
	}
	pc.failures[status]++
	pc.lastSeen = bwc.clock.Now()
	pc.mu.Unlock()
}

// ============================================================================
//                              查询
// ============================================================================

// GetForPort 返回端口名的统计，未记录过的名字返回零值
func (bwc *BandwidthCounter) GetForPort(name string) Stats {
	bwc.portMu.RLock()
	pc := bwc.ports[name]
	bwc.portMu.RUnlock()
	if pc == nil {
		return Stats{}
	}
	return pc.stats()
}

// GetTotals 返回所有端口的汇总统计
func (bwc *BandwidthCounter) GetTotals() Stats {
	s := Stats{
		TotalIn:  bwc.totalIn.Load(),
		TotalOut: bwc.totalOut.Load(),
		RateIn:   bwc.totalInRate.Rate(),
		RateOut:  bwc.totalOutRate.Rate(),
	}
	for _, ps := range bwc.GetByPort() {
		s.MessagesIn += ps.MessagesIn
		s.MessagesOut += ps.MessagesOut
		s.Dropped += ps.Dropped
		for k, v := range ps.Failures {
			if s.Failures == nil {
				s.Failures = make(map[string]int64)
			}
			s.Failures[k] += v
		}
	}
	return s
}

// GetByPort 返回所有端口的统计
func (bwc *BandwidthCounter) GetByPort() map[string]Stats {
	bwc.portMu.RLock()
	ports := make(map[string]*portCounter, len(bwc.ports))
	for name, pc := range bwc.ports {
		ports[name] = pc
	}
	bwc.portMu.RUnlock()

	result := make(map[string]Stats, len(ports))
	for name, pc := range ports {
		result[name] = pc.stats()
	}
	return result
}

// DropReasons 返回端口名按原因统计的丢帧次数
func (bwc *BandwidthCounter) DropReasons(name string) map[string]int64 {
	bwc.portMu.RLock()
	pc := bwc.ports[name]
	bwc.portMu.RUnlock()
	out := make(map[string]int64)
	if pc == nil {
		return out
	}
	pc.mu.Lock()
	for k, v := range pc.drops {
		out[k] = v
	}
	pc.mu.Unlock()
	return out
}

// PortNames 返回有统计的端口名（已排序）
func (bwc *BandwidthCounter) PortNames() []string {
	bwc.portMu.RLock()
	names := make([]string, 0, len(bwc.ports))
	for name := range bwc.ports {
		names = append(names, name)
	}
	bwc.portMu.RUnlock()
	sort.Strings(names)
	return names
}

// ============================================================================
//                              清理
// ============================================================================

// Reset 清除所有统计
func (bwc *BandwidthCounter) Reset() {
	bwc.totalIn.Store(0)
	bwc.totalOut.Store(0)
	bwc.totalInRate.Reset()
	bwc.totalOutRate.Reset()

	bwc.portMu.Lock()
	bwc.ports = make(map[string]*portCounter)
	bwc.portMu.Unlock()
}

// TrimIdle 清理 since 之后没有任何记录的端口统计
func (bwc *BandwidthCounter) TrimIdle(since time.Time) {
	bwc.portMu.Lock()
	defer bwc.portMu.Unlock()

	trimmed := 0
	for name, pc := range bwc.ports {
		pc.mu.Lock()
		idle := pc.lastSeen.Before(since)
		pc.mu.Unlock()
		if idle {
			delete(bwc.ports, name)
			trimmed++
		}
	}
	if trimmed > 0 {
		log.Debug("清理空闲端口统计", "trimmed", trimmed, "remaining", len(bwc.ports))
	}
}
