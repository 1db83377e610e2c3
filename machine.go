package msgport

import (
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/dep2p/go-msgport/config"
	"github.com/dep2p/go-msgport/internal/core/directory"
	"github.com/dep2p/go-msgport/internal/core/kernel"
	"github.com/dep2p/go-msgport/internal/core/metrics"
	"github.com/dep2p/go-msgport/internal/util/logger"
)

var log = logger.Logger("msgport/api")

// Machine 一台机器：一个内核、一个命名目录和共享的流量统计
//
// 同一台机器上的多个 Process 通过目录中的名字互相找到对方。
type Machine struct {
	cfg       *config.Config
	kernel    *kernel.Kernel
	dir       *directory.Service
	reporter  metrics.Reporter
	collector *metrics.Collector

	mu        sync.Mutex
	processes map[*Process]struct{}
	closed    bool
}

// NewMachine 按配置创建机器
//
// cfg 为 nil 时使用默认配置。配置中声明的服务会预先登记到目录。
func NewMachine(cfg *config.Config, opts ...MachineOption) (*Machine, error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	var o machineOptions
	for _, opt := range opts {
		opt(&o)
	}

	kopts := []kernel.Option{kernel.WithQueueLimit(cfg.Kernel.QueueLimit)}
	if o.clock != nil {
		kopts = append(kopts, kernel.WithClock(o.clock))
	}
	k := kernel.New(kopts...)
	dir := directory.NewService(k, cfg.Directory.MaxRegistrations)

	var reporter metrics.Reporter = metrics.NopReporter{}
	if cfg.Metrics.Enabled {
		reporter = metrics.NewBandwidthCounter(metrics.WithClock(k.Clock()))
	}

	m := newMachine(cfg, k, dir, reporter, metrics.NewCollector(reporter))
	for _, name := range cfg.Directory.DeclaredServices {
		if err := m.Declare(name); err != nil {
			_ = dir.Close()
			return nil, err
		}
	}
	return m, nil
}

func newMachine(cfg *config.Config, k *kernel.Kernel, dir *directory.Service, r metrics.Reporter, c *metrics.Collector) *Machine {
	return &Machine{
		cfg:       cfg,
		kernel:    k,
		dir:       dir,
		reporter:  r,
		collector: c,
		processes: make(map[*Process]struct{}),
	}
}

// Config 返回机器配置
func (m *Machine) Config() *config.Config {
	return m.cfg
}

// Clock 返回内核时钟
func (m *Machine) Clock() clock.Clock {
	return m.kernel.Clock()
}

// Declare 预先声明可领取的服务名
//
// 之后首个以该名字创建本地端口的进程领取该服务的接收端点。
func (m *Machine) Declare(name string) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return ErrMachineClosed
	}
	return m.dir.Declare(name)
}

// Spawn 创建新进程
func (m *Machine) Spawn(opts ...ProcessOption) (*Process, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrMachineClosed
	}
	p := newProcess(m, m.kernel.NewTask(), opts...)
	m.processes[p] = struct{}{}
	log.Debug("创建进程", "pid", p.PID())
	return p, nil
}

// forget 移除已关闭的进程
func (m *Machine) forget(p *Process) {
	m.mu.Lock()
	delete(m.processes, p)
	m.mu.Unlock()
}

// Metrics 返回按端口名的流量统计
func (m *Machine) Metrics() metrics.Reporter {
	return m.reporter
}

// PortStats 返回端口名的流量统计
func (m *Machine) PortStats(name string) Stats {
	return m.reporter.GetForPort(name)
}

// Collector 返回导出流量统计的 Prometheus 采集器
func (m *Machine) Collector() prometheus.Collector {
	return m.collector
}

// Close 关闭全部进程和目录服务
func (m *Machine) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	procs := make([]*Process, 0, len(m.processes))
	for p := range m.processes {
		procs = append(procs, p)
	}
	m.processes = make(map[*Process]struct{})
	m.mu.Unlock()

	var err error
	for _, p := range procs {
		err = multierr.Append(err, p.close())
	}
	err = multierr.Append(err, m.dir.Close())
	log.Debug("机器关闭", "processes", len(procs))
	return err
}
