package metrics

import (
	"time"

	"github.com/dep2p/go-msgport/pkg/interfaces"
)

// Reporter 提供记录和检索按端口名流量统计的方法
type Reporter interface {
	interfaces.MetricsReporter

	// GetForPort 获取端口名的统计
	GetForPort(name string) Stats

	// GetTotals 获取所有端口的汇总统计
	GetTotals() Stats

	// GetByPort 获取所有端口的统计
	GetByPort() map[string]Stats

	// Reset 重置所有统计
	Reset()

	// TrimIdle 清理 since 之后没有流量的端口
	TrimIdle(since time.Time)
}

var (
	_ Reporter = (*BandwidthCounter)(nil)
	_ Reporter = NopReporter{}
)

// NopReporter 不记录任何统计的 Reporter
type NopReporter struct{}

func (NopReporter) LogSentMessage(string, int64)   {}
func (NopReporter) LogRecvMessage(string, int64)   {}
func (NopReporter) LogDroppedFrame(string, string) {}
func (NopReporter) LogSendFailure(string, string)  {}
func (NopReporter) GetForPort(string) Stats        { return Stats{} }
func (NopReporter) GetTotals() Stats               { return Stats{} }
func (NopReporter) GetByPort() map[string]Stats    { return map[string]Stats{} }
func (NopReporter) Reset()                         {}
func (NopReporter) TrimIdle(time.Time)             {}
