package msgport

import "time"

const (
	dropLogEvery = time.Second
	dropLogBurst = 10
)

// nopMetrics 未配置流量上报时使用
type nopMetrics struct{}

func (nopMetrics) LogSentMessage(string, int64)   {}
func (nopMetrics) LogRecvMessage(string, int64)   {}
func (nopMetrics) LogDroppedFrame(string, string) {}
func (nopMetrics) LogSendFailure(string, string)  {}
