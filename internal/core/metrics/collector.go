package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "msgport"

	// anonymousLabel 匿名端口的 port 标签值
	anonymousLabel = "<anonymous>"
)

var (
	bytesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "port", "bytes_total"),
		"Payload bytes carried by named message ports.",
		[]string{"port", "direction"}, nil,
	)
	messagesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "port", "messages_total"),
		"Messages carried by named message ports.",
		[]string{"port", "direction"}, nil,
	)
	droppedDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "port", "dropped_frames_total"),
		"Corrupt frames dropped by local ports.",
		[]string{"port"}, nil,
	)
	failuresDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "port", "send_failures_total"),
		"Failed requests by send status.",
		[]string{"port", "status"}, nil,
	)
)

var _ prometheus.Collector = (*Collector)(nil)

// Collector 把 Reporter 的按端口统计导出为 Prometheus 指标
//
// 每次采集时读取快照，不缓存。
type Collector struct {
	r Reporter
}

// NewCollector 创建 Prometheus 采集器
func NewCollector(r Reporter) *Collector {
	return &Collector{r: r}
}

// Describe 实现 prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- bytesDesc
	ch <- messagesDesc
	ch <- droppedDesc
	ch <- failuresDesc
}

// Collect 实现 prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for name, s := range c.r.GetByPort() {
		label := name
		if label == "" {
			label = anonymousLabel
		}
		ch <- prometheus.MustNewConstMetric(bytesDesc, prometheus.CounterValue, float64(s.TotalIn), label, "in")
		ch <- prometheus.MustNewConstMetric(bytesDesc, prometheus.CounterValue, float64(s.TotalOut), label, "out")
		ch <- prometheus.MustNewConstMetric(messagesDesc, prometheus.CounterValue, float64(s.MessagesIn), label, "in")
		ch <- prometheus.MustNewConstMetric(messagesDesc, prometheus.CounterValue, float64(s.MessagesOut), label, "out")
		ch <- prometheus.MustNewConstMetric(droppedDesc, prometheus.CounterValue, float64(s.Dropped), label)
		for status, n := range s.Failures {
			ch <- prometheus.MustNewConstMetric(failuresDesc, prometheus.CounterValue, float64(n), label, status)
		}
	}
}
