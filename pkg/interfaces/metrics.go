// Package interfaces 定义 msgport 的协作方接口
//
// 本文件定义指标上报接口。
package interfaces

// MetricsReporter 按端口名记录流量
//
// 实现必须并发安全；name 为空表示匿名端口。
type MetricsReporter interface {
	// LogSentMessage 记录发送的消息大小
	LogSentMessage(name string, size int64)

	// LogRecvMessage 记录接收的消息大小
	LogRecvMessage(name string, size int64)

	// LogDroppedFrame 记录被丢弃的损坏帧
	LogDroppedFrame(name string, reason string)

	// LogSendFailure 记录发送失败（status 为 SendStatus 名称）
	LogSendFailure(name string, status string)
}
