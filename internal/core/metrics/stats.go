package metrics

// Stats 端口流量统计快照
//
// TotalIn 和 TotalOut 记录累计接收/发送的载荷字节数。
// RateIn 和 RateOut 记录最近 60 秒的平均字节速率。
type Stats struct {
	TotalIn     int64   // 总入站字节
	TotalOut    int64   // 总出站字节
	RateIn      float64 // 入站速率（字节/秒）
	RateOut     float64 // 出站速率（字节/秒）
	MessagesIn  int64   // 入站消息数
	MessagesOut int64   // 出站消息数
	Dropped     int64   // 丢弃的损坏帧数

	// Failures 按 SendStatus 名称统计的发送失败次数
	Failures map[string]int64
}

// FailureTotal 返回所有发送失败的次数
func (s Stats) FailureTotal() int64 {
	var n int64
	for _, v := range s.Failures {
		n += v
	}
	return n
}
