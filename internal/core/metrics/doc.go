// Package metrics 提供按端口名的流量统计
//
// BandwidthCounter 实现 interfaces.MetricsReporter，记录每个端口名的
// 收发字节数、消息数、被丢弃的损坏帧和发送失败。
//
// # 快速开始
//
//	counter := metrics.NewBandwidthCounter()
//
//	counter.LogSentMessage("com.example.echo", 1024)
//	counter.LogRecvMessage("com.example.echo", 2048)
//
//	stats := counter.GetForPort("com.example.echo")
//	fmt.Printf("In: %d, Out: %d\n", stats.TotalIn, stats.TotalOut)
//	fmt.Printf("RateIn: %.2f B/s, RateOut: %.2f B/s\n", stats.RateIn, stats.RateOut)
//
// 空名字表示匿名端口，统计时归入同一个键。
//
// # 速率计算
//
// RateMeter 使用 60 个 1 秒桶，Rate 返回最近 60 秒的平均字节速率。
// 时钟可注入（github.com/benbjohnson/clock），测试中使用 clock.NewMock。
//
// # Prometheus
//
//	reg := prometheus.NewRegistry()
//	reg.MustRegister(metrics.NewCollector(counter))
//
// 导出的指标：
//   - msgport_port_bytes_total{port,direction}
//   - msgport_port_messages_total{port,direction}
//   - msgport_port_dropped_frames_total{port}
//   - msgport_port_send_failures_total{port,status}
//
// # Fx 模块
//
//	app := fx.New(
//	    metrics.Module,
//	    fx.Invoke(func(r interfaces.MetricsReporter) { ... }),
//	)
//
// Metrics.Enabled 为 false 时模块提供空实现。
//
// # 内存管理
//
//	// 清理 1 小时内没有流量的端口
//	counter.TrimIdle(time.Now().Add(-1 * time.Hour))
package metrics
