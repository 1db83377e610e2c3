// Package msgport 提供基于原生端点的命名消息端口
//
// msgport 在一台机器的多个进程之间提供按名字寻址的请求/回复通信：
// 服务方以名字创建本地端口并在运行循环或工作队列上处理请求，
// 客户方按名字查找远程端口并阻塞发送请求等待回复。
//
// # 核心概念
//
//   - Machine: 一个内核和一个命名目录，进程在其中互相查找
//   - Process: 独立的句柄空间，持有端点注册表和端口工厂
//   - MessagePort: 本地（接收）或远程（发送）的命名端口
//   - RunLoop / WorkQueue: 本地端口的两种投递方式，互斥
//
// # 快速开始
//
//	m, err := msgport.NewMachine(nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer m.Close()
//
//	server, _ := m.Spawn()
//	local, _ := server.CreateLocalPort("com.example.echo",
//	    func(_ *msgport.MessagePort, _ int32, data []byte, _ any) []byte {
//	        return data
//	    }, msgport.Context{})
//	loop := server.NewRunLoop()
//	_ = local.ScheduleInRunLoop(loop, msgport.DefaultMode)
//	go loop.Run(msgport.DefaultMode)
//
//	client, _ := m.Spawn()
//	remote, _ := client.CreateRemotePort("com.example.echo")
//	reply, err := remote.SendRequest(1, []byte("hello"), client.DefaultSendOptions())
//
// # 去重
//
// 同一进程内同名的全局本地端口、同名的全局远程端口各只有一个实例；
// 重复创建返回已有端口。进程范围的端口不去重。
//
// # 失效
//
// 端口失效恰好一次：从名字表移除、取消调度、调用失效回调、释放上下文。
// 远程端点死亡时，安装了死亡通知事件源的运行循环会使对应远程端口失效。
//
// # 错误
//
// SendRequest 的错误可用 errors.Is 匹配 ErrPayloadTooLarge、ErrPortIsInvalid、
// ErrSendTimeout、ErrReceiveTimeout、ErrTransport 和 ErrBecameInvalid，
// StatusOf 把错误映射为数值状态码。
//
// # Fx 装配
//
//	app := fx.New(msgport.Options(cfg), fx.Invoke(func(p *msgport.Process) { ... }))
//
// # 文件组织
//
//	msgport/
//	├── msgport.go    # 版本信息、类型别名
//	├── machine.go    # Machine：内核、目录、流量统计
//	├── process.go    # Process：端口创建、运行循环、工作队列
//	├── default.go    # 默认进程
//	├── fx.go         # Fx 装配
//	├── options.go    # 选项
//	└── errors.go     # 错误定义
package msgport
