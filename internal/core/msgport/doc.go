// Package msgport 实现命名消息端口
//
// 命名消息端口建立在端口包装之上，按名字寻址：
//
//   - 本地端口（Local）通过命名目录绑定名字，接收请求并在回调中产生回复
//   - 远程端口（Remote）通过命名目录查找名字，发送请求并阻塞等待回复
//
// 同一进程内，非进程范围的本地端口和远程端口分别按名字去重：
// 再次以同名创建时返回仍有效的已有端口。
//
// # 请求/回复
//
// SendRequest 为每次调用分配会话计数：请求携带 +counter，回复携带 -counter。
// 需要回复时，调用方的运行循环在回复模式下被有界地反复驱动，
// 直到回复到达、截止时间过去或端口失效。
//
// # 交付方式
//
// 本地端口可以挂接到运行循环（ScheduleInRunLoop / CreateRunLoopSource），
// 也可以挂接到并发工作队列（SetDispatchQueue），两者互斥。
// 工作队列模式下同一端口的多条请求可能并发回调。
package msgport
