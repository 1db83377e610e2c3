// Package reactor 实现协作式事件循环与并发工作队列
//
// RunLoop 在调用方的 goroutine 上运行有界迭代：
//
//   - 事件源按模式注册，注册在 CommonModes 下的事件源参与所有模式
//   - 就绪事件源按 Order 升序处理，处理时不持有循环锁，回调中可以嵌套运行
//   - 无效事件源在迭代时自动移除
//
// Queue 以 semaphore.Weighted 限制并发；DispatchSource 在就绪时取空事件源，
// 每条消息作为独立的工作单元提交到队列。
package reactor
