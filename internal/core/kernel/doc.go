// Package kernel 在进程内模拟原生端点传输原语
//
// Kernel 相当于一台机器，Task 相当于一个进程的句柄命名空间：
//
//   - 端点（port）有唯一的接收者任务和有界消息队列
//   - 每个任务通过句柄名引用端点，持有接收、发送（计数）、一次性发送或死亡名权限
//   - 接收权限释放时端点死亡：队列中的消息被销毁，其他任务的发送权限变为死亡名，
//     登记过的死亡通知投递到通知端点
//   - 携带越界区域的消息按描述符的 deallocate 标志移动或拷贝区域
//
// Task 实现 interfaces.Transport。
package kernel
