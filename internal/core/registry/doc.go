// Package registry 实现进程级端点注册表
//
// 注册表是"某个句柄/名字是否已有包装对象"的唯一权威：
//
//   - 句柄表：原生句柄 → 端口包装（强去重，失效时移除）
//   - 名字表：本地/远程命名消息端口按名字去重
//   - 进程标识：检测 fork 后使所有包装失效
//   - 死亡通知端点：进程级唯一，用于得知远端句柄死亡
//
// 所有表由一把全局锁保护。锁顺序固定为先全局锁后包装锁；
// 注册表从不在持有全局锁时调用包装的 Invalidate 或 IsValid。
package registry
