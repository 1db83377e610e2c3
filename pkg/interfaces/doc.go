// Package interfaces 定义 msgport 的协作方接口
//
// 核心层只通过这些窄接口消费外部能力：
//
//   - transport.go - 原生传输原语（端点分配、权限、发送/接收、死亡通知）
//   - directory.go - 命名目录（check-in / 注册 / 查找）
//   - reactor.go   - 反应器（运行循环、事件源、工作队列）
//   - metrics.go   - 流量指标上报
//
// 具体实现位于 internal/core 下的同名目录。
package interfaces
