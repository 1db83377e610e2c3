// Package types 定义 msgport 的公共数据结构
//
// 这是整个系统的最底层包，不依赖任何其他内部包。
//
// # 文件组织
//
//   - handle.go   - Handle（原生端点句柄）、RightKind、Scope、Direction
//   - message.go  - 内核消息头、Disposition、越界（by-reference）描述符、Message
//   - region.go   - Region：按引用传递的负载映射
//   - errors.go   - 错误分类与 FrameError
//   - status.go   - SendStatus 数值状态码
package types
