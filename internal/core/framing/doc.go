// Package framing 实现消息信封的编码与校验
//
// 信封布局（小端）:
//
//	内联:   Header(24) | magic | msgid | byteslen | bytes (按 4 字节取整)
//	按引用: Header(24, complex, 1 个描述符) | Descriptor(16) | magic | msgid | byteslen
//
// Header.ID 为会话 ID：请求为正，回复为请求 ID 的相反数。
// 负载取整后不超过 InlineThreshold 时内联，否则放入映射区域随消息移动。
//
// Decode 按固定顺序校验，任何一项失败都返回 *types.FrameError，调用方丢弃消息。
package framing
