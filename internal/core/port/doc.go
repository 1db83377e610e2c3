// Package port 实现端口包装与反应器事件源适配
//
// Wrapper 拥有一个原生端点：
//
//   - 同一句柄在注册表中只有一个包装，重复创建返回已有包装
//   - 失效是单向、幂等的；用户回调总是在不持有任何锁时调用
//   - 失效时依次：移出注册表、调用失效回调、释放用户上下文、
//     销毁事件源、释放内核权限（先发送权限后接收权限）
//   - IsValid 会探测端点存活，发现已死亡时自行失效
//
// Source 把包装暴露为反应器可轮询的事件源：就绪时取出一条消息，
// 交给包装回调，并以零超时发送回调返回的回复。
package port
