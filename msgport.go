package msgport

import (
	"github.com/dep2p/go-msgport/internal/core/metrics"
	"github.com/dep2p/go-msgport/internal/core/msgport"
	"github.com/dep2p/go-msgport/internal/core/port"
	"github.com/dep2p/go-msgport/internal/core/reactor"
	"github.com/dep2p/go-msgport/pkg/interfaces"
	"github.com/dep2p/go-msgport/pkg/types"
)

// ════════════════════════════════════════════════════════════════════════════
//                              版本信息
// ════════════════════════════════════════════════════════════════════════════

// Version 当前版本
const Version = "v0.1.0"

// BuildInfo 构建信息（通过 ldflags 注入）
var (
	// GitCommit Git 提交哈希
	GitCommit string

	// BuildDate 构建日期
	BuildDate string
)

// VersionInfo 返回完整版本信息字符串
func VersionInfo() string {
	info := "msgport " + Version
	if GitCommit != "" {
		info += " (" + GitCommit[:min(8, len(GitCommit))] + ")"
	}
	if BuildDate != "" {
		info += " built " + BuildDate
	}
	return info
}

// ════════════════════════════════════════════════════════════════════════════
//                              类型别名
// ════════════════════════════════════════════════════════════════════════════

type (
	// MessagePort 命名消息端口
	MessagePort = msgport.MessagePort

	// Callback 本地端口的请求回调，返回值作为回复
	Callback = msgport.Callback

	// InvalidationCallback 端口失效回调
	InvalidationCallback = msgport.InvalidationCallback

	// SendOptions 请求发送选项
	SendOptions = msgport.SendOptions

	// Context 端口的用户上下文及其持有/释放钩子
	Context = port.Context

	// RunLoop 协作式事件循环
	RunLoop = reactor.RunLoop

	// WorkQueue 并发工作队列
	WorkQueue = reactor.Queue

	// Stats 端口流量统计快照
	Stats = metrics.Stats

	// SendStatus 请求结果状态码
	SendStatus = types.SendStatus
)

const (
	// NoTimeout 不小于此值的发送超时视为一直等待
	NoTimeout = msgport.NoTimeout

	// MaxNameLength 名字编码后的最大字节数
	MaxNameLength = msgport.MaxNameLength

	// DefaultMode 默认运行模式
	DefaultMode = interfaces.DefaultMode

	// CommonModes 公共模式
	CommonModes = interfaces.CommonModes
)

// StatusOf 将 SendRequest 返回的错误映射为状态码
func StatusOf(err error) SendStatus {
	return types.StatusOf(err)
}
