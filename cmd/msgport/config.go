package main

import (
	"os"
	"strconv"

	"github.com/dep2p/go-msgport/config"
)

// loadConfigFile 从 JSON 文件加载配置
func loadConfigFile(path string) (*config.Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: 用户指定的配置文件路径是预期行为
	if err != nil {
		return nil, err
	}
	return config.FromJSON(data)
}

// applyEnvOverrides 应用环境变量覆盖配置
//
// 支持的环境变量（均使用 MSGPORT_ 前缀）：
//   - MSGPORT_QUEUE_LIMIT: 端点队列上限
//   - MSGPORT_DISPATCH_CONCURRENCY: 工作队列并发数
//   - MSGPORT_REPLY_MODE: 等待回复的运行模式
func applyEnvOverrides(cfg *config.Config) {
	if v := os.Getenv("MSGPORT_QUEUE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Kernel.QueueLimit = n
		}
	}
	if v := os.Getenv("MSGPORT_DISPATCH_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MessagePort.DispatchConcurrency = n
		}
	}
	if v := os.Getenv("MSGPORT_REPLY_MODE"); v != "" {
		cfg.MessagePort.ReplyMode = v
	}
}
