package config

import "errors"

// KernelConfig 原生传输配置
type KernelConfig struct {
	// QueueLimit 每个端点的消息队列上限
	//
	// 队列满时发送方按发送超时等待；一次性回复消息不受此限制。
	QueueLimit int `json:"queue_limit"`
}

// DefaultKernelConfig 返回默认原生传输配置
func DefaultKernelConfig() KernelConfig {
	return KernelConfig{
		QueueLimit: 5,
	}
}

// Validate 验证原生传输配置
func (c KernelConfig) Validate() error {
	if c.QueueLimit <= 0 {
		return errors.New("kernel queue limit must be positive")
	}
	return nil
}
