package config

import (
	"errors"
	"time"
)

// MessagePortConfig 命名消息端口配置
type MessagePortConfig struct {
	// SendTimeout 默认发送超时
	SendTimeout Duration `json:"send_timeout"`

	// ReceiveTimeout 默认等待回复超时
	ReceiveTimeout Duration `json:"receive_timeout"`

	// ReplyMode 等待回复时运行循环使用的模式
	ReplyMode string `json:"reply_mode"`

	// DispatchConcurrency 工作队列的最大并发数
	DispatchConcurrency int `json:"dispatch_concurrency"`
}

// DefaultMessagePortConfig 返回默认命名消息端口配置
func DefaultMessagePortConfig() MessagePortConfig {
	return MessagePortConfig{
		SendTimeout:         Duration(time.Second),
		ReceiveTimeout:      Duration(5 * time.Second),
		ReplyMode:           "msgport.reply",
		DispatchConcurrency: 4,
	}
}

// Validate 验证命名消息端口配置
func (c MessagePortConfig) Validate() error {
	if c.SendTimeout < 0 {
		return errors.New("send timeout must not be negative")
	}
	if c.ReceiveTimeout < 0 {
		return errors.New("receive timeout must not be negative")
	}
	if c.ReplyMode == "" {
		return errors.New("reply mode must not be empty")
	}
	if c.DispatchConcurrency <= 0 {
		return errors.New("dispatch concurrency must be positive")
	}
	return nil
}
