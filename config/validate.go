package config

import (
	"errors"
	"fmt"
)

// ValidateAll 验证整个配置的有效性
func ValidateAll(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	return c.Validate()
}

// ValidateAndFix 验证配置并自动修复常见问题
//
// 可修复的问题：
//   - 非正的队列上限、注册上限、并发数 -> 使用默认值
//   - 负的超时 -> 使用默认值
//   - 空的回复模式 -> 使用默认值
func ValidateAndFix(c *Config) (*Config, error) {
	if c == nil {
		return NewConfig(), nil
	}

	if c.Kernel.QueueLimit <= 0 {
		c.Kernel.QueueLimit = DefaultKernelConfig().QueueLimit
	}
	if c.Directory.MaxRegistrations <= 0 {
		c.Directory.MaxRegistrations = DefaultDirectoryConfig().MaxRegistrations
	}

	def := DefaultMessagePortConfig()
	if c.MessagePort.SendTimeout < 0 {
		c.MessagePort.SendTimeout = def.SendTimeout
	}
	if c.MessagePort.ReceiveTimeout < 0 {
		c.MessagePort.ReceiveTimeout = def.ReceiveTimeout
	}
	if c.MessagePort.ReplyMode == "" {
		c.MessagePort.ReplyMode = def.ReplyMode
	}
	if c.MessagePort.DispatchConcurrency <= 0 {
		c.MessagePort.DispatchConcurrency = def.DispatchConcurrency
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed after fixes: %w", err)
	}
	return c, nil
}

// MustValidate 验证配置，如果失败则 panic
//
// 仅用于初始化阶段或测试代码。
func MustValidate(c *Config) {
	if err := ValidateAll(c); err != nil {
		panic(fmt.Sprintf("config validation failed: %v", err))
	}
}
