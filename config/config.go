// Package config 提供统一的配置管理
//
// 主 Config 结构体嵌入各组件的子配置，每个子配置在独立文件中定义，
// 支持从 JSON 加载和保存。
//
// 使用示例：
//
//	cfg := config.NewConfig()
//	cfg.MessagePort.SendTimeout = config.Duration(500 * time.Millisecond)
//
//	// 从 JSON 加载
//	cfg, err := config.FromJSON(data)
package config

// Config 是 msgport 的完整配置结构
//
// 配置按照组件组织：
//   - Kernel: 原生传输（队列上限）
//   - Directory: 命名目录
//   - MessagePort: 命名消息端口（默认超时、回复模式、队列并发）
//   - Metrics: 流量指标
type Config struct {
	// Kernel 原生传输配置
	Kernel KernelConfig `json:"kernel"`

	// Directory 命名目录配置
	Directory DirectoryConfig `json:"directory"`

	// MessagePort 命名消息端口配置
	MessagePort MessagePortConfig `json:"message_port"`

	// Metrics 指标配置
	Metrics MetricsConfig `json:"metrics"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	return &Config{
		Kernel:      DefaultKernelConfig(),
		Directory:   DefaultDirectoryConfig(),
		MessagePort: DefaultMessagePortConfig(),
		Metrics:     DefaultMetricsConfig(),
	}
}

// Validate 验证配置的有效性
//
// 依次验证所有子配置，返回第一个错误。
func (c *Config) Validate() error {
	if err := c.Kernel.Validate(); err != nil {
		return err
	}
	if err := c.Directory.Validate(); err != nil {
		return err
	}
	if err := c.MessagePort.Validate(); err != nil {
		return err
	}
	return nil
}
