package config

import (
	"errors"
	"fmt"
)

// DirectoryConfig 命名目录配置
type DirectoryConfig struct {
	// MaxRegistrations 目录最多保存的注册数
	MaxRegistrations int `json:"max_registrations"`

	// DeclaredServices 启动时预声明的服务名
	//
	// 进程可以通过 check-in 领取这些名字的接收端点。
	DeclaredServices []string `json:"declared_services,omitempty"`
}

// DefaultDirectoryConfig 返回默认命名目录配置
func DefaultDirectoryConfig() DirectoryConfig {
	return DirectoryConfig{
		MaxRegistrations: 4096,
	}
}

// Validate 验证命名目录配置
func (c DirectoryConfig) Validate() error {
	if c.MaxRegistrations <= 0 {
		return errors.New("directory max registrations must be positive")
	}
	if len(c.DeclaredServices) > c.MaxRegistrations {
		return fmt.Errorf("declared services (%d) exceed max registrations (%d)",
			len(c.DeclaredServices), c.MaxRegistrations)
	}
	seen := make(map[string]struct{}, len(c.DeclaredServices))
	for _, name := range c.DeclaredServices {
		if name == "" {
			return errors.New("declared service name is empty")
		}
		if _, ok := seen[name]; ok {
			return fmt.Errorf("declared service %q listed twice", name)
		}
		seen[name] = struct{}{}
	}
	return nil
}
