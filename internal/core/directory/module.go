package directory

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-msgport/config"
	"github.com/dep2p/go-msgport/internal/core/kernel"
)

// Params Directory 依赖参数
type Params struct {
	fx.In

	Kernel     *kernel.Kernel
	UnifiedCfg *config.Config `optional:"true"`
}

// NewServiceFromParams 从参数创建目录服务并预声明配置中的服务
func NewServiceFromParams(p Params) (*Service, error) {
	cfg := config.DefaultDirectoryConfig()
	if p.UnifiedCfg != nil {
		cfg = p.UnifiedCfg.Directory
	}
	svc := NewService(p.Kernel, cfg.MaxRegistrations)
	for _, name := range cfg.DeclaredServices {
		if err := svc.Declare(name); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// Module 是 directory 的 Fx 模块
var Module = fx.Module("directory",
	fx.Provide(NewServiceFromParams),
	fx.Invoke(registerLifecycle),
)

func registerLifecycle(lc fx.Lifecycle, svc *Service) {
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			log.Info("目录服务停止")
			return svc.Close()
		},
	})
}
