package kernel

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-msgport/config"
)

// Params Kernel 依赖参数
type Params struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`
}

// NewFromParams 从统一配置创建内核
func NewFromParams(p Params) *Kernel {
	if p.UnifiedCfg == nil {
		return New()
	}
	return New(WithQueueLimit(p.UnifiedCfg.Kernel.QueueLimit))
}

// Module 是 kernel 的 Fx 模块
var Module = fx.Module("kernel",
	fx.Provide(NewFromParams),
)
