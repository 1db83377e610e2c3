package metrics

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-msgport/config"
	"github.com/dep2p/go-msgport/pkg/interfaces"
)

// ConfigFromUnified 从统一配置创建指标配置
func ConfigFromUnified(cfg *config.Config) config.MetricsConfig {
	if cfg == nil {
		return config.DefaultMetricsConfig()
	}
	return cfg.Metrics
}

// Params Metrics 依赖参数
type Params struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`
}

// Result Metrics 模块输出
type Result struct {
	fx.Out

	Reporter     Reporter
	PortReporter interfaces.MetricsReporter
	Collector    *Collector
}

// NewReporterFromParams 从参数创建 Reporter，禁用时返回 NopReporter
func NewReporterFromParams(p Params) Result {
	var r Reporter = NopReporter{}
	if ConfigFromUnified(p.UnifiedCfg).Enabled {
		r = NewBandwidthCounter()
	}
	return Result{
		Reporter:     r,
		PortReporter: r,
		Collector:    NewCollector(r),
	}
}

// Module 是 metrics 的 Fx 模块
var Module = fx.Module("metrics",
	fx.Provide(NewReporterFromParams),
)
