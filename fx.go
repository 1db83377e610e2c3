package msgport

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/dep2p/go-msgport/config"
	"github.com/dep2p/go-msgport/internal/core/directory"
	"github.com/dep2p/go-msgport/internal/core/kernel"
	"github.com/dep2p/go-msgport/internal/core/metrics"
)

// machineParams Machine 依赖参数
type machineParams struct {
	fx.In

	Config    *config.Config
	Kernel    *kernel.Kernel
	Directory *directory.Service
	Reporter  metrics.Reporter
	Collector *metrics.Collector
}

func newMachineFromParams(lc fx.Lifecycle, p machineParams) *Machine {
	m := newMachine(p.Config, p.Kernel, p.Directory, p.Reporter, p.Collector)
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			return m.Close()
		},
	})
	return m
}

func newProcessFromMachine(m *Machine) (*Process, error) {
	return m.Spawn()
}

// Options 返回装配 Machine 和一个 Process 的 Fx 选项
//
// 加载顺序（按依赖）：kernel → directory → metrics → Machine → Process
func Options(cfg *config.Config) fx.Option {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	return fx.Options(
		fx.Supply(cfg),
		kernel.Module,
		directory.Module,
		metrics.Module,
		fx.Provide(
			newMachineFromParams,
			newProcessFromMachine,
		),
	)
}

// NewApp 构建 Fx 应用
//
// 配置先行验证；extra 追加用户自定义的 Fx 选项。
func NewApp(cfg *config.Config, extra ...fx.Option) (*fx.App, error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	modules := []fx.Option{
		Options(cfg),
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: zap.NewNop()}
		}),
	}
	modules = append(modules, extra...)

	app := fx.New(modules...)
	if err := app.Err(); err != nil {
		return nil, fmt.Errorf("build fx app: %w", err)
	}
	return app, nil
}
