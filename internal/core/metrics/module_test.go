package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/dep2p/go-msgport/config"
	"github.com/dep2p/go-msgport/pkg/interfaces"
)

// ============================================================================
// Fx 模块测试
// ============================================================================

func TestModule_Provides(t *testing.T) {
	var (
		reporter  Reporter
		port      interfaces.MetricsReporter
		collector *Collector
	)

	app := fxtest.New(t,
		Module,
		fx.Populate(&reporter, &port, &collector),
	)
	defer app.RequireStart().RequireStop()

	require.NotNil(t, collector)
	require.IsType(t, &BandwidthCounter{}, reporter)

	port.LogSentMessage("svc", 100)
	port.LogRecvMessage("svc", 200)

	stats := reporter.GetForPort("svc")
	assert.Equal(t, int64(100), stats.TotalOut)
	assert.Equal(t, int64(200), stats.TotalIn)
}

func TestModule_Disabled(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Metrics.Enabled = false

	var reporter Reporter
	app := fxtest.New(t,
		fx.Supply(cfg),
		Module,
		fx.Populate(&reporter),
	)
	defer app.RequireStart().RequireStop()

	assert.Equal(t, NopReporter{}, reporter)
	reporter.LogSentMessage("svc", 1)
	assert.Empty(t, reporter.GetByPort())
}
