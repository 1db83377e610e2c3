package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Gather(t *testing.T) {
	bwc := NewBandwidthCounter()
	bwc.LogSentMessage("echo", 64)
	bwc.LogRecvMessage("", 8)
	bwc.LogDroppedFrame("echo", "bad magic")
	bwc.LogSendFailure("echo", "SendTimeout")

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(NewCollector(bwc)))

	families, err := reg.Gather()
	require.NoError(t, err)

	values := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			key := mf.GetName()
			for _, lp := range m.GetLabel() {
				key += "," + lp.GetName() + "=" + lp.GetValue()
			}
			values[key] = m.GetCounter().GetValue()
		}
	}

	assert.Equal(t, 64.0, values["msgport_port_bytes_total,direction=out,port=echo"])
	assert.Equal(t, 1.0, values["msgport_port_messages_total,direction=out,port=echo"])
	assert.Equal(t, 8.0, values["msgport_port_bytes_total,direction=in,port=<anonymous>"])
	assert.Equal(t, 1.0, values["msgport_port_dropped_frames_total,port=echo"])
	assert.Equal(t, 1.0, values["msgport_port_send_failures_total,port=echo,status=SendTimeout"])
}

func TestCollector_Nop(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(NewCollector(NopReporter{})))
	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Empty(t, families)
}
