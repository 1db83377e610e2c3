package msgport

import (
	"bytes"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/dep2p/go-msgport/internal/core/directory"
	"github.com/dep2p/go-msgport/internal/core/framing"
	"github.com/dep2p/go-msgport/internal/core/kernel"
	"github.com/dep2p/go-msgport/internal/core/port"
	"github.com/dep2p/go-msgport/internal/core/reactor"
	"github.com/dep2p/go-msgport/internal/core/registry"
	"github.com/dep2p/go-msgport/pkg/interfaces"
	"github.com/dep2p/go-msgport/pkg/types"
)

// ============================================================================
//                              测试辅助
// ============================================================================

// testMachine 一个内核和一个目录服务
type testMachine struct {
	k   *kernel.Kernel
	dir *directory.Service
}

func newTestMachine(t *testing.T, opts ...kernel.Option) *testMachine {
	t.Helper()
	k := kernel.New(opts...)
	dir := directory.NewService(k, 64)
	t.Cleanup(func() { _ = dir.Close() })
	return &testMachine{k: k, dir: dir}
}

// testProcess 一个任务及其端口工厂
type testProcess struct {
	task    *kernel.Task
	f       *Factory
	metrics *recordingMetrics
}

func (m *testMachine) spawn(t *testing.T) *testProcess {
	t.Helper()
	task := m.k.NewTask()
	mgr := port.NewManager(task, registry.New(registry.WithIdentity(task.PID)))
	rec := &recordingMetrics{}
	return &testProcess{
		task:    task,
		f:       NewFactory(mgr, m.dir.Client(task), WithMetrics(rec)),
		metrics: rec,
	}
}

// recordingMetrics 记录上报的流量
type recordingMetrics struct {
	mu       sync.Mutex
	sent     int
	recv     int
	drops    []string
	failures []string
}

func (r *recordingMetrics) LogSentMessage(string, int64) {
	r.mu.Lock()
	r.sent++
	r.mu.Unlock()
}

func (r *recordingMetrics) LogRecvMessage(string, int64) {
	r.mu.Lock()
	r.recv++
	r.mu.Unlock()
}

func (r *recordingMetrics) LogDroppedFrame(_ string, reason string) {
	r.mu.Lock()
	r.drops = append(r.drops, reason)
	r.mu.Unlock()
}

func (r *recordingMetrics) LogSendFailure(_ string, status string) {
	r.mu.Lock()
	r.failures = append(r.failures, status)
	r.mu.Unlock()
}

func (r *recordingMetrics) dropped() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.drops...)
}

// serve 在后台 goroutine 中驱动本地端口的运行循环
func serve(t *testing.T, p *MessagePort) *reactor.RunLoop {
	t.Helper()
	loop := reactor.New()
	require.NoError(t, p.ScheduleInRunLoop(loop, interfaces.DefaultMode))

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
			}
			if loop.RunInMode(interfaces.DefaultMode, 10*time.Millisecond, false) == interfaces.RunFinished {
				time.Sleep(time.Millisecond)
			}
		}
	}()
	t.Cleanup(func() {
		close(stop)
		<-done
	})
	return loop
}

func echo(_ *MessagePort, _ int32, data []byte, _ any) []byte {
	return data
}

func replyOpts(timeout time.Duration) SendOptions {
	return SendOptions{
		SendTimeout:    time.Second,
		ReceiveTimeout: timeout,
		ReplyMode:      "test.reply",
	}
}

// ============================================================================
//                              请求/回复
// ============================================================================

func TestMessagePort_RoundTrip(t *testing.T) {
	m := newTestMachine(t)
	server, client := m.spawn(t), m.spawn(t)

	var lastID atomic.Int32
	local, err := server.f.CreateLocal("com.example.echo", func(_ *MessagePort, msgid int32, data []byte, _ any) []byte {
		lastID.Store(msgid)
		return data
	}, port.Context{})
	require.NoError(t, err)
	serve(t, local)

	remote, err := client.f.CreateRemote("com.example.echo")
	require.NoError(t, err)

	sizes := []int{0, 1, framing.InlineThreshold - 1, framing.InlineThreshold, framing.InlineThreshold + 1, 256 * 1024}
	for i, n := range sizes {
		payload := bytes.Repeat([]byte{byte(i + 1)}, n)
		got, err := remote.SendRequest(int32(100+i), payload, replyOpts(5*time.Second))
		require.NoError(t, err, "size %d", n)
		require.NotNil(t, got, "size %d", n)
		assert.True(t, bytes.Equal(payload, got), "size %d", n)
		assert.EqualValues(t, 100+i, lastID.Load())
	}
	assert.True(t, remote.IsValid())
}

func TestMessagePort_EmptyReplyIsNotNil(t *testing.T) {
	m := newTestMachine(t)
	server, client := m.spawn(t), m.spawn(t)

	local, err := server.f.CreateLocal("svc.empty", func(*MessagePort, int32, []byte, any) []byte {
		return nil
	}, port.Context{})
	require.NoError(t, err)
	serve(t, local)

	remote, err := client.f.CreateRemote("svc.empty")
	require.NoError(t, err)

	got, err := remote.SendRequest(1, []byte("hello"), replyOpts(5*time.Second))
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestMessagePort_NoReply(t *testing.T) {
	m := newTestMachine(t)
	server, client := m.spawn(t), m.spawn(t)

	received := make(chan []byte, 1)
	local, err := server.f.CreateLocal("svc.oneway", func(_ *MessagePort, _ int32, data []byte, _ any) []byte {
		received <- append([]byte(nil), data...)
		return []byte("ignored")
	}, port.Context{})
	require.NoError(t, err)
	serve(t, local)

	remote, err := client.f.CreateRemote("svc.oneway")
	require.NoError(t, err)

	got, err := remote.SendRequest(7, []byte("ping"), SendOptions{SendTimeout: time.Second})
	require.NoError(t, err)
	assert.Nil(t, got)

	select {
	case data := <-received:
		assert.Equal(t, []byte("ping"), data)
	case <-time.After(5 * time.Second):
		t.Fatal("request not delivered")
	}
}

func TestMessagePort_ReceiveTimeout(t *testing.T) {
	m := newTestMachine(t)
	server, client := m.spawn(t), m.spawn(t)

	release := make(chan struct{})
	local, err := server.f.CreateLocal("svc.slow", func(_ *MessagePort, _ int32, data []byte, _ any) []byte {
		<-release
		return data
	}, port.Context{})
	require.NoError(t, err)
	serve(t, local)
	t.Cleanup(func() { close(release) })

	remote, err := client.f.CreateRemote("svc.slow")
	require.NoError(t, err)

	start := time.Now()
	_, err = remote.SendRequest(1, []byte("x"), replyOpts(50*time.Millisecond))
	elapsed := time.Since(start)

	require.ErrorIs(t, err, types.ErrReceiveTimeout)
	assert.Equal(t, types.StatusReceiveTimeout, types.StatusOf(err))
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, 200*time.Millisecond)
	assert.True(t, remote.IsValid())
}

func TestMessagePort_SendTimeout(t *testing.T) {
	m := newTestMachine(t, kernel.WithQueueLimit(2))
	server, client := m.spawn(t), m.spawn(t)

	// 本地端口不挂接，队列不会被取空
	_, err := server.f.CreateLocal("svc.stuck", echo, port.Context{})
	require.NoError(t, err)
	remote, err := client.f.CreateRemote("svc.stuck")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := remote.SendRequest(1, []byte("x"), SendOptions{})
		require.NoError(t, err)
	}

	_, err = remote.SendRequest(1, []byte("x"), SendOptions{})
	require.ErrorIs(t, err, types.ErrSendTimeout)
	assert.Equal(t, types.StatusSendTimeout, types.StatusOf(err))

	start := time.Now()
	_, err = remote.SendRequest(1, []byte("x"), SendOptions{SendTimeout: 20 * time.Millisecond, ReplyMode: "test.reply"})
	require.ErrorIs(t, err, types.ErrSendTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Contains(t, client.metrics.failures, types.StatusSendTimeout.String())
}

func TestTransportTimeout(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want time.Duration
	}{
		{-time.Second, 0},
		{0, 0},
		{500 * time.Microsecond, 0},
		{1500 * time.Microsecond, time.Millisecond},
		{2 * time.Second, 2 * time.Second},
		{NoTimeout - time.Millisecond, NoTimeout - time.Millisecond},
		{NoTimeout, -1},
		{365 * 24 * time.Hour, -1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, transportTimeout(tt.in), "in %s", tt.in)
	}
}

func TestMessagePort_SendRequestRequiresRemote(t *testing.T) {
	m := newTestMachine(t)
	p := m.spawn(t)

	local, err := p.f.CreateLocal("svc.local", echo, port.Context{})
	require.NoError(t, err)

	_, err = local.SendRequest(1, nil, replyOpts(time.Second))
	assert.ErrorIs(t, err, ErrNotRemote)
}

// ============================================================================
//                              失效
// ============================================================================

func TestMessagePort_InvalidateThenSend(t *testing.T) {
	m := newTestMachine(t)
	server, client := m.spawn(t), m.spawn(t)

	_, err := server.f.CreateLocal("svc.gone", echo, port.Context{})
	require.NoError(t, err)
	remote, err := client.f.CreateRemote("svc.gone")
	require.NoError(t, err)

	remote.Invalidate()
	assert.False(t, remote.IsValid())

	_, err = remote.SendRequest(1, []byte("x"), replyOpts(time.Second))
	assert.ErrorIs(t, err, types.ErrPortIsInvalid)

	called := false
	remote.SetInvalidationCallback(func(p *MessagePort, _ any) {
		called = true
		assert.Same(t, remote, p)
	})
	assert.True(t, called)
	assert.Nil(t, remote.InvalidationCallback())
}

func TestMessagePort_InvalidateOnce(t *testing.T) {
	m := newTestMachine(t)
	p := m.spawn(t)

	var retains, releases atomic.Int32
	ctx := port.Context{
		Info:    "state",
		Retain:  func(info any) any { retains.Add(1); return info },
		Release: func(any) { releases.Add(1) },
	}
	local, err := p.f.CreateLocal("svc.once", echo, ctx)
	require.NoError(t, err)

	var fired atomic.Int32
	local.SetInvalidationCallback(func(mp *MessagePort, info any) {
		fired.Add(1)
		assert.Equal(t, "state", info)
		// 回调内重入失效
		mp.Invalidate()
	})

	var g errgroup.Group
	for i := 0; i < 32; i++ {
		g.Go(func() error {
			local.Invalidate()
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.EqualValues(t, 1, fired.Load())
	assert.Equal(t, retains.Load(), releases.Load())
	assert.False(t, local.IsValid())

	// 失效后名字可以被重新创建
	again, err := p.f.CreateLocal("svc.once", echo, port.Context{})
	require.NoError(t, err)
	assert.NotSame(t, local, again)
	assert.True(t, again.IsValid())
}

func TestMessagePort_ContextRetainedAroundCallback(t *testing.T) {
	m := newTestMachine(t)
	server, client := m.spawn(t), m.spawn(t)

	var retains, releases atomic.Int32
	ctx := port.Context{
		Info:    42,
		Retain:  func(info any) any { retains.Add(1); return info },
		Release: func(any) { releases.Add(1) },
	}
	var during int32
	local, err := server.f.CreateLocal("svc.ctx", func(_ *MessagePort, _ int32, _ []byte, info any) []byte {
		during = retains.Load() - releases.Load()
		assert.Equal(t, 42, info)
		return nil
	}, ctx)
	require.NoError(t, err)
	serve(t, local)

	remote, err := client.f.CreateRemote("svc.ctx")
	require.NoError(t, err)
	_, err = remote.SendRequest(1, nil, replyOpts(5*time.Second))
	require.NoError(t, err)

	// 挂接一次，回调期间再持有一次
	assert.EqualValues(t, 2, during)
	assert.EqualValues(t, 1, retains.Load()-releases.Load())

	local.Invalidate()
	assert.Equal(t, retains.Load(), releases.Load())
}

func TestMessagePort_ServerDeathInvalidatesRemote(t *testing.T) {
	m := newTestMachine(t)
	server, client := m.spawn(t), m.spawn(t)

	_, err := server.f.CreateLocal("svc.dying", echo, port.Context{})
	require.NoError(t, err)
	remote, err := client.f.CreateRemote("svc.dying")
	require.NoError(t, err)

	invalidated := make(chan struct{})
	remote.SetInvalidationCallback(func(*MessagePort, any) { close(invalidated) })

	loop := reactor.New()
	client.f.Manager().InstallNotifySource(loop)

	server.task.Terminate()
	loop.RunInMode(interfaces.DefaultMode, time.Second, true)

	select {
	case <-invalidated:
	default:
		t.Fatal("remote port not invalidated by death notification")
	}
	assert.False(t, remote.IsValid())

	_, err = client.f.CreateRemote("svc.dying")
	assert.ErrorIs(t, err, types.ErrPortIsInvalid)
}

func TestMessagePort_BecameInvalidWhileWaiting(t *testing.T) {
	m := newTestMachine(t)
	server, client := m.spawn(t), m.spawn(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	local, err := server.f.CreateLocal("svc.crash", func(_ *MessagePort, _ int32, data []byte, _ any) []byte {
		close(entered)
		<-release
		return data
	}, port.Context{})
	require.NoError(t, err)
	serve(t, local)
	t.Cleanup(func() { close(release) })

	remote, err := client.f.CreateRemote("svc.crash")
	require.NoError(t, err)

	go func() {
		<-entered
		server.task.Terminate()
	}()

	start := time.Now()
	_, err = remote.SendRequest(1, []byte("x"), replyOpts(10*time.Second))
	require.ErrorIs(t, err, types.ErrBecameInvalid)
	assert.Equal(t, types.StatusBecameInvalid, types.StatusOf(err))
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.False(t, remote.IsValid())
}

func TestMessagePort_LocalInvalidationProbesRemotes(t *testing.T) {
	m := newTestMachine(t)
	p := m.spawn(t)

	local, err := p.f.CreateLocal("svc.self", echo, port.Context{})
	require.NoError(t, err)
	remote, err := p.f.CreateRemote("svc.self")
	require.NoError(t, err)
	assert.Equal(t, local.Handle(), remote.Handle())

	local.Invalidate()
	assert.False(t, remote.IsValid())
}

func TestMessagePort_ForkInvalidatesPorts(t *testing.T) {
	m := newTestMachine(t)
	task := m.k.NewTask()

	var pid atomic.Int64
	pid.Store(int64(task.PID()))
	reg := registry.New(registry.WithIdentity(func() int { return int(pid.Load()) }))
	f := NewFactory(port.NewManager(task, reg), m.dir.Client(task))

	local, err := f.CreateLocal("svc.fork", echo, port.Context{})
	require.NoError(t, err)
	var fired atomic.Int32
	local.SetInvalidationCallback(func(*MessagePort, any) { fired.Add(1) })

	pid.Add(1)
	assert.True(t, reg.CheckFork())
	assert.False(t, local.IsValid())
	assert.EqualValues(t, 1, fired.Load())
}

func TestMessagePort_EntryPointsDetectFork(t *testing.T) {
	m := newTestMachine(t)

	newForked := func(t *testing.T) (*Factory, *atomic.Int64) {
		task := m.k.NewTask()
		pid := &atomic.Int64{}
		pid.Store(int64(task.PID()))
		reg := registry.New(registry.WithIdentity(func() int { return int(pid.Load()) }))
		return NewFactory(port.NewManager(task, reg), m.dir.Client(task)), pid
	}

	t.Run("IsValid", func(t *testing.T) {
		f, pid := newForked(t)
		local, err := f.CreateLocal("svc.fork.valid", echo, port.Context{})
		require.NoError(t, err)
		var fired atomic.Int32
		local.SetInvalidationCallback(func(*MessagePort, any) { fired.Add(1) })

		pid.Add(1)
		assert.False(t, local.IsValid())
		assert.EqualValues(t, 1, fired.Load())
	})

	t.Run("SetInvalidationCallback", func(t *testing.T) {
		f, pid := newForked(t)
		local, err := f.CreateLocal("svc.fork.callback", echo, port.Context{})
		require.NoError(t, err)

		pid.Add(1)
		var fired atomic.Int32
		local.SetInvalidationCallback(func(*MessagePort, any) { fired.Add(1) })
		assert.EqualValues(t, 1, fired.Load(), "已失效端口立即回调")
		assert.Nil(t, local.InvalidationCallback())
	})

	t.Run("RemoteIsValid", func(t *testing.T) {
		server := m.spawn(t)
		_, err := server.f.CreateLocal("svc.fork.remote", echo, port.Context{})
		require.NoError(t, err)

		f, pid := newForked(t)
		remote, err := f.CreateRemote("svc.fork.remote")
		require.NoError(t, err)

		pid.Add(1)
		assert.False(t, remote.IsValid())
	})

	t.Run("ScheduleInRunLoop", func(t *testing.T) {
		f, pid := newForked(t)
		local, err := f.CreateLocal("svc.fork.schedule", echo, port.Context{})
		require.NoError(t, err)

		pid.Add(1)
		err = local.ScheduleInRunLoop(reactor.New(), interfaces.DefaultMode)
		assert.ErrorIs(t, err, types.ErrPortIsInvalid)
	})
}

// ============================================================================
//                              去重与命名
// ============================================================================

func TestMessagePort_ConcurrentLocalDedup(t *testing.T) {
	m := newTestMachine(t)
	p := m.spawn(t)

	const n = 16
	ports := make([]*MessagePort, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			mp, err := p.f.CreateLocal("svc.dedup", echo, port.Context{})
			ports[i] = mp
			return err
		})
	}
	require.NoError(t, g.Wait())

	for _, mp := range ports[1:] {
		assert.Same(t, ports[0], mp)
	}
	assert.True(t, ports[0].IsValid())
}

func TestMessagePort_RemoteDedup(t *testing.T) {
	m := newTestMachine(t)
	server, client := m.spawn(t), m.spawn(t)

	_, err := server.f.CreateLocal("svc.remote", echo, port.Context{})
	require.NoError(t, err)

	var g errgroup.Group
	ports := make([]*MessagePort, 8)
	for i := range ports {
		i := i
		g.Go(func() error {
			mp, err := client.f.CreateRemote("svc.remote")
			ports[i] = mp
			return err
		})
	}
	require.NoError(t, g.Wait())
	for _, mp := range ports[1:] {
		assert.Same(t, ports[0], mp)
	}
}

func TestMessagePort_MissingRemote(t *testing.T) {
	m := newTestMachine(t)
	p := m.spawn(t)

	_, err := p.f.CreateRemote("svc.nobody")
	assert.ErrorIs(t, err, types.ErrPortIsInvalid)

	_, err = p.f.CreateRemote("")
	assert.ErrorIs(t, err, types.ErrNameInvalid)
}

func TestMessagePort_SetName(t *testing.T) {
	m := newTestMachine(t)
	server, client := m.spawn(t), m.spawn(t)

	a, err := server.f.CreateLocal("svc.a", echo, port.Context{})
	require.NoError(t, err)
	b, err := server.f.CreateLocal("svc.b", echo, port.Context{})
	require.NoError(t, err)
	serve(t, a)

	handle := b.Handle()
	assert.False(t, b.SetName("svc.a"))
	assert.Equal(t, "svc.b", b.Name())
	assert.Equal(t, handle, b.Handle())

	assert.True(t, a.SetName("svc.a"))
	assert.True(t, a.SetName("svc.c"))
	assert.Equal(t, "svc.c", a.Name())

	// 旧名字的端点已释放
	_, err = client.f.CreateRemote("svc.a")
	assert.ErrorIs(t, err, types.ErrPortIsInvalid)

	// 运行循环挂接迁移到新端点
	remote, err := client.f.CreateRemote("svc.c")
	require.NoError(t, err)
	got, err := remote.SendRequest(1, []byte("moved"), replyOpts(5*time.Second))
	require.NoError(t, err)
	assert.Equal(t, []byte("moved"), got)

	// 旧名字可以被其他端口使用
	assert.True(t, b.SetName("svc.a"))
}

func TestMessagePort_SetNameRefused(t *testing.T) {
	m := newTestMachine(t)
	server, client := m.spawn(t), m.spawn(t)

	local, err := server.f.CreateLocal("svc.fixed", echo, port.Context{})
	require.NoError(t, err)
	remote, err := client.f.CreateRemote("svc.fixed")
	require.NoError(t, err)
	perPID, err := server.f.CreatePerProcessLocal("svc.pid", echo, port.Context{})
	require.NoError(t, err)

	assert.False(t, remote.SetName("svc.other"))
	assert.False(t, perPID.SetName("svc.other"))
	assert.False(t, local.SetName("bad\x00name"))

	local.Invalidate()
	assert.False(t, local.SetName("svc.other"))
}

func TestMessagePort_AnonymousLocal(t *testing.T) {
	m := newTestMachine(t)
	server, client := m.spawn(t), m.spawn(t)

	anon, err := server.f.CreateLocal("", echo, port.Context{})
	require.NoError(t, err)
	assert.True(t, anon.IsValid())
	assert.Equal(t, types.NullHandle, anon.Handle())
	assert.Nil(t, anon.CreateRunLoopSource(0))
	assert.ErrorIs(t, anon.ScheduleInRunLoop(reactor.New(), interfaces.DefaultMode), ErrAnonymous)

	// 命名后获得原生端点
	require.True(t, anon.SetName("svc.named-later"))
	assert.False(t, anon.Handle().IsNull())
	serve(t, anon)

	remote, err := client.f.CreateRemote("svc.named-later")
	require.NoError(t, err)
	got, err := remote.SendRequest(1, []byte("hi"), replyOpts(5*time.Second))
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), got)
}

func TestMessagePort_NameSanitize(t *testing.T) {
	m := newTestMachine(t)
	p := m.spawn(t)

	_, err := p.f.CreateLocal("bad\x00name", echo, port.Context{})
	assert.ErrorIs(t, err, types.ErrNameInvalid)
	_, err = p.f.CreateLocal("bad\xffname", echo, port.Context{})
	assert.ErrorIs(t, err, types.ErrNameInvalid)

	long, err := p.f.CreateLocal(strings.Repeat("n", 200), echo, port.Context{})
	require.NoError(t, err)
	assert.Len(t, long.Name(), MaxNameLength)

	// 截断落在字符边界
	name, err := sanitizeName(strings.Repeat("€", 43))
	require.NoError(t, err)
	assert.Len(t, name, 126)
	assert.True(t, utf8.ValidString(name))
}

func TestMessagePort_CheckInDeclaredService(t *testing.T) {
	m := newTestMachine(t)
	require.NoError(t, m.dir.Declare("svc.declared"))
	server, client := m.spawn(t), m.spawn(t)

	local, err := server.f.CreateLocal("svc.declared", echo, port.Context{})
	require.NoError(t, err)
	serve(t, local)

	remote, err := client.f.CreateRemote("svc.declared")
	require.NoError(t, err)
	got, err := remote.SendRequest(1, []byte("launchd"), replyOpts(5*time.Second))
	require.NoError(t, err)
	assert.Equal(t, []byte("launchd"), got)
}

func TestMessagePort_PerProcess(t *testing.T) {
	m := newTestMachine(t)
	server, client := m.spawn(t), m.spawn(t)

	local, err := server.f.CreatePerProcessLocal("svc.private", echo, port.Context{})
	require.NoError(t, err)
	assert.True(t, local.IsPerProcess())
	serve(t, local)

	_, err = client.f.CreateRemote("svc.private")
	assert.ErrorIs(t, err, types.ErrPortIsInvalid)

	r1, err := client.f.CreatePerProcessRemote("svc.private", server.task.PID())
	require.NoError(t, err)
	r2, err := client.f.CreatePerProcessRemote("svc.private", server.task.PID())
	require.NoError(t, err)
	assert.NotSame(t, r1, r2)

	got, err := r1.SendRequest(1, []byte("pid"), replyOpts(5*time.Second))
	require.NoError(t, err)
	assert.Equal(t, []byte("pid"), got)

	// 共享端点的远程端口各自失效
	r2.Invalidate()
	assert.True(t, r1.IsValid())

	_, err = server.f.CreatePerProcessLocal("", echo, port.Context{})
	assert.ErrorIs(t, err, types.ErrNameInvalid)
}

// ============================================================================
//                              交付方式
// ============================================================================

func TestMessagePort_WorkQueueConcurrentRequests(t *testing.T) {
	m := newTestMachine(t)
	server, client := m.spawn(t), m.spawn(t)

	var running, peak atomic.Int32
	local, err := server.f.CreateLocal("svc.queue", func(_ *MessagePort, _ int32, data []byte, _ any) []byte {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
		return append([]byte("re:"), data...)
	}, port.Context{})
	require.NoError(t, err)

	q := reactor.NewQueue(4)
	require.NoError(t, local.SetDispatchQueue(q))
	t.Cleanup(func() { _ = q.Close() })

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		i := i
		g.Go(func() error {
			remote, err := client.f.CreateRemote("svc.queue")
			if err != nil {
				return err
			}
			payload := []byte{byte('a' + i)}
			got, err := remote.SendRequest(int32(i), payload, replyOpts(5*time.Second))
			if err != nil {
				return err
			}
			assert.Equal(t, append([]byte("re:"), payload...), got)
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.LessOrEqual(t, peak.Load(), int32(4))
	assert.GreaterOrEqual(t, peak.Load(), int32(1))
}

func TestMessagePort_ConcurrentFirstRequestsShareReplyPort(t *testing.T) {
	m := newTestMachine(t)
	server, client := m.spawn(t), m.spawn(t)

	local, err := server.f.CreateLocal("svc.reply", echo, port.Context{})
	require.NoError(t, err)
	serve(t, local)

	remote, err := client.f.CreateRemote("svc.reply")
	require.NoError(t, err)
	before := client.task.NameCount()

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		i := i
		g.Go(func() error {
			_, err := remote.SendRequest(int32(i), []byte("x"), replyOpts(5*time.Second))
			return err
		})
	}
	require.NoError(t, g.Wait())

	// 只保留一个回复端点，竞争失败者的端点已释放
	assert.Equal(t, before+1, client.task.NameCount())
}

func TestMessagePort_DeliveryModesExclusive(t *testing.T) {
	m := newTestMachine(t)
	server, client := m.spawn(t), m.spawn(t)

	scheduled, err := server.f.CreateLocal("svc.loop", echo, port.Context{})
	require.NoError(t, err)
	require.NotNil(t, scheduled.CreateRunLoopSource(0))
	assert.ErrorIs(t, scheduled.SetDispatchQueue(reactor.NewQueue(1)), ErrHasRunLoopSource)

	dispatched, err := server.f.CreateLocal("svc.queued", echo, port.Context{})
	require.NoError(t, err)
	q := reactor.NewQueue(1)
	t.Cleanup(func() { _ = q.Close() })
	require.NoError(t, dispatched.SetDispatchQueue(q))
	assert.Nil(t, dispatched.CreateRunLoopSource(0))
	require.NoError(t, dispatched.SetDispatchQueue(nil))
	assert.NotNil(t, dispatched.CreateRunLoopSource(0))

	remote, err := client.f.CreateRemote("svc.loop")
	require.NoError(t, err)
	assert.Nil(t, remote.CreateRunLoopSource(0))
	assert.ErrorIs(t, remote.SetDispatchQueue(q), ErrNotLocal)

	scheduled.Invalidate()
	assert.Nil(t, scheduled.CreateRunLoopSource(0))
	assert.ErrorIs(t, scheduled.SetDispatchQueue(q), types.ErrPortIsInvalid)
}

func TestMessagePort_CorruptFrameDropped(t *testing.T) {
	m := newTestMachine(t)
	server, client := m.spawn(t), m.spawn(t)

	var calls atomic.Int32
	local, err := server.f.CreateLocal("svc.strict", func(_ *MessagePort, _ int32, data []byte, _ any) []byte {
		calls.Add(1)
		return data
	}, port.Context{})
	require.NoError(t, err)
	serve(t, local)

	remote, err := client.f.CreateRemote("svc.strict")
	require.NoError(t, err)

	msg, err := framing.Encode(framing.Request, remote.Handle(), types.NullHandle, 1, 9, []byte("bad"))
	require.NoError(t, err)
	msg.Data[types.HeaderSize] ^= 0xff
	require.NoError(t, client.task.Send(msg, time.Second))

	got, err := remote.SendRequest(1, []byte("good"), replyOpts(5*time.Second))
	require.NoError(t, err)
	assert.Equal(t, []byte("good"), got)

	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, []string{types.CheckMagic.String()}, server.metrics.dropped())
	assert.True(t, local.IsValid())
}

func TestMessagePort_UnscheduleStopsDelivery(t *testing.T) {
	m := newTestMachine(t)
	server, client := m.spawn(t), m.spawn(t)

	local, err := server.f.CreateLocal("svc.unsched", echo, port.Context{})
	require.NoError(t, err)
	loop := reactor.New()
	require.NoError(t, local.ScheduleInRunLoop(loop, interfaces.DefaultMode))
	local.UnscheduleFromRunLoop(loop, interfaces.DefaultMode)
	assert.Equal(t, interfaces.RunFinished, loop.RunInMode(interfaces.DefaultMode, 10*time.Millisecond, false))

	_, err = client.f.CreateRemote("svc.unsched")
	require.NoError(t, err)
}

func TestMessagePort_String(t *testing.T) {
	m := newTestMachine(t)
	p := m.spawn(t)

	local, err := p.f.CreateLocal("svc.describe", echo, port.Context{
		Info:     "ctx",
		Describe: func(info any) string { return "described:" + info.(string) },
	})
	require.NoError(t, err)
	s := local.String()
	assert.Contains(t, s, `name="svc.describe"`)
	assert.Contains(t, s, "local")
	assert.Contains(t, s, "described:ctx")
}
