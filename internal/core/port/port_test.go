package port

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/dep2p/go-msgport/internal/core/kernel"
	"github.com/dep2p/go-msgport/internal/core/registry"
	"github.com/dep2p/go-msgport/pkg/interfaces"
	"github.com/dep2p/go-msgport/pkg/types"
)

func newTestManager(t *testing.T, k *kernel.Kernel) (*Manager, *kernel.Task) {
	t.Helper()
	task := k.NewTask()
	return NewManager(task, registry.New(registry.WithIdentity(task.PID))), task
}

// notifySource 返回死亡通知事件源
func notifySource(t *testing.T, m *Manager) *Source {
	t.Helper()
	e, ok := m.Registry().NotifyEntry()
	require.True(t, ok)
	src := e.(*Wrapper).Source(NotifyOrder)
	require.NotNil(t, src)
	return src
}

func TestManager_CreateOwnsRights(t *testing.T) {
	m, task := newTestManager(t, kernel.New())

	w, err := m.Create(nil, Context{})
	require.NoError(t, err)
	assert.True(t, w.IsValid())
	assert.True(t, w.OwnsReceive())

	rs, ok := task.Rights(w.Handle())
	require.True(t, ok)
	assert.Equal(t, kernel.RightSet{Receive: true, Send: 1}, rs)

	got, ok := m.Lookup(w.Handle())
	require.True(t, ok)
	assert.Same(t, w, got)

	// 端口 + 死亡通知端口
	assert.Equal(t, 2, task.NameCount())
}

func TestManager_CreateWithHandleDedup(t *testing.T) {
	m, task := newTestManager(t, kernel.New())

	w, err := m.Create(nil, Context{})
	require.NoError(t, err)

	require.NoError(t, task.InsertSendRight(w.Handle()))
	again, created, err := m.CreateWithHandle(w.Handle(), RightsSend, nil, Context{})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, w, again)

	// 重复移交的发送权限被立即释放
	rs, _ := task.Rights(w.Handle())
	assert.Equal(t, 1, rs.Send)
}

func TestManager_ConcurrentCreateWithHandle(t *testing.T) {
	k := kernel.New()
	m, _ := newTestManager(t, k)
	server := k.NewTask()

	h, err := server.Allocate()
	require.NoError(t, err)

	const n = 16
	results := make([]*Wrapper, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			ch, err := server.CopySendTo(m.Transport().(*kernel.Task), h)
			if err != nil {
				return err
			}
			w, _, err := m.CreateWithHandle(ch, RightsSend, nil, Context{})
			results[i] = w
			return err
		})
	}
	require.NoError(t, g.Wait())
	for _, w := range results {
		assert.Same(t, results[0], w)
	}

	rs, ok := m.Transport().(*kernel.Task).Rights(results[0].Handle())
	require.True(t, ok)
	assert.Equal(t, 1, rs.Send)
}

func TestManager_ContextRetainedOnce(t *testing.T) {
	m, _ := newTestManager(t, kernel.New())

	var retains, releases atomic.Int32
	ctx := Context{
		Info:    "info",
		Retain:  func(info any) any { retains.Add(1); return info },
		Release: func(any) { releases.Add(1) },
	}

	w, err := m.Create(nil, ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, retains.Load())
	assert.EqualValues(t, 0, releases.Load())

	_, _, err = m.CreateWithHandle(w.Handle(), RightsNone, nil, ctx)
	require.NoError(t, err)
	assert.Equal(t, retains.Load(), releases.Load()+1)

	w.Invalidate()
	assert.Equal(t, retains.Load(), releases.Load())
	assert.Equal(t, "info", w.Info())
}

func TestWrapper_InvalidateOnce(t *testing.T) {
	m, task := newTestManager(t, kernel.New())

	w, err := m.Create(nil, Context{})
	require.NoError(t, err)

	var calls atomic.Int32
	w.SetInvalidationCallback(func(*Wrapper, any) { calls.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Invalidate()
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
	assert.False(t, w.IsValid())
	_, ok := m.Lookup(w.Handle())
	assert.False(t, ok)

	// 权限全部释放，不留下死亡名
	assert.Equal(t, 1, task.NameCount())
}

func TestWrapper_SetInvalidationCallbackAfterInvalidate(t *testing.T) {
	m, _ := newTestManager(t, kernel.New())

	w, err := m.Create(nil, Context{Info: 42})
	require.NoError(t, err)
	w.Invalidate()

	var got any
	w.SetInvalidationCallback(func(_ *Wrapper, info any) { got = info })
	assert.Equal(t, 42, got)
}

func TestWrapper_ReleaseLastReferenceInvalidates(t *testing.T) {
	m, _ := newTestManager(t, kernel.New())

	w, err := m.Create(nil, Context{})
	require.NoError(t, err)
	w.Retain()

	w.Release()
	assert.True(t, w.IsValid())
	w.Release()
	assert.False(t, w.IsValid())
}

func TestWrapper_IsValidDetectsDeadPort(t *testing.T) {
	k := kernel.New()
	m, client := newTestManager(t, k)
	server := k.NewTask()

	h, err := server.Allocate()
	require.NoError(t, err)
	ch, err := server.CopySendTo(client, h)
	require.NoError(t, err)

	w, _, err := m.CreateWithHandle(ch, RightsSend, nil, Context{})
	require.NoError(t, err)

	var invalidated atomic.Bool
	w.SetInvalidationCallback(func(*Wrapper, any) { invalidated.Store(true) })

	require.NoError(t, server.ReleaseRight(h, types.RightSend))
	require.NoError(t, server.ReleaseRight(h, types.RightReceive))

	assert.False(t, w.IsValid())
	assert.True(t, invalidated.Load())

	// 死亡名已按死亡名释放
	_, ok := client.Rights(ch)
	assert.False(t, ok)
}

func TestManager_DeadNameNotification(t *testing.T) {
	k := kernel.New()
	m, client := newTestManager(t, k)
	server := k.NewTask()

	h, err := server.Allocate()
	require.NoError(t, err)
	ch, err := server.CopySendTo(client, h)
	require.NoError(t, err)

	w, _, err := m.CreateWithHandle(ch, RightsSend, nil, Context{})
	require.NoError(t, err)

	server.Terminate()

	src := notifySource(t, m)
	require.True(t, src.Pending())
	src.Perform()

	_, ok := m.Lookup(ch)
	assert.False(t, ok)
	assert.False(t, w.stillValid())
	assert.Equal(t, 1, client.NameCount())
}

func TestSource_PerformSendsReply(t *testing.T) {
	k := kernel.New()
	m, server := newTestManager(t, k)
	client := k.NewTask()

	w, err := m.Create(func(_ *Wrapper, msg *types.Message, info any) *types.Message {
		hdr, _ := msg.Header()
		data := make([]byte, types.HeaderSize)
		types.Header{
			Bits:   types.MakeBits(types.DispositionMoveSendOnce, types.DispositionNone),
			Size:   types.HeaderSize,
			Remote: hdr.Remote,
			ID:     hdr.ID + 1,
		}.Put(data)
		return &types.Message{Data: data}
	}, Context{})
	require.NoError(t, err)

	ch, err := server.CopySendTo(client, w.Handle())
	require.NoError(t, err)
	reply, err := client.Allocate()
	require.NoError(t, err)

	data := make([]byte, types.HeaderSize)
	types.Header{
		Bits:   types.MakeBits(types.DispositionCopySend, types.DispositionMakeSendOnce),
		Size:   types.HeaderSize,
		Remote: ch,
		Local:  reply,
		ID:     9,
	}.Put(data)
	src := w.Source(0)
	var woken atomic.Int32
	cancel := src.Watch(func() { woken.Add(1) })
	defer cancel()

	require.NoError(t, client.Send(&types.Message{Data: data}, 0))

	require.True(t, src.Pending())
	src.Perform()
	assert.False(t, src.Pending())

	got, ok, err := client.Receive(reply)
	require.NoError(t, err)
	require.True(t, ok)
	hdr, _ := got.Header()
	assert.EqualValues(t, 10, hdr.ID)
	assert.Positive(t, woken.Load())
}

func TestSource_InvalidateWakesWatchers(t *testing.T) {
	m, _ := newTestManager(t, kernel.New())

	w, err := m.Create(nil, Context{})
	require.NoError(t, err)
	src := w.Source(3)
	assert.Equal(t, 3, src.Order())
	assert.Same(t, src, w.Source(7))

	var woken atomic.Int32
	src.Watch(func() { woken.Add(1) })

	w.Invalidate()
	assert.False(t, src.IsValid())
	assert.False(t, src.Pending())
	assert.Positive(t, woken.Load())
	assert.Nil(t, w.Source(0))
}

type recordingReactor struct {
	mu      sync.Mutex
	sources map[interfaces.Source]string
}

func (r *recordingReactor) AddSource(src interfaces.Source, mode string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sources == nil {
		r.sources = make(map[interfaces.Source]string)
	}
	r.sources[src] = mode
}
func (r *recordingReactor) RemoveSource(interfaces.Source, string) {}
func (r *recordingReactor) ContainsSource(src interfaces.Source, mode string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sources[src] == mode
}
func (r *recordingReactor) RunInMode(string, time.Duration, bool) interfaces.RunResult {
	return interfaces.RunFinished
}
func (r *recordingReactor) Stop()   {}
func (r *recordingReactor) WakeUp() {}

func TestManager_InstallNotifySource(t *testing.T) {
	m, _ := newTestManager(t, kernel.New())

	early := &recordingReactor{}
	m.InstallNotifySource(early)

	_, err := m.Create(nil, Context{})
	require.NoError(t, err)

	src := notifySource(t, m)
	assert.True(t, early.ContainsSource(src, interfaces.CommonModes))
	assert.Equal(t, NotifyOrder, src.Order())

	late := &recordingReactor{}
	m.InstallNotifySource(late)
	assert.True(t, late.ContainsSource(src, interfaces.CommonModes))
}

// ============================================================================
//                              权限释放顺序
// ============================================================================

type releaseCall struct {
	h    types.Handle
	kind types.RightKind
}

// recordingTransport 记录权限释放顺序的传输原语
type recordingTransport struct {
	*kernel.Task

	mu    sync.Mutex
	calls []releaseCall
}

func (r *recordingTransport) ReleaseRight(h types.Handle, kind types.RightKind) error {
	r.mu.Lock()
	r.calls = append(r.calls, releaseCall{h: h, kind: kind})
	r.mu.Unlock()
	return r.Task.ReleaseRight(h, kind)
}

func (r *recordingTransport) releasesOf(h types.Handle) []releaseCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []releaseCall
	for _, c := range r.calls {
		if c.h == h {
			out = append(out, c)
		}
	}
	return out
}

func TestWrapper_InvalidateReleasesSendBeforeReceive(t *testing.T) {
	task := kernel.New().NewTask()
	rt := &recordingTransport{Task: task}
	m := NewManager(rt, registry.New(registry.WithIdentity(task.PID)))

	w, err := m.Create(nil, Context{})
	require.NoError(t, err)
	h := w.Handle()
	require.Empty(t, rt.releasesOf(h))

	w.Invalidate()

	assert.Equal(t, []releaseCall{
		{h: h, kind: types.RightSend},
		{h: h, kind: types.RightReceive},
	}, rt.releasesOf(h))
	_, ok := task.Rights(h)
	assert.False(t, ok)
}

// ============================================================================
//                              fork
// ============================================================================

func newForkableManager(t *testing.T) (*Manager, *atomic.Int64) {
	t.Helper()
	task := kernel.New().NewTask()
	pid := &atomic.Int64{}
	pid.Store(int64(task.PID()))
	reg := registry.New(registry.WithIdentity(func() int { return int(pid.Load()) }))
	return NewManager(task, reg), pid
}

func TestWrapper_EntryPointsDetectFork(t *testing.T) {
	t.Run("IsValid", func(t *testing.T) {
		m, pid := newForkableManager(t)
		w, err := m.Create(nil, Context{})
		require.NoError(t, err)
		var fired atomic.Int32
		w.SetInvalidationCallback(func(*Wrapper, any) { fired.Add(1) })

		pid.Add(1)
		assert.False(t, w.IsValid())
		assert.EqualValues(t, 1, fired.Load())
	})

	t.Run("SetInvalidationCallback", func(t *testing.T) {
		m, pid := newForkableManager(t)
		w, err := m.Create(nil, Context{Info: "ctx"})
		require.NoError(t, err)

		pid.Add(1)
		var got any
		w.SetInvalidationCallback(func(_ *Wrapper, info any) { got = info })
		assert.Equal(t, "ctx", got)
	})

	t.Run("Deliver", func(t *testing.T) {
		m, pid := newForkableManager(t)
		var calls atomic.Int32
		w, err := m.Create(func(*Wrapper, *types.Message, any) *types.Message {
			calls.Add(1)
			return nil
		}, Context{})
		require.NoError(t, err)

		pid.Add(1)
		assert.Nil(t, w.Deliver(&types.Message{}))
		assert.Zero(t, calls.Load())
	})

	t.Run("Source", func(t *testing.T) {
		m, pid := newForkableManager(t)
		w, err := m.Create(nil, Context{})
		require.NoError(t, err)

		pid.Add(1)
		assert.Nil(t, w.Source(0))
	})
}

// ============================================================================
//                              去重与失效竞争
// ============================================================================

func TestManager_CreateWithHandleSkipsDyingWrapper(t *testing.T) {
	k := kernel.New()
	m, client := newTestManager(t, k)
	server := k.NewTask()

	h, err := server.Allocate()
	require.NoError(t, err)
	ch, err := server.CopySendTo(client, h)
	require.NoError(t, err)

	dying, _, err := m.CreateWithHandle(ch, RightsSend, nil, Context{})
	require.NoError(t, err)
	// 最后一个引用已释放、尚未从注册表移除
	dying.refs.Store(0)

	again, err := server.CopySendTo(client, h)
	require.NoError(t, err)
	require.Equal(t, ch, again)

	fresh, created, err := m.CreateWithHandle(ch, RightsSend, nil, Context{})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotSame(t, dying, fresh)

	dying.Invalidate()

	got, ok := m.Lookup(ch)
	require.True(t, ok)
	assert.Same(t, fresh, got)
	assert.True(t, fresh.IsValid())
}

func TestWrapper_TryRetain(t *testing.T) {
	m, _ := newTestManager(t, kernel.New())
	w, err := m.Create(nil, Context{})
	require.NoError(t, err)

	assert.True(t, w.TryRetain())
	assert.EqualValues(t, 2, w.refs.Load())

	w.Invalidate()
	assert.False(t, w.TryRetain())
}
