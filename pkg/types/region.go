package types

import "sync/atomic"

// Region 按引用传递的负载映射
//
// 由传输层在发送端和接收端之间移动；接收方消费后必须显式 Release。
type Region struct {
	buf      []byte
	release  func([]byte) error
	released atomic.Bool
}

// NewRegion 包装一段映射；release 在首次 Release 时调用
func NewRegion(buf []byte, release func([]byte) error) *Region {
	return &Region{buf: buf, release: release}
}

// Bytes 返回映射内容，Release 之后为 nil
func (r *Region) Bytes() []byte {
	if r == nil || r.released.Load() {
		return nil
	}
	return r.buf
}

// Len 映射长度
func (r *Region) Len() int {
	if r == nil {
		return 0
	}
	return len(r.buf)
}

// Released 是否已释放
func (r *Region) Released() bool {
	return r == nil || r.released.Load()
}

// Release 释放映射，幂等
func (r *Region) Release() error {
	if r == nil || !r.released.CompareAndSwap(false, true) {
		return nil
	}
	buf := r.buf
	r.buf = nil
	if r.release != nil {
		return r.release(buf)
	}
	return nil
}
