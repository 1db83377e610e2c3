package types

import "encoding/binary"

// ============================================================================
//                              消息头
// ============================================================================

// 消息头布局（24 字节，小端）:
//
//	uint32 bits             // 低 5 位: remote disposition; 8-15 位: local disposition; 最高位: complex
//	uint32 size             // 整条消息的字节数（含消息头）
//	uint32 remote           // 发送时为目标句柄；接收时为回复句柄
//	uint32 local            // 发送时为回复句柄；接收时为接收端句柄
//	int32  id               // 会话 ID
//	uint32 descriptorCount  // 越界描述符数量
const HeaderSize = 24

// DescriptorSize 越界描述符大小
//
//	uint32 size
//	uint8  deallocate
//	uint8  copy
//	uint8  type
//	uint8  reserved
//	uint64 reserved
const DescriptorSize = 16

// BitsComplex 消息携带描述符
const BitsComplex uint32 = 0x80000000

// DescriptorTypeOOL 越界内存描述符
const DescriptorTypeOOL uint8 = 1

// NotifyDeadName 死亡通知消息的会话 ID，消息体为 4 字节死亡句柄
const NotifyDeadName int32 = 72

// Disposition 消息头中句柄的传递方式
type Disposition uint8

const (
	DispositionNone         Disposition = 0
	DispositionMoveReceive  Disposition = 16
	DispositionMoveSend     Disposition = 17
	DispositionMoveSendOnce Disposition = 18
	DispositionCopySend     Disposition = 19
	DispositionMakeSend     Disposition = 20
	DispositionMakeSendOnce Disposition = 21
)

// MakeBits 组合消息头 bits
func MakeBits(remote, local Disposition) uint32 {
	return uint32(remote&0x1f) | uint32(local)<<8
}

// Header 消息头
type Header struct {
	Bits            uint32
	Size            uint32
	Remote          Handle
	Local           Handle
	ID              int32
	DescriptorCount uint32
}

// RemoteDisposition 目标句柄传递方式
func (h Header) RemoteDisposition() Disposition {
	return Disposition(h.Bits & 0x1f)
}

// LocalDisposition 回复句柄传递方式
func (h Header) LocalDisposition() Disposition {
	return Disposition((h.Bits >> 8) & 0xff)
}

// Complex 是否携带描述符
func (h Header) Complex() bool {
	return h.Bits&BitsComplex != 0
}

// Put 写入消息头，b 至少 HeaderSize 字节
func (h Header) Put(b []byte) {
	binary.LittleEndian.PutUint32(b[0:], h.Bits)
	binary.LittleEndian.PutUint32(b[4:], h.Size)
	binary.LittleEndian.PutUint32(b[8:], uint32(h.Remote))
	binary.LittleEndian.PutUint32(b[12:], uint32(h.Local))
	binary.LittleEndian.PutUint32(b[16:], uint32(h.ID))
	binary.LittleEndian.PutUint32(b[20:], h.DescriptorCount)
}

// ParseHeader 解析消息头
func ParseHeader(b []byte) (Header, bool) {
	if len(b) < HeaderSize {
		return Header{}, false
	}
	return Header{
		Bits:            binary.LittleEndian.Uint32(b[0:]),
		Size:            binary.LittleEndian.Uint32(b[4:]),
		Remote:          Handle(binary.LittleEndian.Uint32(b[8:])),
		Local:           Handle(binary.LittleEndian.Uint32(b[12:])),
		ID:              int32(binary.LittleEndian.Uint32(b[16:])),
		DescriptorCount: binary.LittleEndian.Uint32(b[20:]),
	}, true
}

// ============================================================================
//                              越界描述符
// ============================================================================

// Descriptor 越界内存描述符
type Descriptor struct {
	Size       uint32
	Deallocate bool
	Copy       uint8
	Type       uint8
}

// Put 写入描述符，b 至少 DescriptorSize 字节
func (d Descriptor) Put(b []byte) {
	binary.LittleEndian.PutUint32(b[0:], d.Size)
	b[4] = 0
	if d.Deallocate {
		b[4] = 1
	}
	b[5] = d.Copy
	b[6] = d.Type
	b[7] = 0
	binary.LittleEndian.PutUint64(b[8:], 0)
}

// ParseDescriptor 解析描述符
func ParseDescriptor(b []byte) (Descriptor, bool) {
	if len(b) < DescriptorSize {
		return Descriptor{}, false
	}
	return Descriptor{
		Size:       binary.LittleEndian.Uint32(b[0:]),
		Deallocate: b[4] != 0,
		Copy:       b[5],
		Type:       b[6],
	}, true
}

// ============================================================================
//                              Message
// ============================================================================

// Message 内核层消息
//
// Data 以消息头开头；Regions 按描述符顺序携带越界负载。
type Message struct {
	Data    []byte
	Regions []*Region
}

// Header 解析消息头
func (m *Message) Header() (Header, bool) {
	if m == nil {
		return Header{}, false
	}
	return ParseHeader(m.Data)
}

// SetHeader 覆写消息头
func (m *Message) SetHeader(h Header) {
	h.Put(m.Data)
}

// ReleaseRegions 释放消息携带的全部越界区域
func (m *Message) ReleaseRegions() {
	for _, r := range m.Regions {
		r.Release()
	}
	m.Regions = nil
}
