package framing

import (
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/dep2p/go-msgport/internal/util/vmregion"
	"github.com/dep2p/go-msgport/pkg/types"
)

const (
	// Magic 信封魔数
	Magic uint32 = 0xF1F2F3F4

	// InlineThreshold 内联负载上限（取整后）
	InlineThreshold = 40 * 1024

	// MaxDataSize 负载绝对上限
	MaxDataSize = 0x60000000

	// PrefixSize 信封体前缀：magic、msgid、byteslen
	PrefixSize = 12

	// InlineHeaderSize 内联信封的最小长度
	InlineHeaderSize = types.HeaderSize + PrefixSize

	// ReferenceSize 按引用信封的固定长度
	ReferenceSize = types.HeaderSize + types.DescriptorSize + PrefixSize
)

// Role 信封角色
type Role int

const (
	// Request 请求：会话 ID 为正
	Request Role = iota
	// Reply 回复：会话 ID 为负
	Reply
)

// String 返回角色名称
func (r Role) String() string {
	if r == Reply {
		return "reply"
	}
	return "request"
}

// Envelope 解码后的信封
//
// Payload 可能引用消息缓冲区或映射区域，只在消息销毁前有效。
type Envelope struct {
	Destination    types.Handle
	ReplyTo        types.Handle
	ConversationID int32
	MessageID      int32
	Payload        []byte
	ByReference    bool
}

// CheckPayloadSize 检查负载是否超过 MaxDataSize
func CheckPayloadSize(n int) error {
	if n > MaxDataSize {
		return fmt.Errorf("%w: %d bytes (max %d)", types.ErrPayloadTooLarge, n, MaxDataSize)
	}
	return nil
}

// roundUp4 负载按 4 字节取整
func roundUp4(n int) int {
	return (n + 3) &^ 3
}

// Inline 负载是否内联
func Inline(n int) bool {
	return roundUp4(n) <= InlineThreshold
}

// ============================================================================
//                              编码
// ============================================================================

// Encode 构造信封
//
// replyTo 非空时以 make-send-once 附带回复句柄。回复信封的目标以 move-send-once 传递。
// 超过 MaxDataSize 返回 ErrPayloadTooLarge。
func Encode(role Role, dest, replyTo types.Handle, convID, msgID int32, payload []byte) (*types.Message, error) {
	n := len(payload)
	if err := CheckPayloadSize(n); err != nil {
		return nil, err
	}

	remoteDisp := types.DispositionCopySend
	if role == Reply {
		remoteDisp = types.DispositionMoveSendOnce
	}
	localDisp := types.DispositionNone
	if !replyTo.IsNull() {
		localDisp = types.DispositionMakeSendOnce
	}
	hdr := types.Header{
		Bits:   types.MakeBits(remoteDisp, localDisp),
		Remote: dest,
		Local:  replyTo,
		ID:     convID,
	}

	if Inline(n) {
		data := make([]byte, InlineHeaderSize+roundUp4(n))
		hdr.Size = uint32(len(data))
		hdr.Put(data)
		putPrefix(data[types.HeaderSize:], msgID, n)
		copy(data[InlineHeaderSize:], payload)
		return &types.Message{Data: data}, nil
	}

	region, err := vmregion.Allocate(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrAllocationFailed, err)
	}
	data := make([]byte, ReferenceSize)
	hdr.Bits |= types.BitsComplex
	hdr.DescriptorCount = 1
	hdr.Size = uint32(len(data))
	hdr.Put(data)
	types.Descriptor{
		Size:       uint32(n),
		Deallocate: true,
		Copy:       1,
		Type:       types.DescriptorTypeOOL,
	}.Put(data[types.HeaderSize:])
	putPrefix(data[types.HeaderSize+types.DescriptorSize:], msgID, n)
	return &types.Message{Data: data, Regions: []*types.Region{region}}, nil
}

func putPrefix(b []byte, msgID int32, n int) {
	binary.LittleEndian.PutUint32(b[0:], Magic)
	binary.LittleEndian.PutUint32(b[4:], uint32(msgID))
	binary.LittleEndian.PutUint32(b[8:], uint32(n))
}

// ============================================================================
//                              解码
// ============================================================================

// Decode 校验并解码信封
//
// 校验顺序：截断、魔数（允许任一字节序）、complex 与描述符一致性、过小、过大、
// 长度不符、会话 ID 与角色不符。
func Decode(role Role, msg *types.Message) (*Envelope, error) {
	if msg == nil {
		return nil, types.NewFrameError(types.CheckTruncated, "nil message")
	}
	hdr, ok := msg.Header()
	if !ok {
		return nil, types.NewFrameError(types.CheckTruncated, "%d bytes", len(msg.Data))
	}
	if int(hdr.Size) != len(msg.Data) {
		return nil, types.NewFrameError(types.CheckTruncated, "declared %d, have %d", hdr.Size, len(msg.Data))
	}

	prefix := types.HeaderSize
	if hdr.DescriptorCount != 0 {
		prefix += types.DescriptorSize
	}
	if len(msg.Data) < prefix+PrefixSize {
		return nil, types.NewFrameError(types.CheckTooSmall, "size %d", hdr.Size)
	}

	magic := binary.LittleEndian.Uint32(msg.Data[prefix:])
	if magic != Magic && bits.ReverseBytes32(magic) != Magic {
		return nil, types.NewFrameError(types.CheckMagic, "%#08x", magic)
	}

	if err := checkComplex(hdr, msg); err != nil {
		return nil, err
	}

	if hdr.Size < InlineHeaderSize {
		return nil, types.NewFrameError(types.CheckTooSmall, "size %d", hdr.Size)
	}
	maxSize := uint32(InlineHeaderSize + InlineThreshold)
	if hdr.DescriptorCount != 0 {
		maxSize = ReferenceSize
	}
	if hdr.Size > maxSize {
		return nil, types.NewFrameError(types.CheckTooBig, "size %d > %d", hdr.Size, maxSize)
	}

	msgID := int32(binary.LittleEndian.Uint32(msg.Data[prefix+4:]))
	n := int32(binary.LittleEndian.Uint32(msg.Data[prefix+8:]))
	if n < 0 || n > MaxDataSize {
		return nil, types.NewFrameError(types.CheckWrongSize, "byteslen %d", n)
	}

	env := &Envelope{
		Destination:    hdr.Local,
		ReplyTo:        hdr.Remote,
		ConversationID: hdr.ID,
		MessageID:      msgID,
	}
	if hdr.DescriptorCount != 0 {
		d, _ := types.ParseDescriptor(msg.Data[types.HeaderSize:])
		r := msg.Regions[0]
		if int32(d.Size) != n || r.Len() != int(n) {
			return nil, types.NewFrameError(types.CheckWrongSize, "descriptor %d, region %d, byteslen %d", d.Size, r.Len(), n)
		}
		env.Payload = r.Bytes()
		env.ByReference = true
	} else {
		if int(hdr.Size)-InlineHeaderSize < int(n) {
			return nil, types.NewFrameError(types.CheckWrongSize, "byteslen %d exceeds body %d", n, int(hdr.Size)-InlineHeaderSize)
		}
		env.Payload = msg.Data[InlineHeaderSize : InlineHeaderSize+int(n) : InlineHeaderSize+int(n)]
	}

	switch role {
	case Request:
		if hdr.ID <= 0 {
			return nil, types.NewFrameError(types.CheckConversation, "request id %d", hdr.ID)
		}
	case Reply:
		if hdr.ID >= 0 {
			return nil, types.NewFrameError(types.CheckConversation, "reply id %d", hdr.ID)
		}
	}
	return env, nil
}

// checkComplex 校验 complex 位、描述符数量与区域的一致性
func checkComplex(hdr types.Header, msg *types.Message) error {
	switch {
	case hdr.DescriptorCount != 0 && !hdr.Complex():
		return types.NewFrameError(types.CheckComplex, "descriptors without complex bit")
	case hdr.Complex() && hdr.DescriptorCount == 0:
		return types.NewFrameError(types.CheckComplex, "complex bit without descriptors")
	case hdr.DescriptorCount > 1:
		return types.NewFrameError(types.CheckComplex, "%d descriptors", hdr.DescriptorCount)
	case hdr.DescriptorCount == 0 && len(msg.Regions) != 0:
		return types.NewFrameError(types.CheckComplex, "%d regions without descriptors", len(msg.Regions))
	case hdr.DescriptorCount == 1:
		if len(msg.Regions) != 1 || msg.Regions[0] == nil || msg.Regions[0].Released() {
			return types.NewFrameError(types.CheckComplex, "descriptor without region")
		}
		d, _ := types.ParseDescriptor(msg.Data[types.HeaderSize:])
		if d.Type != types.DescriptorTypeOOL {
			return types.NewFrameError(types.CheckComplex, "descriptor type %d", d.Type)
		}
	}
	return nil
}

// CopyPayload 拷贝负载，使其在消息销毁后仍然有效
func (e *Envelope) CopyPayload() []byte {
	out := make([]byte, len(e.Payload))
	copy(out, e.Payload)
	return out
}
