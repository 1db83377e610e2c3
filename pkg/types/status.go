package types

import "errors"

// SendStatus 请求发送结果的数值状态码
type SendStatus int32

const (
	StatusSuccess        SendStatus = 0
	StatusSendTimeout    SendStatus = -1
	StatusReceiveTimeout SendStatus = -2
	StatusIsInvalid      SendStatus = -3
	StatusTransportError SendStatus = -4
	StatusBecameInvalid  SendStatus = -5
)

// String 返回状态名称
func (s SendStatus) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusSendTimeout:
		return "send timeout"
	case StatusReceiveTimeout:
		return "receive timeout"
	case StatusIsInvalid:
		return "is invalid"
	case StatusTransportError:
		return "transport error"
	case StatusBecameInvalid:
		return "became invalid"
	default:
		return "unknown"
	}
}

// StatusOf 将 SendRequest 返回的错误映射为状态码
//
// 未归类的错误（如 ErrPayloadTooLarge）映射为 StatusTransportError。
func StatusOf(err error) SendStatus {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, ErrSendTimeout):
		return StatusSendTimeout
	case errors.Is(err, ErrReceiveTimeout):
		return StatusReceiveTimeout
	case errors.Is(err, ErrBecameInvalid):
		return StatusBecameInvalid
	case errors.Is(err, ErrPortIsInvalid):
		return StatusIsInvalid
	default:
		return StatusTransportError
	}
}
