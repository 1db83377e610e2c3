package msgport

import (
	"errors"

	"github.com/dep2p/go-msgport/internal/core/msgport"
	"github.com/dep2p/go-msgport/pkg/types"
)

// 公共错误定义
var (
	// ────────────────────────────────────────────────────────────────────────
	// 机器与进程错误
	// ────────────────────────────────────────────────────────────────────────

	// ErrMachineClosed 机器已关闭
	ErrMachineClosed = errors.New("machine closed")

	// ErrProcessClosed 进程已关闭
	ErrProcessClosed = errors.New("process closed")

	// ────────────────────────────────────────────────────────────────────────
	// 端口错误
	// ────────────────────────────────────────────────────────────────────────

	ErrAllocationFailed = types.ErrAllocationFailed
	ErrNameInvalid      = types.ErrNameInvalid
	ErrNameUnavailable  = types.ErrNameUnavailable
	ErrPortIsInvalid    = types.ErrPortIsInvalid
	ErrNotRemote        = msgport.ErrNotRemote
	ErrNotLocal         = msgport.ErrNotLocal
	ErrHasRunLoopSource = msgport.ErrHasRunLoopSource

	// ────────────────────────────────────────────────────────────────────────
	// 请求/回复错误
	// ────────────────────────────────────────────────────────────────────────

	ErrPayloadTooLarge = types.ErrPayloadTooLarge
	ErrSendTimeout     = types.ErrSendTimeout
	ErrReceiveTimeout  = types.ErrReceiveTimeout
	ErrTransport       = types.ErrTransport
	ErrBecameInvalid   = types.ErrBecameInvalid
	ErrCorruptFrame    = types.ErrCorruptFrame
)
