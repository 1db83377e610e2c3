package directory

import "errors"

// 预定义错误
var (
	// ErrInvalidName 无效的名字
	ErrInvalidName = errors.New("directory: invalid name")

	// ErrNotFound 名字未注册或注册的端点已死亡
	ErrNotFound = errors.New("directory: name not found")

	// ErrNameInUse 名字已被存活的端点占用
	ErrNameInUse = errors.New("directory: name in use")

	// ErrNotDeclared 服务未预声明
	ErrNotDeclared = errors.New("directory: service not declared")

	// ErrAlreadyCheckedIn 服务已被领取
	ErrAlreadyCheckedIn = errors.New("directory: service already checked in")

	// ErrMaxRegistrationsExceeded 超过最大注册数
	ErrMaxRegistrationsExceeded = errors.New("directory: max registrations exceeded")

	// ErrClosed 目录已关闭
	ErrClosed = errors.New("directory: closed")
)
