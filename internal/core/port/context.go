package port

import "fmt"

// Context 用户上下文
//
// 核心从不检查 Info，只在挂接、回调前后和失效时调用钩子。
type Context struct {
	// Info 不透明的用户数据
	Info any

	// Retain 挂接或回调前调用，返回要持有的 Info
	Retain func(info any) any

	// Release 失效时或回调结束后调用
	Release func(info any)

	// Describe 返回 Info 的描述
	Describe func(info any) string
}

// RetainInfo 调用 Retain 钩子，返回持有后的上下文
func (c Context) RetainInfo() Context {
	if c.Retain != nil {
		c.Info = c.Retain(c.Info)
	}
	return c
}

// ReleaseInfo 调用 Release 钩子
func (c Context) ReleaseInfo() {
	if c.Release != nil {
		c.Release(c.Info)
	}
}

// DescribeInfo 返回上下文描述
func (c Context) DescribeInfo() string {
	if c.Describe != nil && c.Info != nil {
		return c.Describe(c.Info)
	}
	return fmt.Sprintf("<context %v>", c.Info)
}
