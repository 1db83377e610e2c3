package msgport

import (
	"sync"
)

var (
	defaultOnce    sync.Once
	defaultProcess *Process
	defaultErr     error
)

// Default 返回进程级的默认进程，首次调用时用默认配置创建机器
func Default() (*Process, error) {
	defaultOnce.Do(func() {
		m, err := NewMachine(nil)
		if err != nil {
			defaultErr = err
			return
		}
		defaultProcess, defaultErr = m.Spawn()
	})
	return defaultProcess, defaultErr
}
