//go:build unix

package vmregion

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/dep2p/go-msgport/pkg/types"
)

// Allocate 分配 size 字节的匿名映射并拷入 data
//
// 返回区域的 Bytes() 长度为 size，映射本身按页取整。
func Allocate(data []byte) (*types.Region, error) {
	size := len(data)
	mem, err := unix.Mmap(-1, 0, roundUp(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmap %d bytes: %w", size, err)
	}
	copy(mem, data)
	return types.NewRegion(mem[:size:size], func([]byte) error {
		return unix.Munmap(mem)
	}), nil
}
