//go:build !unix

package vmregion

import "github.com/dep2p/go-msgport/pkg/types"

// Allocate 分配 size 字节的区域并拷入 data
func Allocate(data []byte) (*types.Region, error) {
	mem := make([]byte, len(data), roundUp(len(data)))
	copy(mem, data)
	return types.NewRegion(mem, nil), nil
}
