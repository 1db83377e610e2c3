package msgport

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dep2p/go-msgport/pkg/types"
)

// MaxNameLength 名字编码后的最大字节数
const MaxNameLength = 128

// sanitizeName 把名字约束到有界编码
//
// 超长名字在字符边界截断；含内嵌 NUL 或非法 UTF-8 的名字被拒绝。
func sanitizeName(name string) (string, error) {
	if strings.IndexByte(name, 0) >= 0 {
		return "", fmt.Errorf("%w: embedded NUL", types.ErrNameInvalid)
	}
	if !utf8.ValidString(name) {
		return "", fmt.Errorf("%w: not valid UTF-8", types.ErrNameInvalid)
	}
	if len(name) <= MaxNameLength {
		return name, nil
	}
	cut := MaxNameLength
	for cut > 0 && !utf8.RuneStart(name[cut]) {
		cut--
	}
	return name[:cut], nil
}
