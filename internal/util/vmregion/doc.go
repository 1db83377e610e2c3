// Package vmregion 分配按页映射的内存区域
//
// 大负载以区域形式按引用在任务之间移动，接收方消费后释放。
// unix 平台使用匿名 mmap，其他平台退化为堆内存。
package vmregion

import "os"

// PageSize 映射粒度
var PageSize = os.Getpagesize()

// roundUp 向上取整到页大小
func roundUp(n int) int {
	if n <= 0 {
		return PageSize
	}
	return (n + PageSize - 1) &^ (PageSize - 1)
}
