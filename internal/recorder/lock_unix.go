//go:build unix

package recorder

import (
	"os"

	"golang.org/x/sys/unix"
)

// lockFile 非阻塞排他锁, 文件关闭时自动释放
func lockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
}
