//go:build !windows

package filesystem

import "os"

// syncDir 尽力 fsync 父目录，持久化 rename 元数据。
func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
