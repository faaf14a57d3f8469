//go:build !windows

package filesystem

import "os"

// POSIX 下 rename(2) 在同一文件系统内即为原子替换。
func osReplace(tmpPath, dest string) error { return os.Rename(tmpPath, dest) }

// syncDir 刷新父目录项，使 rename 在掉电后仍可见；失败由调用方忽略。
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	serr := d.Sync()
	cerr := d.Close()
	if serr != nil {
		return serr
	}
	return cerr
}
