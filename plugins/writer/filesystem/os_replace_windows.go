//go:build windows

package filesystem

import "golang.org/x/sys/windows"

// Windows 下 os.Rename 不保证覆盖已存在目标，改用 MoveFileEx 替换并直写。
func osReplace(tmpPath, dest string) error {
	from, err := windows.UTF16PtrFromString(tmpPath)
	if err != nil {
		return err
	}
	to, err := windows.UTF16PtrFromString(dest)
	if err != nil {
		return err
	}
	return windows.MoveFileEx(from, to, windows.MOVEFILE_REPLACE_EXISTING|windows.MOVEFILE_WRITE_THROUGH)
}

// 目录不可 fsync；WRITE_THROUGH 已覆盖元数据落盘。
func syncDir(string) error { return nil }
