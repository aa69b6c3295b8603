package assetsync

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidKey 逻辑键为空或会逃逸出输出目录。
	ErrInvalidKey = errors.New("非法的逻辑键")
	// ErrLocked 输出目录正被另一次运行占用。
	ErrLocked = errors.New("输出目录已被另一个进程锁定")
)

// FilesystemError 目录创建、写入或改名失败。不重试。
type FilesystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("文件系统错误 (%s %s): %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }

// Permanent 供 retry 判断：文件系统错误不重试。
func (e *FilesystemError) Permanent() bool { return true }
