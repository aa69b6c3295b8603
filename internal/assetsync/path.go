package assetsync

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultExtension 未指定扩展名时使用的后缀。
const DefaultExtension = ".mp3"

// TargetPath 计算请求对应的文件路径：root/[subdir/]key+ext。
// 不做大小写或字符规范化；含路径分隔符或 ".." 的键直接拒绝。
func TargetPath(root string, req AudioRequest, ext string) (string, error) {
	if err := ValidateKey(req.Key); err != nil {
		return "", err
	}
	if err := validateSubdir(req.Subdir); err != nil {
		return "", err
	}
	if ext == "" {
		ext = DefaultExtension
	}
	return filepath.Join(root, req.Subdir, req.Key+ext), nil
}

// ValidateKey 检查逻辑键能否安全地作为文件名使用。
func ValidateKey(key string) error {
	switch {
	case key == "":
		return fmt.Errorf("%w: 键为空", ErrInvalidKey)
	case key == "." || key == "..":
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	case strings.ContainsAny(key, `/\`) || strings.ContainsRune(key, filepath.Separator):
		return fmt.Errorf("%w: %q 含路径分隔符", ErrInvalidKey, key)
	case strings.ContainsRune(key, 0):
		return fmt.Errorf("%w: %q 含 NUL 字符", ErrInvalidKey, key)
	}
	return nil
}

func validateSubdir(subdir string) error {
	if subdir == "" {
		return nil
	}
	if filepath.IsAbs(subdir) || strings.HasPrefix(subdir, "/") {
		return fmt.Errorf("%w: 子目录 %q 不能是绝对路径", ErrInvalidKey, subdir)
	}
	for _, part := range strings.FieldsFunc(subdir, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return fmt.Errorf("%w: 子目录 %q 含 ..", ErrInvalidKey, subdir)
		}
	}
	return nil
}

// WriteFileAtomic 先写同目录临时文件再改名，失败时不会留下目标文件。
// 父目录不存在时自动创建。
func WriteFileAtomic(target string, data []byte) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &FilesystemError{Op: "mkdir", Path: dir, Err: err}
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(target)+".*.tmp")
	if err != nil {
		return &FilesystemError{Op: "create", Path: target, Err: err}
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &FilesystemError{Op: "write", Path: tmpPath, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return &FilesystemError{Op: "close", Path: tmpPath, Err: err}
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return &FilesystemError{Op: "chmod", Path: tmpPath, Err: err}
	}
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return &FilesystemError{Op: "rename", Path: target, Err: err}
	}
	return nil
}
