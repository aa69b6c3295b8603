// Package audit 检查章节 HTML 中 play('...') 引用的音频是否都已生成，
// 并列出没有被任何章节引用的音频文件。
package audit

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/net/html"

	"github.com/iabetor/lernaudio/internal/logger"
)

// playCall 匹配 onclick 中的 play('../audio/vocab/x.mp3') 或 play("...")。
var playCall = regexp.MustCompile(`play\(\s*['"]([^'"]+)['"]\s*\)`)

// Reference 章节中的一个音频引用。
type Reference struct {
	Chapter string // 章节文件名
	Raw     string // 原始引用，如 ../audio/vocab/brot.mp3
	Path    string // 相对于音频根目录的路径，如 vocab/brot.mp3
	Exists  bool
}

// Report 检查结果。
type Report struct {
	Chapters   int
	References []Reference
	Unused     []string // 相对于音频根目录，已排序
}

// Missing 返回所有缺失的引用，保持章节和出现顺序。
func (r *Report) Missing() []Reference {
	var missing []Reference
	for _, ref := range r.References {
		if !ref.Exists {
			missing = append(missing, ref)
		}
	}
	return missing
}

// Options 检查参数。
type Options struct {
	ChaptersDir string
	AudioRoot   string
	// Prefix 引用中需要去掉的前缀，默认 ../audio/
	Prefix string
	// Extension 统计未引用文件时只看该扩展名，默认 .mp3
	Extension string
}

// Scan 扫描 ChaptersDir 下的 .html / .xhtml 文件（按文件名排序）。
func Scan(opts Options) (*Report, error) {
	if opts.Prefix == "" {
		opts.Prefix = "../audio/"
	}
	if opts.Extension == "" {
		opts.Extension = ".mp3"
	}

	chapters, err := chapterFiles(opts.ChaptersDir)
	if err != nil {
		return nil, err
	}

	report := &Report{Chapters: len(chapters)}
	referenced := make(map[string]bool)

	for _, chapter := range chapters {
		refs, err := scanFile(filepath.Join(opts.ChaptersDir, chapter))
		if err != nil {
			return nil, fmt.Errorf("[audit] 解析 %s 失败: %w", chapter, err)
		}
		if len(refs) == 0 {
			logger.Debugf("[audit] %s 没有音频按钮", chapter)
		}

		for _, raw := range refs {
			rel := filepath.ToSlash(filepath.Clean(strings.TrimPrefix(raw, opts.Prefix)))
			_, statErr := os.Stat(filepath.Join(opts.AudioRoot, filepath.FromSlash(rel)))
			report.References = append(report.References, Reference{
				Chapter: chapter,
				Raw:     raw,
				Path:    rel,
				Exists:  statErr == nil,
			})
			referenced[rel] = true
		}
	}

	unused, err := unusedFiles(opts.AudioRoot, opts.Extension, referenced)
	if err != nil {
		return nil, err
	}
	report.Unused = unused

	logger.Infof("[audit] 检查了 %d 个章节，%d 个引用，缺失 %d，未引用 %d",
		report.Chapters, len(report.References), len(report.Missing()), len(report.Unused))
	return report, nil
}

func chapterFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("[audit] 读取章节目录 %s 失败: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".html", ".xhtml", ".htm":
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

func scanFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ExtractReferences(f)
}

// ExtractReferences 从 HTML 中提取所有 onclick 属性里的 play(...) 参数，按出现顺序返回。
func ExtractReferences(r io.Reader) ([]string, error) {
	var refs []string
	z := html.NewTokenizer(r)
	for {
		switch z.Next() {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				return refs, nil
			}
			return refs, z.Err()
		case html.StartTagToken, html.SelfClosingTagToken:
			for {
				key, val, more := z.TagAttr()
				if strings.EqualFold(string(key), "onclick") {
					for _, m := range playCall.FindAllStringSubmatch(string(val), -1) {
						refs = append(refs, m[1])
					}
				}
				if !more {
					break
				}
			}
		}
	}
}

// unusedFiles 列出 root 下扩展名为 ext、且不在 referenced 中的文件。
func unusedFiles(root, ext string, referenced map[string]bool) ([]string, error) {
	var unused []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == root {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ext) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !referenced[rel] {
			unused = append(unused, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("[audit] 遍历音频目录 %s 失败: %w", root, err)
	}
	sort.Strings(unused)
	return unused, nil
}
