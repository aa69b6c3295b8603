// Package batch 从 YAML 文件加载批次定义，取代按章节复制的生成脚本。
package batch

import (
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/iabetor/lernaudio/internal/assetsync"
)

// File 批次定义文件。
type File struct {
	Voice  string  `yaml:"voice"`
	Rate   *int    `yaml:"rate"`
	Groups []Group `yaml:"groups"`
}

// Group 一组共享子目录和语音设置的条目，如某一单元的词汇。
type Group struct {
	Name   string `yaml:"name"`
	Subdir string `yaml:"subdir"`
	Voice  string `yaml:"voice"`
	Rate   *int   `yaml:"rate"`
	Items  []Item `yaml:"items"`
}

// Item 单条音频。
type Item struct {
	Key   string `yaml:"key"`
	Text  string `yaml:"text"`
	Voice string `yaml:"voice"`
	Rate  *int   `yaml:"rate"`
}

// Defaults 文件里没有指定语音或语速时的兜底值（来自配置）。
type Defaults struct {
	Voice string
	Rate  int
}

// Load 读取并解析批次文件。
func Load(filePath string) (*File, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("读取批次文件 %s 失败: %w", filePath, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("批次文件 %s: %w", filePath, err)
	}
	return f, nil
}

// Parse 解析批次 YAML 并校验结构。
func Parse(data []byte) (*File, error) {
	f := &File{}
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("解析批次失败: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Validate 检查组名唯一、文本非空、同一目录下键不重复。
// 键本身是否合法由 assetsync 在处理时判断，非法键按单条失败处理。
func (f *File) Validate() error {
	if len(f.Groups) == 0 {
		return errors.New("批次中没有任何分组")
	}

	var errs []error
	groups := make(map[string]bool, len(f.Groups))
	targets := make(map[string]string)

	for gi, g := range f.Groups {
		name := g.Name
		if name == "" {
			name = fmt.Sprintf("#%d", gi+1)
		} else if groups[name] {
			errs = append(errs, fmt.Errorf("分组名重复: %s", name))
		}
		groups[name] = true

		for ii, it := range g.Items {
			if strings.TrimSpace(it.Text) == "" {
				errs = append(errs, fmt.Errorf("分组 %s 第 %d 条 (%s) 文本为空", name, ii+1, it.Key))
			}
			id := path.Join(g.Subdir, it.Key)
			if prev, ok := targets[id]; ok {
				errs = append(errs, fmt.Errorf("键 %s 重复（分组 %s 与 %s）", id, prev, name))
				continue
			}
			targets[id] = name
		}
	}
	return errors.Join(errs...)
}

// Requests 按文件顺序展开为请求列表。only 非空时只保留这些分组。
// 语音/语速优先级：条目 > 分组 > 文件 > defaults。
func (f *File) Requests(defaults Defaults, only ...string) ([]assetsync.AudioRequest, error) {
	var filter map[string]bool
	if len(only) > 0 {
		filter = make(map[string]bool, len(only))
		for _, name := range only {
			filter[name] = false
		}
	}

	var reqs []assetsync.AudioRequest
	for _, g := range f.Groups {
		if filter != nil {
			if _, ok := filter[g.Name]; !ok {
				continue
			}
			filter[g.Name] = true
		}

		for _, it := range g.Items {
			reqs = append(reqs, assetsync.AudioRequest{
				Key:    it.Key,
				Subdir: g.Subdir,
				Text:   strings.TrimSpace(it.Text),
				Voice:  firstNonEmpty(it.Voice, g.Voice, f.Voice, defaults.Voice),
				Rate:   firstRate(defaults.Rate, it.Rate, g.Rate, f.Rate),
			})
		}
	}

	for name, seen := range filter {
		if !seen {
			return nil, fmt.Errorf("分组不存在: %s", name)
		}
	}
	return reqs, nil
}

// GroupNames 返回所有分组名。
func (f *File) GroupNames() []string {
	names := make([]string, 0, len(f.Groups))
	for _, g := range f.Groups {
		names = append(names, g.Name)
	}
	return names
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstRate(def int, rates ...*int) int {
	for _, r := range rates {
		if r != nil {
			return *r
		}
	}
	return def
}
