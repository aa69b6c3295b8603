package tts

import (
	"context"
	"fmt"

	"github.com/iabetor/lernaudio/internal/assetsync"
	"github.com/iabetor/lernaudio/internal/logger"
)

// FileRenderer 把 Engine 适配为 assetsync.Renderer：
// 合成、校验音频数据，再原子地写入目标路径。
type FileRenderer struct {
	engine Engine
	name   string
}

// NewFileRenderer 创建文件渲染器。name 仅用于日志和错误信息。
func NewFileRenderer(name string, engine Engine) *FileRenderer {
	return &FileRenderer{engine: engine, name: name}
}

// Render 实现 assetsync.Renderer。
func (r *FileRenderer) Render(ctx context.Context, req assetsync.AudioRequest, target string) error {
	data, err := r.engine.Synthesize(ctx, req.Text, req.Voice, req.Rate)
	if err != nil {
		return err
	}

	info, err := r.engine.Format().Probe(data)
	if err != nil {
		// 服务偶尔返回空内容或错误页，按可重试处理
		return &TransientError{Engine: r.name, Err: fmt.Errorf("音频校验失败: %w", err)}
	}

	if err := assetsync.WriteFileAtomic(target, data); err != nil {
		return err
	}

	logger.Debugf("[tts] 已写入 %s (%d 字节, %v)", target, len(data), info.Duration)
	return nil
}
