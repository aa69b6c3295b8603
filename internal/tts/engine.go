package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/iabetor/lernaudio/internal/audio"
	"github.com/iabetor/lernaudio/internal/config"
)

// Engine 定义语音合成后端接口。
type Engine interface {
	// Synthesize 将文本合成为完整的音频文件内容（格式见 Format）。
	// voice 为空时使用引擎的默认语音；rate 为语速百分比，-20 表示慢 20%。
	Synthesize(ctx context.Context, text, voice string, rate int) ([]byte, error)
	// Format 返回输出格式。
	Format() Format
}

// Format 描述引擎输出的音频容器。
type Format struct {
	Extension string
	Probe     func([]byte) (audio.Info, error)
}

var (
	// FormatMP3 Edge、腾讯云的输出。
	FormatMP3 = Format{Extension: ".mp3", Probe: audio.ProbeMP3}
	// FormatWAV piper 的输出。
	FormatWAV = Format{Extension: ".wav", Probe: audio.ProbeWAV}
)

// TransientError 合成服务调用失败（网络、限流、服务错误、返回数据无效），可以重试。
type TransientError struct {
	Engine string
	Err    error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("[tts] %s 合成失败: %v", e.Engine, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient 判断 err 是否为可重试的合成错误。
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// NewEngine 根据配置创建合成引擎。
func NewEngine(cfg config.TTSConfig) (Engine, error) {
	switch strings.ToLower(cfg.Engine) {
	case "edge", "":
		return NewEdgeEngine(cfg.Edge.Voice), nil
	case "tencent":
		return NewTencentEngine(TencentConfig{
			SecretID:  cfg.Tencent.SecretID,
			SecretKey: cfg.Tencent.SecretKey,
			VoiceType: cfg.Tencent.VoiceType,
			Region:    cfg.Tencent.Region,
		})
	case "piper":
		return NewPiperEngine(cfg.Piper.Binary, cfg.Piper.ModelPath)
	default:
		return nil, fmt.Errorf("[tts] 不支持的合成引擎: %s", cfg.Engine)
	}
}
