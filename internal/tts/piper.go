package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/iabetor/lernaudio/internal/audio"
	"github.com/iabetor/lernaudio/internal/logger"
)

// piperSampleRate 是 piper 输出的固定采样率。
const piperSampleRate = 22050

// silenceThreshold 峰值低于该值的输出视为无效。
const silenceThreshold = 8

// PiperEngine 使用 piper CLI 子进程离线合成，输出 WAV。
type PiperEngine struct {
	binary    string
	modelPath string
}

// NewPiperEngine 创建 Piper 引擎。binary 为空时使用 PATH 中的 piper。
func NewPiperEngine(binary, modelPath string) (*PiperEngine, error) {
	if modelPath == "" {
		return nil, errors.New("[tts] piper 需要 model_path")
	}
	if binary == "" {
		binary = "piper"
	}
	return &PiperEngine{binary: binary, modelPath: modelPath}, nil
}

// Format 实现 Engine。
func (p *PiperEngine) Format() Format { return FormatWAV }

// Synthesize 调用 piper --output-raw，把 16-bit LE 单声道 PCM 封装为 WAV。
// voice 以 .onnx 结尾时作为模型路径覆盖默认模型。
func (p *PiperEngine) Synthesize(ctx context.Context, text, voice string, rate int) ([]byte, error) {
	model := p.modelPath
	if strings.HasSuffix(voice, ".onnx") {
		model = voice
	}
	scale := piperLengthScale(rate)
	logger.Debugf("[tts] piper: 正在合成 %d 个字符，模型=%s，length_scale=%.2f", len([]rune(text)), model, scale)

	cmd := exec.CommandContext(ctx, p.binary,
		"--model", model,
		"--output-raw",
		"--length_scale", strconv.FormatFloat(scale, 'f', 2, 64),
	)
	cmd.Stdin = strings.NewReader(text)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if s := strings.TrimSpace(stderr.String()); s != "" {
			logger.Warnf("[tts] piper stderr: %s", s)
		}
		return nil, &TransientError{Engine: "piper", Err: fmt.Errorf("执行失败: %w", err)}
	}

	pcm := stdout.Bytes()
	if len(pcm) == 0 || audio.Silent(pcm, silenceThreshold) {
		return nil, &TransientError{Engine: "piper", Err: audio.ErrNoAudio}
	}

	logger.Debugf("[tts] piper: 收到 %d 字节原始 PCM", len(pcm))
	return audio.EncodeWAV(pcm, piperSampleRate, 1), nil
}
