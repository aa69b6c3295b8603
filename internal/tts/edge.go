package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/pp-group/edge-tts-go/biz/service/tts/edge"

	"github.com/iabetor/lernaudio/internal/logger"
)

// DefaultEdgeVoice 清晰的德语女声，适合 A1 学习者。
const DefaultEdgeVoice = "de-DE-KatjaNeural"

// EdgeEngine 使用微软 Edge TTS 实现语音合成，直接输出 MP3。
type EdgeEngine struct {
	voice string
}

// NewEdgeEngine 创建指定默认语音的 Edge TTS 引擎。
func NewEdgeEngine(voice string) *EdgeEngine {
	if voice == "" {
		voice = DefaultEdgeVoice
	}
	return &EdgeEngine{voice: voice}
}

// Format 实现 Engine。
func (e *EdgeEngine) Format() Format { return FormatMP3 }

// Synthesize 通过 edge-tts-go 的 Stream() 收集 MP3 数据。
func (e *EdgeEngine) Synthesize(ctx context.Context, text, voice string, rate int) ([]byte, error) {
	if voice == "" {
		voice = e.voice
	}
	logger.Debugf("[tts] edge-tts: 正在合成 %d 个字符，语音=%s，语速=%s", len([]rune(text)), voice, FormatRate(rate))

	comm, err := edge.NewCommunicate(text, edge.WithVoice(voice), edge.WithRate(FormatRate(rate)))
	if err != nil {
		return nil, &TransientError{Engine: "edge", Err: err}
	}

	var ch <-chan map[string]interface{}
	err = withStdoutDiscarded(func() error {
		var err error
		ch, err = comm.Stream()
		return err
	})
	if err != nil {
		return nil, &TransientError{Engine: "edge", Err: err}
	}
	// 通道只能由 CloseOutput 关闭，否则还在发送的协程会一直阻塞
	defer comm.CloseOutput()

	data, err := collectAudio(ctx, ch, comm.AudioDataIndex)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, &TransientError{Engine: "edge", Err: err}
	}

	logger.Debugf("[tts] edge-tts: 收到 %d 字节 MP3 数据", len(data))
	return data, nil
}

// collectAudio 从 Stream() 的通道读取消息，直到收到 chunks 个 end。
// 长文本被切成多段并行合成，音频按段序号拼接。
func collectAudio(ctx context.Context, ch <-chan map[string]interface{}, chunks int) ([]byte, error) {
	if chunks <= 0 {
		chunks = 1
	}
	parts := make(map[int]*bytes.Buffer, chunks)
	ends := 0

	for ends < chunks {
		var msg map[string]interface{}
		var ok bool
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case msg, ok = <-ch:
		}
		if !ok {
			break
		}

		if v, isErr := msg["error"]; isErr {
			return nil, errors.New(edgeErrorMessage(v))
		}
		if _, isEnd := msg["end"]; isEnd {
			ends++
			continue
		}
		// 其余 type（WordBoundary）是字边界元数据
		if t, _ := msg["type"].(string); t != "audio" {
			continue
		}
		if ad, ok := msg["data"].(edge.AudioData); ok {
			buf := parts[ad.Index]
			if buf == nil {
				buf = &bytes.Buffer{}
				parts[ad.Index] = buf
			}
			buf.Write(ad.Data)
		}
	}

	var out bytes.Buffer
	for i := 0; i < chunks; i++ {
		buf := parts[i]
		if buf == nil || buf.Len() == 0 {
			return nil, fmt.Errorf("第 %d 段未收到音频数据", i+1)
		}
		out.Write(buf.Bytes())
	}
	return out.Bytes(), nil
}

// edgeErrorMessage 库里的错误类型没有实现 error，只带 Message。
func edgeErrorMessage(v interface{}) string {
	switch e := v.(type) {
	case edge.WebSocketError:
		return "WebSocket: " + e.Message
	case edge.NoAudioReceived:
		return e.Message
	case edge.UnknownResponse:
		return "未知响应: " + e.Message
	case edge.UnexpectedResponse:
		return "异常响应: " + e.Message
	case error:
		return e.Error()
	default:
		return fmt.Sprint(v)
	}
}

var stdoutMu sync.Mutex

// withStdoutDiscarded 执行 fn 期间丢弃 os.Stdout 的输出。
// edge-tts-go 的 Stream() 会把每段文本打印到标准输出，混进同步进度。
func withStdoutDiscarded(fn func() error) error {
	devNull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		return fn()
	}
	defer devNull.Close()

	stdoutMu.Lock()
	orig := os.Stdout
	os.Stdout = devNull
	defer func() {
		os.Stdout = orig
		stdoutMu.Unlock()
	}()
	return fn()
}
