package tts

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common/profile"
	tts "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/tts/v20190823"

	"github.com/iabetor/lernaudio/internal/logger"
)

// TencentEngine 使用腾讯云 TTS 实现语音合成，作为 Edge 不可用时的云端备选。
type TencentEngine struct {
	client    *tts.Client
	voiceType int64
}

// TencentConfig 腾讯云 TTS 配置。
type TencentConfig struct {
	SecretID  string
	SecretKey string
	VoiceType int64
	Region    string
}

// NewTencentEngine 创建腾讯云 TTS 引擎。
func NewTencentEngine(cfg TencentConfig) (*TencentEngine, error) {
	if cfg.SecretID == "" || cfg.SecretKey == "" {
		return nil, errors.New("[tts] 腾讯云 TTS 需要 SecretID 和 SecretKey")
	}
	if cfg.VoiceType == 0 {
		cfg.VoiceType = 1001
	}
	if cfg.Region == "" {
		cfg.Region = "ap-guangzhou"
	}

	credential := common.NewCredential(cfg.SecretID, cfg.SecretKey)
	cpf := profile.NewClientProfile()
	cpf.HttpProfile.Endpoint = "tts.tencentcloudapi.com"

	client, err := tts.NewClient(credential, cfg.Region, cpf)
	if err != nil {
		return nil, fmt.Errorf("[tts] 创建腾讯云 TTS 客户端失败: %w", err)
	}

	logger.Infof("[tts] 腾讯云 TTS 引擎已初始化 (voice=%d, region=%s)", cfg.VoiceType, cfg.Region)

	return &TencentEngine{client: client, voiceType: cfg.VoiceType}, nil
}

// Format 实现 Engine。
func (e *TencentEngine) Format() Format { return FormatMP3 }

// Synthesize 调用 TextToVoice，返回解码后的 MP3 数据。
// voice 为数字音色 ID，为空或非数字时使用默认音色。
func (e *TencentEngine) Synthesize(ctx context.Context, text, voice string, rate int) ([]byte, error) {
	voiceType := e.voiceType
	if voice != "" {
		// 批次里通常写的是 Edge 语音名，非数字时沿用默认音色
		if v, err := strconv.ParseInt(voice, 10, 64); err == nil {
			voiceType = v
		}
	}

	speed := tencentSpeed(rate)
	logger.Debugf("[tts] 腾讯云 TTS: 正在合成 %d 个字符，音色=%d，Speed=%.2f", len([]rune(text)), voiceType, speed)

	request := tts.NewTextToVoiceRequest()
	request.Text = common.StringPtr(text)
	request.SessionId = common.StringPtr(uuid.NewString())
	request.VoiceType = common.Int64Ptr(voiceType)
	request.Codec = common.StringPtr("mp3")
	request.Speed = common.Float64Ptr(speed)
	request.Volume = common.Float64Ptr(5.0)

	response, err := e.client.TextToVoiceWithContext(ctx, request)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransientError{Engine: "tencent", Err: err}
	}
	mp3Data, err := decodeTencentAudio(response)
	if err != nil {
		return nil, &TransientError{Engine: "tencent", Err: err}
	}

	logger.Debugf("[tts] 腾讯云 TTS: 收到 %d 字节 MP3 数据", len(mp3Data))
	return mp3Data, nil
}

// decodeTencentAudio 取出响应中 Base64 编码的音频。
func decodeTencentAudio(response *tts.TextToVoiceResponse) ([]byte, error) {
	if response == nil || response.Response == nil || response.Response.Audio == nil {
		return nil, errors.New("未返回音频数据")
	}
	data, err := base64.StdEncoding.DecodeString(*response.Response.Audio)
	if err != nil {
		return nil, fmt.Errorf("Base64 解码失败: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("音频数据为空")
	}
	return data, nil
}
