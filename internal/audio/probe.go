// Package audio 校验合成服务返回的音频数据。
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/hajimehoshi/go-mp3"
)

// ErrNoAudio 数据为空或解码后没有任何样本。
var ErrNoAudio = errors.New("没有音频数据")

// go-mp3 固定输出 16-bit 立体声，每帧 4 字节。
const mp3BytesPerFrame = 4

// Info 一段音频的基本信息。
type Info struct {
	SampleRate int
	Duration   time.Duration
}

// ProbeMP3 解码 MP3 头并计算时长，数据无法解码时返回错误。
func ProbeMP3(data []byte) (Info, error) {
	if len(data) == 0 {
		return Info{}, ErrNoAudio
	}

	decoder, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return Info{}, fmt.Errorf("[audio] MP3 解码失败: %w", err)
	}

	length := decoder.Length()
	if length <= 0 {
		return Info{}, fmt.Errorf("[audio] MP3 解码失败: %w", ErrNoAudio)
	}

	rate := decoder.SampleRate()
	frames := length / mp3BytesPerFrame
	return Info{
		SampleRate: rate,
		Duration:   time.Duration(frames) * time.Second / time.Duration(rate),
	}, nil
}

// ProbeWAV 读取 16-bit PCM WAV 的头部并计算时长。
func ProbeWAV(data []byte) (Info, error) {
	if len(data) <= wavHeaderSize {
		return Info{}, ErrNoAudio
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Info{}, errors.New("[audio] 不是 WAV 数据")
	}

	channels := int(binary.LittleEndian.Uint16(data[22:24]))
	rate := int(binary.LittleEndian.Uint32(data[24:28]))
	dataLen := int(binary.LittleEndian.Uint32(data[40:44]))
	if channels == 0 || rate == 0 {
		return Info{}, errors.New("[audio] WAV 头部不完整")
	}
	if dataLen > len(data)-wavHeaderSize {
		dataLen = len(data) - wavHeaderSize
	}

	frames := dataLen / (2 * channels)
	return Info{
		SampleRate: rate,
		Duration:   time.Duration(frames) * time.Second / time.Duration(rate),
	}, nil
}
