package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/iabetor/lernaudio/internal/assetsync"
)

func (a *app) cmdProbe(ctx context.Context, args []string) int {
	flags := flag.NewFlagSet("probe", flag.ContinueOnError)
	flags.SetOutput(a.stderr)
	text := flags.String("text", "Hallo, dies ist ein Test.", "测试文本")
	voice := flags.String("voice", a.cfg.TTS.Edge.Voice, "语音")
	rate := flags.Int("rate", a.cfg.TTS.Edge.Rate, "语速百分比")
	out := flags.String("out", "", "保存测试音频的路径（可选）")
	timeout := flags.Duration("timeout", 30*time.Second, "超时时间")
	if err := flags.Parse(args); err != nil {
		return exitUsage
	}

	engine, err := a.newEngine(a.cfg.TTS)
	if err != nil {
		fmt.Fprintf(a.stderr, "创建合成引擎失败: %v\n", err)
		return exitUsage
	}

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	start := time.Now()
	data, err := engine.Synthesize(ctx, *text, *voice, *rate)
	if err != nil {
		fmt.Fprintf(a.stdout, "❌ 无法连接合成服务 (%s): %v\n", a.cfg.TTS.Engine, err)
		return exitFailed
	}
	info, err := engine.Format().Probe(data)
	if err != nil {
		fmt.Fprintf(a.stdout, "❌ 合成服务返回的数据无效: %v\n", err)
		return exitFailed
	}

	fmt.Fprintf(a.stdout, "✅ 合成服务可用 (%s): %d 字节，时长 %v，采样率 %d Hz，耗时 %v\n",
		a.cfg.TTS.Engine, len(data), info.Duration.Round(time.Millisecond), info.SampleRate,
		time.Since(start).Round(time.Millisecond))

	if *out != "" {
		if err := assetsync.WriteFileAtomic(*out, data); err != nil {
			fmt.Fprintf(a.stderr, "保存测试音频失败: %v\n", err)
			return exitFailed
		}
		fmt.Fprintf(a.stdout, "已保存到 %s\n", *out)
	}
	return exitOK
}
