package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/iabetor/lernaudio/internal/assetsync"
	"github.com/iabetor/lernaudio/internal/batch"
	"github.com/iabetor/lernaudio/internal/ledger"
	"github.com/iabetor/lernaudio/internal/retry"
	"github.com/iabetor/lernaudio/internal/tts"
)

func (a *app) cmdSync(ctx context.Context, args []string) int {
	flags := flag.NewFlagSet("sync", flag.ContinueOnError)
	flags.SetOutput(a.stderr)
	batchPath := flags.String("batch", a.cfg.Sync.BatchFile, "批次定义文件")
	only := flags.String("only", "", "只处理这些分组（逗号分隔）")
	outDir := flags.String("out", a.cfg.Sync.OutputDir, "输出目录")
	if err := flags.Parse(args); err != nil {
		return exitUsage
	}

	file, err := batch.Load(*batchPath)
	if err != nil {
		fmt.Fprintf(a.stderr, "加载批次失败: %v\n", err)
		return exitUsage
	}
	reqs, err := file.Requests(batch.Defaults{Voice: a.cfg.TTS.Edge.Voice, Rate: a.cfg.TTS.Edge.Rate}, splitList(*only)...)
	if err != nil {
		fmt.Fprintf(a.stderr, "展开批次失败: %v\n", err)
		return exitUsage
	}

	engine, err := a.newEngine(a.cfg.TTS)
	if err != nil {
		fmt.Fprintf(a.stderr, "创建合成引擎失败: %v\n", err)
		return exitUsage
	}

	opts := assetsync.Options{
		Extension:    a.cfg.Sync.Extension,
		Pace:         time.Duration(max(a.cfg.Sync.PaceMs, 0)) * time.Millisecond,
		Retry:        retry.Policy{MaxAttempts: a.cfg.Sync.Retry.MaxAttempts, Delay: time.Duration(a.cfg.Sync.Retry.DelayMs) * time.Millisecond},
		Invalidation: assetsync.Invalidation(a.cfg.Sync.Invalidation),
		Reporter:     a.printProgress,
		Lock:         a.cfg.Sync.Lock != nil && *a.cfg.Sync.Lock,
	}

	if a.cfg.Ledger.Enabled {
		l, err := ledger.Open(a.cfg.Ledger.PathFor(*outDir))
		if err != nil {
			fmt.Fprintf(a.stderr, "打开账本失败: %v\n", err)
			return exitUsage
		}
		defer l.Close()
		opts.Ledger = l
	}

	syncer, err := assetsync.New(tts.NewFileRenderer(a.cfg.TTS.Engine, engine), opts)
	if err != nil {
		fmt.Fprintf(a.stderr, "创建同步器失败: %v\n", err)
		return exitUsage
	}

	fmt.Fprintf(a.stdout, "🔊 共 %d 个音频，输出目录 %s（引擎 %s）\n", len(reqs), *outDir, a.cfg.TTS.Engine)

	res, err := syncer.Synchronize(ctx, reqs, *outDir)
	if res != nil {
		a.printSummary(res)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(a.stderr, "已中断，重新运行会跳过已生成的文件。")
		} else {
			fmt.Fprintf(a.stderr, "同步失败: %v\n", err)
		}
		return exitFailed
	}
	if !res.OK() {
		return exitFailed
	}
	return exitOK
}

func (a *app) printProgress(p assetsync.Progress) {
	width := len(strconv.Itoa(p.Total))
	prefix := fmt.Sprintf("[%*d/%d]", width, p.Index, p.Total)
	switch p.Outcome {
	case assetsync.OutcomeCreated:
		fmt.Fprintf(a.stdout, "%s ✅ 已生成: %s -> %s\n", prefix, p.Request.Text, p.Target)
	case assetsync.OutcomeSkipped:
		fmt.Fprintf(a.stdout, "%s ⏭️  已存在: %s\n", prefix, p.Target)
	case assetsync.OutcomeFailed:
		fmt.Fprintf(a.stdout, "%s ❌ 失败: %s - %v\n", prefix, p.Request.Key, p.Err)
	}
}

func (a *app) printSummary(res *assetsync.BatchResult) {
	fmt.Fprintln(a.stdout)
	a.printTable(tableView{
		headers: []string{"结果", "数量"},
		rows: [][]string{
			{"已生成", strconv.Itoa(res.Created)},
			{"已跳过", strconv.Itoa(res.Skipped)},
			{"失败", strconv.Itoa(len(res.Failed))},
		},
		aligns: []columnAlignment{alignLeft, alignRight},
		tone:   summaryTone,
	})

	if len(res.Failed) == 0 {
		return
	}
	rows := make([][]string, 0, len(res.Failed))
	for _, f := range res.Failed {
		rows = append(rows, []string{f.Key, f.Target, f.Err.Error()})
	}
	a.printTable(tableView{headers: []string{"失败的键", "路径", "原因"}, rows: rows, tone: failTone})
	fmt.Fprintln(a.stdout, "重新运行 sync 即可重试失败项，已生成的文件会被跳过。")
}

// summaryTone 失败数非零时标红，有新生成时标绿。
func summaryTone(row []string) rowTone {
	if row[1] == "0" {
		return toneNone
	}
	switch row[0] {
	case "已生成":
		return toneOK
	case "失败":
		return toneFail
	}
	return toneNone
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
