package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/iabetor/lernaudio/internal/ledger"
)

func (a *app) cmdHistory(ctx context.Context, args []string) int {
	flags := flag.NewFlagSet("history", flag.ContinueOnError)
	flags.SetOutput(a.stderr)
	n := flags.Int("n", 10, "显示最近几次")
	outDir := flags.String("out", a.cfg.Sync.OutputDir, "输出目录（账本默认在其中）")
	if err := flags.Parse(args); err != nil {
		return exitUsage
	}
	dbPath := a.cfg.Ledger.PathFor(*outDir)

	if _, err := os.Stat(dbPath); errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(a.stdout, "还没有同步记录（在配置中设置 ledger.enabled: true 后开始记录）。")
		return exitOK
	}

	l, err := ledger.Open(dbPath)
	if err != nil {
		fmt.Fprintf(a.stderr, "打开账本失败: %v\n", err)
		return exitFailed
	}
	defer l.Close()

	runs, err := l.Runs(ctx, *n)
	if err != nil {
		fmt.Fprintf(a.stderr, "读取同步记录失败: %v\n", err)
		return exitFailed
	}
	if len(runs) == 0 {
		fmt.Fprintln(a.stdout, "还没有同步记录。")
		return exitOK
	}

	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String(),
			strconv.Itoa(r.Created),
			strconv.Itoa(r.Skipped),
			strconv.Itoa(r.Failed),
			strings.Join(r.FailedKeys, ", "),
		})
	}
	a.printTable(tableView{
		headers: []string{"开始时间", "耗时", "生成", "跳过", "失败", "失败的键"},
		rows:    rows,
		aligns:  []columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft},
		tone: func(row []string) rowTone {
			if row[4] != "0" {
				return toneFail
			}
			return toneNone
		},
	})
	return exitOK
}
