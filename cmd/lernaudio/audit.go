package main

import (
	"flag"
	"fmt"

	"github.com/iabetor/lernaudio/internal/audit"
)

func (a *app) cmdAudit(args []string) int {
	flags := flag.NewFlagSet("audit", flag.ContinueOnError)
	flags.SetOutput(a.stderr)
	chapters := flags.String("chapters", a.cfg.Audit.ChaptersDir, "章节 HTML 目录")
	audioRoot := flags.String("audio", a.cfg.Sync.OutputDir, "音频根目录")
	showUnused := flags.Bool("unused", false, "列出未被引用的音频")
	if err := flags.Parse(args); err != nil {
		return exitUsage
	}

	report, err := audit.Scan(audit.Options{
		ChaptersDir: *chapters,
		AudioRoot:   *audioRoot,
		Prefix:      a.cfg.Audit.AudioPrefix,
		Extension:   a.cfg.Sync.Extension,
	})
	if err != nil {
		fmt.Fprintf(a.stderr, "检查失败: %v\n", err)
		return exitUsage
	}

	missing := report.Missing()
	fmt.Fprintf(a.stdout, "📊 章节 %d 个，音频按钮 %d 个，缺失 %d 个，未引用 %d 个\n",
		report.Chapters, len(report.References), len(missing), len(report.Unused))

	if len(missing) > 0 {
		rows := make([][]string, 0, len(missing))
		for _, ref := range missing {
			rows = append(rows, []string{ref.Chapter, ref.Path})
		}
		a.printTable(tableView{headers: []string{"章节", "缺失的音频"}, rows: rows, tone: failTone})
	}

	if *showUnused && len(report.Unused) > 0 {
		rows := make([][]string, 0, len(report.Unused))
		for _, u := range report.Unused {
			rows = append(rows, []string{u})
		}
		a.printTable(tableView{headers: []string{"未引用的音频"}, rows: rows, tone: func([]string) rowTone { return toneWarn }})
	}

	if len(missing) > 0 {
		return exitFailed
	}
	fmt.Fprintln(a.stdout, "🎉 所有音频引用都有对应文件")
	return exitOK
}
