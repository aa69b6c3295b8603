package main

import (
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

// rowTone 行的语义颜色，只在终端中生效。
type rowTone int

const (
	toneNone rowTone = iota
	toneOK
	toneWarn
	toneFail
)

func (t rowTone) colors() text.Colors {
	switch t {
	case toneOK:
		return text.Colors{text.FgGreen}
	case toneWarn:
		return text.Colors{text.FgYellow}
	case toneFail:
		return text.Colors{text.FgRed}
	default:
		return nil
	}
}

// tableView 一张输出表格。tone 为空时不着色。
type tableView struct {
	headers []string
	rows    [][]string
	aligns  []columnAlignment
	tone    func(row []string) rowTone
}

// renderTable 渲染表格；colorize 为 false 时忽略 tone，便于重定向到文件或测试。
func renderTable(v tableView, colorize bool) string {
	columns := len(v.headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i, h := range v.headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, cells := range v.rows {
		r := make(table.Row, columns)
		for i := range r {
			r[i] = ""
			if i < len(cells) {
				r[i] = cells[i]
			}
		}
		tw.AppendRow(r)
	}

	if colorize && v.tone != nil {
		tw.SetRowPainter(table.RowPainter(func(row table.Row) text.Colors {
			cells := make([]string, len(row))
			for i, c := range row {
				cells[i], _ = c.(string)
			}
			return v.tone(cells).colors()
		}))
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(v.aligns) && v.aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
			WidthMax:    72,
		})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

// printTable 渲染到 stdout，终端时着色。
func (a *app) printTable(v tableView) {
	io.WriteString(a.stdout, renderTable(v, isTerminal(a.stdout))+"\n")
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// failTone 整张表都是失败项。
func failTone([]string) rowTone { return toneFail }
