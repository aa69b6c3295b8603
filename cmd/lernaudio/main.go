package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/iabetor/lernaudio/internal/config"
	"github.com/iabetor/lernaudio/internal/logger"
	"github.com/iabetor/lernaudio/internal/tts"
)

const defaultConfigPath = "configs/lernaudio.yaml"

// 退出码：有失败项时非零，便于在 CI 中使用。
const (
	exitOK     = 0
	exitFailed = 1
	exitUsage  = 2
)

// app 持有命令共用的依赖，测试中可替换合成引擎和输出。
type app struct {
	cfg       *config.Config
	stdout    io.Writer
	stderr    io.Writer
	newEngine func(config.TTSConfig) (tts.Engine, error)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	logger.Sync()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("lernaudio", flag.ContinueOnError)
	flags.SetOutput(stderr)
	configPath := flags.String("config", defaultConfigPath, "配置文件路径")
	flags.Usage = func() { printUsage(stderr) }
	if err := flags.Parse(args); err != nil {
		return exitUsage
	}

	rest := flags.Args()
	if len(rest) == 0 {
		printUsage(stderr)
		return exitUsage
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "加载配置失败: %v\n", err)
		return exitUsage
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
	}); err != nil {
		fmt.Fprintf(stderr, "初始化日志失败: %v\n", err)
		return exitUsage
	}

	a := &app{cfg: cfg, stdout: stdout, stderr: stderr, newEngine: tts.NewEngine}

	switch rest[0] {
	case "sync":
		return a.cmdSync(ctx, rest[1:])
	case "audit":
		return a.cmdAudit(rest[1:])
	case "probe":
		return a.cmdProbe(ctx, rest[1:])
	case "history":
		return a.cmdHistory(ctx, rest[1:])
	case "help", "-h", "--help":
		printUsage(stdout)
		return exitOK
	default:
		fmt.Fprintf(stderr, "未知命令: %s\n", rest[0])
		printUsage(stderr)
		return exitUsage
	}
}

// loadConfig 默认配置文件不存在时使用内置默认值；显式指定的文件必须存在。
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil && path == defaultConfigPath && errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	return cfg, err
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "lernaudio 教材音频同步工具")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "用法: lernaudio [-config <path>] <command> [args]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "命令:")
	fmt.Fprintln(w, "  sync [-batch f] [-only g1,g2] [-out dir]  生成缺失的音频（有失败项时退出码为 1）")
	fmt.Fprintln(w, "  audit [-chapters dir] [-audio dir]        检查章节中引用的音频是否存在")
	fmt.Fprintln(w, "  probe [-text t] [-voice v] [-out f]       测试合成服务是否可用")
	fmt.Fprintln(w, "  history [-n N] [-out dir]                 查看最近的同步记录")
}
