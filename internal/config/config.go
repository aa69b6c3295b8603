package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config 是 lernaudio 的顶层配置结构。
type Config struct {
	TTS    TTSConfig    `yaml:"tts"`
	Sync   SyncConfig   `yaml:"sync"`
	Ledger LedgerConfig `yaml:"ledger"`
	Audit  AuditConfig  `yaml:"audit"`
	Log    LogConfig    `yaml:"log"`
}

// TTSConfig 语音合成配置。
type TTSConfig struct {
	Engine  string        `yaml:"engine"`
	Edge    EdgeConfig    `yaml:"edge"`
	Piper   PiperConfig   `yaml:"piper"`
	Tencent TencentConfig `yaml:"tencent"`
}

// EdgeConfig Edge TTS 配置。
type EdgeConfig struct {
	Voice string `yaml:"voice"`
	// Rate 批次文件未指定语速时使用的默认值（百分比）。
	Rate int `yaml:"rate"`
}

// TencentConfig 腾讯云 TTS 配置。
type TencentConfig struct {
	SecretID  string `yaml:"secret_id"`
	SecretKey string `yaml:"secret_key"`
	VoiceType int64  `yaml:"voice_type"`
	Region    string `yaml:"region"`
}

// PiperConfig Piper TTS 配置。
type PiperConfig struct {
	Binary    string `yaml:"binary"`
	ModelPath string `yaml:"model_path"`
}

// SyncConfig 同步配置。
type SyncConfig struct {
	OutputDir string `yaml:"output_dir"`
	BatchFile string `yaml:"batch_file"`
	// Extension 为空时按合成引擎决定（.mp3 或 .wav）。
	Extension string `yaml:"extension"`
	// PaceMs 两次合成之间的间隔（毫秒），负数表示不等待。
	PaceMs int `yaml:"pace_ms"`
	// Invalidation: exists（文件存在即跳过）或 hash（文本变化时重新生成）。
	Invalidation string      `yaml:"invalidation"`
	Retry        RetryConfig `yaml:"retry"`
	// Lock 运行期间锁定输出目录。
	Lock *bool `yaml:"lock"`
}

// RetryConfig 合成失败后的重试策略。
type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
	DelayMs     int `yaml:"delay_ms"`
}

// LedgerConfig 渲染账本配置。
type LedgerConfig struct {
	Enabled bool `yaml:"enabled"`
	// Path 为空时放在实际使用的输出目录下，见 PathFor。
	Path string `yaml:"path"`
}

// LedgerFileName 输出目录下默认的账本文件名。
const LedgerFileName = ".lernaudio.db"

// PathFor 返回账本路径：显式配置优先，否则为 outputDir/.lernaudio.db。
// outputDir 是命令行覆盖之后的输出目录。
func (c LedgerConfig) PathFor(outputDir string) string {
	if c.Path != "" {
		return c.Path
	}
	return filepath.Join(outputDir, LedgerFileName)
}

// AuditConfig 章节引用检查配置。
type AuditConfig struct {
	ChaptersDir string `yaml:"chapters_dir"`
	// AudioPrefix 章节中引用音频的路径前缀，去掉后相对于 sync.output_dir。
	AudioPrefix string `yaml:"audio_prefix"`
}

// LogConfig 日志配置。
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
}

// Load 读取 YAML 配置文件并返回 Config。
// 支持 ${VAR_NAME} 形式的环境变量展开。
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件 %s 失败: %w", path, err)
	}
	return Parse(data)
}

// Parse 解析 YAML 配置内容，填充默认值并校验。
func Parse(data []byte) (*Config, error) {
	// 展开环境变量，如 ${LERNAUDIO_TENCENT_SECRET_KEY}
	expanded := os.Expand(string(data), os.Getenv)

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	setDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default 返回只含默认值的配置，用于没有配置文件的场景。
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

// setDefaults 为未设置的配置项填充默认值。
func setDefaults(cfg *Config) {
	if cfg.TTS.Engine == "" {
		cfg.TTS.Engine = "edge"
	}
	cfg.TTS.Engine = strings.ToLower(cfg.TTS.Engine)
	if cfg.TTS.Edge.Voice == "" {
		cfg.TTS.Edge.Voice = "de-DE-KatjaNeural"
	}
	if cfg.TTS.Tencent.Region == "" {
		cfg.TTS.Tencent.Region = "ap-guangzhou"
	}
	if cfg.TTS.Piper.Binary == "" {
		cfg.TTS.Piper.Binary = "piper"
	}

	if cfg.Sync.OutputDir == "" {
		cfg.Sync.OutputDir = "audio"
	}
	if cfg.Sync.BatchFile == "" {
		cfg.Sync.BatchFile = "configs/batches.yaml"
	}
	if cfg.Sync.Extension == "" {
		if cfg.TTS.Engine == "piper" {
			cfg.Sync.Extension = ".wav"
		} else {
			cfg.Sync.Extension = ".mp3"
		}
	} else if !strings.HasPrefix(cfg.Sync.Extension, ".") {
		cfg.Sync.Extension = "." + cfg.Sync.Extension
	}
	if cfg.Sync.PaceMs == 0 {
		cfg.Sync.PaceMs = 500
	}
	if cfg.Sync.Invalidation == "" {
		cfg.Sync.Invalidation = "exists"
	}
	if cfg.Sync.Retry.MaxAttempts == 0 {
		cfg.Sync.Retry.MaxAttempts = 2 // 失败后等待再试一次
	}
	if cfg.Sync.Retry.DelayMs == 0 {
		cfg.Sync.Retry.DelayMs = 3000
	}
	if cfg.Sync.Lock == nil {
		lock := true
		cfg.Sync.Lock = &lock
	}

	// hash 模式依赖账本
	if cfg.Sync.Invalidation == "hash" {
		cfg.Ledger.Enabled = true
	}

	if cfg.Audit.ChaptersDir == "" {
		cfg.Audit.ChaptersDir = "chapters"
	}
	if cfg.Audit.AudioPrefix == "" {
		cfg.Audit.AudioPrefix = "../audio/"
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	cfg.Sync.OutputDir = expandHome(cfg.Sync.OutputDir)
	cfg.Sync.BatchFile = expandHome(cfg.Sync.BatchFile)
	cfg.Ledger.Path = expandHome(cfg.Ledger.Path)
	cfg.Audit.ChaptersDir = expandHome(cfg.Audit.ChaptersDir)
	cfg.Log.File = expandHome(cfg.Log.File)

	// 去除密钥两端可能的空白（环境变量展开后常见）
	cfg.TTS.Tencent.SecretID = strings.TrimSpace(cfg.TTS.Tencent.SecretID)
	cfg.TTS.Tencent.SecretKey = strings.TrimSpace(cfg.TTS.Tencent.SecretKey)
}

// expandHome 将 ~/ 开头的路径替换为用户主目录，Go 不会自动展开 ~。
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, _ := os.UserHomeDir()
	if home == "" {
		return path
	}
	return filepath.Join(home, path[2:])
}

// Validate 检查取值范围。
func (c *Config) Validate() error {
	switch c.TTS.Engine {
	case "edge", "tencent", "piper":
	default:
		return fmt.Errorf("tts.engine 不支持: %s", c.TTS.Engine)
	}
	switch c.Sync.Invalidation {
	case "exists", "hash":
	default:
		return fmt.Errorf("sync.invalidation 只能是 exists 或 hash: %s", c.Sync.Invalidation)
	}
	if c.TTS.Edge.Rate <= -100 {
		return fmt.Errorf("tts.edge.rate 必须大于 -100: %d", c.TTS.Edge.Rate)
	}
	if c.Sync.Retry.MaxAttempts < 1 {
		return fmt.Errorf("sync.retry.max_attempts 必须 >= 1: %d", c.Sync.Retry.MaxAttempts)
	}
	if c.Sync.Retry.DelayMs < 0 {
		return fmt.Errorf("sync.retry.delay_ms 不能为负: %d", c.Sync.Retry.DelayMs)
	}
	return nil
}
