package assetsync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// AudioRequest 描述一个需要存在于磁盘上的音频资源。
type AudioRequest struct {
	Key    string // 逻辑键，作为文件名主干
	Subdir string // 可选子目录，如 vocab、sentences
	Text   string // 朗读内容
	Voice  string // 语音标识，如 de-DE-KatjaNeural
	Rate   int    // 语速调整百分比，-20 表示慢 20%
}

// Digest 返回 (voice, rate, text) 的 sha256，用于 hash 失效模式。
func (r AudioRequest) Digest() string {
	h := sha256.New()
	h.Write([]byte(r.Voice))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(r.Rate)))
	h.Write([]byte{0})
	h.Write([]byte(r.Text))
	return hex.EncodeToString(h.Sum(nil))
}

// Renderer 将请求合成为音频并写入 target。
type Renderer interface {
	Render(ctx context.Context, req AudioRequest, target string) error
}

// AssetRecord 是账本中一条已生成资源的记录。
type AssetRecord struct {
	Path       string
	Key        string
	Digest     string
	Voice      string
	Rate       int
	Size       int64
	RenderedAt time.Time
}

// Ledger 记录资源的来源摘要和每次运行的结果。
type Ledger interface {
	// Lookup 返回 target 对应的摘要；不存在记录时 ok 为 false。
	Lookup(ctx context.Context, target string) (digest string, ok bool, err error)
	Record(ctx context.Context, rec AssetRecord) error
	RecordRun(ctx context.Context, res *BatchResult) error
}

// Invalidation 决定已存在的资源何时需要重新生成。
type Invalidation string

const (
	// InvalidateNever 只要文件存在就跳过，不比较内容。
	InvalidateNever Invalidation = "exists"
	// InvalidateOnChange 账本中的摘要与请求不一致时重新生成。
	InvalidateOnChange Invalidation = "hash"
)

// Outcome 单个请求的处理结果。
type Outcome int

const (
	OutcomeCreated Outcome = iota
	OutcomeSkipped
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Progress 每处理完一个请求回调一次。
type Progress struct {
	Index   int // 从 1 开始
	Total   int
	Request AudioRequest
	Target  string
	Outcome Outcome
	Err     error
}

// Reporter 接收逐条进度。
type Reporter func(Progress)

// Failure 一个失败的请求。
type Failure struct {
	Key    string
	Target string
	Err    error
}

// BatchResult 一次同步的汇总结果，不持久化（账本除外）。
type BatchResult struct {
	RunID    string
	Started  time.Time
	Finished time.Time
	Created  int
	Skipped  int
	Failed   []Failure // 按请求顺序
}

// Total 返回已处理的请求数。
func (r *BatchResult) Total() int {
	return r.Created + r.Skipped + len(r.Failed)
}

// OK 没有失败项时返回 true。
func (r *BatchResult) OK() bool {
	return len(r.Failed) == 0
}

// FailedKeys 按顺序返回失败的逻辑键。
func (r *BatchResult) FailedKeys() []string {
	keys := make([]string, len(r.Failed))
	for i, f := range r.Failed {
		keys[i] = f.Key
	}
	return keys
}
