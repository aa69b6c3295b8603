// Package assetsync 将一批 AudioRequest 与磁盘上的音频文件对齐：
// 已存在的跳过，缺失的通过合成服务生成，单条失败不影响整批。
package assetsync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/iabetor/lernaudio/internal/logger"
	"github.com/iabetor/lernaudio/internal/retry"
)

// LockFileName 输出目录下的运行锁文件名。
const LockFileName = ".lernaudio.lock"

// Options 同步器配置。零值即原始行为：.mp3、无间隔、不重试、只看文件是否存在。
type Options struct {
	Extension    string        // 文件扩展名，默认 .mp3
	Pace         time.Duration // 两次合成之间的间隔
	Retry        retry.Policy  // 合成调用的重试策略
	Invalidation Invalidation  // 默认 InvalidateNever
	Ledger       Ledger        // 可选；hash 模式必需
	Reporter     Reporter      // 可选的逐条进度回调
	Lock         bool          // 运行期间对输出目录加文件锁
}

// Synchronizer 单线程、无状态的批量同步器。
// 跨调用的状态只有文件系统本身（以及可选的账本）。
type Synchronizer struct {
	renderer Renderer
	opts     Options
}

// New 创建同步器。
func New(renderer Renderer, opts Options) (*Synchronizer, error) {
	if renderer == nil {
		return nil, errors.New("[sync] renderer 不能为空")
	}
	if opts.Extension == "" {
		opts.Extension = DefaultExtension
	}
	switch opts.Invalidation {
	case "":
		opts.Invalidation = InvalidateNever
	case InvalidateNever:
	case InvalidateOnChange:
		if opts.Ledger == nil {
			return nil, errors.New("[sync] hash 失效模式需要账本")
		}
	default:
		return nil, fmt.Errorf("[sync] 不支持的失效模式: %s", opts.Invalidation)
	}
	return &Synchronizer{renderer: renderer, opts: opts}, nil
}

// Synchronize 按顺序处理 requests。
// 单条失败记入 BatchResult.Failed 并继续；只有输出目录不可用、锁冲突
// 或 ctx 取消时返回 error（取消时同时返回已处理部分的结果）。
func (s *Synchronizer) Synchronize(ctx context.Context, requests []AudioRequest, outputRoot string) (*BatchResult, error) {
	res := &BatchResult{RunID: uuid.NewString(), Started: time.Now()}

	if err := os.MkdirAll(outputRoot, 0755); err != nil {
		return nil, &FilesystemError{Op: "mkdir", Path: outputRoot, Err: err}
	}

	if s.opts.Lock {
		lock := flock.New(filepath.Join(outputRoot, LockFileName))
		ok, err := lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("[sync] 获取目录锁失败: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("[sync] %s: %w", outputRoot, ErrLocked)
		}
		defer func() {
			if err := lock.Unlock(); err != nil {
				logger.Warnf("[sync] 释放目录锁失败: %v", err)
			}
		}()
	}

	logger.Infof("[sync] 开始同步 %d 个音频 (run=%s, 目录=%s, 模式=%s)",
		len(requests), res.RunID, outputRoot, s.opts.Invalidation)

	total := len(requests)
	rendered := false
	var runErr error

	for i, req := range requests {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		p := Progress{Index: i + 1, Total: total, Request: req}

		target, err := TargetPath(outputRoot, req, s.opts.Extension)
		if err != nil {
			s.fail(res, &p, err)
			continue
		}
		p.Target = target

		skip, err := s.upToDate(ctx, req, target)
		if err != nil {
			s.fail(res, &p, err)
			continue
		}
		if skip {
			res.Skipped++
			p.Outcome = OutcomeSkipped
			s.report(p)
			continue
		}

		// 节流只发生在两次合成之间
		if rendered && s.opts.Pace > 0 {
			if err := retry.Sleep(ctx, s.opts.Pace); err != nil {
				runErr = err
				break
			}
		}
		rendered = true

		if err := s.render(ctx, req, target); err != nil {
			s.fail(res, &p, err)
			continue
		}

		res.Created++
		p.Outcome = OutcomeCreated
		s.record(ctx, req, target)
		s.report(p)
	}

	res.Finished = time.Now()
	logger.Infof("[sync] 同步结束 (run=%s): 生成 %d, 跳过 %d, 失败 %d, 耗时 %v",
		res.RunID, res.Created, res.Skipped, len(res.Failed), res.Finished.Sub(res.Started).Round(time.Millisecond))

	if s.opts.Ledger != nil {
		// 取消后也要写入运行记录
		if err := s.opts.Ledger.RecordRun(context.WithoutCancel(ctx), res); err != nil {
			logger.Warnf("[sync] 写入运行记录失败: %v", err)
		}
	}

	return res, runErr
}

// upToDate 判断 target 是否可以跳过。
func (s *Synchronizer) upToDate(ctx context.Context, req AudioRequest, target string) (bool, error) {
	info, err := os.Stat(target)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, &FilesystemError{Op: "stat", Path: target, Err: err}
	}
	if info.IsDir() {
		return false, &FilesystemError{Op: "stat", Path: target, Err: errors.New("目标是目录")}
	}

	if s.opts.Invalidation != InvalidateOnChange {
		return true, nil
	}

	digest, ok, err := s.opts.Ledger.Lookup(ctx, target)
	if err != nil {
		return false, fmt.Errorf("[sync] 查询账本失败: %w", err)
	}
	if !ok {
		// 账本之前就存在的文件：接收并登记，不重新生成
		logger.Debugf("[sync] 登记已有文件: %s", target)
		s.record(ctx, req, target)
		return true, nil
	}
	if digest != req.Digest() {
		logger.Infof("[sync] 文本或语音已变更，重新生成: %s", target)
		return false, nil
	}
	return true, nil
}

func (s *Synchronizer) render(ctx context.Context, req AudioRequest, target string) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &FilesystemError{Op: "mkdir", Path: dir, Err: err}
	}
	return s.opts.Retry.Do(ctx, func(ctx context.Context) error {
		return s.renderer.Render(ctx, req, target)
	})
}

func (s *Synchronizer) record(ctx context.Context, req AudioRequest, target string) {
	if s.opts.Ledger == nil {
		return
	}
	rec := AssetRecord{
		Path:       target,
		Key:        req.Key,
		Digest:     req.Digest(),
		Voice:      req.Voice,
		Rate:       req.Rate,
		RenderedAt: time.Now(),
	}
	if info, err := os.Stat(target); err == nil {
		rec.Size = info.Size()
	}
	if err := s.opts.Ledger.Record(ctx, rec); err != nil {
		logger.Warnf("[sync] 写入账本失败 (%s): %v", req.Key, err)
	}
}

func (s *Synchronizer) fail(res *BatchResult, p *Progress, err error) {
	res.Failed = append(res.Failed, Failure{Key: p.Request.Key, Target: p.Target, Err: err})
	p.Outcome = OutcomeFailed
	p.Err = err
	logger.Warnf("[sync] %s 失败: %v", p.Request.Key, err)
	s.report(*p)
}

func (s *Synchronizer) report(p Progress) {
	if s.opts.Reporter != nil {
		s.opts.Reporter(p)
	}
}
