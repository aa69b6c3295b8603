// Package retry 提供显式的重试策略，供合成调用外层包装使用。
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/iabetor/lernaudio/internal/logger"
)

// Policy 重试策略：最多尝试 MaxAttempts 次，每次失败后等待固定 Delay。
// MaxAttempts <= 1 表示只尝试一次。
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
}

// Once 只尝试一次的策略。
var Once = Policy{MaxAttempts: 1}

// permanentError 标记不应重试的错误。
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent 包装 err，使 Do 立即放弃重试。
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent 判断 err 是否不可重试。
// 实现了 Permanent() bool 的错误类型（如文件系统错误）同样视为不可重试。
func IsPermanent(err error) bool {
	var pe *permanentError
	if errors.As(err, &pe) {
		return true
	}
	var marker interface{ Permanent() bool }
	if errors.As(err, &marker) {
		return marker.Permanent()
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Do 按策略执行 fn。返回最后一次的错误；等待期间 ctx 取消则返回 ctx.Err()。
func (p Policy) Do(ctx context.Context, fn func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if IsPermanent(err) || attempt == attempts {
			break
		}

		logger.Warnf("[retry] 第 %d/%d 次尝试失败，%v 后重试: %v", attempt, attempts, p.Delay, err)
		if err := Sleep(ctx, p.Delay); err != nil {
			return err
		}
	}

	var pe *permanentError
	if errors.As(err, &pe) {
		return pe.err
	}
	return err
}

// Sleep 等待 d 或直到 ctx 被取消。
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
