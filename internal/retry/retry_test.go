package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fsErr struct{}

func (fsErr) Error() string   { return "disk full" }
func (fsErr) Permanent() bool { return true }

func TestDo_SucceedsOnSecondAttempt(t *testing.T) {
	p := Policy{MaxAttempts: 2, Delay: time.Millisecond}
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("连接被重置")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("期望成功，得到 %v", err)
	}
	if calls != 2 {
		t.Errorf("期望调用 2 次，实际 %d 次", calls)
	}
}

func TestDo_GivesUpAfterMaxAttempts(t *testing.T) {
	p := Policy{MaxAttempts: 2, Delay: time.Millisecond}
	calls := 0
	boom := errors.New("服务不可用")
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("期望返回最后一次错误，得到 %v", err)
	}
	if calls != 2 {
		t.Errorf("期望调用 2 次，实际 %d 次", calls)
	}
}

func TestDo_ZeroAttemptsMeansOnce(t *testing.T) {
	calls := 0
	_ = Policy{}.Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("x")
	})
	if calls != 1 {
		t.Errorf("期望调用 1 次，实际 %d 次", calls)
	}
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"wrapped", Permanent(errors.New("bad key"))},
		{"marker", fsErr{}},
		{"canceled", context.Canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Policy{MaxAttempts: 5, Delay: time.Hour}.Do(context.Background(), func(context.Context) error {
				calls++
				return tt.err
			})
			if calls != 1 {
				t.Errorf("期望调用 1 次，实际 %d 次", calls)
			}
			if err == nil {
				t.Fatal("期望返回错误")
			}
			var pe *permanentError
			if errors.As(err, &pe) {
				t.Error("返回的错误不应保留 permanent 包装")
			}
		})
	}
}

func TestDo_ContextCanceledDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- Policy{MaxAttempts: 3, Delay: time.Hour}.Do(ctx, func(context.Context) error {
			calls++
			return errors.New("超时")
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("期望 context.Canceled，得到 %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("取消后 Do 未返回")
	}
	if calls != 1 {
		t.Errorf("期望调用 1 次，实际 %d 次", calls)
	}
}

func TestSleep(t *testing.T) {
	start := time.Now()
	if err := Sleep(context.Background(), 20*time.Millisecond); err != nil {
		t.Fatalf("Sleep 失败: %v", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("Sleep 返回过早")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("期望 context.Canceled，得到 %v", err)
	}
}
