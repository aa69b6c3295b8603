package assetsync

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"github.com/iabetor/lernaudio/internal/retry"
)

// fakeRenderer 把文本写入目标文件；failKeys 中的键返回错误。
type fakeRenderer struct {
	mu       sync.Mutex
	failKeys map[string]int // 键 -> 剩余失败次数，-1 表示一直失败
	calls    []string
	times    []time.Time
}

func (f *fakeRenderer) Render(ctx context.Context, req AudioRequest, target string) error {
	f.mu.Lock()
	f.calls = append(f.calls, req.Key)
	f.times = append(f.times, time.Now())
	n, ok := f.failKeys[req.Key]
	if ok && n != 0 {
		if n > 0 {
			f.failKeys[req.Key] = n - 1
		}
		f.mu.Unlock()
		return errors.New("服务暂时不可用")
	}
	f.mu.Unlock()
	return WriteFileAtomic(target, []byte(req.Text))
}

func (f *fakeRenderer) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// memLedger 内存账本。
type memLedger struct {
	assets map[string]AssetRecord
	runs   []*BatchResult
}

func newMemLedger() *memLedger {
	return &memLedger{assets: make(map[string]AssetRecord)}
}

func (m *memLedger) Lookup(_ context.Context, target string) (string, bool, error) {
	rec, ok := m.assets[target]
	return rec.Digest, ok, nil
}

func (m *memLedger) Record(_ context.Context, rec AssetRecord) error {
	m.assets[rec.Path] = rec
	return nil
}

func (m *memLedger) RecordRun(_ context.Context, res *BatchResult) error {
	m.runs = append(m.runs, res)
	return nil
}

func requests(keys ...string) []AudioRequest {
	reqs := make([]AudioRequest, len(keys))
	for i, k := range keys {
		reqs[i] = AudioRequest{Key: k, Text: "Text " + k, Voice: "de-DE-KatjaNeural", Rate: -20}
	}
	return reqs
}

func newSync(t *testing.T, r Renderer, opts Options) *Synchronizer {
	t.Helper()
	s, err := New(r, opts)
	if err != nil {
		t.Fatalf("New 失败: %v", err)
	}
	return s
}

func TestSynchronize_EndToEnd(t *testing.T) {
	root := t.TempDir()
	s := newSync(t, &fakeRenderer{}, Options{})

	res, err := s.Synchronize(context.Background(), []AudioRequest{
		{Key: "hallo", Text: "Hallo, wie geht's?", Voice: "de-DE-KatjaNeural"},
	}, root)
	if err != nil {
		t.Fatalf("Synchronize 失败: %v", err)
	}
	if res.Created != 1 || res.Skipped != 0 || len(res.Failed) != 0 {
		t.Fatalf("结果不符: %+v", res)
	}
	if res.RunID == "" {
		t.Error("RunID 不应为空")
	}

	data, err := os.ReadFile(filepath.Join(root, "hallo.mp3"))
	if err != nil {
		t.Fatalf("期望生成 hallo.mp3: %v", err)
	}
	if string(data) != "Hallo, wie geht's?" {
		t.Errorf("文件内容不符: %q", data)
	}

	entries, _ := os.ReadDir(root)
	if len(entries) != 1 {
		t.Errorf("输出目录应只有一个文件，实际 %d 个", len(entries))
	}
}

func TestSynchronize_Idempotent(t *testing.T) {
	root := t.TempDir()
	r := &fakeRenderer{}
	s := newSync(t, r, Options{})
	reqs := requests("eins", "zwei", "drei", "vier")

	first, err := s.Synchronize(context.Background(), reqs, root)
	if err != nil {
		t.Fatalf("第一次同步失败: %v", err)
	}
	if first.Created != 4 || first.Skipped != 0 {
		t.Fatalf("第一次同步结果不符: %+v", first)
	}

	second, err := s.Synchronize(context.Background(), reqs, root)
	if err != nil {
		t.Fatalf("第二次同步失败: %v", err)
	}
	if second.Created != 0 || second.Skipped != 4 || !second.OK() {
		t.Fatalf("第二次同步结果不符: %+v", second)
	}
	if got := len(r.Calls()); got != 4 {
		t.Errorf("合成调用次数应为 4，实际 %d", got)
	}
}

func TestSynchronize_FailureIsolated(t *testing.T) {
	root := t.TempDir()
	r := &fakeRenderer{failKeys: map[string]int{"zwei": -1}}
	s := newSync(t, r, Options{})

	res, err := s.Synchronize(context.Background(), requests("eins", "zwei", "drei"), root)
	if err != nil {
		t.Fatalf("Synchronize 失败: %v", err)
	}
	if res.Created != 2 || len(res.Failed) != 1 {
		t.Fatalf("结果不符: %+v", res)
	}
	if res.Failed[0].Key != "zwei" || res.Failed[0].Err == nil {
		t.Errorf("失败项不符: %+v", res.Failed[0])
	}
	if _, err := os.Stat(filepath.Join(root, "zwei.mp3")); !os.IsNotExist(err) {
		t.Error("失败的键不应留下文件")
	}
	if _, err := os.Stat(filepath.Join(root, "drei.mp3")); err != nil {
		t.Error("失败之后的请求应继续处理")
	}
}

func TestSynchronize_SkipIsExistenceBased(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "brot.mp3")
	if err := os.WriteFile(target, nil, 0644); err != nil {
		t.Fatal(err)
	}

	r := &fakeRenderer{}
	s := newSync(t, r, Options{})
	res, err := s.Synchronize(context.Background(), []AudioRequest{{Key: "brot", Text: "das Brot"}}, root)
	if err != nil {
		t.Fatalf("Synchronize 失败: %v", err)
	}
	if res.Skipped != 1 || res.Created != 0 {
		t.Fatalf("空文件也应被跳过: %+v", res)
	}
	if len(r.Calls()) != 0 {
		t.Error("跳过时不应调用合成")
	}
	data, _ := os.ReadFile(target)
	if len(data) != 0 {
		t.Error("已存在的文件不应被覆盖")
	}
}

func TestTargetPath(t *testing.T) {
	tests := []struct {
		name    string
		req     AudioRequest
		ext     string
		want    string
		wantErr bool
	}{
		{"plain", AudioRequest{Key: "brot"}, ".mp3", filepath.Join("out", "brot.mp3"), false},
		{"default ext", AudioRequest{Key: "brot"}, "", filepath.Join("out", "brot.mp3"), false},
		{"case kept", AudioRequest{Key: "Brötchen"}, ".mp3", filepath.Join("out", "Brötchen.mp3"), false},
		{"subdir", AudioRequest{Key: "unit7_hut", Subdir: "vocab"}, ".mp3", filepath.Join("out", "vocab", "unit7_hut.mp3"), false},
		{"wav", AudioRequest{Key: "a"}, ".wav", filepath.Join("out", "a.wav"), false},
		{"empty key", AudioRequest{Key: ""}, ".mp3", "", true},
		{"slash", AudioRequest{Key: "../etc/passwd"}, ".mp3", "", true},
		{"backslash", AudioRequest{Key: `a\b`}, ".mp3", "", true},
		{"dotdot", AudioRequest{Key: ".."}, ".mp3", "", true},
		{"subdir escape", AudioRequest{Key: "x", Subdir: "../up"}, ".mp3", "", true},
		{"subdir abs", AudioRequest{Key: "x", Subdir: "/tmp"}, ".mp3", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TargetPath("out", tt.req, tt.ext)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidKey) {
					t.Errorf("期望 ErrInvalidKey，得到 %v", err)
				}
				return
			}
			if got != tt.want {
				t.Errorf("TargetPath = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSynchronize_InvalidKeyIsPerItemFailure(t *testing.T) {
	root := t.TempDir()
	r := &fakeRenderer{}
	s := newSync(t, r, Options{})

	res, err := s.Synchronize(context.Background(), []AudioRequest{
		{Key: "../flucht", Text: "x"},
		{Key: "ok", Text: "y"},
	}, root)
	if err != nil {
		t.Fatalf("Synchronize 失败: %v", err)
	}
	if res.Created != 1 || len(res.Failed) != 1 {
		t.Fatalf("结果不符: %+v", res)
	}
	if !errors.Is(res.Failed[0].Err, ErrInvalidKey) {
		t.Errorf("期望 ErrInvalidKey，得到 %v", res.Failed[0].Err)
	}
	if !reflect.DeepEqual(r.Calls(), []string{"ok"}) {
		t.Errorf("非法键不应被合成: %v", r.Calls())
	}
}

func TestSynchronize_OrderPreserved(t *testing.T) {
	root := t.TempDir()
	r := &fakeRenderer{failKeys: map[string]int{"c": -1, "a": -1, "e": -1}}
	var seen []string
	s := newSync(t, r, Options{Reporter: func(p Progress) { seen = append(seen, p.Request.Key) }})

	keys := []string{"e", "b", "c", "d", "a"}
	res, err := s.Synchronize(context.Background(), requests(keys...), root)
	if err != nil {
		t.Fatalf("Synchronize 失败: %v", err)
	}
	if !reflect.DeepEqual(r.Calls(), keys) {
		t.Errorf("合成顺序不符: %v", r.Calls())
	}
	if !reflect.DeepEqual(res.FailedKeys(), []string{"e", "c", "a"}) {
		t.Errorf("失败顺序不符: %v", res.FailedKeys())
	}
	if !reflect.DeepEqual(seen, keys) {
		t.Errorf("进度回调顺序不符: %v", seen)
	}
}

func TestSynchronize_ReporterIndexes(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "b.mp3"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	var got []Progress
	s := newSync(t, &fakeRenderer{}, Options{Reporter: func(p Progress) { got = append(got, p) }})

	if _, err := s.Synchronize(context.Background(), requests("a", "b"), root); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("期望 2 条进度，得到 %d", len(got))
	}
	if got[0].Index != 1 || got[0].Total != 2 || got[0].Outcome != OutcomeCreated {
		t.Errorf("第一条进度不符: %+v", got[0])
	}
	if got[1].Index != 2 || got[1].Outcome != OutcomeSkipped || got[1].Target != filepath.Join(root, "b.mp3") {
		t.Errorf("第二条进度不符: %+v", got[1])
	}
}

func TestSynchronize_RetryPolicy(t *testing.T) {
	root := t.TempDir()
	r := &fakeRenderer{failKeys: map[string]int{"wackel": 1, "kaputt": -1}}
	s := newSync(t, r, Options{Retry: retry.Policy{MaxAttempts: 2, Delay: time.Millisecond}})

	res, err := s.Synchronize(context.Background(), requests("wackel", "kaputt"), root)
	if err != nil {
		t.Fatal(err)
	}
	if res.Created != 1 || !reflect.DeepEqual(res.FailedKeys(), []string{"kaputt"}) {
		t.Fatalf("结果不符: %+v", res)
	}
	if got := len(r.Calls()); got != 4 {
		t.Errorf("期望共 4 次合成调用（每个键 2 次），实际 %d", got)
	}
}

func TestSynchronize_NoRetryByDefault(t *testing.T) {
	root := t.TempDir()
	r := &fakeRenderer{failKeys: map[string]int{"wackel": 1}}
	s := newSync(t, r, Options{})

	res, err := s.Synchronize(context.Background(), requests("wackel"), root)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Failed) != 1 || len(r.Calls()) != 1 {
		t.Errorf("默认不应重试: failed=%d calls=%d", len(res.Failed), len(r.Calls()))
	}
}

func TestSynchronize_PaceBetweenRendersOnly(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "skip.mp3"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	const pace = 30 * time.Millisecond
	r := &fakeRenderer{}
	s := newSync(t, r, Options{Pace: pace})

	if _, err := s.Synchronize(context.Background(), requests("skip", "a", "b", "c"), root); err != nil {
		t.Fatal(err)
	}
	if len(r.times) != 3 {
		t.Fatalf("期望 3 次合成，实际 %d", len(r.times))
	}
	for i := 1; i < len(r.times); i++ {
		if gap := r.times[i].Sub(r.times[i-1]); gap < pace {
			t.Errorf("第 %d 次合成间隔 %v 小于 %v", i, gap, pace)
		}
	}
}

func TestSynchronize_ContextCanceled(t *testing.T) {
	root := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	r := &fakeRenderer{}
	s := newSync(t, r, Options{Reporter: func(p Progress) {
		if p.Index == 1 {
			cancel()
		}
	}})

	res, err := s.Synchronize(ctx, requests("a", "b", "c"), root)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("期望 context.Canceled，得到 %v", err)
	}
	if res == nil || res.Created != 1 || res.Total() != 1 {
		t.Fatalf("取消前的结果应保留: %+v", res)
	}
}

func TestSynchronize_OutputRootUnwritable(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	s := newSync(t, &fakeRenderer{}, Options{})

	_, err := s.Synchronize(context.Background(), requests("a"), filepath.Join(blocker, "out"))
	var fsErr *FilesystemError
	if !errors.As(err, &fsErr) {
		t.Fatalf("期望 FilesystemError，得到 %v", err)
	}
}

func TestSynchronize_SubdirCreatedPerItem(t *testing.T) {
	root := t.TempDir()
	blocker := filepath.Join(root, "vocab")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	r := &fakeRenderer{}
	s := newSync(t, r, Options{Retry: retry.Policy{MaxAttempts: 3, Delay: time.Hour}})

	res, err := s.Synchronize(context.Background(), []AudioRequest{
		{Key: "hut", Subdir: "vocab", Text: "der Hut"},
		{Key: "satz1", Subdir: "sentences", Text: "Der Mantel ist warm."},
	}, root)
	if err != nil {
		t.Fatal(err)
	}
	if res.Created != 1 || len(res.Failed) != 1 {
		t.Fatalf("结果不符: %+v", res)
	}
	var fsErr *FilesystemError
	if !errors.As(res.Failed[0].Err, &fsErr) {
		t.Errorf("期望 FilesystemError，得到 %v", res.Failed[0].Err)
	}
	if len(r.Calls()) != 1 {
		t.Errorf("目录创建失败时不应调用合成: %v", r.Calls())
	}
	if _, err := os.Stat(filepath.Join(root, "sentences", "satz1.mp3")); err != nil {
		t.Errorf("子目录应自动创建: %v", err)
	}
}

func TestSynchronize_Locked(t *testing.T) {
	root := t.TempDir()
	held := flock.New(filepath.Join(root, LockFileName))
	ok, err := held.TryLock()
	if err != nil || !ok {
		t.Fatalf("测试加锁失败: %v", err)
	}
	defer held.Unlock()

	s := newSync(t, &fakeRenderer{}, Options{Lock: true})
	if _, err := s.Synchronize(context.Background(), requests("a"), root); !errors.Is(err, ErrLocked) {
		t.Fatalf("期望 ErrLocked，得到 %v", err)
	}
}

func TestSynchronize_HashInvalidation(t *testing.T) {
	root := t.TempDir()
	ledger := newMemLedger()
	r := &fakeRenderer{}
	s := newSync(t, r, Options{Invalidation: InvalidateOnChange, Ledger: ledger})

	reqs := []AudioRequest{{Key: "gruss", Text: "Guten Tag", Voice: "de-DE-KatjaNeural", Rate: -20}}
	if _, err := s.Synchronize(context.Background(), reqs, root); err != nil {
		t.Fatal(err)
	}

	// 文本未变：跳过
	res, err := s.Synchronize(context.Background(), reqs, root)
	if err != nil {
		t.Fatal(err)
	}
	if res.Skipped != 1 {
		t.Fatalf("文本未变应跳过: %+v", res)
	}

	// 文本变化：重新生成并覆盖
	reqs[0].Text = "Guten Morgen"
	res, err = s.Synchronize(context.Background(), reqs, root)
	if err != nil {
		t.Fatal(err)
	}
	if res.Created != 1 {
		t.Fatalf("文本变化应重新生成: %+v", res)
	}
	data, _ := os.ReadFile(filepath.Join(root, "gruss.mp3"))
	if string(data) != "Guten Morgen" {
		t.Errorf("文件应被覆盖，实际内容 %q", data)
	}
	if len(ledger.runs) != 3 {
		t.Errorf("期望 3 条运行记录，实际 %d", len(ledger.runs))
	}
}

func TestSynchronize_HashModeAdoptsUnknownFile(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "alt.mp3")
	if err := os.WriteFile(target, []byte("legacy"), 0644); err != nil {
		t.Fatal(err)
	}
	ledger := newMemLedger()
	r := &fakeRenderer{}
	s := newSync(t, r, Options{Invalidation: InvalidateOnChange, Ledger: ledger})

	res, err := s.Synchronize(context.Background(), []AudioRequest{{Key: "alt", Text: "alt"}}, root)
	if err != nil {
		t.Fatal(err)
	}
	if res.Skipped != 1 || len(r.Calls()) != 0 {
		t.Fatalf("账本外的已有文件应被接收: %+v", res)
	}
	rec, ok := ledger.assets[target]
	if !ok || rec.Size != int64(len("legacy")) {
		t.Errorf("已有文件应被登记: %+v", rec)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, Options{}); err == nil {
		t.Error("renderer 为空应报错")
	}
	if _, err := New(&fakeRenderer{}, Options{Invalidation: InvalidateOnChange}); err == nil {
		t.Error("hash 模式缺少账本应报错")
	}
	if _, err := New(&fakeRenderer{}, Options{Invalidation: "mtime"}); err == nil {
		t.Error("未知失效模式应报错")
	}
}

func TestDigest(t *testing.T) {
	a := AudioRequest{Key: "k", Text: "Hallo", Voice: "v", Rate: -20}
	b := a
	b.Key = "other"
	if a.Digest() != b.Digest() {
		t.Error("摘要不应依赖逻辑键")
	}
	b.Rate = -10
	if a.Digest() == b.Digest() {
		t.Error("语速变化应改变摘要")
	}
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "nested", "x.mp3")
	if err := WriteFileAtomic(target, []byte("abc")); err != nil {
		t.Fatalf("WriteFileAtomic 失败: %v", err)
	}
	if err := WriteFileAtomic(target, []byte("def")); err != nil {
		t.Fatalf("覆盖写入失败: %v", err)
	}
	data, _ := os.ReadFile(target)
	if string(data) != "def" {
		t.Errorf("内容不符: %q", data)
	}
	entries, _ := os.ReadDir(filepath.Dir(target))
	if len(entries) != 1 {
		t.Errorf("不应残留临时文件，目录中有 %d 项", len(entries))
	}
}
