// Package ledger 用 SQLite 记录每个已生成音频的来源摘要和每次同步的结果。
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/iabetor/lernaudio/internal/assetsync"
	"github.com/iabetor/lernaudio/internal/logger"
)

// Ledger 是 assetsync.Ledger 的 SQLite 实现。
type Ledger struct {
	db   *sql.DB
	path string
}

var _ assetsync.Ledger = (*Ledger)(nil)

// Run 一次同步的历史记录。
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Created    int
	Skipped    int
	Failed     int
	FailedKeys []string
}

// Open 打开或创建账本数据库并执行迁移。
func Open(dbPath string) (*Ledger, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("创建账本目录失败: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("打开账本失败: %w", err)
	}
	// 同步器是单线程的，一个连接足够，也避免 SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("设置 WAL 模式失败: %w", err)
	}

	l := &Ledger{db: db, path: dbPath}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debugf("[ledger] 账本已打开: %s", dbPath)
	return l, nil
}

// Path 返回数据库文件路径。
func (l *Ledger) Path() string {
	return l.path
}

func (l *Ledger) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS assets (
			path TEXT PRIMARY KEY,
			key TEXT NOT NULL,
			digest TEXT NOT NULL,
			voice TEXT DEFAULT '',
			rate INTEGER DEFAULT 0,
			size INTEGER DEFAULT 0,
			rendered_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at DATETIME NOT NULL,
			finished_at DATETIME NOT NULL,
			created INTEGER DEFAULT 0,
			skipped INTEGER DEFAULT 0,
			failed INTEGER DEFAULT 0,
			failed_keys TEXT DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_assets_key ON assets(key)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`,
	}

	for _, m := range migrations {
		if _, err := l.db.Exec(m); err != nil {
			return fmt.Errorf("账本迁移失败: %w", err)
		}
	}
	return nil
}

// Lookup 实现 assetsync.Ledger。
func (l *Ledger) Lookup(ctx context.Context, target string) (string, bool, error) {
	var digest string
	err := l.db.QueryRowContext(ctx, `SELECT digest FROM assets WHERE path = ?`, normalize(target)).Scan(&digest)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("查询账本失败: %w", err)
	}
	return digest, true, nil
}

// Record 实现 assetsync.Ledger，同一路径覆盖旧记录。
func (l *Ledger) Record(ctx context.Context, rec assetsync.AssetRecord) error {
	renderedAt := rec.RenderedAt
	if renderedAt.IsZero() {
		renderedAt = time.Now()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO assets (path, key, digest, voice, rate, size, rendered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			key = excluded.key,
			digest = excluded.digest,
			voice = excluded.voice,
			rate = excluded.rate,
			size = excluded.size,
			rendered_at = excluded.rendered_at`,
		normalize(rec.Path), rec.Key, rec.Digest, rec.Voice, rec.Rate, rec.Size, renderedAt.UTC())
	if err != nil {
		return fmt.Errorf("写入账本失败: %w", err)
	}
	return nil
}

// Asset 读取一条资源记录。
func (l *Ledger) Asset(ctx context.Context, target string) (*assetsync.AssetRecord, error) {
	rec := &assetsync.AssetRecord{}
	err := l.db.QueryRowContext(ctx, `
		SELECT path, key, digest, voice, rate, size, rendered_at FROM assets WHERE path = ?`, normalize(target)).
		Scan(&rec.Path, &rec.Key, &rec.Digest, &rec.Voice, &rec.Rate, &rec.Size, &rec.RenderedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询账本失败: %w", err)
	}
	return rec, nil
}

// RecordRun 实现 assetsync.Ledger。
func (l *Ledger) RecordRun(ctx context.Context, res *assetsync.BatchResult) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, finished_at, created, skipped, failed, failed_keys)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		res.RunID, res.Started.UTC(), res.Finished.UTC(),
		res.Created, res.Skipped, len(res.Failed), strings.Join(res.FailedKeys(), "\n"))
	if err != nil {
		return fmt.Errorf("写入运行记录失败: %w", err)
	}
	return nil
}

// Runs 按开始时间倒序返回最近 limit 次运行。
func (l *Ledger) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, created, skipped, failed, failed_keys
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("查询运行记录失败: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var failedKeys string
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Created, &r.Skipped, &r.Failed, &failedKeys); err != nil {
			return nil, fmt.Errorf("读取运行记录失败: %w", err)
		}
		if failedKeys != "" {
			r.FailedKeys = strings.Split(failedKeys, "\n")
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Close 关闭数据库连接。
func (l *Ledger) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}

// normalize 统一路径写法，避免 ./audio/x.mp3 与 audio/x.mp3 被当成两条。
func normalize(p string) string {
	return filepath.ToSlash(filepath.Clean(p))
}
