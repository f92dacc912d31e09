package staging

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// DefaultSweepInterval はStartに0以下の間隔が渡された場合の実行間隔。
const DefaultSweepInterval = 10 * time.Minute

// Sweeper はステージングディレクトリに取り残された古い一時ファイルを削除するジョブ。
// リクエスト単位の削除はScopeが保証するため、ここで扱うのは
// プロセスがリクエスト途中で強制終了した場合などの残骸のみ。
// 冪等: 削除対象がない場合でもエラーにならない。
type Sweeper struct {
	store  *Store
	logger *slog.Logger
	MaxAge time.Duration // この時間より古いファイルを削除する（デフォルト: 1時間）
	// OnSwept はStartによる定期実行ごとに削除件数を受け取る。任意。
	OnSwept func(count int)
	now     func() time.Time
}

// NewSweeper は新しいSweeperを生成する。
func NewSweeper(store *Store, logger *slog.Logger, maxAge time.Duration) *Sweeper {
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	return &Sweeper{
		store:  store,
		logger: logger,
		MaxAge: maxAge,
		now:    time.Now,
	}
}

// Run は更新日時がMaxAgeより古い通常ファイルを削除し、削除件数を返す。
// ディレクトリが存在しない場合は0件として扱う。
func (j *Sweeper) Run(ctx context.Context) (int, error) {
	start := j.now()

	entries, err := os.ReadDir(j.store.Dir())
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		j.logger.Error("ステージングディレクトリの読み取りに失敗しました",
			slog.String("dir", j.store.Dir()),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("ステージングディレクトリの読み取りに失敗: %w", err)
	}

	cutoff := start.Add(-j.MaxAge)
	deleted := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// 列挙後に別リクエストが削除した
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		path := filepath.Join(j.store.Dir(), entry.Name())
		if err := Remove(path); err != nil {
			j.logger.Warn("古い一時ファイルの削除に失敗しました",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		deleted++
	}

	j.logger.Info("ステージングのクリーンアップが完了しました",
		slog.Int("deleted_count", deleted),
		slog.Duration("max_age", j.MaxAge),
		slog.Float64("duration_ms", float64(j.now().Sub(start).Milliseconds())),
	)

	return deleted, nil
}

// Start は起動直後に1回、その後intervalごとにRunを実行する。
// intervalが0以下の場合はDefaultSweepIntervalを使う。
// ctxがキャンセルされるまでブロックする。
func (j *Sweeper) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	j.sweep(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *Sweeper) sweep(ctx context.Context) {
	count, err := j.Run(ctx)
	if err != nil && ctx.Err() == nil {
		j.logger.Error("staging sweep failed", slog.String("error", err.Error()))
	}
	if j.OnSwept != nil && count > 0 {
		j.OnSwept(count)
	}
}
