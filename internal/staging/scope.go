package staging

import (
	"log/slog"
	"sync"
)

// Scope は1リクエストが作成したアーティファクトを追跡し、
// Releaseでまとめて削除する。
//
// 使い方:
//
//	scope := store.NewScope(logger)
//	defer scope.Release()
//
// 正常終了、エラー、クライアント切断、panicのいずれでもdeferが実行されるため、
// 追跡済みのファイルは必ず削除される。
type Scope struct {
	mu       sync.Mutex
	paths    []string
	released bool
	logger   *slog.Logger
	onFail   func(path string, err error)
}

// NewScope は新しいScopeを生成する。
func (s *Store) NewScope(logger *slog.Logger) *Scope {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scope{logger: logger}
}

// OnRemoveFailure は削除失敗時に呼ばれるコールバックを設定する。メトリクス記録用。
func (sc *Scope) OnRemoveFailure(fn func(path string, err error)) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.onFail = fn
}

// Track はpathを削除対象に加える。
// Release済みのScopeに追加された場合はその場で削除する。
func (sc *Scope) Track(path string) {
	sc.mu.Lock()
	if sc.released {
		sc.mu.Unlock()
		sc.remove(path)
		return
	}
	sc.paths = append(sc.paths, path)
	sc.mu.Unlock()
}

// Paths は追跡中のパスのコピーを返す。
func (sc *Scope) Paths() []string {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	out := make([]string, len(sc.paths))
	copy(out, sc.paths)
	return out
}

// Release は追跡中のすべてのファイルを削除する。
// 既に存在しないファイルは無視する。削除失敗はログに記録するだけで、
// 呼び出し元の既存のエラーを上書きしない。何度呼んでもよい。
func (sc *Scope) Release() {
	sc.mu.Lock()
	paths := sc.paths
	sc.paths = nil
	sc.released = true
	sc.mu.Unlock()

	for _, p := range paths {
		sc.remove(p)
	}
}

func (sc *Scope) remove(path string) {
	if err := Remove(path); err != nil {
		sc.logger.Error("一時ファイルの削除に失敗しました",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		sc.mu.Lock()
		onFail := sc.onFail
		sc.mu.Unlock()
		if onFail != nil {
			onFail(path, err)
		}
	}
}
