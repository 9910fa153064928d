package notification

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/nao1215/qgnotify/internal/fanout"
)

var (
	// ErrUnknownDispatcher は登録されていないカテゴリキーを表す。
	ErrUnknownDispatcher = errors.New("未登録の通知カテゴリ")
	// ErrGlobalNotSupported はカテゴリが全体購読を受け付けないことを表す。
	ErrGlobalNotSupported = errors.New("この通知カテゴリは全体購読に対応していません")
	// ErrPerProjectNotSupported はカテゴリがプロジェクト単位の購読を受け付けないことを表す。
	ErrPerProjectNotSupported = errors.New("この通知カテゴリはプロジェクト単位の購読に対応していません")
)

// Registry は通知カテゴリの登録情報を保持する。
// 購読の作成時に、カテゴリが対応する購読の種類を検証するために使用する。
type Registry struct {
	mu    sync.RWMutex
	byKey map[string]fanout.Metadata
}

// NewRegistry は登録情報からRegistryを生成する。
func NewRegistry(metas ...fanout.Metadata) *Registry {
	r := &Registry{byKey: make(map[string]fanout.Metadata, len(metas))}
	for _, m := range metas {
		r.Register(m)
	}
	return r
}

// Register はカテゴリを登録する。同じキーは上書きする。
func (r *Registry) Register(meta fanout.Metadata) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKey[meta.Key] = meta
}

// Lookup はキーに対応する登録情報を返す。
func (r *Registry) Lookup(key string) (fanout.Metadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byKey[key]
	return m, ok
}

// Keys は登録済みのキーをソートして返す。
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.byKey))
	for k := range r.byKey {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// ValidateSubscription はカテゴリに対する購読が許可されているかを検証する。
// projectKeyが空の場合は全体購読として扱う。
func (r *Registry) ValidateSubscription(key, projectKey string) error {
	meta, ok := r.Lookup(key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDispatcher, key)
	}
	if projectKey == "" && !meta.GlobalSubscription {
		return fmt.Errorf("%w: %s", ErrGlobalNotSupported, key)
	}
	if projectKey != "" && !meta.PerResourceSubscription {
		return fmt.Errorf("%w: %s", ErrPerProjectNotSupported, key)
	}
	return nil
}
