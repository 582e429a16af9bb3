package store

import (
	"context"
	"errors"
	"fmt"

	"phonesim-core/internal/models"
)

// ErrVersionConflict 文档版本不匹配（读-改-写期间被其他写者修改）
var ErrVersionConflict = errors.New("document version conflict")

// ConflictError 携带冲突双方的版本号
type ConflictError struct {
	Name     string
	Expected int64
	Current  int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("document %s: version conflict (expected %d, current %d)", e.Name, e.Expected, e.Current)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrVersionConflict
}

// DocumentStore 宿主文档服务：按名称整体读取/整体替换
// 不存在的文档返回空 Document 和版本 0。
// Put 仅在当前版本等于 expectedVersion 时写入，返回新版本号。
type DocumentStore interface {
	Get(ctx context.Context, name string) (models.Document, int64, error)
	Put(ctx context.Context, name string, doc models.Document, expectedVersion int64) (int64, error)
}

// Mutator 在文档副本上做修改；返回 changed=false 时不写回
type Mutator func(doc models.Document) (changed bool, err error)

// DefaultUpdateRetries 版本冲突时的默认重试次数
const DefaultUpdateRetries = 3

// Update 对文档执行一次读-改-写
// 版本冲突时重新读取并重新应用 fn，最多 retries 次。
func Update(ctx context.Context, s DocumentStore, name string, retries int, fn Mutator) (models.Document, bool, error) {
	if retries < 0 {
		retries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		doc, version, err := s.Get(ctx, name)
		if err != nil {
			return nil, false, fmt.Errorf("failed to load document %s: %w", name, err)
		}
		if doc == nil {
			doc = models.Document{}
		}

		changed, err := fn(doc)
		if err != nil {
			return nil, false, err
		}
		if !changed {
			return doc, false, nil
		}

		if _, err := s.Put(ctx, name, doc, version); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				lastErr = err
				continue
			}
			return nil, false, fmt.Errorf("failed to save document %s: %w", name, err)
		}
		return doc, true, nil
	}
	return nil, false, fmt.Errorf("document %s: gave up after %d attempts: %w", name, retries+1, lastErr)
}
