package session

import (
	"context"
	"errors"

	"backpack-tutor/server/internal/model"
)

var (
	ErrNotFound = errors.New("session not found")
	// ErrVersionConflict 表示 Save 携带的期望版本已过期。
	// 两个并发 respond 命中同一 session 时，后写的一方会收到该错误，
	// 调用方可在重新读取最新状态后重试。
	ErrVersionConflict = errors.New("session version conflict")
)

// Store 提供按 session id 的持久化，以及 per-key 的乐观并发控制。
//
// 契约：
//   - Get 返回状态快照与当前版本号；返回值与内部存储不共享可变内存。
//   - Save 在 expectedVersion 与存储版本一致时原子写入并把版本 +1，
//     否则返回 ErrVersionConflict 且不产生任何写入。
//   - 新建 session 用 expectedVersion=0。
//   - 不同 session id 之间完全独立，可以并发读写。
type Store interface {
	Get(ctx context.Context, id string) (*model.Session, int64, error)
	Save(ctx context.Context, s *model.Session, expectedVersion int64) error
}
