package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"backpack-tutor/server/internal/model"
)

// InMemoryStore 是一个基于内存的 Session 存储实现。
// 注意：重启即丢数据；多实例部署需要换成 badger 或外部 KV。
type InMemoryStore struct {
	mu       sync.RWMutex
	data     map[string][]byte
	versions map[string]int64
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		data:     make(map[string][]byte),
		versions: make(map[string]int64),
	}
}

// Get 根据 SessionID 获取 Session 快照与当前版本。
// 内部按 JSON 存储，反序列化天然产生独立副本，调用方改动不会泄露回存储。
func (s *InMemoryStore) Get(_ context.Context, id string) (*model.Session, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, ok := s.data[id]
	if !ok {
		return nil, 0, ErrNotFound
	}

	var state model.Session
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, 0, fmt.Errorf("decode session %s: %w", id, err)
	}

	return &state, s.versions[id], nil
}

// Len 返回当前存储的会话数量（测试用）。
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Save 在版本匹配时写入新快照，并把版本 +1。
// 版本不匹配返回 ErrVersionConflict，存储内容保持不变。
func (s *InMemoryStore) Save(_ context.Context, state *model.Session, expectedVersion int64) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", state.SessionID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.versions[state.SessionID]
	if current != expectedVersion {
		return ErrVersionConflict
	}

	s.data[state.SessionID] = raw
	s.versions[state.SessionID] = current + 1
	return nil
}
