package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"backpack-tutor/server/internal/model"
)

// BadgerStore 把 Session 落到嵌入式 BadgerDB，进程重启后会话可以继续。
// 挂起的会话（等待学习者回复）不占任何进程内资源，隔几天再 respond 也成立。
type BadgerStore struct {
	db *badger.DB
}

// envelope 把版本号和状态一起存，版本检查在同一个事务里完成。
type envelope struct {
	Version int64         `json:"version"`
	State   model.Session `json:"state"`
}

// OpenBadgerStore 打开（或创建）badger 数据目录。
// inMemory=true 时不落盘，便于测试。
func OpenBadgerStore(path string, inMemory bool) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if inMemory {
		opts = opts.WithInMemory(true).WithDir("").WithValueDir("")
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", path, err)
	}
	return &BadgerStore{db: db}, nil
}

// Close 关闭底层数据库。
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// DB 暴露底层数据库，供同一进程内的其他持久化组件（如 timeline）
// 复用同一份 badger 实例；badger 不允许同一目录打开两次。
func (s *BadgerStore) DB() *badger.DB {
	return s.db
}

func sessionKey(id string) []byte {
	return []byte("session/" + id)
}

// Get 读取 Session 快照与版本。
func (s *BadgerStore) Get(_ context.Context, id string) (*model.Session, int64, error) {
	var env envelope
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &env)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("get session %s: %w", id, err)
	}

	return &env.State, env.Version, nil
}

// Save 在版本匹配时写入新快照。读-比-写在同一个事务内，
// badger 的事务冲突检测保证并发 Save 被线性化；
// 版本不匹配或事务冲突都以 ErrVersionConflict 返回。
func (s *BadgerStore) Save(_ context.Context, state *model.Session, expectedVersion int64) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		var current int64
		item, err := txn.Get(sessionKey(state.SessionID))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			current = 0
		case err != nil:
			return err
		default:
			var env envelope
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &env)
			}); err != nil {
				return err
			}
			current = env.Version
		}

		if current != expectedVersion {
			return ErrVersionConflict
		}

		raw, err := json.Marshal(envelope{Version: current + 1, State: *state})
		if err != nil {
			return err
		}
		return txn.Set(sessionKey(state.SessionID), raw)
	})
	if errors.Is(err, badger.ErrConflict) {
		return ErrVersionConflict
	}
	if err != nil && !errors.Is(err, ErrVersionConflict) {
		return fmt.Errorf("save session %s: %w", state.SessionID, err)
	}
	return err
}
