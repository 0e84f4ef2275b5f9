package timeline

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"backpack-tutor/server/internal/model"
)

// BadgerStore 把 timeline 落到嵌入式 BadgerDB，与会话存储共用同一个
// 数据库实例（key 前缀隔离），进程重启后事件流回放仍然完整。
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore 基于已打开的数据库构建 timeline 存储。
// 数据库的生命周期（打开/关闭）由调用方管理。
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

// key 布局：
//   - tl/<session>/<seq 20 位零填充> → 事件 JSON（前缀扫描即按 seq 有序）
//   - tlseq/<session>               → 当前 seq（8 字节大端）
//   - tlid/<session>/<event_id>     → 已分配的 seq（幂等去重）
func eventKey(sessionID string, seq int64) []byte {
	return []byte(fmt.Sprintf("tl/%s/%020d", sessionID, seq))
}

func seqKey(sessionID string) []byte {
	return []byte("tlseq/" + sessionID)
}

func dedupeKey(sessionID, eventID string) []byte {
	return []byte("tlid/" + sessionID + "/" + eventID)
}

func encodeSeq(seq int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(seq))
	return buf
}

func decodeSeq(buf []byte) int64 {
	return int64(binary.BigEndian.Uint64(buf))
}

// Append 在一个事务内完成去重检查、seq 分配与写入。
// 并发 Append 撞上事务冲突时重试，seq 单调性由事务保证。
func (s *BadgerStore) Append(ctx context.Context, sessionID string, evt *model.Event) (int64, error) {
	var assigned int64
	for {
		err := s.db.Update(func(txn *badger.Txn) error {
			if evt.EventID != "" {
				item, err := txn.Get(dedupeKey(sessionID, evt.EventID))
				switch {
				case err == nil:
					return item.Value(func(val []byte) error {
						assigned = decodeSeq(val)
						return nil
					})
				case !errors.Is(err, badger.ErrKeyNotFound):
					return err
				}
			}

			var seq int64
			item, err := txn.Get(seqKey(sessionID))
			switch {
			case errors.Is(err, badger.ErrKeyNotFound):
				seq = 0
			case err != nil:
				return err
			default:
				if err := item.Value(func(val []byte) error {
					seq = decodeSeq(val)
					return nil
				}); err != nil {
					return err
				}
			}
			seq++

			eventCopy := *evt
			eventCopy.Seq = seq
			eventCopy.SessionID = sessionID
			raw, err := json.Marshal(eventCopy)
			if err != nil {
				return err
			}

			if err := txn.Set(eventKey(sessionID, seq), raw); err != nil {
				return err
			}
			if err := txn.Set(seqKey(sessionID), encodeSeq(seq)); err != nil {
				return err
			}
			if evt.EventID != "" {
				if err := txn.Set(dedupeKey(sessionID, evt.EventID), encodeSeq(seq)); err != nil {
					return err
				}
			}
			assigned = seq
			return nil
		})
		if errors.Is(err, badger.ErrConflict) {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			default:
				continue
			}
		}
		if err != nil {
			return 0, fmt.Errorf("append event for session %s: %w", sessionID, err)
		}
		return assigned, nil
	}
}

// List 前缀扫描返回该 session 的全部事件（key 序即 seq 序）。
func (s *BadgerStore) List(_ context.Context, sessionID string) ([]model.Event, error) {
	var events []model.Event
	prefix := []byte("tl/" + sessionID + "/")

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var evt model.Event
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &evt)
			}); err != nil {
				return err
			}
			events = append(events, evt)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list events for session %s: %w", sessionID, err)
	}
	return events, nil
}
