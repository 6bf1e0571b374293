package badger

import (
	"github.com/dgraph-io/badger/v4"

	"github.com/dep2p/go-firestrike/internal/core/storage/engine"
)

// WriteBatch BadgerDB 批量写入实现
//
// 大批次可能被拆分为多个事务提交，调用方不应依赖整体原子性；
// 需要 "全有或全无" 语义时先写数据、最后写索引。
type WriteBatch struct {
	db    *Engine
	batch *badger.WriteBatch
	count int
	err   error
}

var _ engine.Batch = (*WriteBatch)(nil)

// Put 添加一个写入操作
func (b *WriteBatch) Put(key, value []byte) {
	if len(key) == 0 || b.err != nil {
		return
	}
	// 错误推迟到 Write 返回
	b.err = b.batch.Set(key, value)
	b.count++
}

// Delete 添加一个删除操作
func (b *WriteBatch) Delete(key []byte) {
	if len(key) == 0 || b.err != nil {
		return
	}
	b.err = b.batch.Delete(key)
	b.count++
}

// Write 提交批量操作
func (b *WriteBatch) Write() error {
	if b.db.closed.Load() {
		return engine.ErrClosed
	}
	if err := b.err; err != nil {
		b.batch.Cancel()
		b.reset()
		return convertError(err)
	}
	err := b.batch.Flush()
	b.reset()
	return convertError(err)
}

// Size 返回批量中的操作数量
func (b *WriteBatch) Size() int {
	return b.count
}

func (b *WriteBatch) reset() {
	b.batch = b.db.db.NewWriteBatch()
	b.count = 0
	b.err = nil
}
