package badger

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-firestrike/internal/core/storage/engine"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(engine.DefaultConfig(t.TempDir()))
	require.NoError(t, err)
	require.NoError(t, e.Start())
	t.Cleanup(func() { _ = e.Close() })
	return e
}

// TestEngine_BasicOps 测试基本读写
func TestEngine_BasicOps(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.Get([]byte("missing"))
	assert.ErrorIs(t, err, engine.ErrNotFound)

	require.NoError(t, e.Put([]byte("k"), []byte("v")))
	v, err := e.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)

	ok, err := e.Has([]byte("k"))
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, e.Delete([]byte("k")))
	ok, err = e.Has([]byte("k"))
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, e.Put(nil, []byte("v")), engine.ErrEmptyKey)

	t.Log("✅ 基本读写测试通过")
}

// TestEngine_Batch 测试批量写入
func TestEngine_Batch(t *testing.T) {
	e := newTestEngine(t)

	b := e.NewBatch()
	for i := 0; i < 10; i++ {
		b.Put([]byte(fmt.Sprintf("b/%02d", i)), []byte{byte(i)})
	}
	assert.Equal(t, 10, b.Size())
	require.NoError(t, b.Write())
	assert.Equal(t, 0, b.Size())

	v, err := e.Get([]byte("b/07"))
	require.NoError(t, err)
	assert.Equal(t, []byte{7}, v)

	// 批量对象可复用
	b.Delete([]byte("b/07"))
	require.NoError(t, b.Write())
	_, err = e.Get([]byte("b/07"))
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

// TestEngine_PrefixIterator 测试前缀迭代
func TestEngine_PrefixIterator(t *testing.T) {
	e := newTestEngine(t)

	require.NoError(t, e.Put([]byte("a/1"), []byte("1")))
	require.NoError(t, e.Put([]byte("a/2"), []byte("2")))
	require.NoError(t, e.Put([]byte("b/1"), []byte("x")))

	iter := e.NewPrefixIterator([]byte("a/"))
	defer iter.Close()

	var keys []string
	for iter.First(); iter.Valid(); iter.Next() {
		keys = append(keys, string(iter.Key()))
		assert.NotNil(t, iter.Value())
	}
	require.NoError(t, iter.Error())
	assert.Equal(t, []string{"a/1", "a/2"}, keys)
}

// TestEngine_Reopen 测试重启后数据保留
func TestEngine_Reopen(t *testing.T) {
	dir := t.TempDir()

	e, err := New(engine.DefaultConfig(dir))
	require.NoError(t, err)
	require.NoError(t, e.Put([]byte("persist"), []byte("yes")))
	require.NoError(t, e.Close())
	assert.ErrorIs(t, e.Put([]byte("x"), nil), engine.ErrClosed)

	e2, err := New(engine.DefaultConfig(dir))
	require.NoError(t, err)
	defer e2.Close()
	v, err := e2.Get([]byte("persist"))
	require.NoError(t, err)
	assert.Equal(t, []byte("yes"), v)
}

// TestEngine_InMemory 测试内存模式
func TestEngine_InMemory(t *testing.T) {
	cfg := engine.DefaultConfig("")
	cfg.InMemory = true
	e, err := New(cfg)
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.Put([]byte("k"), []byte("v")))
	v, err := e.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)

	_, err = New(engine.DefaultConfig(""))
	assert.ErrorIs(t, err, engine.ErrInvalidConfig)
}

// TestEngine_BatchAfterClose 测试关闭后的批次写入失败
func TestEngine_BatchAfterClose(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Close())

	b := e.NewBatch()
	b.Put([]byte("k"), []byte("v"))
	assert.ErrorIs(t, b.Write(), engine.ErrClosed)
}
