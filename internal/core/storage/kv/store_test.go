package kv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-firestrike/internal/core/storage/engine"
	"github.com/dep2p/go-firestrike/internal/core/storage/engine/badger"
)

func newTestEngine(t *testing.T) engine.Engine {
	t.Helper()
	cfg := engine.DefaultConfig("")
	cfg.InMemory = true
	e, err := badger.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

// TestStore_PrefixIsolation 测试前缀隔离
func TestStore_PrefixIsolation(t *testing.T) {
	eng := newTestEngine(t)
	dht := New(eng, []byte("d/"))
	content := New(eng, []byte("c/"))

	require.NoError(t, dht.Put([]byte("k"), []byte("dht")))
	require.NoError(t, content.Put([]byte("k"), []byte("content")))

	v, err := dht.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, "dht", string(v))

	raw, err := eng.Get([]byte("c/k"))
	require.NoError(t, err)
	assert.Equal(t, "content", string(raw))

	t.Log("✅ 前缀隔离测试通过")
}

// TestStore_JSON 测试 JSON 便捷方法
func TestStore_JSON(t *testing.T) {
	s := New(newTestEngine(t), []byte("j/"))

	type rec struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	require.NoError(t, s.PutJSON([]byte("r"), rec{Name: "a", Count: 2}))

	var out rec
	require.NoError(t, s.GetJSON([]byte("r"), &out))
	assert.Equal(t, rec{Name: "a", Count: 2}, out)

	err := s.GetJSON([]byte("missing"), &out)
	assert.True(t, engine.IsNotFound(err))
}

// TestStore_ScanAndDeletePrefix 测试扫描与前缀删除
func TestStore_ScanAndDeletePrefix(t *testing.T) {
	chunks := New(newTestEngine(t), []byte("c/c/"))

	b := chunks.NewBatch()
	b.Put([]byte("h1/0"), []byte("a"))
	b.Put([]byte("h1/1"), []byte("b"))
	b.Put([]byte("h2/0"), []byte("c"))
	require.NoError(t, b.Write())

	keys, err := chunks.Keys([]byte("h1/"))
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "h1/0", string(keys[0]))

	require.NoError(t, chunks.DeletePrefix([]byte("h1/")))
	keys, err = chunks.Keys(nil)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "h2/0", string(keys[0]))
}
