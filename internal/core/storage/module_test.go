package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/dep2p/go-firestrike/config"
	"github.com/dep2p/go-firestrike/internal/core/storage/engine"
)

// TestModule 测试 fx 模块生命周期
func TestModule(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Storage.DataDir = t.TempDir()

	var eng engine.Engine
	app := fxtest.New(t,
		fx.Supply(cfg),
		Module(),
		fx.Populate(&eng),
	)
	app.RequireStart()

	require.NotNil(t, eng)
	require.NoError(t, eng.Put([]byte("k"), []byte("v")))

	app.RequireStop()
	_, err := eng.Get([]byte("k"))
	assert.ErrorIs(t, err, engine.ErrClosed)
}

// TestConfigFromUnified 测试配置转换
func TestConfigFromUnified(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Storage.DataDir = "/tmp/fs"
	ec := ConfigFromUnified(cfg)
	assert.Equal(t, cfg.Storage.DBPath(), ec.Path)
	assert.False(t, ec.InMemory)

	cfg.Storage.InMemory = true
	ec = ConfigFromUnified(cfg)
	assert.True(t, ec.InMemory)
	assert.NoError(t, ec.Validate())

	assert.True(t, ConfigFromUnified(nil).InMemory)
}
