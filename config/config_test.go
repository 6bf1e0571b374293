package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewConfig 测试创建默认配置
func TestNewConfig(t *testing.T) {
	cfg := NewConfig()
	require.NotNil(t, cfg)
	assert.NoError(t, cfg.Validate())

	assert.Equal(t, "127.0.0.1:8789", cfg.Transport.ListenAddr)
	assert.Equal(t, 45*time.Second, cfg.Transport.DialTimeout.Duration())
	assert.Equal(t, 20, cfg.DHT.BucketSize)
	assert.Equal(t, 3, cfg.DHT.Alpha)
	assert.Equal(t, 1<<20, cfg.Content.ChunkSize)

	t.Log("✅ NewConfig 测试通过")
}

// TestTransportConfig 测试传输配置
func TestTransportConfig(t *testing.T) {
	t.Run("InvalidMode", func(t *testing.T) {
		cfg := DefaultTransportConfig()
		cfg.Mode = "quic"
		assert.Error(t, cfg.Validate())
	})

	t.Run("InvalidListenAddr", func(t *testing.T) {
		cfg := DefaultTransportConfig()
		cfg.ListenAddr = "no-port"
		assert.Error(t, cfg.Validate())
	})

	t.Run("TorNeedsControlOrOnion", func(t *testing.T) {
		cfg := DefaultTransportConfig()
		cfg.Mode = TransportTor
		cfg.Tor.ControlAddr = ""
		assert.Error(t, cfg.Validate())

		cfg.Tor.OnionAddress = "abcdefghijklmnop.onion:8789"
		assert.NoError(t, cfg.Validate())
	})
}

// TestDHTConfig 测试 DHT 配置
func TestDHTConfig(t *testing.T) {
	t.Run("RepublishMustBeShorterThanTTL", func(t *testing.T) {
		cfg := DefaultDHTConfig()
		cfg.RepublishInterval = cfg.RecordTTL
		assert.Error(t, cfg.Validate())
	})

	t.Run("ReplicationBounded", func(t *testing.T) {
		cfg := DefaultDHTConfig()
		cfg.Replication = cfg.BucketSize + 1
		assert.Error(t, cfg.Validate())
	})
}

// TestValidateAndFix 测试自动修复
func TestValidateAndFix(t *testing.T) {
	cfg := NewConfig()
	cfg.DHT.RepublishInterval = Duration(48 * time.Hour)
	cfg.DHT.Replication = 100

	fixed, err := ValidateAndFix(cfg)
	require.NoError(t, err)
	assert.Equal(t, 12*time.Hour, fixed.DHT.RepublishInterval.Duration())
	assert.Equal(t, fixed.DHT.BucketSize, fixed.DHT.Replication)
}

// TestLoad 测试从文件加载
func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "firestrike.json")
	data := `{
		"transport": {"listen_addr": "0.0.0.0:9000", "dial_timeout": "30s"},
		"dht": {"bootstrap_peers": ["127.0.0.1:8789"]},
		"content": {"chunk_size": 65536}
	}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Transport.ListenAddr)
	assert.Equal(t, 30*time.Second, cfg.Transport.DialTimeout.Duration())
	assert.Equal(t, []string{"127.0.0.1:8789"}, cfg.DHT.BootstrapPeers)
	assert.Equal(t, 65536, cfg.Content.ChunkSize)
	// 未出现的字段保留默认值
	assert.Equal(t, 20, cfg.DHT.BucketSize)
	assert.NoError(t, cfg.Validate())

	t.Run("SaveRoundTrip", func(t *testing.T) {
		out := filepath.Join(dir, "saved.json")
		require.NoError(t, cfg.Save(out))
		back, err := Load(out)
		require.NoError(t, err)
		assert.Equal(t, cfg, back)
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := Load(filepath.Join(dir, "missing.json"))
		assert.Error(t, err)
	})

	t.Run("BadDuration", func(t *testing.T) {
		_, err := FromJSON([]byte(`{"dht": {"rpc_timeout": "soon"}}`))
		assert.Error(t, err)
	})
}

// TestApplyEnv 测试环境变量覆盖
func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvListenAddr: "127.0.0.1:9999",
		EnvDataDir:    "/var/lib/firestrike",
		EnvBootstrap:  "a.onion:8789, b.onion:8789,",
		EnvTor:        "true",
		EnvChunkSize:  "4096",
		EnvLogLevel:   "debug",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := NewConfig()
	require.NoError(t, applyEnv(cfg, lookup))
	assert.Equal(t, "127.0.0.1:9999", cfg.Transport.ListenAddr)
	assert.Equal(t, "/var/lib/firestrike", cfg.Storage.DataDir)
	assert.Equal(t, []string{"a.onion:8789", "b.onion:8789"}, cfg.DHT.BootstrapPeers)
	assert.Equal(t, TransportTor, cfg.Transport.Mode)
	assert.Equal(t, 4096, cfg.Content.ChunkSize)
	assert.Equal(t, "debug", cfg.LogLevel)

	env[EnvTor] = "maybe"
	assert.Error(t, applyEnv(NewConfig(), lookup))
}

// TestLoadDotEnv 测试 .env 文件
func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("FIRESTRIKE_ONION_ADDRESS=xyz.onion:8789\n"), 0600))

	t.Setenv(EnvOnionAddr, "")
	os.Unsetenv(EnvOnionAddr)

	require.NoError(t, LoadDotEnv(path, filepath.Join(dir, "absent.env")))
	assert.Equal(t, "xyz.onion:8789", os.Getenv(EnvOnionAddr))

	cfg := NewConfig()
	require.NoError(t, ApplyEnv(cfg))
	assert.Equal(t, "xyz.onion:8789", cfg.Transport.Tor.OnionAddress)
}
