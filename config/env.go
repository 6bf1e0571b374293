package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// 环境变量名
const (
	EnvListenAddr  = "FIRESTRIKE_LISTEN_ADDR"
	EnvAdvertise   = "FIRESTRIKE_ADVERTISE_ADDR"
	EnvDataDir     = "FIRESTRIKE_DATA_DIR"
	EnvBootstrap   = "FIRESTRIKE_BOOTSTRAP"
	EnvTor         = "FIRESTRIKE_TOR"
	EnvSocksAddr   = "FIRESTRIKE_SOCKS_ADDR"
	EnvControlAddr = "FIRESTRIKE_CONTROL_ADDR"
	EnvOnionAddr   = "FIRESTRIKE_ONION_ADDRESS"
	EnvChunkSize   = "FIRESTRIKE_CHUNK_SIZE"
	EnvLogLevel    = "FIRESTRIKE_LOG_LEVEL"
)

// LoadDotEnv 将 .env 文件中的变量载入进程环境
//
// 已存在的环境变量不会被覆盖；文件不存在时静默返回。
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv 用 FIRESTRIKE_* 环境变量覆盖配置
//
// FIRESTRIKE_BOOTSTRAP 为逗号分隔的汇合地址列表；
// FIRESTRIKE_TOR 为真值时切换到 Tor 模式。
func ApplyEnv(cfg *Config) error {
	return applyEnv(cfg, os.LookupEnv)
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvListenAddr); ok && v != "" {
		cfg.Transport.ListenAddr = v
	}
	if v, ok := lookup(EnvAdvertise); ok && v != "" {
		cfg.Transport.AdvertiseAddr = v
	}
	if v, ok := lookup(EnvDataDir); ok && v != "" {
		cfg.Storage.DataDir = v
	}
	if v, ok := lookup(EnvBootstrap); ok && v != "" {
		cfg.DHT.BootstrapPeers = splitList(v)
	}
	if v, ok := lookup(EnvTor); ok && v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvTor, err)
		}
		if on {
			cfg.Transport.Mode = TransportTor
		} else {
			cfg.Transport.Mode = TransportTCP
		}
	}
	if v, ok := lookup(EnvSocksAddr); ok && v != "" {
		cfg.Transport.Tor.SocksAddr = v
	}
	if v, ok := lookup(EnvControlAddr); ok && v != "" {
		cfg.Transport.Tor.ControlAddr = v
	}
	if v, ok := lookup(EnvOnionAddr); ok && v != "" {
		cfg.Transport.Tor.OnionAddress = v
	}
	if v, ok := lookup(EnvChunkSize); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvChunkSize, err)
		}
		cfg.Content.ChunkSize = n
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.LogLevel = v
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
