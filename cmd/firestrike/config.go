package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/dep2p/go-firestrike"
	"github.com/dep2p/go-firestrike/config"
	"github.com/dep2p/go-firestrike/pkg/lib/log"
)

// ============================================================================
//                              配置加载（CLI 专用）
// ============================================================================

// buildConfig 按优先级合成配置
func buildConfig() (*config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}

	cfg := config.NewConfig()
	if *configFile != "" {
		var err error
		if cfg, err = config.Load(*configFile); err != nil {
			return nil, fmt.Errorf("加载配置文件失败: %w", err)
		}
	}

	if err := config.ApplyEnv(cfg); err != nil {
		return nil, fmt.Errorf("环境变量错误: %w", err)
	}

	if *dataDir != "" {
		cfg.Storage.DataDir = *dataDir
	}
	if *listenAddr != "" {
		cfg.Transport.ListenAddr = *listenAddr
	}
	if *advertise != "" {
		cfg.Transport.AdvertiseAddr = *advertise
	}
	if *bootstrap != "" {
		cfg.DHT.BootstrapPeers = splitAndTrim(*bootstrap, ",")
	}
	if isFlagSet("tor") {
		if *useTor {
			cfg.Transport.Mode = config.TransportTor
		} else {
			cfg.Transport.Mode = config.TransportTCP
		}
	}
	if *socksAddr != "" {
		cfg.Transport.Tor.SocksAddr = *socksAddr
	}
	if *controlAddr != "" {
		cfg.Transport.Tor.ControlAddr = *controlAddr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	return cfg, nil
}

// setupLogging 按配置设置全局日志
func setupLogging(cfg *config.Config) error {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	log.SetOutputWithLevel(os.Stderr, level, *logJSON)
	return nil
}

// startNode 启动节点并同步引导一次
//
// 引导失败只记录警告：本地内容仍可发布，后台刷新会继续尝试。
func startNode(ctx context.Context) (*firestrike.Node, error) {
	cfg, err := buildConfig()
	if err != nil {
		return nil, err
	}
	if err := setupLogging(cfg); err != nil {
		return nil, err
	}

	node, err := firestrike.Start(ctx, firestrike.WithConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("启动失败: %w", err)
	}
	if err := node.Bootstrap(ctx); err != nil {
		logger.Warn("引导失败", "error", err)
	}
	return node, nil
}

// isFlagSet 检查命令行参数是否被显式设置
func isFlagSet(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// splitAndTrim 分割字符串并去除空白
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
