// Package main 提供 firestrike 命令行入口
//
// 用法：
//
//	firestrike [全局参数] <命令> [命令参数]
//
// 命令：
//
//	serve                     运行长期节点，服务已保存的内容
//	publish <file> [-temp]    发布文件并打印磁力定位符
//	fetch <locator> [-o path] 按定位符拉取文件
//	peers                     列出路由表中的节点
//	list                      列出本地保存的内容
//	remove <hash>             删除本地内容
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dep2p/go-firestrike"
	"github.com/dep2p/go-firestrike/pkg/lib/log"
)

var logger = log.Logger("firestrike/cmd")

// errUsage 参数错误，已打印用法
var errUsage = errors.New("invalid usage")

// ═══════════════════════════════════════════════════════════════════════════
// 全局参数
// ═══════════════════════════════════════════════════════════════════════════
//
// 配置优先级（从高到低）：命令行参数 > FIRESTRIKE_* 环境变量（含 .env）> 配置文件 > 默认值
var (
	configFile  = flag.String("config", "", "配置文件路径（JSON）")
	dataDir     = flag.String("data-dir", "", "数据目录（默认: ./data）")
	listenAddr  = flag.String("listen", "", "本地监听地址，如 127.0.0.1:8789")
	advertise   = flag.String("advertise", "", "TCP 模式下对外宣告的地址")
	bootstrap   = flag.String("bootstrap", "", "引导节点汇合地址，逗号分隔")
	useTor      = flag.Bool("tor", false, "使用 Tor 传输")
	socksAddr   = flag.String("socks", "", "Tor SOCKS5 代理地址")
	controlAddr = flag.String("control", "", "Tor 控制端口地址")
	logLevel    = flag.String("log-level", "", "日志级别 (debug/info/warn/error)")
	logJSON     = flag.Bool("log-json", false, "以 JSON 行输出日志")
	showVersion = flag.Bool("version", false, "显示版本信息")
)

// command 子命令
type command struct {
	name    string
	usage   string
	summary string
	run     func(ctx context.Context, args []string) error
}

var commands = []*command{
	{name: "serve", usage: "serve", summary: "运行长期节点", run: runServe},
	{name: "publish", usage: "publish [-temp] [-serve] <file>", summary: "发布文件", run: runPublish},
	{name: "fetch", usage: "fetch [-o path] [-temp] [-serve] <locator>", summary: "拉取文件", run: runFetch},
	{name: "peers", usage: "peers", summary: "列出路由表节点", run: runPeers},
	{name: "list", usage: "list", summary: "列出本地内容", run: runList},
	{name: "remove", usage: "remove <hash>", summary: "删除本地内容", run: runRemove},
}

func main() {
	flag.Usage = printHelp
	if err := run(); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		}
		os.Exit(1)
	}
}

func run() error {
	flag.Parse()

	if *showVersion {
		fmt.Println(firestrike.VersionInfo())
		return nil
	}

	args := flag.Args()
	if len(args) == 0 {
		printHelp()
		return errUsage
	}
	cmd := findCommand(args[0])
	if cmd == nil {
		fmt.Fprintf(os.Stderr, "未知命令: %s\n\n", args[0])
		printHelp()
		return errUsage
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return cmd.run(ctx, args[1:])
}

func findCommand(name string) *command {
	for _, c := range commands {
		if c.name == name {
			return c
		}
	}
	return nil
}

func printHelp() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "%s\n\n", firestrike.VersionInfo())
	fmt.Fprintf(out, "用法: firestrike [全局参数] <命令> [命令参数]\n\n命令:\n")
	for _, c := range commands {
		fmt.Fprintf(out, "  %-44s %s\n", c.usage, c.summary)
	}
	fmt.Fprintf(out, "\n全局参数:\n")
	flag.PrintDefaults()
}
