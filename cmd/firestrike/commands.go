package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dep2p/go-firestrike"
	"github.com/dep2p/go-firestrike/pkg/types"
)

// newFlagSet 创建子命令参数集
func newFlagSet(name, usage string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "用法: firestrike %s\n", usage)
		fs.PrintDefaults()
	}
	return fs
}

// parseArgs 解析子命令参数，要求恰好 nargs 个位置参数
func parseArgs(fs *flag.FlagSet, args []string, nargs int) error {
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() != nargs {
		fs.Usage()
		return errUsage
	}
	return nil
}

// withNode 启动节点，执行 fn 后关闭
//
// serve 为真时 fn 返回后继续运行直到收到退出信号。
func withNode(ctx context.Context, serve bool, fn func(*firestrike.Node) error) (err error) {
	node, err := startNode(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := node.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if err := fn(node); err != nil {
		return err
	}
	if serve {
		fmt.Fprintln(os.Stderr, "节点运行中，按 Ctrl+C 退出")
		<-ctx.Done()
	}
	return nil
}

func runServe(ctx context.Context, args []string) error {
	fs := newFlagSet("serve", "serve")
	if err := parseArgs(fs, args, 0); err != nil {
		return err
	}
	return withNode(ctx, true, func(node *firestrike.Node) error {
		printNodeInfo(node)
		return nil
	})
}

func runPublish(ctx context.Context, args []string) error {
	fs := newFlagSet("publish", "publish [-temp] [-serve] <file>")
	temp := fs.Bool("temp", false, "发布成功后删除源文件")
	serve := fs.Bool("serve", false, "发布后继续运行并提供内容")
	if err := parseArgs(fs, args, 1); err != nil {
		return err
	}
	return withNode(ctx, *serve, func(node *firestrike.Node) error {
		res, err := node.Publish(ctx, fs.Arg(0), *temp)
		if res == nil {
			return err
		}
		if err != nil {
			// 确认不足时内容仍保存在本地
			fmt.Fprintf(os.Stderr, "警告: %v\n", err)
		}
		fmt.Fprintf(os.Stderr, "内容哈希: %s  分块: %d  确认: %d\n",
			res.Locator.Hash, res.Descriptor.ChunkCount(), res.Acks)
		fmt.Println(res.Magnet)
		return nil
	})
}

func runFetch(ctx context.Context, args []string) error {
	fs := newFlagSet("fetch", "fetch [-o path] [-temp] [-serve] <locator>")
	output := fs.String("o", "", "输出路径（默认 downloaded_<hash>）")
	temp := fs.Bool("temp", false, "不在本地保留内容，也不做种")
	serve := fs.Bool("serve", false, "拉取后继续运行并做种")
	if err := parseArgs(fs, args, 1); err != nil {
		return err
	}
	return withNode(ctx, *serve, func(node *firestrike.Node) error {
		start := time.Now()
		path, err := node.Fetch(ctx, fs.Arg(0), *output, *temp)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "用时 %s\n", time.Since(start).Round(time.Millisecond))
		fmt.Println(path)
		return nil
	})
}

func runPeers(ctx context.Context, args []string) error {
	fs := newFlagSet("peers", "peers")
	if err := parseArgs(fs, args, 0); err != nil {
		return err
	}
	return withNode(ctx, false, func(node *firestrike.Node) error {
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NODE\tADDRESS\tLAST SEEN\tRTT")
		for _, p := range node.ListPeers() {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				p.ID.ShortString(), p.Addr, p.LastSeen.Format(time.RFC3339), p.RTT.Round(time.Millisecond))
		}
		return w.Flush()
	})
}

func runList(ctx context.Context, args []string) error {
	fs := newFlagSet("list", "list")
	if err := parseArgs(fs, args, 0); err != nil {
		return err
	}
	return withNode(ctx, false, func(node *firestrike.Node) error {
		descs, err := node.List()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "HASH\tSIZE\tCHUNKS")
		for _, d := range descs {
			fmt.Fprintf(w, "%s\t%d\t%d\n", d.Hash, d.Size, d.ChunkCount())
		}
		return w.Flush()
	})
}

func runRemove(ctx context.Context, args []string) error {
	fs := newFlagSet("remove", "remove <hash>")
	if err := parseArgs(fs, args, 1); err != nil {
		return err
	}
	hash, err := types.ParseContentHash(fs.Arg(0))
	if err != nil {
		return err
	}
	return withNode(ctx, false, func(node *firestrike.Node) error {
		return node.Remove(hash)
	})
}

// printNodeInfo 打印节点信息
func printNodeInfo(node *firestrike.Node) {
	fmt.Println()
	fmt.Printf("  %s\n", firestrike.VersionInfo())
	fmt.Printf("  节点 ID:   %s\n", node.ID())
	fmt.Printf("  汇合地址:  %s\n", node.Addr())
	fmt.Printf("  路由表:    %d 个节点\n", len(node.ListPeers()))
	fmt.Println()
}
