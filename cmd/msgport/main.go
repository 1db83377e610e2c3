// Package main 提供 msgport 命令行入口
//
// 在一台机器内启动一个回显服务进程和若干客户进程，
// 按名字查找服务并发送请求，最后打印延迟和按端口的流量统计。
package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	msgport "github.com/dep2p/go-msgport"
	"github.com/dep2p/go-msgport/config"
	"github.com/dep2p/go-msgport/internal/util/logger"
)

var log = logger.Logger("msgport/cmd")

var (
	configFile  = flag.String("config", "", "配置文件路径")
	serviceName = flag.String("name", "", "服务名（默认随机生成）")
	clients     = flag.Int("clients", 2, "客户进程数")
	requests    = flag.Int("requests", 100, "每个客户发送的请求数")
	size        = flag.Int("size", 64, "请求负载字节数")
	useQueue    = flag.Bool("queue", false, "服务端使用工作队列投递（默认运行循环）")
	showVersion = flag.Bool("version", false, "显示版本信息")
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flag.Parse()

	if *showVersion {
		fmt.Println(msgport.VersionInfo())
		return nil
	}
	if *clients <= 0 || *requests <= 0 || *size < 0 {
		return errors.New("clients 和 requests 必须为正数，size 不能为负数")
	}

	cfg := config.NewConfig()
	if *configFile != "" {
		var err error
		cfg, err = loadConfigFile(*configFile)
		if err != nil {
			return fmt.Errorf("加载配置文件失败: %w", err)
		}
	}
	applyEnvOverrides(cfg)

	m, err := msgport.NewMachine(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	name := *serviceName
	if name == "" {
		name = "com.msgport.echo." + uuid.NewString()
	}
	log.Info("启动回显服务", "name", name, "queue", *useQueue)

	server, err := m.Spawn()
	if err != nil {
		return err
	}
	stop, err := serve(server, name, *useQueue)
	if err != nil {
		return err
	}
	defer stop()

	lat, err := drive(m, name)
	if err != nil {
		return err
	}
	report(m, name, lat)
	return nil
}

// serve 创建回显端口并启动投递
func serve(p *msgport.Process, name string, queue bool) (stop func(), err error) {
	local, err := p.CreateLocalPort(name, func(_ *msgport.MessagePort, _ int32, data []byte, _ any) []byte {
		return data
	}, msgport.Context{})
	if err != nil {
		return nil, fmt.Errorf("创建服务端口失败: %w", err)
	}

	if queue {
		if err := local.SetDispatchQueue(p.NewWorkQueue()); err != nil {
			return nil, err
		}
		return local.Invalidate, nil
	}

	loop := p.NewRunLoop()
	if err := local.ScheduleInRunLoop(loop, msgport.DefaultMode); err != nil {
		return nil, err
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		loop.Run(msgport.DefaultMode)
	}()
	return func() {
		loop.Stop()
		<-done
		local.Invalidate()
	}, nil
}

// drive 启动客户进程并发送请求，返回全部请求的延迟
func drive(m *msgport.Machine, name string) ([]time.Duration, error) {
	payload := bytes.Repeat([]byte{0xA5}, *size)

	var (
		mu  sync.Mutex
		lat = make([]time.Duration, 0, *clients**requests)
	)
	var g errgroup.Group
	for i := 0; i < *clients; i++ {
		client, err := m.Spawn()
		if err != nil {
			return nil, err
		}
		g.Go(func() error {
			remote, err := client.CreateRemotePort(name)
			if err != nil {
				return fmt.Errorf("查找服务失败: %w", err)
			}
			opts := client.DefaultSendOptions()
			for j := 0; j < *requests; j++ {
				start := time.Now()
				reply, err := remote.SendRequest(int32(j), payload, opts)
				if err != nil {
					return fmt.Errorf("请求 %d 失败（状态 %s）: %w", j, msgport.StatusOf(err), err)
				}
				if !bytes.Equal(reply, payload) {
					return fmt.Errorf("请求 %d 回复不一致", j)
				}
				d := time.Since(start)
				mu.Lock()
				lat = append(lat, d)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return lat, nil
}

// report 打印延迟分布和端口流量统计
func report(m *msgport.Machine, name string, lat []time.Duration) {
	sort.Slice(lat, func(i, j int) bool { return lat[i] < lat[j] })
	pct := func(p float64) time.Duration {
		if len(lat) == 0 {
			return 0
		}
		return lat[int(float64(len(lat)-1)*p)]
	}

	fmt.Printf("📦 %s\n", msgport.VersionInfo())
	fmt.Printf("服务: %s\n", name)
	fmt.Printf("请求: %d  负载: %d 字节\n", len(lat), *size)
	fmt.Printf("延迟: p50=%s p90=%s p99=%s max=%s\n", pct(0.5), pct(0.9), pct(0.99), pct(1))

	s := m.PortStats(name)
	fmt.Printf("流量: out=%d 字节/%d 条  in=%d 字节/%d 条  丢帧=%d  失败=%d\n",
		s.TotalOut, s.MessagesOut, s.TotalIn, s.MessagesIn, s.Dropped, s.FailureTotal())
}
