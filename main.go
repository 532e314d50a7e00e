package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"CSMACD-Simulator/api"
	"CSMACD-Simulator/collector"
	"CSMACD-Simulator/config"
	"CSMACD-Simulator/environment"
	"CSMACD-Simulator/simulation"

	"github.com/pterm/pterm"
	"github.com/tebeka/atexit"
	"google.golang.org/grpc"
)

// options 命令行解析的结果。
type options struct {
	cfg        config.SimulationConfig
	configFile string
	saveConfig string
	reportDir  string
	sweep      []float64
	serve      string
	verbose    bool
}

// parseFlags 解析命令行。指定了 -config 时先读取文件，再由显式给出的参数覆盖。
func parseFlags(args []string) (options, error) {
	var opts options
	cfg := config.Default()

	fs := flag.NewFlagSet("csmacd", flag.ContinueOnError)
	fs.Float64Var(&cfg.Rate, "rate", cfg.Rate, "每个节点平均每秒产生的报文数")
	fs.IntVar(&cfg.PacketSizeBits, "psize", cfg.PacketSizeBits, "报文长度 (bit)")
	fs.Float64Var(&cfg.LinkSpeedBps, "lspeed", cfg.LinkSpeedBps, "链路速率 (bit/s)")
	fs.Float64Var(&cfg.Duration, "duration", cfg.Duration, "仿真时长 (秒)")
	fs.IntVar(&cfg.NodeCount, "ncount", cfg.NodeCount, "共享信道上的站点数量")
	fs.BoolVar(&cfg.Persistent, "persistence", cfg.Persistent, "使用 1-坚持 CSMA/CD (默认非坚持)")
	fs.Int64Var(&cfg.Seed, "seed", cfg.Seed, "随机数种子")
	fs.Float64Var(&cfg.Protocol.PropagationDelay, "propagation", cfg.Protocol.PropagationDelay, "传播时延 (秒)，时隙为其两倍")
	fs.IntVar(&cfg.Protocol.QueueLimit, "qlimit", cfg.Protocol.QueueLimit, "每个节点的队列上限，0 表示不限")
	fs.StringVar(&opts.configFile, "config", "", "YAML 配置文件")
	fs.StringVar(&opts.saveConfig, "save-config", "", "把最终配置写入该 YAML 文件")
	fs.StringVar(&opts.reportDir, "report", "", "把结果写入该目录下的 Excel 工作簿")
	sweep := fs.String("sweep", "", "逗号分隔的到达率列表，依次运行同一配置")
	fs.StringVar(&opts.serve, "serve", "", "在该地址上启动 gRPC 服务，例如 :50051")
	fs.BoolVar(&opts.verbose, "verbose", false, "输出调试日志")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if fs.NArg() > 0 {
		return opts, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	if opts.configFile != "" {
		fileCfg, err := config.LoadFile(opts.configFile)
		if err != nil {
			return opts, err
		}
		fs.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "rate":
				fileCfg.Rate = cfg.Rate
			case "psize":
				fileCfg.PacketSizeBits = cfg.PacketSizeBits
			case "lspeed":
				fileCfg.LinkSpeedBps = cfg.LinkSpeedBps
			case "duration":
				fileCfg.Duration = cfg.Duration
			case "ncount":
				fileCfg.NodeCount = cfg.NodeCount
			case "persistence":
				fileCfg.Persistent = cfg.Persistent
			case "seed":
				fileCfg.Seed = cfg.Seed
			case "propagation":
				fileCfg.Protocol.PropagationDelay = cfg.Protocol.PropagationDelay
			case "qlimit":
				fileCfg.Protocol.QueueLimit = cfg.Protocol.QueueLimit
			}
		})
		cfg = fileCfg
	}
	opts.cfg = cfg

	rates, err := parseSweep(*sweep)
	if err != nil {
		return opts, err
	}
	opts.sweep = rates
	return opts, nil
}

// parseSweep 解析 "10,100,1000" 形式的到达率列表。空字符串表示不扫描。
func parseSweep(s string) ([]float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var rates []float64
	for _, field := range strings.Split(s, ",") {
		rate, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid sweep rate %q: %w", field, err)
		}
		rates = append(rates, rate)
	}
	return rates, nil
}

func newLogger(verbose bool) *slog.Logger {
	level := pterm.LogLevelInfo
	if verbose {
		level = pterm.LogLevelDebug
	}
	return slog.New(pterm.NewSlogHandler(pterm.DefaultLogger.WithLevel(level)))
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		pterm.Error.Println(err)
		os.Exit(2)
	}

	logger := newLogger(opts.verbose)
	slog.SetDefault(logger)

	if opts.saveConfig != "" {
		if err := config.WriteFile(opts.saveConfig, opts.cfg); err != nil {
			logger.Error("❌ 保存配置失败", "error", err)
			os.Exit(1)
		}
		logger.Info("💾 配置已保存", "file", opts.saveConfig)
	}

	// 报告在进程退出时保存，失败或中断时也保留已完成的结果
	var report *collector.Report
	if opts.reportDir != "" {
		if report, err = collector.NewReport(opts.reportDir); err != nil {
			logger.Error("❌ 创建报告失败", "error", err)
			os.Exit(1)
		}
		atexit.Register(func() {
			if _, err := report.Save(); err != nil {
				logger.Error("❌ 保存报告失败", "error", err)
			}
			report.Close()
		})
	}

	if opts.serve != "" {
		err = serve(opts.serve, report, logger)
	} else {
		err = run(opts, report, logger)
	}
	if err != nil {
		var cerr *config.ConfigError
		if errors.As(err, &cerr) {
			pterm.Error.Printfln("配置错误: %v", cerr)
			atexit.Exit(2)
		}
		logger.Error("❌ 运行失败", "error", err)
		atexit.Exit(1)
	}
	atexit.Exit(0)
}

// run 运行一次仿真，或对 -sweep 中的每个到达率各运行一次。
func run(opts options, report *collector.Report, logger *slog.Logger) error {
	printHeader()

	rates := opts.sweep
	if len(rates) == 0 {
		rates = []float64{opts.cfg.Rate}
	}

	results := make([]runResult, 0, len(rates))
	for _, rate := range rates {
		cfg := opts.cfg
		cfg.Rate = rate
		stats, err := simulation.Simulate(cfg, simulation.WithLogger(logger))
		if err != nil {
			return err
		}
		res := runResult{label: fmt.Sprintf("%s@%g", cfg.Mode(), rate), cfg: cfg, stats: stats}
		results = append(results, res)
		if report != nil {
			if err := report.AddRun(res.label, cfg, stats); err != nil {
				return err
			}
		}
	}

	if len(results) == 1 {
		renderConfig(results[0].cfg)
		renderStatistics(results[0].stats)
		renderNodes(results[0].stats)
	} else {
		renderConfig(opts.cfg)
		renderSweep(results)
	}
	if report != nil {
		pterm.Info.Printfln("报告将保存到 %s", report.Filename())
	}
	return nil
}

// serve 启动 gRPC 服务，收到中断信号后优雅退出。
func serve(addr string, report *collector.Report, logger *slog.Logger) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	s := grpc.NewServer()
	api.Register(s, api.NewServer(logger, environment.Config{Report: report}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		logger.Info("🛑 收到退出信号，正在停止服务...")
		s.GracefulStop()
	}()

	logger.Info("🛰️ gRPC 服务已启动", "addr", lis.Addr().String(), "service", "csmacd.Simulator")
	return s.Serve(lis)
}
