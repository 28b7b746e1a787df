package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/postercache/postercache/internal/assetcache"
	"github.com/postercache/postercache/internal/cache"
	"github.com/postercache/postercache/internal/config"
	"github.com/postercache/postercache/internal/fetch"
	"github.com/postercache/postercache/internal/logging"
	"github.com/postercache/postercache/internal/memcache"
	"github.com/postercache/postercache/internal/server"
	"github.com/postercache/postercache/internal/server/routes"
	"github.com/postercache/postercache/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

const shutdownGrace = 10 * time.Second

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["storage"] = cfg.Global.StoragePath
		fields["memory_bytes"] = cfg.Global.MaxMemoryCache
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// CLI 启动遵循“配置 → 磁盘缓存 → 内存缓存 → 抓取客户端 → Fiber server”顺序，
	// 保证所有请求共享同一个 AssetCache 实例与在途抓取表。
	assets, err := buildAssetCache(cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化资源缓存失败: %v\n", err)
		return 1
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["storage"] = cfg.Global.StoragePath
	fields["memory_bytes"] = cfg.Global.MaxMemoryCache
	fields["max_concurrent_fetches"] = cfg.Global.MaxConcurrentFetches
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg, assets, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("postercache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 POSTERCACHE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("POSTERCACHE_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

// buildAssetCache 组装磁盘层、内存层与抓取客户端。
func buildAssetCache(cfg *config.Config) (*assetcache.Cache, error) {
	store, err := cache.NewStore(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("初始化缓存目录失败: %w", err)
	}

	memory := memcache.New(memcache.Options{
		MaxBytes:   cfg.Global.MaxMemoryCache,
		MaxEntries: cfg.Global.MaxMemoryEntries,
	})

	userAgent := cfg.Global.UserAgent
	if userAgent == "" {
		userAgent = version.UserAgent()
	}
	client := fetch.NewClient(fetch.Options{
		HTTPClient:     server.NewUpstreamClient(cfg),
		UserAgent:      userAgent,
		MaxRetries:     cfg.Global.MaxRetries,
		InitialBackoff: cfg.Global.InitialBackoff.DurationValue(),
		MaxAssetSize:   cfg.Global.MaxAssetSize,
		MaxPixels:      cfg.Global.MaxPixels,
		MaxConcurrent:  cfg.Global.MaxConcurrentFetches,
	})

	return assetcache.New(assetcache.Options{
		Memory:              memory,
		Disk:                store,
		Fetcher:             client,
		PrefetchParallelism: cfg.Global.PrefetchParallelism,
		MaxPixels:           cfg.Global.MaxPixels,
	})
}

func startHTTPServer(cfg *config.Config, assets *assetcache.Cache, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:           logger,
		Assets:           assets,
		KeyStripSegments: cfg.Global.KeyStripSegments,
	})
	if err != nil {
		return err
	}
	routes.RegisterDiagnosticRoutes(app, routes.DiagnosticsOptions{
		Logger:           logger,
		Assets:           assets,
		KeyStripSegments: cfg.Global.KeyStripSegments,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			logger.WithError(err).WithField("action", "shutdown").Warn("Fiber 服务关闭超时")
		}
	}()

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	if err := app.Listen(fmt.Sprintf(":%d", port)); err != nil {
		return err
	}

	// 等待在途抓取完成落盘，避免留下半写入的临时文件。
	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := assets.Wait(drainCtx); err != nil {
		logger.WithError(err).WithField("action", "shutdown").Warn("在途抓取未能在宽限期内完成")
	}
	logger.WithField("action", "shutdown").Info("Fiber 服务已停止")
	return nil
}
