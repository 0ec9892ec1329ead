package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopherheir.com/pkg/config"
	"gopherheir.com/pkg/logger"
	"gopherheir.com/pkg/metrics"
	"gopherheir.com/pkg/orm"
	"gopherheir.com/pkg/safe"
	"gopherheir.com/pkg/xredis"
)

// Deps collects common dependencies that bootstrap can prepare.
type Deps struct {
	DB    *sql.DB
	Redis *redis.Client
}

// Worker 跟 HTTP server 同生命周期的后台任务，返回非 nil error 会让整个进程退出
type Worker struct {
	Name string
	Run  func(ctx context.Context) error
}

// Service 由 Build 返回
type Service struct {
	Handler http.Handler
	Workers []Worker
	// Close 在 HTTP server 停止、worker 全部退出后调用
	Close func() error
}

// Options controls the bootstrap process; provide hooks for service-specific bits.
type Options struct {
	// Required: config name and target struct
	ConfigName     string
	ConfigPtr      interface{}
	ConfigPaths    []string
	ConfigDefaults map[string]interface{}

	// Required: read from the loaded config
	ServiceName func() string
	HTTPAddr    func() string

	// Optional: logger config, default level info
	LogConfig func() logger.Config

	// Optional: init tracer, return shutdown func
	InitTracer func() (func(context.Context) error, error)

	// Optional: sentinel rules; nil means skip
	Sentinel func() *SentinelCfg

	// Optional builders; nil means skip. A builder may also return (nil, nil) when the
	// dependency is switched off in config.
	BuildDB    func(ctx context.Context) (*sql.DB, error)
	BuildRedis func(ctx context.Context) (*redis.Client, error)

	// Required: build handler and workers from deps
	Build func(ctx context.Context, deps Deps) (*Service, error)

	// Listen addresses
	MetricsAddr func() string
	PprofAddr   func() string

	ShutdownTimeout time.Duration
}

var registerMetrics sync.Once

// Run boots the service with common wiring; callers inject config and service-specific hooks via Options.
func Run(ctx context.Context, opt Options) error {
	if opt.ConfigName == "" || opt.ConfigPtr == nil || opt.ServiceName == nil || opt.HTTPAddr == nil || opt.Build == nil {
		return fmt.Errorf("bootstrap: missing required options")
	}
	if _, err := config.Load(opt.ConfigName, opt.ConfigPtr, config.Options{Paths: opt.ConfigPaths, Defaults: opt.ConfigDefaults}); err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	svcName := opt.ServiceName()
	if opt.LogConfig != nil {
		lc := opt.LogConfig()
		if lc.Service == "" {
			lc.Service = svcName
		}
		logger.InitWithConfig(lc)
	} else {
		logger.Init(svcName, "info")
	}
	defer logger.Sync()

	registerMetrics.Do(metrics.MustRegister)

	if opt.Sentinel != nil {
		if err := InitSentinel(opt.Sentinel()); err != nil {
			return fmt.Errorf("init sentinel: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var deps Deps
	var err error
	if opt.BuildDB != nil {
		deps.DB, err = opt.BuildDB(runCtx)
		if err != nil {
			return fmt.Errorf("init db: %w", err)
		}
		if deps.DB != nil {
			defer func() { _ = deps.DB.Close() }()
			orm.ObserveDBStats(runCtx, deps.DB)
		}
	}
	if opt.BuildRedis != nil {
		deps.Redis, err = opt.BuildRedis(runCtx)
		if err != nil {
			return fmt.Errorf("init redis: %w", err)
		}
		if deps.Redis != nil {
			defer func() { _ = deps.Redis.Close() }()
			xredis.ObserveRedisStats(runCtx, deps.Redis)
		}
	}

	if opt.InitTracer != nil {
		shutdownTracer, err := opt.InitTracer()
		if err != nil {
			return fmt.Errorf("init tracer: %w", err)
		}
		if shutdownTracer != nil {
			defer func() {
				c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = shutdownTracer(c)
			}()
		}
	}

	svc, err := opt.Build(runCtx, deps)
	if err != nil {
		return fmt.Errorf("build service: %w", err)
	}
	if svc.Close != nil {
		defer func() {
			if err := svc.Close(); err != nil {
				logger.Error(context.Background(), "service close failed", zap.Error(err))
			}
		}()
	}

	if opt.PprofAddr != nil && opt.PprofAddr() != "" {
		startPprof(opt.PprofAddr())
	}
	if opt.MetricsAddr != nil && opt.MetricsAddr() != "" {
		startMetrics(opt.MetricsAddr())
	}

	timeout := opt.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	srv := &http.Server{
		Addr:              opt.HTTPAddr(),
		Handler:           svc.Handler,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return runCtx },
	}

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		logger.Info(gctx, "http listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})
	for _, w := range svc.Workers {
		w := w
		g.Go(func() error {
			err := safe.Run(gctx, w.Name, w.Run)
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("worker %s: %w", w.Name, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info(context.Background(), "shutdown signal received")
		sctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	err = g.Wait()
	logger.Info(context.Background(), "service stopped", zap.Error(err))
	return err
}

func startPprof(addr string) {
	runtime.SetMutexProfileFraction(10)
	runtime.SetBlockProfileRate(10000)

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 3 * time.Second,
	}
	safe.Go(func() {
		logger.Info(context.Background(), "pprof listening", zap.String("addr", srv.Addr))
		if e := srv.ListenAndServe(); e != nil && e != http.ErrServerClosed {
			logger.Error(context.Background(), "pprof listen error", zap.Error(e))
		}
	})
}

func startMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 3 * time.Second,
	}
	safe.Go(func() {
		logger.Info(context.Background(), "metrics listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(context.Background(), "metrics server error", zap.Error(err))
		}
	})
}
