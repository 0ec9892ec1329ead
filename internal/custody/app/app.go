package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gopherheir.com/internal/custody"
	"gopherheir.com/internal/custody/archive"
	"gopherheir.com/internal/custody/events"
	"gopherheir.com/internal/custody/journal"
	"gopherheir.com/internal/custody/outbox"
	mysqlrepo "gopherheir.com/internal/custody/repo/mysql"
	"gopherheir.com/internal/custody/service"
	"gopherheir.com/internal/custody/storage/influxsink"
	custodyhttp "gopherheir.com/internal/custody/transport/http"
	"gopherheir.com/internal/custody/transport/ws"
	"gopherheir.com/pkg/bootstrap"
	"gopherheir.com/pkg/logger"
	"gopherheir.com/pkg/metrics"
	"gopherheir.com/pkg/orm"
	"gopherheir.com/pkg/ratelimit"
	"gopherheir.com/pkg/trace"
	"gopherheir.com/pkg/xredis"
)

const ConfigName = "custody-service"

// Run 启动托管服务：外层只需传入 ctx 即可
func Run(ctx context.Context, configPaths ...string) error {
	cfg := &Config{}
	return bootstrap.Run(ctx, bootstrap.Options{
		ConfigName:     ConfigName,
		ConfigPtr:      cfg,
		ConfigPaths:    configPaths,
		ConfigDefaults: Defaults(),
		ServiceName:    func() string { return cfg.Name },
		HTTPAddr:       func() string { return cfg.HTTP.Addr },
		LogConfig: func() logger.Config {
			return logger.Config{Service: cfg.Name, Level: cfg.Log.Level, File: cfg.Log.File}
		},
		InitTracer: func() (func(context.Context) error, error) {
			if !cfg.OTel.Enabled {
				return nil, nil
			}
			return trace.InitTrace(cfg.Name, cfg.OTel.Addr)
		},
		Sentinel: func() *bootstrap.SentinelCfg { return &cfg.Sentinel },
		BuildDB: func(c context.Context) (*sql.DB, error) {
			if !cfg.DB.Enabled {
				return nil, nil
			}
			return orm.NewSQLDB(c, &cfg.DB.Config)
		},
		BuildRedis: func(c context.Context) (*redis.Client, error) {
			if !cfg.Redis.Enabled {
				return nil, nil
			}
			return xredis.NewRedis(c, &cfg.Redis.Config)
		},
		Build: func(c context.Context, deps bootstrap.Deps) (*bootstrap.Service, error) {
			return Build(c, cfg, deps)
		},
		MetricsAddr: func() string { return cfg.HTTP.MetricsAddr },
		PprofAddr:   func() string { return cfg.HTTP.PprofAddr },
	})
}

// Build 回放 journal 重建内存状态，再挂上 sink、HTTP 和后台任务
func Build(ctx context.Context, cfg *Config, deps bootstrap.Deps) (*bootstrap.Service, error) {
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 先拿写租约再打开 journal，接手的实例回放的是上一任写完的文件
	var lease *xredis.Lease
	if deps.Redis != nil && cfg.Writer.Enabled {
		lease = xredis.NewLease(deps.Redis, cfg.Writer.Key, cfg.Writer.TTL)
		logger.Info(ctx, "waiting for writer lease", zap.String("key", lease.Key()), zap.String("lease", lease.ID()))
		if err := lease.Acquire(ctx, 0); err != nil {
			return nil, fmt.Errorf("acquire writer lease: %w", err)
		}
		logger.Info(ctx, "writer lease acquired", zap.String("lease", lease.ID()))
	}

	reg := custody.NewRegistry()
	j, st, err := journal.Open(cfg.Journal, reg.Apply)
	if err != nil {
		releaseLease(lease)
		return nil, fmt.Errorf("open journal: %w", err)
	}
	logger.Info(ctx, "journal replayed",
		zap.String("path", j.Path()),
		zap.Int("records", st.Records),
		zap.Uint64("last_seq", st.LastSeq),
		zap.Bool("truncated_tail", st.TruncatedTail),
		zap.Int("accounts", reg.Len()),
	)
	metrics.Accounts.Set(float64(reg.Len()))
	// 回放完成后才挂 committer，回放本身不能再写日志
	var commit custody.Committer = j.Commit
	if lease != nil {
		commit = service.FenceCommitter(commit, lease)
	}
	reg.SetCommitter(service.StampRequestID(commit))

	closers := []func() error{j.Close}
	if lease != nil {
		// 最后关：journal 落盘之后才让出
		closers = []func() error{func() error { releaseLease(lease); return nil }, j.Close}
	}
	closeAll := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}
	fail := func(err error) (*bootstrap.Service, error) {
		_ = closeAll()
		return nil, err
	}

	var broker events.Broker
	if cfg.Nats.Enabled {
		nb, err := events.NewNatsBroker(cfg.Nats.URL)
		if err != nil {
			return fail(fmt.Errorf("connect nats: %w", err))
		}
		broker = nb
	} else {
		broker = events.NewMemBroker(0)
	}
	closers = append(closers, broker.Close)

	cursorDir := cfg.Outbox.CursorDir
	if cursorDir == "" {
		cursorDir = cfg.Journal.Dir
	}
	newPublisher := func(s outbox.Sink) *outbox.Publisher {
		return outbox.NewPublisher(s, j.Path(), outbox.CursorPath(cursorDir, s.Name()), outbox.Options{
			Notify: j.Subscribe(),
			Poll:   cfg.Outbox.Poll,
			Retry:  cfg.Outbox.Retry,
		})
	}

	breakers := ratelimit.NewManager(cfg.Name, cfg.Breaker.Rule(), nil)
	workers := []bootstrap.Worker{
		{Name: "outbox-broker", Run: newPublisher(events.NewBrokerSink(broker, breakers)).Run},
	}
	if lease != nil {
		workers = append(workers, bootstrap.Worker{Name: "writer-lease", Run: lease.Keep})
	}

	var svcOpts []service.Option
	if deps.DB != nil {
		gdb, err := orm.NewGorm(deps.DB, cfg.DB.LogSQL)
		if err != nil {
			return fail(fmt.Errorf("open gorm: %w", err))
		}
		repo := mysqlrepo.New(gdb)
		if err := repo.Migrate(ctx); err != nil {
			return fail(fmt.Errorf("migrate: %w", err))
		}
		svcOpts = append(svcOpts, service.WithProjection(repo))

		var cache service.HistoryCache
		if deps.Redis != nil {
			cache = service.NewRedisHistoryCache(deps.Redis)
			svcOpts = append(svcOpts, service.WithHistoryCache(cache, cfg.Cache.TTL))
		}
		pub := newPublisher(service.InvalidateOnProject(mysqlrepo.NewProjector(repo), cache))
		workers = append(workers, bootstrap.Worker{Name: "outbox-mysql", Run: pub.Run})
	}
	if cfg.Influx.Enabled {
		is := influxsink.New(cfg.Influx)
		closers = append(closers, func() error { is.Close(); return nil })
		workers = append(workers, bootstrap.Worker{Name: "outbox-influx", Run: newPublisher(is).Run})
		logger.Info(ctx, "influx sink enabled", zap.String("influx", cfg.Influx.String()))
	}

	svc := service.New(reg, svcOpts...)

	if cfg.Archive.Enabled {
		store, err := archive.NewMinioStore(ctx, cfg.Archive.Minio)
		if err != nil {
			return fail(fmt.Errorf("archive store: %w", err))
		}
		a := archive.New(store, snapshotSource{j: j, svc: svc}, cfg.Archive, reg.Clock())
		workers = append(workers, bootstrap.Worker{Name: "archive", Run: a.Run})
	}

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		secret = randomSecret()
		logger.Warn(ctx, "auth.jwt_secret not set, tokens will not survive a restart")
	}
	authCfg := cfg.Auth
	authCfg.JWTSecret = secret
	var authOpts []custodyhttp.AuthOption
	if deps.Redis != nil {
		authOpts = append(authOpts, custodyhttp.WithReplayCache(xredis.NewSeenSet(deps.Redis, "custody:sig:")))
	}

	router := custodyhttp.NewRouter(ctx, svc, custodyhttp.Options{
		Service:    cfg.Name,
		RateLimit:  cfg.HTTP.RateLimit,
		Auth:       custodyhttp.NewAuthenticator(authCfg, reg.Clock(), authOpts...),
		Stream:     gin.WrapF(ws.NewServer(ctx, broker).ServeWS),
		Sentinel:   cfg.Sentinel.Enabled,
		Prometheus: true,
	})

	return &bootstrap.Service{Handler: router, Workers: workers, Close: closeAll}, nil
}

func releaseLease(l *xredis.Lease) {
	if l == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := l.Release(ctx); err != nil {
		logger.Warn(ctx, "writer lease release failed", zap.Error(err))
	}
}

// snapshotSource 先读 seq 再读账户，快照里的状态不早于 seq
type snapshotSource struct {
	j   *journal.Journal
	svc *service.Service
}

func (s snapshotSource) Seq() uint64                     { return s.j.Seq() }
func (s snapshotSource) Accounts() []service.AccountView { return s.svc.Accounts() }

func randomSecret() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
