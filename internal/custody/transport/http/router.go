package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	ginprom "github.com/zsais/go-gin-prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"
	"gopherheir.com/internal/custody/service"
	"gopherheir.com/pkg/middleware"
	"gopherheir.com/pkg/ratelimit"
)

type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

type Options struct {
	Service   string
	RateLimit RateLimitConfig
	Auth      *Authenticator
	// Stream 为 nil 时不注册 /api/stream
	Stream gin.HandlerFunc
	// 只有 bootstrap 加载过规则时才挂 sentinel
	Sentinel bool
	// 测试里关掉，避免重复注册 prometheus 指标
	Prometheus bool
}

func NewRouter(ctx context.Context, svc *service.Service, opt Options) *gin.Engine {
	if opt.Service == "" {
		opt.Service = "custody-service"
	}
	if opt.RateLimit.RPS <= 0 {
		opt.RateLimit.RPS = 50
	}
	if opt.RateLimit.Burst <= 0 {
		opt.RateLimit.Burst = 100
	}
	// 限流
	store := ratelimit.NewStore(rate.Limit(opt.RateLimit.RPS), opt.RateLimit.Burst, 10*time.Minute)
	store.StartJanitor(ctx, time.Minute)

	r := gin.New()
	if opt.Prometheus {
		p := ginprom.NewPrometheus("gin")
		p.Use(r)
	}
	r.Use(
		otelgin.Middleware(opt.Service),
		middleware.ReqId(),
		cors.New(corsConfig()),
		middleware.Recover(),
		middleware.RateLimit(opt.Service, store),
	)
	if opt.Sentinel {
		r.Use(middleware.Sentinel(opt.Service))
	}
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	h := NewHandler(svc, opt.Auth)
	api := r.Group("/api")
	api.POST("/auth/token", opt.Auth.SignatureOnly(), h.Token)

	accounts := api.Group("/accounts")
	{
		accounts.POST("", opt.Auth.Required(), h.CreateAccount)
		accounts.GET("/:account", h.GetAccount)
		accounts.GET("/:account/events", h.Events)
		// 存款不校验身份，带了凭证就记下来源
		accounts.POST("/:account/deposit", opt.Auth.Optional(), h.Deposit)
		accounts.POST("/:account/withdraw", opt.Auth.Required(), h.Withdraw)
		accounts.POST("/:account/heir", opt.Auth.Required(), h.DesignateHeir)
		accounts.POST("/:account/claim", opt.Auth.Required(), h.Claim)
	}
	api.GET("/wallets/:address", h.Wallet)
	if opt.Stream != nil {
		api.GET("/stream", opt.Stream)
	}
	return r
}

func corsConfig() cors.Config {
	c := cors.DefaultConfig()
	c.AllowAllOrigins = true
	c.AddAllowHeaders("Authorization", "X-Request-Id",
		"X-Custody-Address", "X-Custody-Timestamp", "X-Custody-Signature")
	c.AddExposeHeaders("X-Request-Id")
	return c
}
