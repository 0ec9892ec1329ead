package app

import (
	"time"

	"gopherheir.com/internal/custody/archive"
	"gopherheir.com/internal/custody/journal"
	"gopherheir.com/internal/custody/storage/influxsink"
	custodyhttp "gopherheir.com/internal/custody/transport/http"
	"gopherheir.com/pkg/bootstrap"
	"gopherheir.com/pkg/orm"
	"gopherheir.com/pkg/ratelimit"
	"gopherheir.com/pkg/xredis"
)

type Config struct {
	Name     string                 `mapstructure:"name"`
	HTTP     HTTP                   `mapstructure:"http"`
	Log      Log                    `mapstructure:"log"`
	Journal  journal.Config         `mapstructure:"journal"`
	Outbox   Outbox                 `mapstructure:"outbox"`
	DB       DB                     `mapstructure:"db"`
	Redis    Redis                  `mapstructure:"redis"`
	Cache    Cache                  `mapstructure:"cache"`
	Writer   Writer                 `mapstructure:"writer"`
	Nats     Nats                   `mapstructure:"nats"`
	Breaker  Breaker                `mapstructure:"breaker"`
	Influx   influxsink.Config      `mapstructure:"influx"`
	OTel     OTel                   `mapstructure:"otel"`
	Sentinel bootstrap.SentinelCfg  `mapstructure:"sentinel"`
	Auth     custodyhttp.AuthConfig `mapstructure:"auth"`
	Archive  archive.Config         `mapstructure:"archive"`
}

type HTTP struct {
	Addr        string                      `mapstructure:"addr"`
	MetricsAddr string                      `mapstructure:"metrics_addr"`
	PprofAddr   string                      `mapstructure:"pprof_addr"`
	RateLimit   custodyhttp.RateLimitConfig `mapstructure:"rate_limit"`
}

type Log struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type Outbox struct {
	// cursor 文件目录，默认和 journal 同目录
	CursorDir string        `mapstructure:"cursor_dir"`
	Poll      time.Duration `mapstructure:"poll"`
	Retry     time.Duration `mapstructure:"retry"`
}

type DB struct {
	Enabled    bool `mapstructure:"enabled"`
	orm.Config `mapstructure:",squash"`
}

type Redis struct {
	Enabled       bool `mapstructure:"enabled"`
	xredis.Config `mapstructure:",squash"`
}

type Cache struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// Writer 单写者租约，依赖 redis。没拿到租约的实例在 Build 里等待，
// 拿到后才打开 journal；丢了租约 writer-lease worker 退出，进程随之退出
type Writer struct {
	Enabled bool          `mapstructure:"enabled"`
	Key     string        `mapstructure:"key"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type Nats struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

type Breaker struct {
	MaxRequests             uint32        `mapstructure:"max_requests"`
	Interval                time.Duration `mapstructure:"interval"`
	Timeout                 time.Duration `mapstructure:"timeout"`
	TripConsecutiveFailures uint32        `mapstructure:"trip_consecutive_failures"`
	TripFailureRate         float64       `mapstructure:"trip_failure_rate"`
	TripMinRequests         uint32        `mapstructure:"trip_min_requests"`
}

func (b Breaker) Rule() ratelimit.Rule {
	return ratelimit.Rule{
		MaxRequests:             b.MaxRequests,
		Interval:                b.Interval,
		Timeout:                 b.Timeout,
		TripConsecutiveFailures: b.TripConsecutiveFailures,
		TripFailureRate:         b.TripFailureRate,
		TripMinRequests:         b.TripMinRequests,
	}
}

type OTel struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Defaults 配置文件里没写的项
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"name":                  "custody-service",
		"http.addr":             ":8080",
		"log.level":             "info",
		"journal.dir":           "data/journal",
		"journal.buffer_size":   64 << 10,
		"journal.sync":          true,
		"cache.ttl":             "1m",
		"writer.enabled":        true,
		"writer.key":            "custody:writer",
		"writer.ttl":            "15s",
		"auth.max_skew":         "5m",
		"auth.token_ttl":        "1h",
		"archive.interval":      "10m",
		"http.rate_limit.rps":   50,
		"http.rate_limit.burst": 100,
	}
}
