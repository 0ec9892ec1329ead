package influxsink

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"
	"gopherheir.com/internal/custody"
	"gopherheir.com/pkg/ethunit"
	"gopherheir.com/pkg/logger"
)

const Measurement = "custody_event"

type Config struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Token   string `mapstructure:"token"`
	Org     string `mapstructure:"org"`
	Bucket  string `mapstructure:"bucket"`

	// 写入优化项
	BatchSize     uint          `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	UseGzip       bool          `mapstructure:"use_gzip"`
}

// Sink 异步批量写，Handle 只进缓冲，不会因为 influx 抖动卡住 outbox
type Sink struct {
	client influxdb2.Client
	write  api.WriteAPI
}

func New(cfg Config) *Sink {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 500
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = time.Second
	}

	opt := influxdb2.DefaultOptions().
		SetBatchSize(cfg.BatchSize).
		SetFlushInterval(uint(cfg.FlushInterval.Milliseconds())).
		SetUseGZip(cfg.UseGzip)

	c := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opt)
	w := c.WriteAPI(cfg.Org, cfg.Bucket)

	// 必须消费 Errors()，否则异步写入错误会阻塞
	go func() {
		for err := range w.Errors() {
			logger.Warn(context.Background(), "influx write error", zap.Error(err))
		}
	}()

	return &Sink{client: c, write: w}
}

func (s *Sink) Name() string { return "influx" }

func (s *Sink) Handle(_ context.Context, ev custody.Event) error {
	s.write.WritePoint(Point(ev))
	return nil
}

// Close 会 flush buffer
func (s *Sink) Close() {
	s.client.Close()
}

// Point tags 只放低基数的 type 和账户地址
func Point(ev custody.Event) *write.Point {
	tags := map[string]string{
		"account": ev.Account.Hex(),
		"type":    string(ev.Type),
	}
	fields := map[string]interface{}{
		"seq":     int64(ev.Seq),
		"balance": ethunit.ToDecimal(ev.Balance).InexactFloat64(),
		"actor":   ev.Actor.Hex(),
	}
	if ev.Amount != nil {
		fields["amount"] = ethunit.ToDecimal(ev.Amount).InexactFloat64()
	}
	return write.NewPoint(Measurement, tags, fields, ev.At)
}

func (cfg Config) String() string {
	return fmt.Sprintf("url=%s org=%s bucket=%s batch=%d flush=%s gzip=%v",
		cfg.URL, cfg.Org, cfg.Bucket, cfg.BatchSize, cfg.FlushInterval, cfg.UseGzip)
}
