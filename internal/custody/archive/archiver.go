package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
	"gopherheir.com/internal/custody/service"
	"gopherheir.com/pkg/clock"
	"gopherheir.com/pkg/logger"
)

type Config struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	Prefix   string        `mapstructure:"prefix"`
	Minio    MinioConfig   `mapstructure:"minio"`
}

// Snapshot 某个 journal seq 时刻的全部账户
type Snapshot struct {
	TakenAt  time.Time             `json:"takenAt"`
	Seq      uint64                `json:"seq"`
	Accounts []service.AccountView `json:"accounts"`
}

// Source 由 app 提供：seq 和账户列表
type Source interface {
	Seq() uint64
	Accounts() []service.AccountView
}

type Archiver struct {
	store    ObjectStore
	src      Source
	clock    clock.Clock
	interval time.Duration
	prefix   string

	lastSeq  uint64
	uploaded bool
}

func New(store ObjectStore, src Source, cfg Config, clk clock.Clock) *Archiver {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "custody"
	}
	if clk == nil {
		clk = clock.System()
	}
	return &Archiver{store: store, src: src, clock: clk, interval: cfg.Interval, prefix: cfg.Prefix}
}

// Run 按间隔上传，退出前再传一次
func (a *Archiver) Run(ctx context.Context) error {
	t := time.NewTicker(a.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if _, err := a.Once(fctx); err != nil {
				logger.Warn(fctx, "final archive failed", zap.Error(err))
			}
			cancel()
			return ctx.Err()
		case <-t.C:
			if _, err := a.Once(ctx); err != nil {
				// 对象存储抖动不影响主流程，下个周期再试
				logger.Warn(ctx, "archive failed", zap.Error(err))
			}
		}
	}
}

// Once 没有新事件就跳过，返回空 key
func (a *Archiver) Once(ctx context.Context) (string, error) {
	seq := a.src.Seq()
	if a.uploaded && seq == a.lastSeq {
		return "", nil
	}
	snap := Snapshot{TakenAt: a.clock.Now(), Seq: seq, Accounts: a.src.Accounts()}
	b, err := json.Marshal(snap)
	if err != nil {
		return "", err
	}
	key := path.Join(a.prefix, "snapshots", snap.TakenAt.UTC().Format("2006/01/02"),
		fmt.Sprintf("%s-%020d.json", snap.TakenAt.UTC().Format("150405"), seq))
	if err := a.put(ctx, key, b); err != nil {
		return "", err
	}
	if err := a.put(ctx, path.Join(a.prefix, "latest.json"), b); err != nil {
		return "", err
	}
	a.lastSeq, a.uploaded = seq, true
	logger.Info(ctx, "archive snapshot uploaded", zap.String("key", key), zap.Uint64("seq", seq), zap.Int("accounts", len(snap.Accounts)))
	return key, nil
}

func (a *Archiver) put(ctx context.Context, key string, b []byte) error {
	return a.store.Put(ctx, key, bytes.NewReader(b), int64(len(b)), "application/json")
}
