package journal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopherheir.com/internal/custody"
	"gopherheir.com/pkg/logger"
	"gopherheir.com/pkg/metrics"
	"gopherheir.com/pkg/wal"
	"gopherheir.com/pkg/xerr"
)

const FileName = "custody.wal"

// ErrPoisoned 一次写失败之后 writer 状态不可信，拒绝后续提交，重启后由 Open 修复
var ErrPoisoned = errors.New("journal: poisoned by earlier write failure")

type Config struct {
	Dir        string `mapstructure:"dir"`
	BufferSize int    `mapstructure:"buffer_size"`
	Sync       bool   `mapstructure:"sync"`
}

type RecoverStats struct {
	Records       int
	LastSeq       uint64
	Offset        int64
	TruncatedTail bool
}

// Journal 所有账户共用一个 WAL，seq 全局递增，顺序与文件顺序一致
type Journal struct {
	mu     sync.Mutex
	path   string
	w      *wal.Writer
	seq    uint64
	broken error

	subMu sync.Mutex
	subs  []chan struct{}
}

// Open 先修复半写尾巴，再把已有事件逐条交给 apply，最后打开写端
func Open(cfg Config, apply func(custody.Event) error) (*Journal, RecoverStats, error) {
	var st RecoverStats
	if cfg.Dir == "" {
		return nil, st, fmt.Errorf("journal: dir is empty")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, st, err
	}
	path := filepath.Join(cfg.Dir, FileName)

	rs, err := wal.Replay(path, wal.ReplayOptions{AllowTruncatedTail: true}, func(p []byte) error {
		ev, err := Decode(p)
		if err != nil {
			return err
		}
		if ev.Seq != st.LastSeq+1 {
			return fmt.Errorf("journal: seq gap, want %d got %d", st.LastSeq+1, ev.Seq)
		}
		if apply != nil {
			if err := apply(ev); err != nil {
				return err
			}
		}
		st.LastSeq = ev.Seq
		return nil
	})
	if err != nil {
		return nil, st, fmt.Errorf("journal: replay %s: %w", path, err)
	}
	st.Records = rs.Records
	st.Offset = rs.LastGoodOffset
	st.TruncatedTail = rs.TruncatedTail
	if rs.TruncatedTail {
		if err := wal.TruncateTo(path, rs.LastGoodOffset); err != nil {
			return nil, st, fmt.Errorf("journal: repair tail: %w", err)
		}
		logger.Warn(context.Background(), "journal tail repaired",
			zap.String("path", path), zap.Int64("offset", rs.LastGoodOffset))
	}

	w, err := wal.Open(path, wal.WriterOptions{BufferSize: cfg.BufferSize, SyncOnFlush: cfg.Sync})
	if err != nil {
		return nil, st, err
	}
	return &Journal{
		path: path,
		w:    w,
		seq:  st.LastSeq,
	}, st, nil
}

func (j *Journal) Path() string { return j.path }

// Subscribe 每个订阅者一个容量 1 的通道，提交成功后非阻塞地敲一下，outbox 用它代替空转
func (j *Journal) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	j.subMu.Lock()
	j.subs = append(j.subs, ch)
	j.subMu.Unlock()
	return ch
}

func (j *Journal) Seq() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq
}

// Offset 已持久化的字节数
func (j *Journal) Offset() int64 { return j.w.Flushed() }

// Commit 分配 seq 并落盘；签名与 custody.Committer 一致
func (j *Journal) Commit(ctx context.Context, ev *custody.Event) error {
	start := time.Now()
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.broken != nil {
		return xerr.Wrap(fmt.Errorf("%w: %v", ErrPoisoned, j.broken), xerr.ServiceBusy, "journal unavailable")
	}
	ev.Seq = j.seq + 1
	payload, err := Encode(ev)
	if err != nil {
		ev.Seq = 0
		return fmt.Errorf("journal: encode: %w", err)
	}
	if _, err := j.w.AppendFlush(payload); err != nil {
		ev.Seq = 0
		j.broken = err
		logger.Error(ctx, "journal append failed", zap.String("path", j.path), zap.Error(err))
		return xerr.Wrap(err, xerr.ServiceBusy, "journal unavailable")
	}
	j.seq = ev.Seq
	metrics.JournalAppendSeconds.Observe(time.Since(start).Seconds())

	j.subMu.Lock()
	for _, ch := range j.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	j.subMu.Unlock()
	return nil
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.broken == nil {
		j.broken = errors.New("closed")
	}
	return j.w.Close()
}
