package outbox

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"gopherheir.com/internal/custody"
	"gopherheir.com/internal/custody/journal"
	"gopherheir.com/pkg/logger"
	"gopherheir.com/pkg/metrics"
	"gopherheir.com/pkg/wal"
)

// Sink 下游投递。Handle 可能被重复调用（至少一次），实现需要按 Seq 幂等
type Sink interface {
	Name() string
	Handle(ctx context.Context, ev custody.Event) error
}

// Publisher tail journal 文件，把事件按顺序投给一个 sink；
// 投递成功才推进 cursor，失败回滚到 cursor 重读
type Publisher struct {
	sink       Sink
	evPath     string
	cursorPath string
	notify     <-chan struct{}
	poll       time.Duration
	retry      time.Duration
}

type Options struct {
	// 通常是 journal.Subscribe()；nil 时只靠轮询
	Notify <-chan struct{}
	Poll   time.Duration
	// sink 出错后的退避
	Retry time.Duration
}

func NewPublisher(sink Sink, evPath, cursorPath string, opts Options) *Publisher {
	if opts.Poll <= 0 {
		opts.Poll = 200 * time.Millisecond
	}
	if opts.Retry <= 0 {
		opts.Retry = time.Second
	}
	return &Publisher{
		sink:       sink,
		evPath:     evPath,
		cursorPath: cursorPath,
		notify:     opts.Notify,
		poll:       opts.Poll,
		retry:      opts.Retry,
	}
}

// Committed 已确认投递的偏移
func (p *Publisher) Committed() int64 { return loadCursor(p.cursorPath) }

// Run 阻塞到 ctx 取消
func (p *Publisher) Run(ctx context.Context) error {
	name := p.sink.Name()
	committed := loadCursor(p.cursorPath)
	// cursor 可能大于文件大小（修复/截断过），需要矫正
	if st, err := os.Stat(p.evPath); err == nil && committed > st.Size() {
		logger.Warn(ctx, "outbox cursor beyond journal, clamping",
			zap.String("sink", name), zap.Int64("cursor", committed), zap.Int64("size", st.Size()))
		committed = st.Size()
		if err := storeCursor(p.cursorPath, committed); err != nil {
			return err
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		next, err := p.drain(ctx, committed)
		committed = next
		if err != nil && !errors.Is(err, io.EOF) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn(ctx, "outbox delivery stalled",
				zap.String("sink", name), zap.Int64("cursor", committed), zap.Error(err))
			p.sleep(ctx, p.retry)
			continue
		}
		p.observeLag(committed)
		p.wait(ctx)
	}
}

// drain 从 off 读到文件尾。返回最后一次成功投递之后的偏移
func (p *Publisher) drain(ctx context.Context, off int64) (int64, error) {
	r, err := wal.OpenReader(p.evPath, off, wal.ReaderOptions{AllowTruncatedTail: true, BufferSize: 64 << 10})
	if err != nil {
		if os.IsNotExist(err) {
			return off, io.EOF
		}
		return off, err
	}
	defer r.Close()

	name := p.sink.Name()
	for {
		if err := ctx.Err(); err != nil {
			return off, err
		}
		payload, nextOff, err := r.Next()
		if err != nil {
			return off, err
		}
		ev, err := journal.Decode(payload)
		if err != nil {
			// crc 正确但解不开：跳过，否则永远卡在这一条
			logger.Error(ctx, "outbox skip undecodable record",
				zap.String("sink", name), zap.Int64("offset", off), zap.Error(err))
			metrics.OutboxDelivered.WithLabelValues(name, "poison").Inc()
		} else if err := p.sink.Handle(ctx, ev); err != nil {
			metrics.OutboxDelivered.WithLabelValues(name, "error").Inc()
			return off, err
		} else {
			metrics.OutboxDelivered.WithLabelValues(name, "ok").Inc()
		}
		if err := storeCursor(p.cursorPath, nextOff); err != nil {
			return off, err
		}
		off = nextOff
	}
}

func (p *Publisher) observeLag(off int64) {
	if st, err := os.Stat(p.evPath); err == nil {
		metrics.OutboxLag.WithLabelValues(p.sink.Name()).Set(float64(st.Size() - off))
	}
}

func (p *Publisher) wait(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-p.notify:
	case <-time.After(p.poll):
	}
}

func (p *Publisher) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
