package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gopherheir.com/internal/custody"
	"gopherheir.com/internal/custody/repo"
	"gopherheir.com/pkg/logger"
	"gopherheir.com/pkg/metrics"
	"gopherheir.com/pkg/orm"
	"gopherheir.com/pkg/xerr"
)

const historyFetchTimeout = 10 * time.Second

var (
	ErrStoreDisabled = xerr.New(xerr.ServiceBusy, "history store is disabled")
	ErrBadAmount     = xerr.New(xerr.RequestParamsError, "amount is required")
)

type Option func(*Service)

func WithProjection(p repo.Projection) Option { return func(s *Service) { s.proj = p } }

func WithHistoryCache(c HistoryCache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = c
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// Service 对外的应用层：trace、指标、日志都在这一层
type Service struct {
	reg    *custody.Registry
	proj   repo.Projection
	cache  HistoryCache
	sf     singleflight.Group
	ttl    time.Duration
	tracer trace.Tracer
}

func New(reg *custody.Registry, opts ...Option) *Service {
	s := &Service{
		reg:    reg,
		ttl:    time.Minute,
		tracer: otel.Tracer("gopherheir.com/internal/custody/service"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Registry() *custody.Registry { return s.reg }

// StampRequestID 包一层 Committer，把请求 id 写进事件
func StampRequestID(next custody.Committer) custody.Committer {
	return func(ctx context.Context, ev *custody.Event) error {
		if rid, ok := ctx.Value(logger.RequestIdKey).(string); ok {
			ev.RequestID = rid
		}
		if next == nil {
			return nil
		}
		return next(ctx, ev)
	}
}

func (s *Service) CreateAccount(ctx context.Context, creator common.Address, initial *uint256.Int) (view AccountView, err error) {
	ctx, done := s.begin(ctx, "create", common.Address{}, creator)
	defer func() { done(err) }()

	a, ev, err := s.reg.Open(ctx, creator, initial)
	if err != nil {
		return AccountView{}, err
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("custody.account", a.Address().Hex()))
	metrics.Accounts.Set(float64(s.reg.Len()))
	return accountView(ev.State(), ev.At), nil
}

func (s *Service) Deposit(ctx context.Context, account, from common.Address, amount *uint256.Int) (AccountView, error) {
	return s.mutate(ctx, "deposit", account, from, func(ctx context.Context, a *custody.Account) (custody.Event, error) {
		if amount == nil {
			return custody.Event{}, ErrBadAmount
		}
		return a.Deposit(ctx, from, amount)
	})
}

func (s *Service) Withdraw(ctx context.Context, account, caller common.Address, amount *uint256.Int) (AccountView, error) {
	return s.mutate(ctx, "withdraw", account, caller, func(ctx context.Context, a *custody.Account) (custody.Event, error) {
		if amount == nil {
			return custody.Event{}, ErrBadAmount
		}
		return a.Withdraw(ctx, caller, amount)
	})
}

func (s *Service) DesignateHeir(ctx context.Context, account, caller, heir common.Address) (AccountView, error) {
	return s.mutate(ctx, "designate_heir", account, caller, func(ctx context.Context, a *custody.Account) (custody.Event, error) {
		return a.DesignateHeir(ctx, caller, heir)
	})
}

func (s *Service) ClaimInheritance(ctx context.Context, account, caller common.Address) (AccountView, error) {
	return s.mutate(ctx, "claim_inheritance", account, caller, func(ctx context.Context, a *custody.Account) (custody.Event, error) {
		return a.ClaimInheritance(ctx, caller)
	})
}

func (s *Service) Account(ctx context.Context, addr common.Address) (AccountView, error) {
	a, err := s.reg.Get(addr)
	if err != nil {
		return AccountView{}, err
	}
	return s.view(a), nil
}

func (s *Service) Wallet(_ context.Context, addr common.Address) WalletView {
	return walletView(addr, s.reg.Wallets().BalanceOf(addr))
}

// Accounts 全量快照，归档用
func (s *Service) Accounts() []AccountView {
	now := s.reg.Clock().Now()
	out := make([]AccountView, 0, s.reg.Len())
	s.reg.Range(func(a *custody.Account) bool {
		out = append(out, accountView(a.Snapshot(), now))
		return true
	})
	return out
}

// History 先查缓存，未命中用 singleflight 合并回源
func (s *Service) History(ctx context.Context, addr common.Address, page, limit int) (*HistoryPage, error) {
	if s.proj == nil {
		return nil, ErrStoreDisabled
	}
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > orm.MaxPageSize {
		limit = orm.MaxPageSize
	}
	if s.cache != nil {
		if p, ok, err := s.cache.Get(ctx, addr, page, limit); err == nil && ok {
			return p, nil
		}
	}

	key := fmt.Sprintf("%s:%d:%d", addr.Hex(), page, limit)
	// 合并的回源不能跟着第一个调用方的 ctx 一起取消
	fetchCtx := context.WithoutCancel(ctx)
	v, err, _ := s.sf.Do(key, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(fetchCtx, historyFetchTimeout)
		defer cancel()
		rows, total, err := s.proj.ListEvents(fetchCtx, addr, page, limit)
		if err != nil {
			return nil, err
		}
		p := historyPage(addr, page, limit, total, rows)
		if s.cache != nil {
			if err := s.cache.Set(fetchCtx, addr, page, limit, p, s.ttl); err != nil {
				logger.Warn(fetchCtx, "history cache set failed", zap.String("account", addr.Hex()), zap.Error(err))
			}
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return clonePage(v.(*HistoryPage)), nil
}

func (s *Service) mutate(ctx context.Context, op string, account, actor common.Address, fn func(context.Context, *custody.Account) (custody.Event, error)) (view AccountView, err error) {
	ctx, done := s.begin(ctx, op, account, actor)
	defer func() { done(err) }()

	a, err := s.reg.Get(account)
	if err != nil {
		return AccountView{}, err
	}
	// 用事件里的状态，避免读到之后别的操作
	ev, err := fn(ctx, a)
	if err != nil {
		return AccountView{}, err
	}
	return accountView(ev.State(), ev.At), nil
}

// begin 开 span，返回的 done 负责指标、日志和结束 span
func (s *Service) begin(ctx context.Context, op string, account, actor common.Address) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "custody."+op, trace.WithAttributes(
		attribute.String("custody.op", op),
		attribute.String("custody.actor", actor.Hex()),
	))
	if account != (common.Address{}) {
		span.SetAttributes(attribute.String("custody.account", account.Hex()))
	}
	return ctx, func(err error) {
		defer span.End()
		fields := []zap.Field{
			zap.String("op", op),
			zap.String("account", account.Hex()),
			zap.String("actor", actor.Hex()),
			zap.Duration("cost", time.Since(start)),
		}
		if err == nil {
			metrics.OpsTotal.WithLabelValues(op, "ok").Inc()
			logger.Info(ctx, "custody op", fields...)
			return
		}
		code := xerr.CodeOf(err)
		metrics.OpsTotal.WithLabelValues(op, strconv.Itoa(code)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, xerr.MessageOf(err))
		fields = append(fields, zap.Int("biz_code", code), zap.Error(err))
		var ce *xerr.CodeError
		if errors.As(err, &ce) && code < xerr.ServerCommonError {
			logger.Info(ctx, "custody op rejected", fields...)
			return
		}
		logger.Error(ctx, "custody op failed", fields...)
	}
}

func (s *Service) view(a *custody.Account) AccountView {
	return accountView(a.Snapshot(), s.reg.Clock().Now())
}
