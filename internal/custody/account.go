package custody

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"gopherheir.com/pkg/clock"
)

// InactivityPeriod 距离上一次 withdraw/claim 超过这个时长，heir 才能接管
const InactivityPeriod = 30 * 24 * time.Hour

// Committer 在账户锁内、校验通过之后、内存状态变更之前调用。
// 返回错误则本次操作放弃，状态保持不变。
type Committer func(ctx context.Context, ev *Event) error

// Payout 接收 withdraw 转出的资金
type Payout interface {
	Credit(to common.Address, amount *uint256.Int)
}

type Option func(*Account)

func WithClock(c clock.Clock) Option {
	return func(a *Account) {
		if c != nil {
			a.clock = c
		}
	}
}

func WithCommitter(fn Committer) Option {
	return func(a *Account) { a.commit = fn }
}

func WithPayout(p Payout) Option {
	return func(a *Account) { a.payout = p }
}

// Account 单个托管账户。四个操作共用一把锁，按到达顺序串行执行。
type Account struct {
	mu sync.Mutex

	addr         common.Address
	owner        common.Address
	heir         common.Address
	lastActivity time.Time
	balance      *uint256.Int

	clock  clock.Clock
	commit Committer
	payout Payout
}

// NewAccount 构造即部署：owner 为 creator，heir 为空，时间戳为当前时间
func NewAccount(ctx context.Context, addr, creator common.Address, initial *uint256.Int, opts ...Option) (*Account, Event, error) {
	if creator == (common.Address{}) {
		return nil, Event{}, ErrZeroOwner
	}
	a := newAccount(addr, opts)
	now := a.clock.Now()

	ev := Event{
		Type:         EvCreated,
		Account:      addr,
		Actor:        creator,
		Amount:       cloneInt(initial),
		Owner:        creator,
		LastActivity: now,
		Balance:      cloneInt(initial),
		At:           now,
	}
	if err := a.commitEvent(ctx, &ev); err != nil {
		return nil, Event{}, err
	}
	a.apply(ev)
	return a, ev, nil
}

// Restore 从快照/日志恢复，不产生事件
func Restore(st State, opts ...Option) *Account {
	a := newAccount(st.Account, opts)
	a.owner = st.Owner
	a.heir = st.Heir
	a.lastActivity = st.LastActivity
	a.balance = cloneInt(st.Balance)
	return a
}

func newAccount(addr common.Address, opts []Option) *Account {
	a := &Account{
		addr:    addr,
		balance: new(uint256.Int),
		clock:   clock.System(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Account) Address() common.Address { return a.addr }

func (a *Account) Owner() common.Address {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.owner
}

func (a *Account) Heir() common.Address {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.heir
}

func (a *Account) LastActivityTimestamp() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastActivity
}

func (a *Account) Balance() *uint256.Int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balance.Clone()
}

func (a *Account) Snapshot() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stateLocked()
}

// Deposit 任何人都可以转入，不校验身份，不刷新活跃时间
func (a *Account) Deposit(ctx context.Context, from common.Address, amount *uint256.Int) (Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	amt := cloneInt(amount)
	next, overflow := new(uint256.Int).AddOverflow(a.balance, amt)
	if overflow {
		return Event{}, ErrBalanceOverflow
	}

	ev := a.eventLocked(EvDeposited, from)
	ev.Amount = amt
	ev.Balance = next
	if err := a.commitEvent(ctx, &ev); err != nil {
		return Event{}, err
	}
	a.apply(ev)
	return ev, nil
}

// Withdraw 只有 owner 可以调用。amount 为 0 也会刷新活跃时间。
func (a *Account) Withdraw(ctx context.Context, caller common.Address, amount *uint256.Int) (Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if caller != a.owner {
		return Event{}, ErrNotOwner
	}
	amt := cloneInt(amount)
	if amt.Gt(a.balance) {
		return Event{}, ErrInsufficientFunds
	}

	ev := a.eventLocked(EvWithdrawn, caller)
	ev.Amount = amt
	ev.Balance = new(uint256.Int).Sub(a.balance, amt)
	ev.LastActivity = ev.At
	if err := a.commitEvent(ctx, &ev); err != nil {
		return Event{}, err
	}
	a.apply(ev)
	if a.payout != nil {
		a.payout.Credit(a.owner, amt)
	}
	return ev, nil
}

// DesignateHeir 只有 owner 可以调用；candidate 可以是零地址(清空)或 owner 自己
func (a *Account) DesignateHeir(ctx context.Context, caller, candidate common.Address) (Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if caller != a.owner {
		return Event{}, ErrNotOwner
	}

	ev := a.eventLocked(EvHeirDesignated, caller)
	ev.Heir = candidate
	if err := a.commitEvent(ctx, &ev); err != nil {
		return Event{}, err
	}
	a.apply(ev)
	return ev, nil
}

// ClaimInheritance heir 在 owner 沉默满 InactivityPeriod 后接管账户，余额不动
func (a *Account) ClaimInheritance(ctx context.Context, caller common.Address) (Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// 没指定 heir 时 heir 为零地址，任何人(包括零地址)都过不了这一步
	if a.heir == (common.Address{}) || caller != a.heir {
		return Event{}, ErrNotHeir
	}

	ev := a.eventLocked(EvInheritanceClaimed, caller)
	if ev.At.Before(a.lastActivity.Add(InactivityPeriod)) {
		return Event{}, ErrTimelockNotElapsed
	}
	ev.PrevOwner = a.owner
	ev.Owner = a.heir
	ev.Heir = common.Address{}
	ev.LastActivity = ev.At
	if err := a.commitEvent(ctx, &ev); err != nil {
		return Event{}, err
	}
	a.apply(ev)
	return ev, nil
}

// eventLocked 以当前状态为底稿，时间戳不早于 lastActivity
func (a *Account) eventLocked(t EventType, actor common.Address) Event {
	now := a.clock.Now()
	if now.Before(a.lastActivity) {
		now = a.lastActivity
	}
	return Event{
		Type:         t,
		Account:      a.addr,
		Actor:        actor,
		Owner:        a.owner,
		Heir:         a.heir,
		LastActivity: a.lastActivity,
		Balance:      a.balance.Clone(),
		At:           now,
	}
}

func (a *Account) commitEvent(ctx context.Context, ev *Event) error {
	if a.commit == nil {
		return nil
	}
	if err := a.commit(ctx, ev); err != nil {
		return fmt.Errorf("custody: commit %s: %w", ev.Type, err)
	}
	return nil
}

func (a *Account) apply(ev Event) {
	a.owner = ev.Owner
	a.heir = ev.Heir
	a.lastActivity = ev.LastActivity
	a.balance = cloneInt(ev.Balance)
}

// restoreFrom 回放日志时使用
func (a *Account) restoreFrom(ev Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.apply(ev)
}

func (a *Account) stateLocked() State {
	return State{
		Account:      a.addr,
		Owner:        a.owner,
		Heir:         a.heir,
		LastActivity: a.lastActivity,
		Balance:      a.balance.Clone(),
	}
}
