package custody

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"gopherheir.com/pkg/clock"
)

// Registry 管理多个互相独立的托管账户，每个账户各有一把锁
type Registry struct {
	mu       sync.RWMutex
	accounts map[common.Address]*Account
	nonces   map[common.Address]uint64

	clock   clock.Clock
	commit  Committer
	wallets *Wallets
}

type RegistryOption func(*Registry)

func WithRegistryClock(c clock.Clock) RegistryOption {
	return func(r *Registry) {
		if c != nil {
			r.clock = c
		}
	}
}

func WithRegistryCommitter(fn Committer) RegistryOption {
	return func(r *Registry) { r.commit = fn }
}

func WithWallets(w *Wallets) RegistryOption {
	return func(r *Registry) {
		if w != nil {
			r.wallets = w
		}
	}
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		accounts: make(map[common.Address]*Account, 64),
		nonces:   make(map[common.Address]uint64, 64),
		clock:    clock.System(),
		wallets:  NewWallets(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Registry) Wallets() *Wallets { return r.wallets }

func (r *Registry) Clock() clock.Clock { return r.clock }

// SetCommitter 回放结束后再挂上日志，避免回放时重复写入
func (r *Registry) SetCommitter(fn Committer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commit = fn
	for _, a := range r.accounts {
		a.mu.Lock()
		a.commit = fn
		a.mu.Unlock()
	}
}

func (r *Registry) accountOpts() []Option {
	return []Option{WithClock(r.clock), WithCommitter(r.commit), WithPayout(r.wallets)}
}

// Open 和合约部署一样，账户地址由 creator 和 nonce 推导
func (r *Registry) Open(ctx context.Context, creator common.Address, initial *uint256.Int) (*Account, Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	nonce := r.nonces[creator]
	addr := crypto.CreateAddress(creator, nonce)
	if _, ok := r.accounts[addr]; ok {
		return nil, Event{}, ErrAccountExists
	}

	opts := r.accountOpts()
	opts = append(opts, WithCommitter(func(ctx context.Context, ev *Event) error {
		ev.Nonce = nonce
		if r.commit == nil {
			return nil
		}
		return r.commit(ctx, ev)
	}))
	a, ev, err := NewAccount(ctx, addr, creator, initial, opts...)
	if err != nil {
		return nil, Event{}, err
	}
	a.commit = r.commit
	r.accounts[addr] = a
	r.nonces[creator] = nonce + 1
	return a, ev, nil
}

func (r *Registry) Get(addr common.Address) (*Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.accounts[addr]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return a, nil
}

// Range 按地址排序遍历，输出稳定
func (r *Registry) Range(fn func(a *Account) bool) {
	r.mu.RLock()
	list := make([]*Account, 0, len(r.accounts))
	for _, a := range r.accounts {
		list = append(list, a)
	}
	r.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		return list[i].addr.Cmp(list[j].addr) < 0
	})
	for _, a := range list {
		if !fn(a) {
			return
		}
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.accounts)
}

// Apply 回放一条已落盘的事件
func (r *Registry) Apply(ev Event) error {
	switch ev.Type {
	case EvCreated:
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, ok := r.accounts[ev.Account]; ok {
			return fmt.Errorf("custody: replay created %s: %w", ev.Account.Hex(), ErrAccountExists)
		}
		r.accounts[ev.Account] = Restore(ev.State(), r.accountOpts()...)
		if ev.Nonce+1 > r.nonces[ev.Actor] {
			r.nonces[ev.Actor] = ev.Nonce + 1
		}
		return nil
	case EvDeposited, EvWithdrawn, EvHeirDesignated, EvInheritanceClaimed:
		a, err := r.Get(ev.Account)
		if err != nil {
			return fmt.Errorf("custody: replay %s %s: %w", ev.Type, ev.Account.Hex(), err)
		}
		a.restoreFrom(ev)
		if ev.Type == EvWithdrawn {
			r.wallets.Credit(ev.Owner, ev.Amount)
		}
		return nil
	default:
		return fmt.Errorf("custody: replay unknown event type %q", ev.Type)
	}
}
