package custody

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Wallets 进程内的收款账本，记录 withdraw 转给各 owner 的资金
type Wallets struct {
	mu       sync.RWMutex
	balances map[common.Address]*uint256.Int
}

var _ Payout = (*Wallets)(nil)

func NewWallets() *Wallets {
	return &Wallets{balances: make(map[common.Address]*uint256.Int, 64)}
}

func (w *Wallets) Credit(to common.Address, amount *uint256.Int) {
	if amount == nil || amount.IsZero() {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	cur, ok := w.balances[to]
	if !ok {
		cur = new(uint256.Int)
		w.balances[to] = cur
	}
	cur.Add(cur, amount)
}

func (w *Wallets) BalanceOf(addr common.Address) *uint256.Int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if v, ok := w.balances[addr]; ok {
		return v.Clone()
	}
	return new(uint256.Int)
}
