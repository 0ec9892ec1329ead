package custody

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopherheir.com/pkg/clock"
	"gopherheir.com/pkg/ethunit"
)

var (
	ownerAddr = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	heirAddr  = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	otherAddr = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	acctAddr  = common.HexToAddress("0x00000000000000000000000000000000000000ff")

	day = 24 * time.Hour
)

type fixture struct {
	ctx     context.Context
	clk     *clock.Manual
	wallets *Wallets
	acct    *Account
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewManual(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	w := NewWallets()
	a, ev, err := NewAccount(context.Background(), acctAddr, ownerAddr, nil, WithClock(clk), WithPayout(w))
	require.NoError(t, err)
	require.Equal(t, EvCreated, ev.Type)
	return &fixture{ctx: context.Background(), clk: clk, wallets: w, acct: a}
}

func ether(t *testing.T, s string) *uint256.Int {
	t.Helper()
	v, err := ethunit.ParseEther(s)
	require.NoError(t, err)
	return v
}

func TestAccount_Construct(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, ownerAddr, f.acct.Owner())
	assert.Equal(t, common.Address{}, f.acct.Heir())
	assert.WithinDuration(t, f.clk.Now(), f.acct.LastActivityTimestamp(), 5*time.Second)
	assert.True(t, f.acct.Balance().IsZero())
}

func TestAccount_ConstructRejectsZeroOwner(t *testing.T) {
	_, _, err := NewAccount(context.Background(), acctAddr, common.Address{}, nil)
	assert.ErrorIs(t, err, ErrZeroOwner)
}

func TestAccount_ConstructWithInitialValue(t *testing.T) {
	a, _, err := NewAccount(context.Background(), acctAddr, ownerAddr, uint256.NewInt(42))
	require.NoError(t, err)
	assert.Equal(t, uint64(42), a.Balance().Uint64())
}

func TestAccount_OwnerWithdraws(t *testing.T) {
	f := newFixture(t)
	_, err := f.acct.Deposit(f.ctx, otherAddr, ether(t, "1.0"))
	require.NoError(t, err)

	f.clk.Advance(time.Hour)
	ev, err := f.acct.Withdraw(f.ctx, ownerAddr, ether(t, "0.5"))
	require.NoError(t, err)

	assert.Equal(t, ether(t, "0.5"), f.acct.Balance())
	assert.Equal(t, f.clk.Now(), f.acct.LastActivityTimestamp())
	assert.Equal(t, ether(t, "0.5"), f.wallets.BalanceOf(ownerAddr))
	assert.Equal(t, EvWithdrawn, ev.Type)
	assert.Equal(t, ether(t, "0.5"), ev.Balance)
}

func TestAccount_DepositDoesNotRefreshActivity(t *testing.T) {
	f := newFixture(t)
	before := f.acct.LastActivityTimestamp()
	f.clk.Advance(10 * day)

	_, err := f.acct.Deposit(f.ctx, otherAddr, uint256.NewInt(7))
	require.NoError(t, err)
	assert.Equal(t, before, f.acct.LastActivityTimestamp())
	assert.Equal(t, uint64(7), f.acct.Balance().Uint64())
}

func TestAccount_DepositOverflow(t *testing.T) {
	f := newFixture(t)
	max := new(uint256.Int).SetAllOne()
	_, err := f.acct.Deposit(f.ctx, otherAddr, max)
	require.NoError(t, err)

	_, err = f.acct.Deposit(f.ctx, otherAddr, uint256.NewInt(1))
	assert.ErrorIs(t, err, ErrBalanceOverflow)
	assert.Equal(t, max, f.acct.Balance())
}

func TestAccount_DesignateHeir(t *testing.T) {
	f := newFixture(t)
	before := f.acct.LastActivityTimestamp()
	f.clk.Advance(day)

	_, err := f.acct.DesignateHeir(f.ctx, ownerAddr, heirAddr)
	require.NoError(t, err)
	assert.Equal(t, heirAddr, f.acct.Heir())
	assert.Equal(t, before, f.acct.LastActivityTimestamp(), "designation does not reset the clock")
}

func TestAccount_HeirClaimsAfter30Days(t *testing.T) {
	f := newFixture(t)
	_, err := f.acct.DesignateHeir(f.ctx, ownerAddr, heirAddr)
	require.NoError(t, err)

	f.clk.Advance(31 * day)
	ev, err := f.acct.ClaimInheritance(f.ctx, heirAddr)
	require.NoError(t, err)

	assert.Equal(t, heirAddr, f.acct.Owner())
	assert.Equal(t, common.Address{}, f.acct.Heir())
	assert.Equal(t, f.clk.Now(), f.acct.LastActivityTimestamp())
	assert.Equal(t, ownerAddr, ev.PrevOwner)
}

func TestAccount_ClaimAtExactBoundary(t *testing.T) {
	f := newFixture(t)
	_, err := f.acct.DesignateHeir(f.ctx, ownerAddr, heirAddr)
	require.NoError(t, err)

	f.clk.Advance(InactivityPeriod - time.Second)
	_, err = f.acct.ClaimInheritance(f.ctx, heirAddr)
	assert.ErrorIs(t, err, ErrTimelockNotElapsed)

	f.clk.Advance(time.Second)
	_, err = f.acct.ClaimInheritance(f.ctx, heirAddr)
	assert.NoError(t, err)
}

func TestAccount_NonOwnerCannotWithdraw(t *testing.T) {
	f := newFixture(t)
	_, err := f.acct.Deposit(f.ctx, ownerAddr, ether(t, "1"))
	require.NoError(t, err)
	before := f.acct.Snapshot()

	_, err = f.acct.Withdraw(f.ctx, otherAddr, ether(t, "0.5"))
	assert.ErrorIs(t, err, ErrNotOwner)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Contains(t, err.Error(), "only the owner can call this function")
	assert.Equal(t, before, f.acct.Snapshot())
}

func TestAccount_NonOwnerCannotDesignate(t *testing.T) {
	f := newFixture(t)
	_, err := f.acct.DesignateHeir(f.ctx, heirAddr, heirAddr)
	assert.ErrorIs(t, err, ErrNotOwner)
	assert.Equal(t, common.Address{}, f.acct.Heir())
}

func TestAccount_NonHeirCannotClaim(t *testing.T) {
	f := newFixture(t)
	_, err := f.acct.DesignateHeir(f.ctx, ownerAddr, heirAddr)
	require.NoError(t, err)
	f.clk.Advance(31 * day)

	_, err = f.acct.ClaimInheritance(f.ctx, otherAddr)
	assert.ErrorIs(t, err, ErrNotHeir)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Contains(t, err.Error(), "only the heir can claim inheritance")
	assert.Equal(t, ownerAddr, f.acct.Owner())
}

func TestAccount_HeirCannotClaimBefore30Days(t *testing.T) {
	f := newFixture(t)
	_, err := f.acct.DesignateHeir(f.ctx, ownerAddr, heirAddr)
	require.NoError(t, err)

	f.clk.Advance(29 * day)
	_, err = f.acct.ClaimInheritance(f.ctx, heirAddr)
	assert.ErrorIs(t, err, ErrTimelockNotElapsed)
	assert.Contains(t, err.Error(), "one month has not passed since the last withdrawal")
}

func TestAccount_ZeroWithdrawResetsClock(t *testing.T) {
	f := newFixture(t)
	_, err := f.acct.Deposit(f.ctx, otherAddr, ether(t, "1"))
	require.NoError(t, err)
	_, err = f.acct.DesignateHeir(f.ctx, ownerAddr, heirAddr)
	require.NoError(t, err)

	f.clk.Advance(20 * day)
	before := f.acct.Snapshot()
	_, err = f.acct.Withdraw(f.ctx, ownerAddr, new(uint256.Int))
	require.NoError(t, err)

	after := f.acct.Snapshot()
	assert.Equal(t, before.Balance, after.Balance)
	assert.Equal(t, before.Owner, after.Owner)
	assert.Equal(t, before.Heir, after.Heir)
	assert.Equal(t, f.clk.Now(), after.LastActivity)

	f.clk.Advance(15 * day)
	_, err = f.acct.ClaimInheritance(f.ctx, heirAddr)
	assert.ErrorIs(t, err, ErrTimelockNotElapsed)
}

func TestAccount_NewOwnerDesignatesNewHeir(t *testing.T) {
	f := newFixture(t)
	_, err := f.acct.DesignateHeir(f.ctx, ownerAddr, heirAddr)
	require.NoError(t, err)
	f.clk.Advance(31 * day)
	_, err = f.acct.ClaimInheritance(f.ctx, heirAddr)
	require.NoError(t, err)

	_, err = f.acct.DesignateHeir(f.ctx, heirAddr, otherAddr)
	require.NoError(t, err)
	assert.Equal(t, otherAddr, f.acct.Heir())
}

func TestAccount_PreviousOwnerLockedOut(t *testing.T) {
	f := newFixture(t)
	_, err := f.acct.Deposit(f.ctx, otherAddr, ether(t, "1"))
	require.NoError(t, err)
	_, err = f.acct.DesignateHeir(f.ctx, ownerAddr, heirAddr)
	require.NoError(t, err)
	f.clk.Advance(31 * day)
	_, err = f.acct.ClaimInheritance(f.ctx, heirAddr)
	require.NoError(t, err)

	_, err = f.acct.Withdraw(f.ctx, ownerAddr, ether(t, "0.1"))
	assert.ErrorIs(t, err, ErrNotOwner)
	_, err = f.acct.DesignateHeir(f.ctx, ownerAddr, ownerAddr)
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestAccount_NoHeirDesignated(t *testing.T) {
	f := newFixture(t)
	f.clk.Advance(31 * day)

	for _, caller := range []common.Address{otherAddr, ownerAddr, {}} {
		_, err := f.acct.ClaimInheritance(f.ctx, caller)
		assert.ErrorIs(t, err, ErrNotHeir, "caller %s", caller.Hex())
	}
	assert.Equal(t, ownerAddr, f.acct.Owner())
}

func TestAccount_HeirSetToZeroAddress(t *testing.T) {
	f := newFixture(t)
	_, err := f.acct.DesignateHeir(f.ctx, ownerAddr, heirAddr)
	require.NoError(t, err)
	_, err = f.acct.DesignateHeir(f.ctx, ownerAddr, common.Address{})
	require.NoError(t, err)
	f.clk.Advance(31 * day)

	_, err = f.acct.ClaimInheritance(f.ctx, heirAddr)
	assert.ErrorIs(t, err, ErrNotHeir)
	_, err = f.acct.ClaimInheritance(f.ctx, common.Address{})
	assert.ErrorIs(t, err, ErrNotHeir)
}

func TestAccount_SelfDesignationRenewsClock(t *testing.T) {
	f := newFixture(t)
	_, err := f.acct.Deposit(f.ctx, otherAddr, ether(t, "2"))
	require.NoError(t, err)
	_, err = f.acct.DesignateHeir(f.ctx, ownerAddr, ownerAddr)
	require.NoError(t, err)
	f.clk.Advance(31 * day)

	_, err = f.acct.ClaimInheritance(f.ctx, ownerAddr)
	require.NoError(t, err)
	assert.Equal(t, ownerAddr, f.acct.Owner())
	assert.Equal(t, common.Address{}, f.acct.Heir())
	assert.Equal(t, f.clk.Now(), f.acct.LastActivityTimestamp())
	assert.Equal(t, ether(t, "2"), f.acct.Balance())
}

func TestAccount_NewOwnerWithdraws(t *testing.T) {
	f := newFixture(t)
	_, err := f.acct.Deposit(f.ctx, otherAddr, ether(t, "1"))
	require.NoError(t, err)
	_, err = f.acct.DesignateHeir(f.ctx, ownerAddr, heirAddr)
	require.NoError(t, err)
	f.clk.Advance(31 * day)
	_, err = f.acct.ClaimInheritance(f.ctx, heirAddr)
	require.NoError(t, err)

	_, err = f.acct.Withdraw(f.ctx, heirAddr, ether(t, "0.5"))
	require.NoError(t, err)
	assert.Equal(t, ether(t, "0.5"), f.acct.Balance())
	assert.Equal(t, ether(t, "0.5"), f.wallets.BalanceOf(heirAddr))
	assert.True(t, f.wallets.BalanceOf(ownerAddr).IsZero())
}

func TestAccount_NoDoubleClaim(t *testing.T) {
	f := newFixture(t)
	_, err := f.acct.DesignateHeir(f.ctx, ownerAddr, heirAddr)
	require.NoError(t, err)
	f.clk.Advance(31 * day)
	_, err = f.acct.ClaimInheritance(f.ctx, heirAddr)
	require.NoError(t, err)

	_, err = f.acct.ClaimInheritance(f.ctx, heirAddr)
	assert.ErrorIs(t, err, ErrNotHeir)

	f.clk.Advance(31 * day)
	_, err = f.acct.ClaimInheritance(f.ctx, heirAddr)
	assert.ErrorIs(t, err, ErrNotHeir)
}

func TestAccount_WithdrawAfterClaimResetsClock(t *testing.T) {
	f := newFixture(t)
	_, err := f.acct.Deposit(f.ctx, otherAddr, ether(t, "1"))
	require.NoError(t, err)
	_, err = f.acct.DesignateHeir(f.ctx, ownerAddr, heirAddr)
	require.NoError(t, err)
	f.clk.Advance(31 * day)
	_, err = f.acct.ClaimInheritance(f.ctx, heirAddr)
	require.NoError(t, err)

	_, err = f.acct.DesignateHeir(f.ctx, heirAddr, otherAddr)
	require.NoError(t, err)
	f.clk.Advance(20 * day)
	_, err = f.acct.Withdraw(f.ctx, heirAddr, new(uint256.Int))
	require.NoError(t, err)

	f.clk.Advance(15 * day)
	_, err = f.acct.ClaimInheritance(f.ctx, otherAddr)
	assert.ErrorIs(t, err, ErrTimelockNotElapsed)
}

func TestAccount_InsufficientFunds(t *testing.T) {
	f := newFixture(t)
	_, err := f.acct.Deposit(f.ctx, otherAddr, ether(t, "0.1"))
	require.NoError(t, err)
	before := f.acct.Snapshot()
	f.clk.Advance(day)

	_, err = f.acct.Withdraw(f.ctx, ownerAddr, ether(t, "0.2"))
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, before, f.acct.Snapshot(), "failed withdraw must not refresh the clock")
	assert.True(t, f.wallets.BalanceOf(ownerAddr).IsZero())
}

func TestAccount_CommitFailureLeavesStateUnchanged(t *testing.T) {
	clk := clock.NewManual(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	w := NewWallets()
	failing := false
	commit := func(_ context.Context, _ *Event) error {
		if failing {
			return errors.New("disk full")
		}
		return nil
	}
	a, _, err := NewAccount(context.Background(), acctAddr, ownerAddr, uint256.NewInt(100),
		WithClock(clk), WithPayout(w), WithCommitter(commit))
	require.NoError(t, err)
	_, err = a.DesignateHeir(context.Background(), ownerAddr, heirAddr)
	require.NoError(t, err)

	failing = true
	before := a.Snapshot()
	clk.Advance(40 * day)

	_, err = a.Withdraw(context.Background(), ownerAddr, uint256.NewInt(10))
	assert.Error(t, err)
	_, err = a.ClaimInheritance(context.Background(), heirAddr)
	assert.Error(t, err)
	_, err = a.Deposit(context.Background(), otherAddr, uint256.NewInt(1))
	assert.Error(t, err)

	assert.Equal(t, before, a.Snapshot())
	assert.True(t, w.BalanceOf(ownerAddr).IsZero())
}

func TestAccount_ClockNeverMovesBackwards(t *testing.T) {
	clk := clock.NewManual(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	a := Restore(State{
		Account:      acctAddr,
		Owner:        ownerAddr,
		LastActivity: clk.Now().Add(time.Hour),
		Balance:      new(uint256.Int),
	}, WithClock(clk))

	_, err := a.Withdraw(context.Background(), ownerAddr, new(uint256.Int))
	require.NoError(t, err)
	assert.Equal(t, clk.Now().Add(time.Hour), a.LastActivityTimestamp())
}

func TestAccount_ConcurrentCustodyIntegrity(t *testing.T) {
	f := newFixture(t)
	const workers = 32
	one := ether(t, "1")
	half := ether(t, "0.5")

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = f.acct.Deposit(f.ctx, otherAddr, one)
		}()
		go func() {
			defer wg.Done()
			_, _ = f.acct.Withdraw(f.ctx, ownerAddr, half)
		}()
	}
	wg.Wait()

	// 入金总额 - 成功出金总额 == 余额
	deposited := new(uint256.Int).Mul(one, uint256.NewInt(workers))
	withdrawn := f.wallets.BalanceOf(ownerAddr)
	expect := new(uint256.Int).Sub(deposited, withdrawn)
	assert.Equal(t, expect, f.acct.Balance())
}
