package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
	"gopherheir.com/pkg/clock"
	"gopherheir.com/pkg/xerr"
)

func TestStore_AllowPerKey(t *testing.T) {
	s := NewStore(rate.Every(time.Hour), 1, time.Minute)
	assert.True(t, s.Allow("0xaaa"))
	assert.False(t, s.Allow("0xaaa"))
	assert.True(t, s.Allow("0xbbb"))
	assert.Equal(t, 2, s.Len())
}

func TestStore_RefillFollowsClock(t *testing.T) {
	clk := clock.NewManual(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	s := NewStore(rate.Every(time.Minute), 1, time.Hour, WithStoreClock(clk))
	assert.True(t, s.Allow("k"))
	assert.False(t, s.Allow("k"))
	clk.Advance(time.Minute)
	assert.True(t, s.Allow("k"))
}

func TestStore_SweepDropsIdle(t *testing.T) {
	clk := clock.NewManual(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	s := NewStore(rate.Every(time.Hour), 1, time.Minute, WithStoreClock(clk))
	s.Allow("a")
	clk.Advance(30 * time.Second)
	s.Allow("b")
	clk.Advance(45 * time.Second)

	assert.Equal(t, 1, s.sweep())
	assert.Equal(t, 1, s.Len())
	// 被回收的 key 重新拿到满桶
	assert.True(t, s.Allow("a"))
	assert.False(t, s.Allow("b"))
}

func TestManager_TripsOnSystemErrors(t *testing.T) {
	m := NewManager("test", Rule{TripConsecutiveFailures: 2, Timeout: time.Hour}, nil)
	boom := errors.New("connection refused")
	ctx := context.Background()

	assert.ErrorIs(t, m.Do(ctx, "nats", func(context.Context) error { return boom }), boom)
	assert.ErrorIs(t, m.Do(ctx, "nats", func(context.Context) error { return boom }), boom)

	err := m.Do(ctx, "nats", func(context.Context) error {
		t.Fatal("open breaker must not call through")
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, xerr.ServiceBusy, xerr.CodeOf(err))
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)

	// 不同 target 互不影响
	assert.NoError(t, m.Do(ctx, "influx", func(context.Context) error { return nil }))
}

func TestManager_BusinessErrorsDoNotTrip(t *testing.T) {
	m := NewManager("test", Rule{TripConsecutiveFailures: 1, Timeout: time.Hour}, nil)
	biz := xerr.NewErrCode(xerr.InsufficientFunds)
	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, m.Do(context.Background(), "db", func(context.Context) error { return biz }), biz)
	}
	assert.Equal(t, gobreaker.StateClosed, m.Get("db").State())
}
