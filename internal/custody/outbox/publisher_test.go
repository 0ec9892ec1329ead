package outbox

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopherheir.com/internal/custody"
	"gopherheir.com/internal/custody/journal"
	"gopherheir.com/pkg/clock"
)

var owner = common.HexToAddress("0x00000000000000000000000000000000000000a1")

type recordSink struct {
	mu      sync.Mutex
	seqs    []uint64
	failFor int // 前 N 次调用失败
	calls   int
}

func (s *recordSink) Name() string { return "record" }

func (s *recordSink) Handle(_ context.Context, ev custody.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failFor {
		return errors.New("downstream unavailable")
	}
	s.seqs = append(s.seqs, ev.Seq)
	return nil
}

func (s *recordSink) got() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint64(nil), s.seqs...)
}

func writeEvents(t *testing.T, dir string, deposits int) *journal.Journal {
	t.Helper()
	reg := custody.NewRegistry(custody.WithRegistryClock(clock.NewManual(time.Unix(1_700_000_000, 0))))
	j, _, err := journal.Open(journal.Config{Dir: dir}, reg.Apply)
	require.NoError(t, err)
	reg.SetCommitter(j.Commit)

	ctx := context.Background()
	a, _, err := reg.Open(ctx, owner, nil)
	require.NoError(t, err)
	for i := 0; i < deposits; i++ {
		_, err := a.Deposit(ctx, owner, uint256.NewInt(1))
		require.NoError(t, err)
	}
	return j
}

func TestPublisher_DeliversInOrderAndResumes(t *testing.T) {
	dir := t.TempDir()
	j := writeEvents(t, dir, 2)
	defer j.Close()

	sink := &recordSink{}
	cur := CursorPath(dir, sink.Name())
	p := NewPublisher(sink, j.Path(), cur, Options{Poll: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return len(sink.got()) == 3 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, []uint64{1, 2, 3}, sink.got())
	assert.Equal(t, j.Offset(), p.Committed())

	// 重启后不重复投递
	sink2 := &recordSink{}
	p2 := NewPublisher(sink2, j.Path(), cur, Options{Poll: 10 * time.Millisecond})
	ctx2, cancel2 := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel2()
	_ = p2.Run(ctx2)
	assert.Empty(t, sink2.got())
}

func TestPublisher_RetriesFromCursorOnSinkError(t *testing.T) {
	dir := t.TempDir()
	j := writeEvents(t, dir, 1)
	defer j.Close()

	sink := &recordSink{failFor: 2}
	p := NewPublisher(sink, j.Path(), CursorPath(dir, "record"), Options{Poll: 5 * time.Millisecond, Retry: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = p.Run(ctx) }()

	require.Eventually(t, func() bool { return len(sink.got()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []uint64{1, 2}, sink.got(), "no gaps after failures")
}

func TestPublisher_ClampsCursorBeyondFile(t *testing.T) {
	dir := t.TempDir()
	j := writeEvents(t, dir, 0)
	defer j.Close()

	cur := filepath.Join(dir, "c.cursor")
	require.NoError(t, storeCursor(cur, 1<<20))

	sink := &recordSink{}
	p := NewPublisher(sink, j.Path(), cur, Options{Poll: 5 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = p.Run(ctx)
	assert.Equal(t, j.Offset(), p.Committed())
	assert.Empty(t, sink.got())
}

func TestPublisher_WaitsForJournalFile(t *testing.T) {
	dir := t.TempDir()
	sink := &recordSink{}
	p := NewPublisher(sink, filepath.Join(dir, journal.FileName), CursorPath(dir, "record"), Options{Poll: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = p.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	j := writeEvents(t, dir, 0)
	defer j.Close()
	require.Eventually(t, func() bool { return len(sink.got()) == 1 }, 2*time.Second, 5*time.Millisecond)
}
