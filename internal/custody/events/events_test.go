package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopherheir.com/internal/custody"
	"gopherheir.com/pkg/ratelimit"
	"gopherheir.com/pkg/xerr"
)

var acct = common.HexToAddress("0x00000000000000000000000000000000000000c3")

func recv(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(time.Second):
		t.Fatal("no message")
		return Message{}
	}
}

func TestMemBroker_FanoutAndUnsubscribe(t *testing.T) {
	b := NewMemBroker(8)
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := b.Subscribe(ctx, []string{TopicAll})
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), TopicAll, []byte("x")))
	assert.Equal(t, "x", string(recv(t, ch).Payload))

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
	// 退订之后发布不会 panic
	assert.NoError(t, b.Publish(context.Background(), TopicAll, []byte("y")))
}

func TestBrokerSink_PublishesBothTopics(t *testing.T) {
	b := NewMemBroker(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	all, err := b.Subscribe(ctx, []string{TopicAll})
	require.NoError(t, err)
	one, err := b.Subscribe(ctx, []string{TopicAccount(acct)})
	require.NoError(t, err)

	s := NewBrokerSink(b, ratelimit.NewManager("test", ratelimit.Rule{}, nil))
	ev := custody.Event{Seq: 9, Type: custody.EvDeposited, Account: acct, Amount: uint256.NewInt(5), Balance: uint256.NewInt(5), At: time.Unix(0, 0).UTC()}
	require.NoError(t, s.Handle(context.Background(), ev))

	m := recv(t, all)
	var got custody.Event
	require.NoError(t, json.Unmarshal(m.Payload, &got))
	assert.Equal(t, uint64(9), got.Seq)
	assert.Equal(t, TopicAccount(acct), recv(t, one).Topic)
}

type failingBroker struct{ MemBroker }

func (failingBroker) Publish(context.Context, string, []byte) error {
	return errors.New("nats: connection closed")
}

func TestBrokerSink_BreakerOpens(t *testing.T) {
	s := NewBrokerSink(&failingBroker{}, ratelimit.NewManager("test", ratelimit.Rule{TripConsecutiveFailures: 1, Timeout: time.Hour}, nil))
	ev := custody.Event{Seq: 1, Type: custody.EvCreated, Account: acct}

	assert.Error(t, s.Handle(context.Background(), ev))
	err := s.Handle(context.Background(), ev)
	assert.Equal(t, xerr.ServiceBusy, xerr.CodeOf(err))
}

func TestSubjectMapping(t *testing.T) {
	topic := TopicAccount(acct)
	assert.Equal(t, topic, subjectToTopic(topicToSubject(topic)))
	assert.NotContains(t, topicToSubject(topic), ":")
}
