package events

import (
	"context"

	"github.com/segmentio/encoding/json"
	"gopherheir.com/internal/custody"
	"gopherheir.com/pkg/ratelimit"
)

// BrokerSink 把 journal 事件发到全局主题和账户主题，发布失败经熔断器计数
type BrokerSink struct {
	broker  Broker
	breaker *ratelimit.Manager
}

func NewBrokerSink(b Broker, breaker *ratelimit.Manager) *BrokerSink {
	return &BrokerSink{broker: b, breaker: breaker}
}

func (s *BrokerSink) Name() string { return "broker" }

func (s *BrokerSink) Handle(ctx context.Context, ev custody.Event) error {
	payload, err := json.Marshal(&ev)
	if err != nil {
		return err
	}
	publish := func(ctx context.Context) error {
		if err := s.broker.Publish(ctx, TopicAll, payload); err != nil {
			return err
		}
		return s.broker.Publish(ctx, TopicAccount(ev.Account), payload)
	}
	if s.breaker == nil {
		return publish(ctx)
	}
	return s.breaker.Do(ctx, s.Name(), publish)
}
