package events

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

const TopicAll = "custody:events"

// TopicAccount 单账户主题，ws 按账户订阅时用
func TopicAccount(addr common.Address) string {
	return "custody:account:" + addr.Hex()
}

type Message struct {
	Topic   string
	Payload []byte
}

type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe 返回的通道在 ctx 取消后关闭
	Subscribe(ctx context.Context, topics []string) (<-chan Message, error)
	Close() error
}
