package client

import (
	"context"
	"errors"
	"math/rand"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/ethereum/go-ethereum/common"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
	"gopherheir.com/internal/custody"
	"gopherheir.com/pkg/logger"
)

// Frame 和服务端 ws 帧一致
type Frame struct {
	Type   string          `json:"type"`
	Topics []string        `json:"topics,omitempty"`
	Topic  string          `json:"topic,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Watch 断线自动重连，直到 ctx 取消；account 为零地址时订阅全部
func (c *Client) Watch(ctx context.Context, account common.Address, onEvent func(custody.Event)) error {
	u, err := c.streamURL(account)
	if err != nil {
		return err
	}
	backoff := 200 * time.Millisecond
	const maxBackoff = 10 * time.Second

	for ctx.Err() == nil {
		dctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		conn, _, err := websocket.Dial(dctx, u, nil)
		cancel()
		if err != nil {
			sleep := backoff/2 + time.Duration(rand.Int63n(int64(backoff)))
			logger.Warn(ctx, "watch dial failed", zap.String("url", u), zap.Duration("retry_in", sleep), zap.Error(err))
			if !sleepCtx(ctx, sleep) {
				return ctx.Err()
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		start := time.Now()
		err = readLoop(ctx, conn, onEvent)
		_ = conn.CloseNow()
		// 连接稳定过才重置 backoff
		if time.Since(start) > 10*time.Second {
			backoff = 200 * time.Millisecond
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn(ctx, "watch connection ended", zap.Error(err), zap.Int("close_status", int(websocket.CloseStatus(err))))
		}
	}
	return ctx.Err()
}

func readLoop(ctx context.Context, conn *websocket.Conn, onEvent func(custody.Event)) error {
	conn.SetReadLimit(1 << 20)
	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil || f.Type != "event" {
			continue
		}
		var ev custody.Event
		if err := json.Unmarshal(f.Data, &ev); err != nil {
			logger.Warn(ctx, "watch bad event", zap.Error(err))
			continue
		}
		onEvent(ev)
	}
}

func (c *Client) streamURL(account common.Address) (string, error) {
	u, err := url.Parse(c.base + "/api/stream")
	if err != nil {
		return "", err
	}
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	if account != (common.Address{}) {
		u.RawQuery = url.Values{"account": {account.Hex()}}.Encode()
	}
	return u.String(), nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
