package ws

import (
	"context"
	"math/rand"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
	"gopherheir.com/internal/custody/events"
	"gopherheir.com/pkg/logger"
	"gopherheir.com/pkg/metrics"
)

// Frame 推给客户端的帧；订阅成功先发一条 subscribed
type Frame struct {
	Type   string          `json:"type"`
	Topics []string        `json:"topics,omitempty"`
	Topic  string          `json:"topic,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

const (
	FrameSubscribed = "subscribed"
	FrameEvent      = "event"
)

type Server struct {
	broker   events.Broker
	upgrader websocket.Upgrader
	ctx      context.Context

	PongWait   time.Duration
	PingPeriod time.Duration
	PingJitter time.Duration
	WriteWait  time.Duration
	ReadLimit  int64
}

// NewServer ctx 取消时所有连接退出
func NewServer(ctx context.Context, b events.Broker) *Server {
	return &Server{
		broker: b,
		ctx:    ctx,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		PongWait:   60 * time.Second,
		PingPeriod: 30 * time.Second,
		PingJitter: 3 * time.Second,
		WriteWait:  5 * time.Second,
		ReadLimit:  1 << 10,
	}
}

// ServeWS ?account=0x.. 只看单个账户，不带就是全部事件
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	topic := events.TopicAll
	if a := r.URL.Query().Get("account"); a != "" {
		if !common.IsHexAddress(a) {
			http.Error(w, "invalid account", http.StatusBadRequest)
			return
		}
		topic = events.TopicAccount(common.HexToAddress(a))
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	ctx, cancel := context.WithCancel(s.ctx)
	msgs, err := s.broker.Subscribe(ctx, []string{topic})
	if err != nil {
		cancel()
		logger.Warn(r.Context(), "ws subscribe failed", zap.String("topic", topic), zap.Error(err))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "broker unavailable"), time.Now().Add(s.WriteWait))
		_ = conn.Close()
		return
	}
	metrics.WsConnections.Inc()
	logger.Info(r.Context(), "ws connected", zap.String("topic", topic), zap.String("remote", r.RemoteAddr))

	go s.readPump(conn, cancel)
	go func() {
		defer metrics.WsConnections.Dec()
		s.writePump(ctx, conn, topic, msgs)
		cancel()
	}()
}

// readPump 只处理 pong 和 close，客户端发来的数据丢弃
func (s *Server) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(s.ReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(s.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.PongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(ctx context.Context, conn *websocket.Conn, topic string, msgs <-chan events.Message) {
	defer func() { _ = conn.Close() }()

	if err := s.write(conn, Frame{Type: FrameSubscribed, Topics: []string{topic}}); err != nil {
		return
	}

	// 错开 ping，避免所有连接同一时刻发
	period := s.PingPeriod
	if s.PingJitter > 0 {
		period += time.Duration(rand.Int63n(int64(s.PingJitter)))
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case m, ok := <-msgs:
			if !ok {
				// 订阅通道随 ctx 关闭
				s.goingAway(conn)
				return
			}
			if err := s.write(conn, Frame{Type: FrameEvent, Topic: m.Topic, Data: m.Payload}); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.WriteWait)); err != nil {
				return
			}
		case <-ctx.Done():
			s.goingAway(conn)
			return
		}
	}
}

func (s *Server) write(conn *websocket.Conn, f Frame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(s.WriteWait))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func (s *Server) goingAway(conn *websocket.Conn) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"), time.Now().Add(s.WriteWait))
}
