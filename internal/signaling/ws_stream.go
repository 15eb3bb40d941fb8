package signaling

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type wsStreamConfig struct {
	MaxMessageBytes int64
	IdleTimeout     time.Duration
	PingInterval    time.Duration
	WriteTimeout    time.Duration
}

// wsStream adapts a gorilla connection to Stream. It owns keepalive: when
// IdleTimeout is set, the read deadline is pushed forward on every message
// and pong, and pings are sent every PingInterval.
type wsStream struct {
	conn *websocket.Conn
	cfg  wsStreamConfig

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func newWSStream(conn *websocket.Conn, cfg wsStreamConfig) *wsStream {
	s := &wsStream{conn: conn, cfg: cfg, done: make(chan struct{})}
	if cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(cfg.MaxMessageBytes)
	}
	if cfg.IdleTimeout > 0 {
		s.touch()
		conn.SetPongHandler(func(string) error {
			s.touch()
			return nil
		})
		go s.pingLoop()
	}
	return s
}

func (s *wsStream) touch() {
	if s.cfg.IdleTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
	}
}

// ReadMessage returns the next text message. Binary frames are skipped.
func (s *wsStream) ReadMessage() ([]byte, error) {
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				s.closeWith(websocket.CloseMessageTooBig, "message too large")
			}
			return nil, err
		}
		s.touch()
		if msgType == websocket.TextMessage {
			return data, nil
		}
	}
}

func (s *wsStream) WriteMessage(msg []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, msg)
}

func (s *wsStream) pingLoop() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteTimeout))
			s.writeMu.Unlock()
			if err != nil {
				_ = s.Close()
				return
			}
		}
	}
}

func (s *wsStream) closeWith(code int, reason string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(s.cfg.WriteTimeout))
}

func (s *wsStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.closeWith(websocket.CloseNormalClosure, "")
		err = s.conn.Close()
	})
	return err
}
