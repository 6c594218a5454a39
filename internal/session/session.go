// Package session bridges one websocket connection and the hub: it
// decodes inbound envelopes into hub commands, re-encodes hub pushes into
// outbound frames, and owns the heartbeat and auth timers.
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Xminent/shiki-server/internal/hub"
	"github.com/Xminent/shiki-server/internal/zlog"
	"github.com/Xminent/shiki-server/pkg/gateway"
)

const (
	// heartbeatInterval is how often pings are sent to the peer.
	heartbeatInterval = 5 * time.Second
	// clientTimeout drops the connection when no ping or pong arrived
	// within the window. Fatal, non-retryable.
	clientTimeout = 10 * time.Second
	// authTimeout drops connections that never complete an Identify.
	authTimeout = 30 * time.Second
	// writeWait bounds a single control-frame write.
	writeWait = 10 * time.Second

	outgoingBuffer = 256
	frameBuffer    = 16
)

// Conn is the slice of a gorilla websocket connection the session uses.
// Narrow on purpose so tests can drive the state machine in memory.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetPingHandler(h func(appData string) error)
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Gateway is the hub command surface a session drives. *hub.Hub satisfies
// it; tests substitute a recorder.
type Gateway interface {
	Connect(sink hub.Sink) uint64
	Disconnect(id uint64)
	Identify(id uint64, token string)
}

// outFrame is a raw frame queued for the write pump. A non-nil flushed
// channel is closed once the frame has been written.
type outFrame struct {
	messageType int
	data        []byte
	flushed     chan struct{}
}

// Session is the per-connection state machine. It holds only its own id
// and a handle back to the hub, never hub-wide state.
type Session struct {
	conn Conn
	gw   Gateway
	id   atomic.Uint64

	outgoing chan gateway.Event
	frames   chan outFrame
	done     chan struct{}
	once     sync.Once

	lastBeat atomic.Int64
	authed   atomic.Bool

	heartbeatInterval time.Duration
	clientTimeout     time.Duration
	authTimeout       time.Duration
}

// Option overrides session timers, used by tests.
type Option func(*Session)

// WithTimers replaces the heartbeat interval, client timeout and auth
// timeout in one go.
func WithTimers(heartbeat, client, auth time.Duration) Option {
	return func(s *Session) {
		s.heartbeatInterval = heartbeat
		s.clientTimeout = client
		s.authTimeout = auth
	}
}

// New wraps an upgraded connection. Serve must be called to start.
func New(conn Conn, gw Gateway, opts ...Option) *Session {
	s := &Session{
		conn:              conn,
		gw:                gw,
		outgoing:          make(chan gateway.Event, outgoingBuffer),
		frames:            make(chan outFrame, frameBuffer),
		done:              make(chan struct{}),
		heartbeatInterval: heartbeatInterval,
		clientTimeout:     clientTimeout,
		authTimeout:       authTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the hub-assigned session id, zero before Serve.
func (s *Session) ID() uint64 {
	return s.id.Load()
}

// Push implements hub.Sink. Pushes after close, or into a full queue, are
// dropped; the hub may broadcast to a session that is already tearing
// down and that must never block or crash it.
func (s *Session) Push(ev gateway.Event) {
	select {
	case <-s.done:
	case s.outgoing <- ev:
	default:
		zlog.Warn("session %d outbound queue full, dropping %s", s.ID(), ev.Opcode())
	}
}

// Serve registers with the hub and pumps the connection until it dies.
// It blocks until the session is fully torn down.
func (s *Session) Serve() {
	s.touch()
	s.id.Store(s.gw.Connect(s))

	s.conn.SetPingHandler(func(appData string) error {
		s.touch()
		return s.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})
	s.conn.SetPongHandler(func(string) error {
		s.touch()
		return nil
	})

	go s.writePump()
	s.readPump()
	s.close()
}

// close tears the session down exactly once: one Disconnect to the hub,
// then the transport is released.
func (s *Session) close() {
	s.once.Do(func() {
		s.gw.Disconnect(s.ID())
		close(s.done)
		_ = s.conn.Close()
	})
}

func (s *Session) touch() {
	s.lastBeat.Store(time.Now().UnixNano())
}

func (s *Session) sinceBeat() time.Duration {
	return time.Duration(time.Now().UnixNano() - s.lastBeat.Load())
}

// queueFrame hands a raw frame to the write pump, which owns the
// connection for all data writes. Frames queued after close are dropped.
func (s *Session) queueFrame(messageType int, data []byte, flushed chan struct{}) {
	f := outFrame{messageType: messageType, data: data, flushed: flushed}
	select {
	case s.frames <- f:
	case <-s.done:
		if flushed != nil {
			close(flushed)
		}
	}
}

// readPump consumes frames from the peer. Parse errors are reported back
// once and then terminate the connection; they are not retried.
func (s *Session) readPump() {
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		switch messageType {
		case websocket.TextMessage:
			if err := s.handleText(data); err != nil {
				// Wait for the report to reach the wire before tearing the
				// connection down.
				flushed := make(chan struct{})
				s.queueFrame(websocket.TextMessage, []byte(err.Error()), flushed)
				select {
				case <-flushed:
				case <-s.done:
				}
				return
			}
		case websocket.BinaryMessage:
			// Echoed back; the audio relay downstream consumes these.
			zlog.Debug("received %d binary bytes", len(data))
			s.queueFrame(websocket.BinaryMessage, data, nil)
		}
	}
}

// handleText decodes one envelope and forwards Identify to the hub.
// Inbound Ready/MessageCreate/ChannelCreate are tolerated no-ops.
func (s *Session) handleText(data []byte) error {
	env, err := gateway.Decode(data)
	if err != nil {
		return err
	}

	zlog.Debug("session %d received opcode %s", s.ID(), env.Op)

	if env.Op != gateway.OpcodeIdentify {
		return nil
	}

	payload, err := env.IdentifyPayload()
	if err != nil {
		return err
	}

	s.gw.Identify(s.ID(), payload.Token)
	return nil
}

// writePump serializes hub events onto the wire and runs the heartbeat
// and auth timers. All writes to the connection besides control replies
// happen here.
func (s *Session) writePump() {
	ticker := time.NewTicker(s.heartbeatInterval)
	defer ticker.Stop()

	authTimer := time.NewTimer(s.authTimeout)
	defer authTimer.Stop()

	for {
		select {
		case <-s.done:
			return

		case ev := <-s.outgoing:
			if st, ok := ev.(gateway.SetToken); ok && st.Token != "" {
				s.authed.Store(true)
			}

			data, err := gateway.Encode(ev)
			if err != nil {
				zlog.Error("failed to encode %s event: %v", ev.Opcode(), err)
				continue
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.close()
				return
			}

		case f := <-s.frames:
			err := s.conn.WriteMessage(f.messageType, f.data)
			if f.flushed != nil {
				close(f.flushed)
			}
			if err != nil {
				s.close()
				return
			}

		case <-ticker.C:
			if s.sinceBeat() > s.clientTimeout {
				zlog.Debug("session %d heartbeat failed, disconnecting", s.ID())
				s.close()
				return
			}
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.close()
				return
			}

		case <-authTimer.C:
			if !s.authed.Load() {
				zlog.Debug("session %d authentication timed out, disconnecting", s.ID())
				s.close()
				return
			}
		}
	}
}
