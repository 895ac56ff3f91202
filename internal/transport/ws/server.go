// Package ws carries the controller/worker message channel over a
// websocket. Per session the channel is ordered; delivery is
// at-least-once, so repeated msg_ids are dropped here before they reach
// the worker loop.
package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"volview.dev/internal/protocol"
	"volview.dev/internal/worker"
)

type Server struct {
	loop     *worker.Loop
	manifest []protocol.VolumeRef
	logger   *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(loop *worker.Loop, manifest []protocol.VolumeRef, logger *log.Logger) *Server {
	return &Server{
		loop:     loop,
		manifest: manifest,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sessionID, ok := s.handshake(conn)
		if !ok {
			return
		}

		out := make(chan []byte, 64)
		done := make(chan struct{})
		defer close(done)

		go func() {
			for {
				select {
				case <-done:
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						return
					}
				}
			}
		}()

		seen := newSeenWindow(dedupWindow)
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			s.dispatch(sessionID, msg, seen, out)
		}
	}
}

func (s *Server) handshake(conn *websocket.Conn) (string, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", false
	}
	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"),
			time.Now().Add(time.Second))
		return "", false
	}
	if err := protocol.Validate(protocol.TypeHello, msg); err != nil {
		s.sendError(conn, protocol.ErrProtoBadRequest, err.Error())
		return "", false
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", false
	}
	if hello.ProtocolVersion != protocol.Version {
		s.sendError(conn, protocol.ErrProtoVersion, "unsupported protocol version "+hello.ProtocolVersion)
		return "", false
	}

	sessionID := uuid.NewString()
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sessionID,
		Volumes:         s.manifest,
	}
	b, _ := json.Marshal(welcome)
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return "", false
	}
	if s.logger != nil {
		s.logger.Printf("session %s: %s connected", sessionID, hello.ClientName)
	}
	return sessionID, true
}

func (s *Server) dispatch(sessionID string, msg []byte, seen *seenWindow, out chan []byte) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return
	}
	if base.ProtocolVersion != protocol.Version {
		return
	}
	if base.MsgID != 0 && seen.Observe(base.MsgID) {
		return
	}
	if err := protocol.Validate(base.Type, msg); err != nil {
		s.reply(out)(protocol.AckMsg{
			Type:            protocol.TypeAck,
			ProtocolVersion: protocol.Version,
			AckFor:          base.MsgID,
			Accepted:        false,
			Code:            protocol.ErrProtoBadRequest,
			Message:         err.Error(),
		})
		return
	}

	switch base.Type {
	case protocol.TypeAddVisibleLayer:
		var m protocol.AddVisibleLayerMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return
		}
		s.loop.Inbox() <- worker.AddLayerEnvelope(m, s.reply(out))
	case protocol.TypeRemoveVisibleLayer:
		var m protocol.RemoveVisibleLayerMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return
		}
		s.loop.Inbox() <- worker.RemoveLayerEnvelope(m, s.reply(out))
	case protocol.TypeViewUpdate:
		var m protocol.ViewUpdateMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return
		}
		s.loop.Inbox() <- worker.ViewUpdateEnvelope(m, s.reply(out))
	default:
		if s.logger != nil {
			s.logger.Printf("session %s: unknown message type %q", sessionID, base.Type)
		}
	}
}

// dedupWindow bounds the per-session duplicate-id memory. The channel
// only repeats recent ids, so old ones can be forgotten.
const dedupWindow = 1024

// seenWindow remembers the most recent msg ids; when full, the oldest
// id falls out for each new one observed.
type seenWindow struct {
	ids   map[uint64]struct{}
	order []uint64
	next  int
}

func newSeenWindow(size int) *seenWindow {
	return &seenWindow{
		ids:   make(map[uint64]struct{}, size),
		order: make([]uint64, size),
	}
}

// Observe records id and reports whether it was already in the window.
// Id 0 is reserved for unacknowledged messages and never tracked.
func (w *seenWindow) Observe(id uint64) bool {
	if id == 0 {
		return false
	}
	if _, dup := w.ids[id]; dup {
		return true
	}
	if old := w.order[w.next]; old != 0 {
		delete(w.ids, old)
	}
	w.order[w.next] = id
	w.next = (w.next + 1) % len(w.order)
	w.ids[id] = struct{}{}
	return false
}

// reply marshals acks onto the session's write channel without ever
// blocking the worker loop.
func (s *Server) reply(out chan []byte) func(protocol.AckMsg) {
	return func(ack protocol.AckMsg) {
		b, err := json.Marshal(ack)
		if err != nil {
			return
		}
		select {
		case out <- b:
		default:
		}
	}
}

func (s *Server) sendError(conn *websocket.Conn, code, message string) {
	b, _ := json.Marshal(protocol.ErrorMsg{
		Type:            protocol.TypeError,
		ProtocolVersion: protocol.Version,
		Code:            code,
		Message:         message,
	})
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_ = conn.WriteMessage(websocket.TextMessage, b)
}
