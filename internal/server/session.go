package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/normanking/avatarserver/internal/orchestrator"
	"github.com/normanking/avatarserver/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
	queueSize      = 16

	msgUnsupportedFrame = "Only text messages are supported"
	msgInvalidMessage   = "Invalid message"
)

// session is one WebSocket client. Everything written to the client goes
// through a single worker goroutine so a turn's events are never interleaved
// with control replies or another turn.
type session struct {
	id     string
	conn   *websocket.Conn
	logger zerolog.Logger

	writeMu sync.Mutex
	jobs    chan func(context.Context)

	closeOnce sync.Once
}

// newConnectionID returns a short id in the form of the first eight
// characters of a random UUID.
func newConnectionID() string {
	return uuid.New().String()[:8]
}

// Emit implements orchestrator.Emitter.
func (c *session) Emit(ctx context.Context, msg any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg)
}

func (c *session) close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.conn.Close()
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxMessageSize)

	sess := &session{
		id:   newConnectionID(),
		conn: conn,
		jobs: make(chan func(context.Context), queueSize),
	}
	sess.logger = s.logger.With().Str("connection", sess.id).Logger()

	if !s.addSession(sess) {
		sess.close(websocket.CloseGoingAway, "server shutting down")
		return
	}
	defer s.handlers.Done()

	ctx, cancel := context.WithCancel(context.Background())
	s.orch.Register(sess.id)
	sess.logger.Info().Str("remote", r.RemoteAddr).Msg("WebSocket connected")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for job := range sess.jobs {
			if ctx.Err() != nil {
				continue
			}
			job(ctx)
		}
	}()

	sess.jobs <- func(ctx context.Context) {
		if err := sess.Emit(ctx, protocol.NewGreeting(s.opts.Config.Greeting, sess.id)); err != nil {
			sess.logger.Debug().Err(err).Msg("Failed to send greeting")
		}
	}

	s.readLoop(ctx, sess)

	// Reader is the only producer: stop the worker, abandon any in-flight turn.
	cancel()
	close(sess.jobs)
	<-done

	s.orch.Unregister(sess.id)
	s.removeSession(sess.id)
	sess.close(websocket.CloseNormalClosure, "")
	sess.logger.Info().Msg("WebSocket disconnected")
}

// readLoop decodes client frames and queues the work they require. It
// returns when the connection is closed or fails.
func (s *Server) readLoop(ctx context.Context, sess *session) {
	for {
		msgType, data, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				sess.logger.Debug().Err(err).Msg("WebSocket read failed")
			}
			return
		}

		var job func(context.Context)
		if msgType != websocket.TextMessage {
			job = s.replyError(sess, msgUnsupportedFrame)
		} else {
			job = s.dispatch(sess, data)
		}

		select {
		case sess.jobs <- job:
		case <-ctx.Done():
			return
		}
	}
}

// dispatch turns one client frame into a unit of work for the session worker.
func (s *Server) dispatch(sess *session, data []byte) func(context.Context) {
	msg, err := protocol.ParseInbound(data)
	if err != nil {
		sess.logger.Debug().Err(err).Msg("Rejected client message")
		return s.replyError(sess, inboundErrorMessage(err))
	}

	switch m := msg.(type) {
	case protocol.TextInput:
		return func(ctx context.Context) {
			sess.logger.Info().Bool("transcribed", m.Transcribed).Int("chars", len(m.Text)).Msg("Received text")
			s.orch.ProcessTurn(ctx, sess.id, m.Text, orchestrator.Emitter(sess))
		}
	case protocol.Control:
		return func(ctx context.Context) {
			if err := sess.Emit(ctx, s.controlReply(sess.id, m.Command)); err != nil {
				sess.logger.Debug().Err(err).Str("command", m.Command).Msg("Failed to answer control message")
			}
		}
	default:
		return s.replyError(sess, msgInvalidMessage)
	}
}

func (s *Server) controlReply(connID, command string) protocol.ControlResponse {
	switch command {
	case protocol.CommandPing:
		return protocol.NewControlResponse(protocol.CommandPong, "ok", nil)
	case protocol.CommandStopSpeaking:
		return protocol.NewControlResponse(protocol.CommandStopSpeaking, "stopped", nil)
	default:
		return protocol.NewControlResponse(protocol.CommandGetStatus, "ok", s.orch.Status(connID))
	}
}

func (s *Server) replyError(sess *session, message string) func(context.Context) {
	return func(ctx context.Context) {
		if err := sess.Emit(ctx, protocol.NewError(message)); err != nil {
			sess.logger.Debug().Err(err).Msg("Failed to send error")
		}
	}
}

func inboundErrorMessage(err error) string {
	switch {
	case errors.Is(err, protocol.ErrUnknownType):
		return "Unknown message type"
	case errors.Is(err, protocol.ErrUnknownCommand):
		return "Unknown control command"
	default:
		return msgInvalidMessage
	}
}
