package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/notestream/internal/session"
)

// writeTimeout bounds a single websocket write.
const writeTimeout = 10 * time.Second

// Client message types accepted on the stream.
const (
	msgTranscript = "transcript"
	msgStop       = "stop"
	msgReset      = "reset"
	msgRetry      = "retry"
)

// Server message types sent in addition to session events.
const (
	msgStopped = "stopped"
	msgError   = "error"
)

// clientMessage is a frame sent by the client.
type clientMessage struct {
	Type string `json:"type"`

	// Text is the full transcript for transcript messages and the batch
	// text for retry messages.
	Text string `json:"text,omitempty"`
}

// controlMessage is a server frame that is not a session event.
type controlMessage struct {
	Type  string `json:"type"`
	Error string `json:"error,omitempty"`
}

// handleStream upgrades to a websocket bound to the note's session. Every
// session event is forwarded to the client as JSON; client frames drive the
// session.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		s.log.Warn("websocket upgrade failed", "note_id", sess.NoteID(), "err", err)
		return
	}
	defer conn.CloseNow()

	log := s.log.With("note_id", sess.NoteID(), "remote", r.RemoteAddr)
	log.Info("stream opened")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, unsubscribe := sess.Subscribe()
	defer unsubscribe()

	// All writes happen on this goroutine. Control messages are written only
	// after the events already queued, so "stopped" follows the last batch.
	control := make(chan controlMessage)
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					conn.Close(websocket.StatusGoingAway, "session closed")
					return
				}
				if err := write(ctx, conn, ev); err != nil {
					log.Debug("stream write failed", "err", err)
					return
				}
			case msg := <-control:
				if err := flush(ctx, conn, events); err != nil {
					log.Debug("stream write failed", "err", err)
					return
				}
				if err := write(ctx, conn, msg); err != nil {
					log.Debug("stream write failed", "err", err)
					return
				}
			}
		}
	}()
	send := func(msg controlMessage) {
		select {
		case control <- msg:
		case <-ctx.Done():
		}
	}

	for {
		var msg clientMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				log.Info("stream closed")
			} else {
				log.Warn("stream read failed", "err", err)
			}
			return
		}
		reply, err := s.dispatch(ctx, sess, msg)
		switch {
		case err != nil:
			send(controlMessage{Type: msgError, Error: err.Error()})
		case reply != "":
			send(controlMessage{Type: reply})
		}
	}
}

// dispatch applies a client message to the session and returns the type of
// the control message to send back, if any.
func (s *Server) dispatch(ctx context.Context, sess *session.Session, msg clientMessage) (string, error) {
	switch msg.Type {
	case msgTranscript:
		sess.Update(ctx, msg.Text)
	case msgStop:
		if err := sess.Stop(ctx); err != nil {
			return "", fmt.Errorf("stop: %w", err)
		}
		return msgStopped, nil
	case msgReset:
		sess.Reset()
	case msgRetry:
		if _, err := sess.Retry(ctx, msg.Text); err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("unknown message type %q", msg.Type)
	}
	return "", nil
}

// flush writes every event already waiting in events.
func flush(ctx context.Context, conn *websocket.Conn, events <-chan session.Event) error {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := write(ctx, conn, ev); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}
