package view

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/matheus3301/chatterbox/internal/chat"
	"github.com/matheus3301/chatterbox/internal/delivery"
	"github.com/matheus3301/chatterbox/internal/metrics"
	"github.com/matheus3301/chatterbox/internal/remote"
	"go.uber.org/zap"
)

// Client frame types.
const (
	FrameOpen      = "open"
	FrameFocus     = "focus"
	FrameRendered  = "rendered"
	FrameIntersect = "intersect"
	FrameSend      = "send"
)

// Server frame types.
const (
	FrameThread  = "thread"
	FrameNotify  = "notify"
	FrameCompose = "compose"
	FrameSent    = "sent"
	FrameError   = "error"
)

// ClientFrame is a frame sent by a display.
type ClientFrame struct {
	Type           string   `json:"type"`
	ConversationID string   `json:"conversation_id,omitempty"`
	Focused        bool     `json:"focused,omitempty"`
	IDs            []string `json:"ids,omitempty"`
	ID             string   `json:"id,omitempty"`
	Ratio          float64  `json:"ratio,omitempty"`
	Text           string   `json:"text,omitempty"`
}

// ServerFrame is a frame sent to a display. Message holds a
// remote.Message for notify and sent, and a string for error. A send is
// answered with compose once the text shows in the thread, then with sent
// or error when the store has answered.
type ServerFrame struct {
	Type           string         `json:"type"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Rows           []delivery.Row `json:"rows,omitempty"`
	Message        any            `json:"message,omitempty"`
	ClearCompose   bool           `json:"clear_compose,omitempty"`
}

const writeTimeout = 5 * time.Second

// conn is one attached display.
type conn struct {
	ws     *websocket.Conn
	win    *chat.Window
	logger *zap.Logger
	sends  sync.WaitGroup
}

var _ delivery.Notifier = (*conn)(nil)

func (c *conn) write(ctx context.Context, f ServerFrame) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, c.ws, f)
}

// Notify forwards an inbound message from the other party.
func (c *conn) Notify(ctx context.Context, m remote.Message) error {
	return c.write(ctx, ServerFrame{Type: FrameNotify, Message: m})
}

func (s *Server) handleWS() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
		})
		if err != nil {
			s.logger.Warn("websocket accept failed", zap.Error(err))
			return
		}
		defer ws.CloseNow()

		metrics.ViewAttached(1)
		defer metrics.ViewAttached(-1)

		c := &conn{ws: ws, logger: s.logger.With(zap.String("remote", r.RemoteAddr))}
		// Displays connect unfocused and report focus themselves.
		c.win = s.chat.NewWindow(false, c)
		defer c.win.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		go c.pushThreads(ctx)

		err = c.readLoop(ctx)
		cancel()
		c.sends.Wait()
		switch websocket.CloseStatus(err) {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			c.logger.Debug("view detached")
		default:
			if !errors.Is(err, context.Canceled) {
				c.logger.Info("view connection ended", zap.Error(err))
			}
		}
		_ = ws.Close(websocket.StatusNormalClosure, "")
	}
}

// pushThreads sends the open conversation after every change.
func (c *conn) pushThreads(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.win.Updates():
			id := c.win.ConversationID()
			if id == "" {
				continue
			}
			if err := c.write(ctx, ServerFrame{Type: FrameThread, ConversationID: id, Rows: c.win.Rows()}); err != nil {
				c.logger.Debug("thread push failed", zap.Error(err))
				return
			}
		}
	}
}

func (c *conn) readLoop(ctx context.Context) error {
	for {
		var f ClientFrame
		if err := wsjson.Read(ctx, c.ws, &f); err != nil {
			return err
		}
		if err := c.handle(ctx, f); err != nil {
			if werr := c.write(ctx, ServerFrame{Type: FrameError, Message: err.Error()}); werr != nil {
				return werr
			}
		}
	}
}

func (c *conn) handle(ctx context.Context, f ClientFrame) error {
	switch f.Type {
	case FrameOpen:
		if f.ConversationID == "" {
			return errors.New("open: conversation_id is required")
		}
		return c.win.Open(ctx, f.ConversationID)
	case FrameFocus:
		c.win.SetFocused(ctx, f.Focused)
	case FrameRendered:
		c.win.Rendered(f.IDs)
	case FrameIntersect:
		c.win.Intersect(ctx, f.ID, f.Ratio)
	case FrameSend:
		commit, err := c.win.Compose(f.Text)
		if err != nil {
			return err
		}
		id := c.win.ConversationID()
		werr := c.write(ctx, ServerFrame{Type: FrameCompose, ConversationID: id, ClearCompose: true})
		c.sends.Add(1)
		go c.commit(ctx, id, commit)
		return werr
	default:
		c.logger.Debug("unknown view frame", zap.String("type", f.Type))
		return errors.New("unknown frame type " + f.Type)
	}
	return nil
}

// commit stores a composed message off the read loop so other frames keep
// flowing while the insert is in flight.
func (c *conn) commit(ctx context.Context, conversationID string, commit func(context.Context) (remote.Message, error)) {
	defer c.sends.Done()
	m, err := commit(ctx)
	f := ServerFrame{Type: FrameSent, ConversationID: conversationID, Message: m}
	if err != nil {
		f = ServerFrame{Type: FrameError, ConversationID: conversationID, Message: err.Error()}
	}
	if err := c.write(ctx, f); err != nil {
		c.logger.Debug("send result not delivered", zap.Error(err))
	}
}
