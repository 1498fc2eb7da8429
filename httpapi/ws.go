package httpapi

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Skryldev/image-editor/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMessage = 32 << 20
)

// wsChannel is a session.Channel over one websocket connection.
type wsChannel struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsChannel) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

func (c *wsChannel) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

type inbound struct {
	Type string `json:"type"`
	editRequest
}

// PushChannel handles GET /ws.
func (a *App) PushChannel(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.Log.Warn().Err(err).Msg("ws.upgrade")
		return
	}
	ch := &wsChannel{conn: conn}
	log := a.Log.With().Str("remote", r.RemoteAddr).Logger()

	done := make(chan struct{})
	defer func() {
		close(done)
		if id, current := a.Registry.Unbind(ch); current {
			a.Sessions.Release(id)
		}
		_ = conn.Close()
		log.Debug().Msg("ws.closed")
	}()

	conn.SetReadLimit(maxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := ch.ping(); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("ws.read")
			}
			return
		}
		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = ch.Send(session.NewErrorMessage("invalid message"))
			continue
		}
		a.handleMessage(r, ch, msg)
	}
}

func (a *App) handleMessage(r *http.Request, ch *wsChannel, msg inbound) {
	ctx := r.Context()
	switch msg.Type {
	case session.TypeInit:
		id, ok := imageID(msg.ImageID)
		if !ok {
			_ = ch.Send(session.NewErrorMessage("image not found"))
			return
		}
		if err := a.Sessions.Open(ctx, id); err != nil {
			_ = ch.Send(session.NewErrorMessage(session.ClientMessage(err)))
			return
		}
		a.Registry.Bind(id, ch)
		a.Log.Debug().Str("image_id", id).Msg("ws.bound")

	case session.TypeImageEdit, session.TypeReset:
		var (
			e   session.Edit
			id  string
			err error
		)
		if msg.Type == session.TypeReset {
			var ok bool
			if id, ok = imageID(msg.ImageID); !ok {
				_ = ch.Send(session.NewErrorMessage("image not found"))
				return
			}
			e.Reset = true
		} else {
			id, e.Params, e.CropSource, err = msg.edit()
			if err != nil {
				_ = ch.Send(session.NewErrorMessage(session.ClientMessage(err)))
				return
			}
		}
		if !a.Registry.Bound(id) {
			a.Registry.Bind(id, ch)
		}
		// The run result arrives through the registry.
		if _, err := a.Sessions.Submit(ctx, id, e); err != nil {
			_ = ch.Send(session.NewErrorMessage(session.ClientMessage(err)))
		}

	default:
		_ = ch.Send(session.NewErrorMessage("unknown message type"))
	}
}
