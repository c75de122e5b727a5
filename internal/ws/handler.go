package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wttaideveloper/BTQ-Project-sub000/internal/hub"
	"github.com/wttaideveloper/BTQ-Project-sub000/internal/session"
	"github.com/wttaideveloper/BTQ-Project-sub000/internal/types"
)

const writeTimeout = 3 * time.Second

// Handler upgrades the connection, attaches it to the hub registry and the
// requested session, and pumps frames both ways until the socket closes.
func Handler(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}

		reply := make(chan *session.Session, 1)
		h.Inbox() <- hub.GetSession{Code: code, Reply: reply}
		sess := <-reply
		if sess == nil {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		connID := uuid.NewString()
		outbox := make(chan types.ServerMessage, 32)

		h.Inbox() <- hub.Register{ConnID: connID, Outbox: outbox}
		sess.Inbox() <- session.Join{ConnID: connID, Outbox: outbox}
		defer func() {
			sess.Inbox() <- session.Leave{ConnID: connID}
			h.Inbox() <- hub.Unregister{ConnID: connID}
		}()

		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for {
				select {
				case <-writeCtx.Done():
					return
				case msg := <-outbox:
					payload, err := json.Marshal(msg)
					if err != nil {
						continue
					}
					ctx, cancel := context.WithTimeout(writeCtx, writeTimeout)
					_ = conn.Write(ctx, websocket.MessageText, payload)
					cancel()
				}
			}
		}()

		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					return
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				log.Debug("bad frame", zap.String("conn", connID), zap.Error(err))
				select {
				case outbox <- types.ErrorEvent("bad json"):
				default:
				}
				continue
			}
			sess.Inbox() <- session.FromClient{ConnID: connID, Msg: cm}
		}
	}
}
