package hub

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/wttaideveloper/BTQ-Project-sub000/internal/config"
	"github.com/wttaideveloper/BTQ-Project-sub000/internal/session"
	"github.com/wttaideveloper/BTQ-Project-sub000/internal/types"
)

type Msg interface{ isHubMsg() }

// Register attaches a fresh connection's outbox to the registry.
type Register struct {
	ConnID string
	Outbox chan types.ServerMessage
}

// Unregister drops a closed connection.
type Unregister struct{ ConnID string }

// Bind points a user at their most recent connection, superseding any
// prior connection set for that user.
type Bind struct {
	ConnID      string
	UserID      string
	DisplayName string
}

// RosterUpdate refreshes which users a session currently has rostered.
type RosterUpdate struct {
	Code    string
	UserIDs []string
}

type EnsureSession struct {
	Code  string
	Reply chan *session.Session
}

type GetSession struct {
	Code  string
	Reply chan *session.Session
}

type RemoveSession struct{ Code string }

// GetPresence reflects the availability set for tests.
type GetPresence struct{ Reply chan []string }

type Shutdown struct{}

func (Register) isHubMsg()      {}
func (Unregister) isHubMsg()    {}
func (Bind) isHubMsg()          {}
func (RosterUpdate) isHubMsg()  {}
func (EnsureSession) isHubMsg() {}
func (GetSession) isHubMsg()    {}
func (RemoveSession) isHubMsg() {}
func (GetPresence) isHubMsg()   {}
func (Shutdown) isHubMsg()      {}

type conn struct {
	id          string
	userID      string
	displayName string
	outbox      chan types.ServerMessage
}

// Hub is the process-wide actor: it owns the session map, the connection
// registry and the derived availability set. Sessions talk back to it
// through the session.Notifier interface, which just posts messages here.
type Hub struct {
	inbox    chan Msg
	sessions map[string]*session.Session
	conns    map[string]*conn
	users    map[string]string          // userID -> most recent connID
	rostered map[string]map[string]bool // session code -> rostered user ids

	cfg    *config.Config
	store  session.Store
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func New(parent context.Context, cfg *config.Config, st session.Store, log *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:    make(chan Msg, 64),
		sessions: map[string]*session.Session{},
		conns:    map[string]*conn{},
		users:    map[string]string{},
		rostered: map[string]map[string]bool{},
		cfg:      cfg,
		store:    st,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- Msg { return h.inbox }

// UserBound and RosterChanged implement session.Notifier; they are called
// from session goroutines and only post messages.

func (h *Hub) UserBound(connID, userID, displayName string) {
	select {
	case h.inbox <- Bind{ConnID: connID, UserID: userID, DisplayName: displayName}:
	case <-h.ctx.Done():
	}
}

func (h *Hub) RosterChanged(code string, userIDs []string) {
	select {
	case h.inbox <- RosterUpdate{Code: code, UserIDs: userIDs}:
	case <-h.ctx.Done():
	}
}

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			return
		case m := <-h.inbox:
			switch msg := m.(type) {
			case Register:
				h.conns[msg.ConnID] = &conn{id: msg.ConnID, outbox: msg.Outbox}
				h.send(msg.ConnID, types.Event(types.EvtConnectionEstablished, map[string]string{
					"connection_id": msg.ConnID,
				}))

			case Unregister:
				c := h.conns[msg.ConnID]
				if c == nil {
					break
				}
				delete(h.conns, msg.ConnID)
				if c.userID != "" && h.users[c.userID] == msg.ConnID {
					delete(h.users, c.userID)
				}
				h.broadcastPresence()

			case Bind:
				c := h.conns[msg.ConnID]
				if c == nil {
					break
				}
				if old, ok := h.users[msg.UserID]; ok && old != msg.ConnID {
					// The prior connection is orphaned, not closed.
					if orphan := h.conns[old]; orphan != nil {
						orphan.userID = ""
					}
				}
				c.userID = msg.UserID
				c.displayName = msg.DisplayName
				h.users[msg.UserID] = msg.ConnID
				h.broadcastPresence()

			case RosterUpdate:
				set := make(map[string]bool, len(msg.UserIDs))
				for _, id := range msg.UserIDs {
					set[id] = true
				}
				h.rostered[msg.Code] = set
				h.broadcastPresence()

			case EnsureSession:
				if s := h.sessions[msg.Code]; s != nil {
					msg.Reply <- s
					break
				}
				s := session.New(h.ctx, msg.Code, h.cfg, h.store, h, h.log)
				h.sessions[msg.Code] = s
				msg.Reply <- s

			case GetSession:
				msg.Reply <- h.sessions[msg.Code] // may be nil

			case RemoveSession:
				if s := h.sessions[msg.Code]; s != nil {
					s.Inbox() <- session.Shutdown{}
				}
				delete(h.sessions, msg.Code)
				delete(h.rostered, msg.Code)

			case GetPresence:
				msg.Reply <- h.available()

			case Shutdown:
				for _, s := range h.sessions {
					s.Inbox() <- session.Shutdown{}
				}
				clear(h.sessions)
				h.cancel()
				return
			}
		}
	}
}

// available derives "online and not on any team", sorted for determinism.
func (h *Hub) available() []string {
	var out []string
	for userID := range h.users {
		if !h.isRostered(userID) {
			out = append(out, userID)
		}
	}
	sort.Strings(out)
	return out
}

func (h *Hub) isRostered(userID string) bool {
	for _, set := range h.rostered {
		if set[userID] {
			return true
		}
	}
	return false
}

type onlineUser struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
}

// broadcastPresence pushes the refreshed availability list to every
// connection, best-effort.
func (h *Hub) broadcastPresence() {
	ids := h.available()
	users := make([]onlineUser, 0, len(ids))
	for _, id := range ids {
		u := onlineUser{UserID: id}
		if connID, ok := h.users[id]; ok {
			if c := h.conns[connID]; c != nil {
				u.DisplayName = c.displayName
			}
		}
		users = append(users, u)
	}
	evt := types.Event(types.EvtOnlineUsersUpdated, map[string]any{"users": users})
	for id := range h.conns {
		h.send(id, evt)
	}
}

func (h *Hub) send(connID string, msg types.ServerMessage) {
	c := h.conns[connID]
	if c == nil {
		return
	}
	select {
	case c.outbox <- msg:
	default:
	}
}
