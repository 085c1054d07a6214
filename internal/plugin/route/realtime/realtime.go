// Package realtime serves the websocket endpoint that relays published events to clients.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/model"
	registrypublish "github.com/chirino/chat-service/internal/registry/publish"
	"github.com/chirino/chat-service/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = pongWait * 9 / 10
	maxFrameSize   = 4096
	sendBufferSize = 256
)

// MembershipChecker reports whether a user may follow a conversation.
type MembershipChecker interface {
	IsActiveParticipant(ctx context.Context, userID, conversationID uuid.UUID) (bool, error)
}

// Handler upgrades requests and relays subscribed channels to the socket.
type Handler struct {
	members  MembershipChecker
	pub      registrypublish.Publisher
	upgrader websocket.Upgrader
}

// NewHandler creates a Handler. allowOrigin decides cross-origin upgrades; nil allows all.
func NewHandler(members MembershipChecker, pub registrypublish.Publisher, allowOrigin func(r *http.Request) bool) *Handler {
	if allowOrigin == nil {
		allowOrigin = func(*http.Request) bool { return true }
	}
	return &Handler{
		members: members,
		pub:     pub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     allowOrigin,
		},
	}
}

// MountRoutes mounts GET /v1/realtime behind auth.
func MountRoutes(r *gin.Engine, h *Handler, auth gin.HandlerFunc) {
	r.GET("/v1/realtime", auth, h.Serve)
}

// Frame is a client request to follow or stop following a conversation.
type Frame struct {
	Action         string    `json:"action"`
	ConversationID uuid.UUID `json:"conversationId"`
}

// Reply acknowledges a Frame.
type Reply struct {
	Type           string    `json:"type"`
	Action         string    `json:"action,omitempty"`
	ConversationID uuid.UUID `json:"conversationId,omitempty"`
	Error          string    `json:"error,omitempty"`
}

// Serve handles one websocket connection until either side closes it.
func (h *Handler) Serve(c *gin.Context) {
	user := security.GetUser(c)
	ctx, cancel := context.WithCancel(context.Background())
	cn := &conn{
		h:      h,
		user:   user.ID,
		send:   make(chan []byte, sendBufferSize),
		subs:   map[string]registrypublish.Subscription{},
		ctx:    ctx,
		cancel: cancel,
	}
	// Subscribe before the handshake completes so nothing published after connect is missed.
	if err := cn.subscribe(model.UserChannel(user.ID)); err != nil {
		log.Error("Realtime: personal subscription failed", "user", user.ID, "err", err)
		cancel()
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "unavailable", "error": "realtime unavailable"})
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Info("Realtime: upgrade failed", "err", err)
		cancel()
		cn.closeSubscriptions()
		return
	}
	cn.mu.Lock()
	cn.ws = ws
	cn.mu.Unlock()
	security.AddRealtimeConnections(1)
	defer security.AddRealtimeConnections(-1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		cn.writeLoop()
	}()
	cn.readLoop()
	cn.shutdown()
	<-done
	cn.closeSubscriptions()
	_ = ws.Close()
}

type conn struct {
	h    *Handler
	ws   *websocket.Conn
	user uuid.UUID
	send chan []byte

	mu   sync.Mutex
	subs map[string]registrypublish.Subscription

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (cn *conn) shutdown() {
	cn.closeOnce.Do(func() {
		cn.cancel()
		cn.mu.Lock()
		ws := cn.ws
		cn.mu.Unlock()
		if ws != nil {
			// Unblock the reader.
			_ = ws.SetReadDeadline(time.Now())
		}
	})
}

func (cn *conn) subscribe(channel string) error {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	if _, ok := cn.subs[channel]; ok {
		return nil
	}
	sub, err := cn.h.pub.Subscribe(cn.ctx, channel)
	if err != nil {
		return err
	}
	cn.subs[channel] = sub
	go cn.pump(channel, sub)
	return nil
}

func (cn *conn) unsubscribe(channel string) {
	cn.mu.Lock()
	sub, ok := cn.subs[channel]
	delete(cn.subs, channel)
	cn.mu.Unlock()
	if ok {
		_ = sub.Close()
	}
}

func (cn *conn) closeSubscriptions() {
	cn.mu.Lock()
	subs := cn.subs
	cn.subs = map[string]registrypublish.Subscription{}
	cn.mu.Unlock()
	for _, sub := range subs {
		_ = sub.Close()
	}
}

func (cn *conn) pump(channel string, sub registrypublish.Subscription) {
	for env := range sub.C() {
		data, err := json.Marshal(env)
		if err != nil {
			continue
		}
		if !cn.enqueue(data) {
			return
		}
		if cn.revoked(env) {
			cn.unsubscribe(channel)
			return
		}
	}
}

// revoked reports whether env ends this user's access to the conversation channel it arrived on.
func (cn *conn) revoked(env model.Envelope) bool {
	if _, ok := model.ParseConversationChannel(env.Channel); !ok {
		return false
	}
	switch env.Event {
	case model.EventConversationDeleted:
		return true
	case model.EventParticipantRemoved:
		ev, err := env.Decode()
		if err != nil {
			return false
		}
		removed, ok := ev.(*model.ParticipantRemoved)
		return ok && removed.UserID == cn.user
	}
	return false
}

// enqueue hands data to the writer. A client that cannot keep up is disconnected.
func (cn *conn) enqueue(data []byte) bool {
	select {
	case <-cn.ctx.Done():
		return false
	default:
	}
	select {
	case cn.send <- data:
		return true
	default:
		log.Warn("Realtime: client too slow, disconnecting", "user", cn.user)
		cn.shutdown()
		return false
	}
}

func (cn *conn) reply(r Reply) {
	data, _ := json.Marshal(r)
	cn.enqueue(data)
}

func (cn *conn) readLoop() {
	cn.ws.SetReadLimit(maxFrameSize)
	_ = cn.ws.SetReadDeadline(time.Now().Add(pongWait))
	cn.ws.SetPongHandler(func(string) error {
		return cn.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		mt, data, err := cn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) && cn.ctx.Err() == nil {
				log.Debug("Realtime: read failed", "user", cn.user, "err", err)
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			cn.reply(Reply{Type: "error", Error: "invalid frame"})
			continue
		}
		cn.handle(f)
	}
}

func (cn *conn) handle(f Frame) {
	channel := model.ConversationChannel(f.ConversationID)
	switch f.Action {
	case "subscribe":
		ctx, cancel := context.WithTimeout(cn.ctx, writeWait)
		ok, err := cn.h.members.IsActiveParticipant(ctx, cn.user, f.ConversationID)
		cancel()
		if err != nil {
			log.Error("Realtime: membership check failed", "user", cn.user, "conversationId", f.ConversationID, "err", err)
			cn.reply(Reply{Type: "error", Action: f.Action, ConversationID: f.ConversationID, Error: "unavailable"})
			return
		}
		if !ok {
			cn.reply(Reply{Type: "error", Action: f.Action, ConversationID: f.ConversationID, Error: "not found"})
			return
		}
		if err := cn.subscribe(channel); err != nil {
			log.Error("Realtime: subscribe failed", "user", cn.user, "channel", channel, "err", err)
			cn.reply(Reply{Type: "error", Action: f.Action, ConversationID: f.ConversationID, Error: "unavailable"})
			return
		}
	case "unsubscribe":
		cn.unsubscribe(channel)
	default:
		cn.reply(Reply{Type: "error", Action: f.Action, Error: "unknown action"})
		return
	}
	cn.reply(Reply{Type: "ack", Action: f.Action, ConversationID: f.ConversationID})
}

func (cn *conn) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-cn.ctx.Done():
			_ = cn.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case data := <-cn.send:
			_ = cn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cn.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				cn.shutdown()
				return
			}
		case <-ticker.C:
			if err := cn.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				cn.shutdown()
				return
			}
		}
	}
}
