package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
)

// CosmeticLimit bounds chat, emoji and interaction frames per connection.
type CosmeticLimit struct {
	Every time.Duration
	Burst int
}

type WSHandler struct {
	service  *app.RoomService
	upgrader websocket.Upgrader
	log      zerolog.Logger
	cosmetic CosmeticLimit
}

func NewWSHandler(service *app.RoomService, log zerolog.Logger) *WSHandler {
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log:      log.With().Str("component", "ws").Logger(),
		cosmetic: CosmeticLimit{Every: 300 * time.Millisecond, Burst: 5},
	}
}

// WithCosmeticLimit overrides the per-connection cosmetic rate limit.
func (h *WSHandler) WithCosmeticLimit(l CosmeticLimit) *WSHandler {
	h.cosmetic = l
	return h
}

// Register mounts the websocket endpoints on mux.
func (h *WSHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/ws/lobby", h.ServeLobby)
	mux.HandleFunc("/ws/room", h.ServeRoom)
}

// wsSession owns the single writer goroutine of one connection. Frames go
// through send; close drains whatever is queued and says goodbye.
type wsSession struct {
	conn       *websocket.Conn
	send       chan outboundMessage
	writerDone chan struct{}
	log        zerolog.Logger
}

func newSession(conn *websocket.Conn, log zerolog.Logger) *wsSession {
	s := &wsSession{
		conn:       conn,
		send:       make(chan outboundMessage, 32),
		writerDone: make(chan struct{}),
		log:        log,
	}
	go s.writeLoop()
	return s
}

func (s *wsSession) writeLoop() {
	defer close(s.writerDone)
	for msg := range s.send {
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteJSON(msg); err != nil {
			s.log.Debug().Err(err).Msg("ws write failed")
			// Keep draining so producers never block on a dead socket.
			for range s.send {
			}
			return
		}
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// finish must be called once every producer has stopped.
func (s *wsSession) finish() {
	close(s.send)
	<-s.writerDone
}

func (s *wsSession) toast(err error) {
	if msg, ok := toast(err); ok {
		s.send <- msg
	}
}

// forward pumps src into the session until src closes or stop fires.
// onClose runs after src closes by itself.
func forward[T any](s *wsSession, src <-chan T, stop <-chan struct{}, frame func(T) (outboundMessage, bool), onClose func()) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case v, ok := <-src:
				if !ok {
					if onClose != nil {
						onClose()
					}
					return
				}
				msg, ok := frame(v)
				if !ok {
					continue
				}
				select {
				case s.send <- msg:
				case <-stop:
					return
				}
			case <-stop:
				return
			}
		}
	}()
	return done
}

// ServeLobby streams lobby views and handles room creation and joining.
func (h *WSHandler) ServeLobby(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "missing userId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()
	log := h.log.With().Str("user", userID).Logger()
	ctx := r.Context()

	sess := newSession(conn, log)
	feed, err := h.service.ListRooms(ctx, app.LobbyFilter{})
	if err != nil {
		sess.toast(err)
		sess.finish()
		return
	}
	defer feed.Close()

	stop := make(chan struct{})
	forwardDone := forward(sess, feed.Views(), stop, func(v app.LobbyView) (outboundMessage, bool) {
		return outboundMessage{Type: "lobby", Payload: v}, true
	}, nil)

	for {
		var in inboundMessage
		if err := conn.ReadJSON(&in); err != nil {
			break
		}
		if err := h.dispatchLobby(ctx, sess, feed, userID, in); err != nil {
			log.Debug().Err(err).Str("action", in.Type).Msg("lobby action rejected")
			sess.toast(err)
		}
	}

	close(stop)
	<-forwardDone
	sess.finish()
}

func (h *WSHandler) dispatchLobby(ctx context.Context, sess *wsSession, feed *app.LobbyFeed, uid string, in inboundMessage) error {
	var (
		room domain.QuizRoom
		err  error
	)
	switch in.Type {
	case "filter":
		var f app.LobbyFilter
		if err := decode(in.Payload, &f); err != nil {
			return err
		}
		feed.SetFilter(f)
		return nil
	case "create":
		var p createPayload
		if err := decode(in.Payload, &p); err != nil {
			return err
		}
		room, err = h.service.CreateRoom(ctx, uid, p.Config, p.ChallengeTarget)
	case "quickJoin":
		room, err = h.service.QuickJoin(ctx, uid)
	case "joinByCode":
		var p joinByCodePayload
		if err := decode(in.Payload, &p); err != nil {
			return err
		}
		room, err = h.service.JoinByCode(ctx, uid, p.Code, p.Password, p.Spectate)
	default:
		return errUnsupported
	}
	if err != nil {
		return err
	}
	sess.send <- outboundMessage{Type: "joined", Payload: joinedPayload{RoomID: room.ID, ShortID: room.ShortID}}
	return nil
}

// ServeRoom joins the caller to a room (a no-op for existing members) and
// streams the room session until it closes, the user leaves, or the socket drops.
func (h *WSHandler) ServeRoom(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	roomID, userID := q.Get("roomId"), q.Get("userId")
	if roomID == "" || userID == "" {
		http.Error(w, "missing roomId or userId", http.StatusBadRequest)
		return
	}
	spectate := q.Get("spectate") == "true" || q.Get("spectate") == "1"

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()
	log := h.log.With().Str("room", roomID).Str("user", userID).Logger()
	ctx := r.Context()
	sess := newSession(conn, log)

	if _, err := h.service.JoinRoom(ctx, roomID, userID, q.Get("password"), spectate); err != nil {
		sess.toast(err)
		sess.finish()
		return
	}
	ctrl, err := h.service.OpenRoom(ctx, roomID, userID)
	if err != nil {
		sess.toast(err)
		sess.finish()
		return
	}
	defer ctrl.Close()

	// A session that ends on its own (closed, kicked) unblocks the reader.
	stop := make(chan struct{})
	forwardDone := forward(sess, ctrl.Events(), stop, frameFor, func() {
		_ = conn.SetReadDeadline(time.Now())
	})

	limiter := rate.NewLimiter(rate.Every(h.cosmetic.Every), h.cosmetic.Burst)
	for {
		var in inboundMessage
		if err := conn.ReadJSON(&in); err != nil {
			break
		}
		leave, err := h.dispatchRoom(ctx, sess, ctrl, limiter, in)
		if err != nil {
			log.Debug().Err(err).Str("action", in.Type).Msg("room action rejected")
			sess.toast(err)
		}
		if leave {
			break
		}
	}

	close(stop)
	<-forwardDone
	sess.finish()
}

var errUnsupported = &domain.ValidationError{Field: "type", Reason: "unsupported message type"}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return &domain.ValidationError{Field: "payload", Reason: "missing"}
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &domain.ValidationError{Field: "payload", Reason: err.Error()}
	}
	return nil
}
