package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
)

const chatRetention = 200

// Store is an in-memory implementation of app.Store. Every document carries a
// version; transactions commit only if the versions they read are unchanged.
type Store struct {
	mu      sync.RWMutex
	seq     uint64
	rooms   map[string]roomDoc
	users   map[string]userDoc
	credits map[string]struct{}
	chats   map[string][]domain.ChatMessage

	roomSubs  map[string]map[chan app.RoomSnapshot]struct{}
	lobbySubs map[chan []domain.QuizRoom]struct{}
	chatSubs  map[string]map[chan []domain.ChatMessage]int
}

type roomDoc struct {
	room    domain.QuizRoom
	version uint64
}

type userDoc struct {
	user    domain.UserProfile
	version uint64
}

func NewStore() *Store {
	return &Store{
		rooms:     make(map[string]roomDoc),
		users:     make(map[string]userDoc),
		credits:   make(map[string]struct{}),
		chats:     make(map[string][]domain.ChatMessage),
		roomSubs:  make(map[string]map[chan app.RoomSnapshot]struct{}),
		lobbySubs: make(map[chan []domain.QuizRoom]struct{}),
		chatSubs:  make(map[string]map[chan []domain.ChatMessage]int),
	}
}

func (s *Store) nextVersion() uint64 {
	s.seq++
	return s.seq
}

func (s *Store) CreateRoom(_ context.Context, room domain.QuizRoom) (domain.QuizRoom, error) {
	if room.ID == "" {
		room.ID = uuid.NewString()
	}
	room.Normalize()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[room.ID] = roomDoc{room: room.Clone(), version: s.nextVersion()}
	s.publishRoomLocked(room.ID)
	s.publishLobbyLocked()
	return room.Clone(), nil
}

func (s *Store) GetRoom(_ context.Context, roomID string) (domain.QuizRoom, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.rooms[roomID]
	if !ok {
		return domain.QuizRoom{}, domain.ErrRoomNotFound
	}
	return doc.room.Clone(), nil
}

func (s *Store) FindRoomByShortID(_ context.Context, shortID string) (domain.QuizRoom, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, doc := range s.rooms {
		if doc.room.ShortID == shortID {
			return doc.room.Clone(), nil
		}
	}
	return domain.QuizRoom{}, domain.ErrRoomNotFound
}

func (s *Store) ListRooms(_ context.Context) ([]domain.QuizRoom, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roomsLocked(), nil
}

func (s *Store) roomsLocked() []domain.QuizRoom {
	out := make([]domain.QuizRoom, 0, len(s.rooms))
	for _, doc := range s.rooms {
		out = append(out, doc.room.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) UpdateRoom(_ context.Context, roomID string, ops ...app.FieldOp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.rooms[roomID]
	if !ok {
		return domain.ErrRoomNotFound
	}
	room := doc.room.Clone()
	room.Normalize()
	for _, op := range ops {
		op(&room)
	}
	s.rooms[roomID] = roomDoc{room: room, version: s.nextVersion()}
	s.publishRoomLocked(roomID)
	s.publishLobbyLocked()
	return nil
}

func (s *Store) DeleteRoom(_ context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[roomID]; !ok {
		return nil
	}
	delete(s.rooms, roomID)
	delete(s.chats, roomID)
	s.publishRoomLocked(roomID)
	s.publishLobbyLocked()
	return nil
}

func (s *Store) GetUser(_ context.Context, uid string) (domain.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.users[uid]
	if !ok {
		return domain.UserProfile{}, domain.ErrUserNotFound
	}
	return cloneUser(doc.user), nil
}

func (s *Store) PutUser(_ context.Context, user domain.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.UID] = userDoc{user: cloneUser(user), version: s.nextVersion()}
	return nil
}

func (s *Store) CreditPoints(_ context.Context, uid string, amount int, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, done := s.credits[key]; done {
		return false, nil
	}
	doc, ok := s.users[uid]
	if !ok {
		return false, domain.ErrUserNotFound
	}
	doc.user.Points += amount
	doc.version = s.nextVersion()
	s.users[uid] = doc
	s.credits[key] = struct{}{}
	return true, nil
}

func cloneUser(u domain.UserProfile) domain.UserProfile {
	u.Friends = append([]string(nil), u.Friends...)
	return u
}

// RunTransaction runs fn against a private view and commits its writes if no
// document it read moved in the meantime, retrying up to app.MaxTxAttempts.
func (s *Store) RunTransaction(ctx context.Context, fn func(tx app.Tx) error) error {
	for attempt := 0; attempt < app.MaxTxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		tx := newTx(s)
		if err := fn(tx); err != nil {
			return err
		}
		if s.commit(tx) {
			return nil
		}
	}
	return domain.ErrConcurrencyConflict
}

func (s *Store) commit(tx *memTx) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, v := range tx.roomReads {
		if s.rooms[id].version != v {
			return false
		}
	}
	for uid, v := range tx.userReads {
		if s.users[uid].version != v {
			return false
		}
	}
	for _, id := range tx.roomOrder {
		w := tx.roomWrites[id]
		if w.deleted {
			delete(s.rooms, id)
			delete(s.chats, id)
		} else {
			w.room.Normalize()
			s.rooms[id] = roomDoc{room: w.room.Clone(), version: s.nextVersion()}
		}
		s.publishRoomLocked(id)
	}
	for uid, u := range tx.userWrites {
		s.users[uid] = userDoc{user: cloneUser(u), version: s.nextVersion()}
	}
	if len(tx.roomOrder) > 0 {
		s.publishLobbyLocked()
	}
	return true
}

// SubscribeRoom gives each subscriber a one-slot buffer; a slow reader only
// ever sees the latest document.
func (s *Store) SubscribeRoom(_ context.Context, roomID string) (<-chan app.RoomSnapshot, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.rooms[roomID]
	if !ok {
		return nil, nil, domain.ErrRoomNotFound
	}
	ch := make(chan app.RoomSnapshot, 1)
	if s.roomSubs[roomID] == nil {
		s.roomSubs[roomID] = make(map[chan app.RoomSnapshot]struct{})
	}
	s.roomSubs[roomID][ch] = struct{}{}
	ch <- app.RoomSnapshot{Room: doc.room.Clone()}

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		subs := s.roomSubs[roomID]
		if _, ok := subs[ch]; ok {
			delete(subs, ch)
			close(ch)
		}
		if len(subs) == 0 {
			delete(s.roomSubs, roomID)
		}
	}
	return ch, cancel, nil
}

func (s *Store) SubscribeRooms(_ context.Context) (<-chan []domain.QuizRoom, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan []domain.QuizRoom, 1)
	s.lobbySubs[ch] = struct{}{}
	ch <- s.roomsLocked()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.lobbySubs[ch]; ok {
			delete(s.lobbySubs, ch)
			close(ch)
		}
	}
	return ch, cancel, nil
}

func (s *Store) AddChat(_ context.Context, roomID string, msg domain.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[roomID]; !ok {
		return domain.ErrRoomNotFound
	}
	msgs := append(s.chats[roomID], msg)
	if len(msgs) > chatRetention {
		msgs = msgs[len(msgs)-chatRetention:]
	}
	s.chats[roomID] = msgs
	for ch, limit := range s.chatSubs[roomID] {
		deliver(ch, lastN(msgs, limit))
	}
	return nil
}

func (s *Store) SubscribeChat(_ context.Context, roomID string, limit int) (<-chan []domain.ChatMessage, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan []domain.ChatMessage, 1)
	if s.chatSubs[roomID] == nil {
		s.chatSubs[roomID] = make(map[chan []domain.ChatMessage]int)
	}
	s.chatSubs[roomID][ch] = limit
	ch <- lastN(s.chats[roomID], limit)

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		subs := s.chatSubs[roomID]
		if _, ok := subs[ch]; ok {
			delete(subs, ch)
			close(ch)
		}
		if len(subs) == 0 {
			delete(s.chatSubs, roomID)
		}
	}
	return ch, cancel, nil
}

func lastN(msgs []domain.ChatMessage, n int) []domain.ChatMessage {
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return append([]domain.ChatMessage(nil), msgs...)
}

func (s *Store) publishRoomLocked(roomID string) {
	doc, ok := s.rooms[roomID]
	for ch := range s.roomSubs[roomID] {
		if !ok {
			deliver(ch, app.RoomSnapshot{Deleted: true})
			continue
		}
		deliver(ch, app.RoomSnapshot{Room: doc.room.Clone()})
	}
}

func (s *Store) publishLobbyLocked() {
	if len(s.lobbySubs) == 0 {
		return
	}
	rooms := s.roomsLocked()
	for ch := range s.lobbySubs {
		deliver(ch, rooms)
	}
}

// deliver replaces any undelivered value so slow readers never block writers.
func deliver[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
}
