package memory

import (
	"quizroom-service/internal/domain"
)

type roomWrite struct {
	room    domain.QuizRoom
	deleted bool
}

// memTx buffers writes and remembers the version of every document it read.
type memTx struct {
	store      *Store
	roomReads  map[string]uint64
	userReads  map[string]uint64
	roomWrites map[string]roomWrite
	roomOrder  []string
	userWrites map[string]domain.UserProfile
}

func newTx(s *Store) *memTx {
	return &memTx{
		store:      s,
		roomReads:  make(map[string]uint64),
		userReads:  make(map[string]uint64),
		roomWrites: make(map[string]roomWrite),
		userWrites: make(map[string]domain.UserProfile),
	}
}

func (t *memTx) Room(roomID string) (domain.QuizRoom, error) {
	if w, ok := t.roomWrites[roomID]; ok {
		if w.deleted {
			return domain.QuizRoom{}, domain.ErrRoomNotFound
		}
		return w.room.Clone(), nil
	}
	t.store.mu.RLock()
	doc, ok := t.store.rooms[roomID]
	t.store.mu.RUnlock()
	if _, seen := t.roomReads[roomID]; !seen {
		t.roomReads[roomID] = doc.version
	}
	if !ok {
		return domain.QuizRoom{}, domain.ErrRoomNotFound
	}
	room := doc.room.Clone()
	room.Normalize()
	return room, nil
}

func (t *memTx) User(uid string) (domain.UserProfile, error) {
	if u, ok := t.userWrites[uid]; ok {
		return cloneUser(u), nil
	}
	t.store.mu.RLock()
	doc, ok := t.store.users[uid]
	t.store.mu.RUnlock()
	if _, seen := t.userReads[uid]; !seen {
		t.userReads[uid] = doc.version
	}
	if !ok {
		return domain.UserProfile{}, domain.ErrUserNotFound
	}
	return cloneUser(doc.user), nil
}

func (t *memTx) PutRoom(room domain.QuizRoom) {
	t.writeRoom(room.ID, roomWrite{room: room.Clone()})
}

func (t *memTx) DeleteRoom(roomID string) {
	t.writeRoom(roomID, roomWrite{deleted: true})
}

func (t *memTx) writeRoom(id string, w roomWrite) {
	if _, ok := t.roomWrites[id]; !ok {
		t.roomOrder = append(t.roomOrder, id)
	}
	t.roomWrites[id] = w
}

func (t *memTx) PutUser(user domain.UserProfile) {
	t.userWrites[user.UID] = cloneUser(user)
}
