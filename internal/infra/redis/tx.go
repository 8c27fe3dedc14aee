package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"quizroom-service/internal/domain"
)

type roomWrite struct {
	room    domain.QuizRoom
	deleted bool
}

// redisTx WATCHes each key on first read and buffers writes until commit.
type redisTx struct {
	ctx     context.Context
	tx      *redis.Tx
	watched map[string]struct{}
	// read keeps the last committed version of every room read, so deletes
	// can release its short id.
	read       map[string]domain.QuizRoom
	roomWrites map[string]roomWrite
	roomOrder  []string
	userWrites map[string]domain.UserProfile
	err        error
}

func newTx(ctx context.Context, tx *redis.Tx) *redisTx {
	return &redisTx{
		ctx:        ctx,
		tx:         tx,
		watched:    make(map[string]struct{}),
		read:       make(map[string]domain.QuizRoom),
		roomWrites: make(map[string]roomWrite),
		userWrites: make(map[string]domain.UserProfile),
	}
}

func (t *redisTx) watchKey(key string) error {
	if _, ok := t.watched[key]; ok {
		return nil
	}
	if err := t.tx.Watch(t.ctx, key).Err(); err != nil {
		t.err = fmt.Errorf("watch %s: %w", key, err)
		return t.err
	}
	t.watched[key] = struct{}{}
	return nil
}

func (t *redisTx) Room(roomID string) (domain.QuizRoom, error) {
	if w, ok := t.roomWrites[roomID]; ok {
		if w.deleted {
			return domain.QuizRoom{}, domain.ErrRoomNotFound
		}
		return w.room.Clone(), nil
	}
	if err := t.watchKey(roomKey(roomID)); err != nil {
		return domain.QuizRoom{}, err
	}
	room, err := readRoom(t.ctx, t.tx, roomID)
	if err != nil {
		return domain.QuizRoom{}, err
	}
	t.read[roomID] = room.Clone()
	return room, nil
}

func (t *redisTx) User(uid string) (domain.UserProfile, error) {
	if u, ok := t.userWrites[uid]; ok {
		return u, nil
	}
	if err := t.watchKey(userKey(uid)); err != nil {
		return domain.UserProfile{}, err
	}
	return readUser(t.ctx, t.tx, uid)
}

func (t *redisTx) PutRoom(room domain.QuizRoom) {
	t.writeRoom(room.ID, roomWrite{room: room.Clone()})
}

func (t *redisTx) DeleteRoom(roomID string) {
	t.writeRoom(roomID, roomWrite{deleted: true})
}

func (t *redisTx) writeRoom(id string, w roomWrite) {
	if _, ok := t.roomWrites[id]; !ok {
		t.roomOrder = append(t.roomOrder, id)
	}
	t.roomWrites[id] = w
}

func (t *redisTx) PutUser(user domain.UserProfile) {
	user.Friends = append([]string(nil), user.Friends...)
	t.userWrites[user.UID] = user
}

// commit queues every buffered write in one MULTI/EXEC. EXEC fails with
// redis.TxFailedErr if a watched key changed since it was read.
func (t *redisTx) commit() error {
	if len(t.roomOrder) == 0 && len(t.userWrites) == 0 {
		return nil
	}
	encoded := make(map[string][]byte, len(t.roomOrder)+len(t.userWrites))
	for _, id := range t.roomOrder {
		w := t.roomWrites[id]
		if w.deleted {
			continue
		}
		w.room.Normalize()
		raw, err := json.Marshal(w.room)
		if err != nil {
			return fmt.Errorf("encode room: %w", err)
		}
		encoded[roomKey(id)] = raw
	}
	for uid, u := range t.userWrites {
		raw, err := json.Marshal(u)
		if err != nil {
			return fmt.Errorf("encode user: %w", err)
		}
		encoded[userKey(uid)] = raw
	}

	_, err := t.tx.TxPipelined(t.ctx, func(pipe redis.Pipeliner) error {
		for _, id := range t.roomOrder {
			if t.roomWrites[id].deleted {
				prev, ok := t.read[id]
				if !ok {
					prev = domain.QuizRoom{ID: id}
				}
				queueDelete(t.ctx, pipe, prev)
				continue
			}
			pipe.Set(t.ctx, roomKey(id), encoded[roomKey(id)], 0)
			pipe.SAdd(t.ctx, roomsKey, id)
			pipe.Publish(t.ctx, roomChannel(id), "updated")
		}
		for uid := range t.userWrites {
			pipe.Set(t.ctx, userKey(uid), encoded[userKey(uid)], 0)
		}
		if len(t.roomOrder) > 0 {
			pipe.Publish(t.ctx, lobbyChannel, "tx")
		}
		return nil
	})
	return err
}
