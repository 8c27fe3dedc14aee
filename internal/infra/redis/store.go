package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
)

const chatRetention = 200

// Store keeps room and user documents as JSON strings in Redis.
//
//	quiz:room:{id}             room document
//	quiz:room:short:{shortId}  short id -> room id
//	quiz:rooms                 set of live room ids
//	quiz:room:{id}:chat        chat list, newest first
//	quiz:user:{uid}            user document
//	quiz:credit:{key}          applied credit marker
//
// Every write publishes on quiz:room:{id}:changed (and quiz:rooms:changed for
// the lobby) so subscribers on any instance re-read the document.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore returns a Redis store. ttl bounds how long chat lists and credit
// markers outlive their last write; zero keeps them forever.
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

const (
	roomsKey     = "quiz:rooms"
	lobbyChannel = "quiz:rooms:changed"
)

func roomKey(id string) string { return "quiz:room:" + id }
func shortKey(shortID string) string { return "quiz:room:short:" + shortID }
func chatKey(id string) string { return "quiz:room:" + id + ":chat" }
func userKey(uid string) string { return "quiz:user:" + uid }
func creditKey(key string) string { return "quiz:credit:" + key }
func roomChannel(id string) string { return "quiz:room:" + id + ":changed" }
func chatChannel(id string) string { return "quiz:room:" + id + ":chat:changed" }

// watch runs fn under WATCH, retrying when a watched key moved before EXEC.
func (s *Store) watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for attempt := 0; attempt < app.MaxTxAttempts; attempt++ {
		err := s.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return domain.ErrConcurrencyConflict
}

func (s *Store) CreateRoom(ctx context.Context, room domain.QuizRoom) (domain.QuizRoom, error) {
	if room.ID == "" {
		room.ID = uuid.NewString()
	}
	room.Normalize()
	raw, err := json.Marshal(room)
	if err != nil {
		return domain.QuizRoom{}, fmt.Errorf("encode room: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, roomKey(room.ID), raw, 0)
		pipe.SAdd(ctx, roomsKey, room.ID)
		if room.ShortID != "" {
			pipe.Set(ctx, shortKey(room.ShortID), room.ID, 0)
		}
		pipe.Publish(ctx, roomChannel(room.ID), "updated")
		pipe.Publish(ctx, lobbyChannel, room.ID)
		return nil
	})
	if err != nil {
		return domain.QuizRoom{}, fmt.Errorf("create room: %w", err)
	}
	return room, nil
}

func (s *Store) GetRoom(ctx context.Context, roomID string) (domain.QuizRoom, error) {
	return readRoom(ctx, s.client, roomID)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readRoom(ctx context.Context, c getter, roomID string) (domain.QuizRoom, error) {
	raw, err := c.Get(ctx, roomKey(roomID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.QuizRoom{}, domain.ErrRoomNotFound
	}
	if err != nil {
		return domain.QuizRoom{}, fmt.Errorf("get room: %w", err)
	}
	return decodeRoom(raw)
}

func decodeRoom(raw []byte) (domain.QuizRoom, error) {
	var room domain.QuizRoom
	if err := json.Unmarshal(raw, &room); err != nil {
		return domain.QuizRoom{}, fmt.Errorf("decode room: %w", err)
	}
	room.Normalize()
	return room, nil
}

func readUser(ctx context.Context, c getter, uid string) (domain.UserProfile, error) {
	raw, err := c.Get(ctx, userKey(uid)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.UserProfile{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.UserProfile{}, fmt.Errorf("get user: %w", err)
	}
	var user domain.UserProfile
	if err := json.Unmarshal(raw, &user); err != nil {
		return domain.UserProfile{}, fmt.Errorf("decode user: %w", err)
	}
	return user, nil
}

func (s *Store) FindRoomByShortID(ctx context.Context, shortID string) (domain.QuizRoom, error) {
	id, err := s.client.Get(ctx, shortKey(shortID)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.QuizRoom{}, domain.ErrRoomNotFound
	}
	if err != nil {
		return domain.QuizRoom{}, fmt.Errorf("resolve short id: %w", err)
	}
	return s.GetRoom(ctx, id)
}

func (s *Store) ListRooms(ctx context.Context) ([]domain.QuizRoom, error) {
	ids, err := s.client.SMembers(ctx, roomsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	if len(ids) == 0 {
		return []domain.QuizRoom{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = roomKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load rooms: %w", err)
	}
	out := make([]domain.QuizRoom, 0, len(vals))
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			// Deleted between SMEMBERS and MGET.
			continue
		}
		room, err := decodeRoom([]byte(raw))
		if err != nil {
			return nil, err
		}
		out = append(out, room)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpdateRoom(ctx context.Context, roomID string, ops ...app.FieldOp) error {
	key := roomKey(roomID)
	return s.watch(ctx, func(tx *redis.Tx) error {
		room, err := readRoom(ctx, tx, roomID)
		if err != nil {
			return err
		}
		for _, op := range ops {
			op(&room)
		}
		raw, err := json.Marshal(room)
		if err != nil {
			return fmt.Errorf("encode room: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, 0)
			pipe.Publish(ctx, roomChannel(roomID), "updated")
			pipe.Publish(ctx, lobbyChannel, roomID)
			return nil
		})
		return err
	}, key)
}

func (s *Store) DeleteRoom(ctx context.Context, roomID string) error {
	key := roomKey(roomID)
	return s.watch(ctx, func(tx *redis.Tx) error {
		room, err := readRoom(ctx, tx, roomID)
		if errors.Is(err, domain.ErrRoomNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			queueDelete(ctx, pipe, room)
			pipe.Publish(ctx, lobbyChannel, roomID)
			return nil
		})
		return err
	}, key)
}

func queueDelete(ctx context.Context, pipe redis.Pipeliner, room domain.QuizRoom) {
	pipe.Del(ctx, roomKey(room.ID), chatKey(room.ID))
	if room.ShortID != "" {
		pipe.Del(ctx, shortKey(room.ShortID))
	}
	pipe.SRem(ctx, roomsKey, room.ID)
	pipe.Publish(ctx, roomChannel(room.ID), "deleted")
}

func (s *Store) GetUser(ctx context.Context, uid string) (domain.UserProfile, error) {
	return readUser(ctx, s.client, uid)
}

func (s *Store) PutUser(ctx context.Context, user domain.UserProfile) error {
	raw, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	if err := s.client.Set(ctx, userKey(user.UID), raw, 0).Err(); err != nil {
		return fmt.Errorf("put user: %w", err)
	}
	return nil
}

// CreditPoints applies amount once per key: the marker and the balance change
// commit together or not at all.
func (s *Store) CreditPoints(ctx context.Context, uid string, amount int, key string) (bool, error) {
	marker := creditKey(key)
	credited := false
	err := s.watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, marker).Result()
		if err != nil {
			return fmt.Errorf("check credit: %w", err)
		}
		if n > 0 {
			return nil
		}
		user, err := readUser(ctx, tx, uid)
		if err != nil {
			return err
		}
		user.Points += amount
		raw, err := json.Marshal(user)
		if err != nil {
			return fmt.Errorf("encode user: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetNX(ctx, marker, uid, s.ttl)
			pipe.Set(ctx, userKey(uid), raw, 0)
			return nil
		})
		if err == nil {
			credited = true
		}
		return err
	}, marker, userKey(uid))
	if err != nil {
		return false, err
	}
	return credited, nil
}

// RunTransaction watches every key fn reads and commits the buffered writes in
// one MULTI/EXEC, retrying when any of them moved.
func (s *Store) RunTransaction(ctx context.Context, fn func(tx app.Tx) error) error {
	return s.watch(ctx, func(rtx *redis.Tx) error {
		tx := newTx(ctx, rtx)
		if err := fn(tx); err != nil {
			return err
		}
		if tx.err != nil {
			return tx.err
		}
		return tx.commit()
	})
}

func (s *Store) AddChat(ctx context.Context, roomID string, msg domain.ChatMessage) error {
	n, err := s.client.Exists(ctx, roomKey(roomID)).Result()
	if err != nil {
		return fmt.Errorf("check room: %w", err)
	}
	if n == 0 {
		return domain.ErrRoomNotFound
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode chat: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, chatKey(roomID), raw)
		pipe.LTrim(ctx, chatKey(roomID), 0, chatRetention-1)
		if s.ttl > 0 {
			pipe.Expire(ctx, chatKey(roomID), s.ttl)
		}
		pipe.Publish(ctx, chatChannel(roomID), "added")
		return nil
	})
	if err != nil {
		return fmt.Errorf("add chat: %w", err)
	}
	return nil
}

// recentChat returns the newest limit messages, oldest first.
func (s *Store) recentChat(ctx context.Context, roomID string, limit int) ([]domain.ChatMessage, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	vals, err := s.client.LRange(ctx, chatKey(roomID), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("read chat: %w", err)
	}
	out := make([]domain.ChatMessage, len(vals))
	for i, v := range vals {
		var msg domain.ChatMessage
		if err := json.Unmarshal([]byte(v), &msg); err != nil {
			return nil, fmt.Errorf("decode chat: %w", err)
		}
		out[len(vals)-1-i] = msg
	}
	return out, nil
}
