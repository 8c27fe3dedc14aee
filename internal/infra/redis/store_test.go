package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
)

func newStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := newClient(mr)
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client, time.Hour), mr
}

func newClient(mr *miniredis.Miniredis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
}

func seedRoom(t *testing.T, s *Store) domain.QuizRoom {
	t.Helper()
	room, err := s.CreateRoom(context.Background(), domain.QuizRoom{
		ShortID:    "ABC123",
		HostID:     "u1",
		Status:     domain.StatusWaiting,
		MaxPlayers: 4,
		EntryFee:   50,
		Players: map[string]domain.QuizPlayer{
			"u1": {UID: "u1", Username: "one"},
		},
	})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	return room
}

func TestStoreRoomLifecycle(t *testing.T) {
	ctx := context.Background()
	s, mr := newStore(t)
	room := seedRoom(t, s)
	if room.ID == "" {
		t.Fatalf("expected generated id")
	}

	found, err := s.FindRoomByShortID(ctx, "ABC123")
	if err != nil || found.ID != room.ID {
		t.Fatalf("find by short id: %v %+v", err, found)
	}
	if found.Players["u1"].Username != "one" {
		t.Fatalf("player not round-tripped: %+v", found.Players)
	}

	err = s.UpdateRoom(ctx, room.ID, func(r *domain.QuizRoom) { r.Status = domain.StatusVoting })
	if err != nil {
		t.Fatalf("update room: %v", err)
	}
	rooms, err := s.ListRooms(ctx)
	if err != nil || len(rooms) != 1 || rooms[0].Status != domain.StatusVoting {
		t.Fatalf("list rooms: %v %+v", err, rooms)
	}

	if err := s.DeleteRoom(ctx, room.ID); err != nil {
		t.Fatalf("delete room: %v", err)
	}
	if _, err := s.GetRoom(ctx, room.ID); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
	if mr.Exists("quiz:room:short:ABC123") {
		t.Fatalf("expected short id to be released")
	}
	if err := s.UpdateRoom(ctx, room.ID); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("update of deleted room: %v", err)
	}
	// Deleting twice is fine.
	if err := s.DeleteRoom(ctx, room.ID); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestStoreTransactionCommitsRoomAndUserTogether(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	room := seedRoom(t, s)
	if err := s.PutUser(ctx, domain.UserProfile{UID: "u1", Points: 100}); err != nil {
		t.Fatalf("put user: %v", err)
	}

	err := s.RunTransaction(ctx, func(tx app.Tx) error {
		r, err := tx.Room(room.ID)
		if err != nil {
			return err
		}
		u, err := tx.User("u1")
		if err != nil {
			return err
		}
		u.Points -= r.EntryFee
		r.PrizePool += r.EntryFee
		tx.PutUser(u)
		tx.PutRoom(r)
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}

	u, _ := s.GetUser(ctx, "u1")
	r, _ := s.GetRoom(ctx, room.ID)
	if u.Points != 50 || r.PrizePool != 50 {
		t.Fatalf("expected escrow applied, got points=%d pool=%d", u.Points, r.PrizePool)
	}
}

func TestStoreTransactionAbortWritesNothing(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	room := seedRoom(t, s)
	boom := errors.New("boom")

	err := s.RunTransaction(ctx, func(tx app.Tx) error {
		r, err := tx.Room(room.ID)
		if err != nil {
			return err
		}
		r.PrizePool = 999
		tx.PutRoom(r)
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	r, _ := s.GetRoom(ctx, room.ID)
	if r.PrizePool != 0 {
		t.Fatalf("aborted write leaked: %d", r.PrizePool)
	}
}

func TestStoreTransactionRetriesOnConcurrentWrite(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	if err := s.PutUser(ctx, domain.UserProfile{UID: "u1", Points: 100}); err != nil {
		t.Fatalf("put user: %v", err)
	}

	attempts := 0
	err := s.RunTransaction(ctx, func(tx app.Tx) error {
		attempts++
		u, err := tx.User("u1")
		if err != nil {
			return err
		}
		if attempts == 1 {
			// Another writer moves the watched key before EXEC.
			if err := s.PutUser(ctx, domain.UserProfile{UID: "u1", Points: 500}); err != nil {
				return err
			}
		}
		u.Points += 10
		tx.PutUser(u)
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected one retry, got %d attempts", attempts)
	}
	u, _ := s.GetUser(ctx, "u1")
	if u.Points != 510 {
		t.Fatalf("expected retry to see fresh balance, got %d", u.Points)
	}
}

func TestStoreTransactionDeleteReleasesShortID(t *testing.T) {
	ctx := context.Background()
	s, mr := newStore(t)
	room := seedRoom(t, s)

	err := s.RunTransaction(ctx, func(tx app.Tx) error {
		if _, err := tx.Room(room.ID); err != nil {
			return err
		}
		tx.DeleteRoom(room.ID)
		if _, err := tx.Room(room.ID); !errors.Is(err, domain.ErrRoomNotFound) {
			t.Errorf("expected read-your-delete, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if mr.Exists("quiz:room:short:ABC123") || mr.Exists("quiz:room:"+room.ID) {
		t.Fatalf("expected room keys removed")
	}
}

func TestStoreCreditPointsOnce(t *testing.T) {
	ctx := context.Background()
	s, mr := newStore(t)
	if err := s.PutUser(ctx, domain.UserProfile{UID: "u1", Points: 10}); err != nil {
		t.Fatalf("put user: %v", err)
	}

	for i := 0; i < 3; i++ {
		credited, err := s.CreditPoints(ctx, "u1", 40, "refund:r1:u1")
		if err != nil {
			t.Fatalf("credit: %v", err)
		}
		if credited != (i == 0) {
			t.Fatalf("attempt %d: credited=%v", i, credited)
		}
	}
	u, _ := s.GetUser(ctx, "u1")
	if u.Points != 50 {
		t.Fatalf("expected single credit, got %d", u.Points)
	}
	if ttl := mr.TTL("quiz:credit:refund:r1:u1"); ttl != time.Hour {
		t.Fatalf("expected credit marker ttl, got %v", ttl)
	}

	if _, err := s.CreditPoints(ctx, "ghost", 40, "refund:r1:ghost"); !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func recvSnapshot(t *testing.T, ch <-chan app.RoomSnapshot, want func(app.RoomSnapshot) bool) app.RoomSnapshot {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				t.Fatalf("subscription closed")
			}
			if want(snap) {
				return snap
			}
		case <-deadline:
			t.Fatalf("timed out waiting for snapshot")
		}
	}
}

func TestStoreSubscribeRoomFollowsWritesAndDeletion(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	room := seedRoom(t, s)

	ch, cancel, err := s.SubscribeRoom(ctx, room.ID)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	recvSnapshot(t, ch, func(snap app.RoomSnapshot) bool { return snap.Room.ID == room.ID })

	err = s.UpdateRoom(ctx, room.ID, func(r *domain.QuizRoom) { r.Status = domain.StatusStarting })
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	recvSnapshot(t, ch, func(snap app.RoomSnapshot) bool { return snap.Room.Status == domain.StatusStarting })

	if err := s.DeleteRoom(ctx, room.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	recvSnapshot(t, ch, func(snap app.RoomSnapshot) bool { return snap.Deleted })

	if _, _, err := s.SubscribeRoom(ctx, room.ID); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("subscribe to deleted room: %v", err)
	}
}

func TestStoreSubscribeRoomsSeesNewRooms(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	ch, cancel, err := s.SubscribeRooms(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()
	if first := <-ch; len(first) != 0 {
		t.Fatalf("expected empty lobby, got %d rooms", len(first))
	}

	seedRoom(t, s)
	select {
	case rooms := <-ch:
		if len(rooms) != 1 {
			t.Fatalf("expected one room, got %d", len(rooms))
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("lobby did not update")
	}
}

func TestStoreChatKeepsNewestInOrder(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	room := seedRoom(t, s)

	ch, cancel, err := s.SubscribeChat(ctx, room.ID, 2)
	if err != nil {
		t.Fatalf("subscribe chat: %v", err)
	}
	defer cancel()
	if first := <-ch; len(first) != 0 {
		t.Fatalf("expected empty history")
	}

	for _, m := range []string{"one", "two", "three"} {
		if err := s.AddChat(ctx, room.ID, domain.ChatMessage{UID: "u1", Message: m}); err != nil {
			t.Fatalf("add chat: %v", err)
		}
	}
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msgs := <-ch:
			if len(msgs) == 2 && msgs[0].Message == "two" && msgs[1].Message == "three" {
				return
			}
		case <-deadline:
			t.Fatalf("chat history never converged")
		}
	}
}

func TestStoreAddChatToMissingRoom(t *testing.T) {
	s, _ := newStore(t)
	err := s.AddChat(context.Background(), "nope", domain.ChatMessage{Message: "hi"})
	if !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}
