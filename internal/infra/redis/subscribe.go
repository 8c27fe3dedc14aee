package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
)

// follow subscribes to channel and calls load once up front and again after
// every notification, delivering results drop-stale on a one-slot channel.
// load reports more=false to end the feed after its value is delivered; an
// error with more=true skips that notification.
func follow[T any](ctx context.Context, client *redis.Client, channel string, load func(context.Context) (T, bool, error)) (<-chan T, func(), error) {
	sub := client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	first, more, err := load(ctx)
	if err != nil {
		_ = sub.Close()
		return nil, nil, err
	}

	out := make(chan T, 1)
	out <- first
	loopCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer close(out)
		if !more {
			return
		}
		msgs := sub.Channel()
		for {
			select {
			case <-loopCtx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				v, more, err := load(loopCtx)
				if loopCtx.Err() != nil {
					return
				}
				if err != nil && more {
					continue
				}
				deliver(out, v)
				if !more {
					return
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			stop()
			_ = sub.Close()
			<-done
		})
	}
	return out, cancel, nil
}

func (s *Store) SubscribeRoom(ctx context.Context, roomID string) (<-chan app.RoomSnapshot, func(), error) {
	primed := false
	return follow(ctx, s.client, roomChannel(roomID), func(ctx context.Context) (app.RoomSnapshot, bool, error) {
		room, err := s.GetRoom(ctx, roomID)
		switch {
		case err != nil && !primed:
			return app.RoomSnapshot{}, false, err
		case errors.Is(err, domain.ErrRoomNotFound):
			return app.RoomSnapshot{Deleted: true}, false, nil
		case err != nil:
			return app.RoomSnapshot{Err: err}, false, nil
		}
		primed = true
		return app.RoomSnapshot{Room: room}, true, nil
	})
}

func (s *Store) SubscribeRooms(ctx context.Context) (<-chan []domain.QuizRoom, func(), error) {
	return follow(ctx, s.client, lobbyChannel, func(ctx context.Context) ([]domain.QuizRoom, bool, error) {
		rooms, err := s.ListRooms(ctx)
		if err != nil {
			return nil, true, err
		}
		return rooms, true, nil
	})
}

func (s *Store) SubscribeChat(ctx context.Context, roomID string, limit int) (<-chan []domain.ChatMessage, func(), error) {
	return follow(ctx, s.client, chatChannel(roomID), func(ctx context.Context) ([]domain.ChatMessage, bool, error) {
		msgs, err := s.recentChat(ctx, roomID, limit)
		if err != nil {
			return nil, true, err
		}
		return msgs, true, nil
	})
}

// deliver replaces any undelivered value so a slow reader never stalls the feed.
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
