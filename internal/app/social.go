package app

import (
	"context"
	"strings"
	"unicode/utf8"

	"quizroom-service/internal/domain"
)

const maxChatLength = 300

// SendChat appends a message to the room chat. Players and spectators may chat.
func (s *RoomService) SendChat(ctx context.Context, roomID, uid, message string) error {
	message = strings.TrimSpace(message)
	if message == "" {
		return &domain.ValidationError{Field: "message", Reason: "must not be empty"}
	}
	if utf8.RuneCountInString(message) > maxChatLength {
		return &domain.ValidationError{Field: "message", Reason: "too long"}
	}
	room, err := s.Store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	msg := domain.ChatMessage{UID: uid, Message: message, CreatedAt: s.now()}
	if p, ok := room.Players[uid]; ok {
		msg.Username, msg.Avatar = p.Username, p.Avatar
	} else if sp, ok := room.Spectators[uid]; ok {
		msg.Username, msg.Avatar = sp.Username, sp.Avatar
	} else {
		return domain.ErrNotInRoom
	}
	return s.Store.AddChat(ctx, roomID, msg)
}

// SubscribeChat streams the most recent messages, oldest first.
func (s *RoomService) SubscribeChat(ctx context.Context, roomID string) (<-chan []domain.ChatMessage, func(), error) {
	return s.Store.SubscribeChat(ctx, roomID, s.chatHistory)
}

// SendEmoji overwrites uid's last emoji with a fresh timestamp.
func (s *RoomService) SendEmoji(ctx context.Context, roomID, uid, emoji string) error {
	if !domain.ValidEmoji(emoji) {
		return &domain.ValidationError{Field: "emoji", Reason: "not in the palette"}
	}
	room, err := s.Store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if _, ok := room.Players[uid]; !ok {
		return domain.ErrNotInRoom
	}
	return s.Store.UpdateRoom(ctx, roomID, setLastEmoji(uid, emoji, s.now()))
}

// SendInteraction aims a gesture at another player.
func (s *RoomService) SendInteraction(ctx context.Context, roomID, fromUID, targetUID string, g domain.Gesture) error {
	if _, err := domain.ParseGesture(string(g)); err != nil {
		return err
	}
	if fromUID == targetUID {
		return &domain.ValidationError{Field: "target", Reason: "cannot target yourself"}
	}
	room, err := s.Store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	from, ok := room.Players[fromUID]
	if !ok {
		return domain.ErrNotInRoom
	}
	if _, ok := room.Players[targetUID]; !ok {
		return domain.ErrNotInRoom
	}
	in := domain.Interaction{FromUID: fromUID, FromUsername: from.Username, Gesture: g, Timestamp: s.now()}
	return s.Store.UpdateRoom(ctx, roomID, setLastInteraction(targetUID, in))
}

// PlaceBet escrows a spectator's stake on a player. Bets resolve at settlement.
func (s *RoomService) PlaceBet(ctx context.Context, roomID, uid, playerUID string, amount int) error {
	if amount < s.economy.MinBet {
		return domain.ErrBetTooSmall
	}
	err := s.Store.RunTransaction(ctx, func(tx Tx) error {
		room, err := tx.Room(roomID)
		if err != nil {
			return err
		}
		if _, ok := room.Spectators[uid]; !ok {
			return domain.ErrNotSpectator
		}
		if _, ok := room.Players[playerUID]; !ok {
			return domain.ErrNotInRoom
		}
		if room.Status == domain.StatusFinished || room.PrizesAwarded {
			return domain.ErrWrongStatus
		}
		if _, ok := room.Bets[uid]; ok {
			return domain.ErrAlreadyBet
		}
		user, err := tx.User(uid)
		if err != nil {
			return err
		}
		if user.Points < amount {
			return &domain.InsufficientFundsError{
				Required: amount,
				Players:  []domain.FundShortfall{{UID: uid, Username: user.Username, Points: user.Points}},
			}
		}
		user.Points -= amount
		room.Bets[uid] = domain.Bet{PlayerUID: playerUID, Amount: amount}
		tx.PutUser(user)
		tx.PutRoom(room)
		return nil
	})
	if err != nil {
		return err
	}
	s.logPoints(ctx, uid, -amount, "quiz bet")
	return nil
}
